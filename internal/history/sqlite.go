package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-story/internal/config"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists turns across restarts.
type SQLiteStore struct {
	db    *sql.DB
	log   *slog.Logger
	clock func() time.Time
}

// OpenSQLite opens (and creates if needed) the history database at cfg.Path.
func OpenSQLite(ctx context.Context, cfg config.HistoryConfig, log *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &SQLiteStore{db: db, log: log.With(slog.String("component", "history")), clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			s.log.Warn("history vacuum failed", slog.String("error", err.Error()))
		}
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS turns (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT,
    input TEXT NOT NULL,
    story TEXT NOT NULL,
    language TEXT,
    completed_at INTEGER NOT NULL
);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init history schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Append(ctx context.Context, turn Turn) error {
	if turn.CompletedAt.IsZero() {
		turn.CompletedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns(session_id, input, story, language, completed_at) VALUES(?, ?, ?, ?, ?)`,
		turn.SessionID, turn.Input, turn.Story, turn.Language, turn.CompletedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// Recent orders by insertion id so turns recorded within the same clock tick
// keep their order.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Turn, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, input, story, language, completed_at
		 FROM turns ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var sessionID, language sql.NullString
		var completed int64
		if err := rows.Scan(&sessionID, &t.Input, &t.Story, &language, &completed); err != nil {
			return nil, err
		}
		t.SessionID = sessionID.String
		t.Language = language.String
		t.CompletedAt = time.Unix(0, completed).UTC()
		turns = append(turns, t)
	}
	return turns, rows.Err()
}
