// Package history keeps completed stories so later runs and the HTTP API can
// see them. Writes are never dropped; callers cap what they read.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-story/internal/config"
)

// Turn is one completed story run.
type Turn struct {
	SessionID   string    `json:"session_id,omitempty"`
	Input       string    `json:"input"`
	Story       string    `json:"story"`
	Language    string    `json:"language"`
	CompletedAt time.Time `json:"completed_at"`
}

// Store is an append-only log of turns.
type Store interface {
	Append(ctx context.Context, turn Turn) error
	// Recent returns up to limit turns, most recent first. A limit of zero
	// or less returns none.
	Recent(ctx context.Context, limit int) ([]Turn, error)
	Close() error
}

// Open builds the store selected by cfg.Mode.
func Open(ctx context.Context, cfg config.HistoryConfig, log *slog.Logger) (Store, error) {
	switch cfg.Mode {
	case "memory", "":
		return NewMemoryLog(), nil
	case "sqlite":
		return OpenSQLite(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("unknown history mode %q", cfg.Mode)
	}
}
