package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-story/internal/history"
	"go.opentelemetry.io/otel/metric"
)

// Registry tracks live sessions by connection id and fronts the history
// store.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	history  history.Store
	logger   *slog.Logger
	clock    func() time.Time
}

func NewRegistry(store history.Store, logger *slog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		history:  store,
		logger:   logger.With(slog.String("component", "session-registry")),
		clock:    time.Now,
	}
}

// RegisterMetrics exports the live session count as an observable gauge.
func (r *Registry) RegisterMetrics(meter metric.Meter) error {
	_, err := meter.Int64ObservableGauge("story.sessions.active",
		metric.WithDescription("Connections with a live story session"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(r.Len()))
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("register session gauge: %w", err)
	}
	return nil
}

func (r *Registry) Create(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, id)
	}
	s := newSession(id, r.clock())
	r.sessions[id] = s
	r.logger.Debug("session created", slog.String("session_id", id))
	return s, nil
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Destroy removes the session. It reports whether one was present and is
// safe to call repeatedly.
func (r *Registry) Destroy(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	r.logger.Debug("session destroyed", slog.String("session_id", id))
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) RecordHistory(ctx context.Context, turn history.Turn) error {
	if err := r.history.Append(ctx, turn); err != nil {
		return fmt.Errorf("record history: %w", err)
	}
	return nil
}

// RecentHistory returns up to limit completed turns, most recent first.
func (r *Registry) RecentHistory(ctx context.Context, limit int) ([]history.Turn, error) {
	turns, err := r.history.Recent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("recent history: %w", err)
	}
	return turns, nil
}
