package history

import (
	"context"
	"sync"
	"time"
)

// MemoryLog is a process-local Store guarded by a single mutex.
type MemoryLog struct {
	mu    sync.Mutex
	turns []Turn
	clock func() time.Time
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{clock: time.Now}
}

func (m *MemoryLog) Append(_ context.Context, turn Turn) error {
	if turn.CompletedAt.IsZero() {
		turn.CompletedAt = m.clock().UTC()
	}
	m.mu.Lock()
	m.turns = append(m.turns, turn)
	m.mu.Unlock()
	return nil
}

func (m *MemoryLog) Recent(_ context.Context, limit int) ([]Turn, error) {
	if limit <= 0 {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := min(limit, len(m.turns))
	out := make([]Turn, 0, n)
	for i := len(m.turns) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, m.turns[i])
	}
	return out, nil
}

func (m *MemoryLog) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.turns)
}

func (m *MemoryLog) Close() error { return nil }
