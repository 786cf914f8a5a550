package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/loqalabs/loqa-story/internal/history"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func testRegistry() *Registry {
	return NewRegistry(history.NewMemoryLog(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegistryLifecycle(t *testing.T) {
	r := testRegistry()
	s, err := r.Create("a")
	require.NoError(t, err)
	require.Equal(t, "a", s.ID())
	require.Equal(t, -1, s.PhaseIndex())
	require.IsType(t, Idle{}, s.State())

	_, err = r.Create("a")
	require.ErrorIs(t, err, ErrSessionExists)

	got, ok := r.Get("a")
	require.True(t, ok)
	require.Same(t, s, got)
	require.Equal(t, 1, r.Len())

	require.True(t, r.Destroy("a"))
	require.False(t, r.Destroy("a"))
	_, ok = r.Get("a")
	require.False(t, ok)
	require.Equal(t, 0, r.Len())
}

func TestRegistryConcurrentSessions(t *testing.T) {
	r := testRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s-%d", i)
			if _, err := r.Create(id); err != nil {
				t.Error(err)
				return
			}
			r.Destroy(id)
		}(i)
	}
	wg.Wait()
	require.Equal(t, 0, r.Len())
}

func TestTransitionRejectsRegression(t *testing.T) {
	s := newSession("x", testRegistry().clock())
	require.NoError(t, s.Transition(0))
	require.NoError(t, s.Transition(1))
	require.ErrorIs(t, s.Transition(1), ErrPhaseRegression)
	require.ErrorIs(t, s.Transition(0), ErrPhaseRegression)
	require.Equal(t, Generating{Phase: 1}, s.State())

	s.Complete()
	require.Error(t, s.Transition(2))

	s.Reset("again", "french")
	require.NoError(t, s.Transition(0))
	require.Equal(t, "french", s.Language())
}

func TestSteeringStaysOutOfNarrative(t *testing.T) {
	s := newSession("x", testRegistry().clock())
	require.NoError(t, s.Transition(0))
	s.Feed("A fox ran. ")
	require.ErrorIs(t, s.Steer("too early"), ErrNotAwaiting)

	s.AwaitInteraction()
	require.True(t, s.Awaiting())
	require.Equal(t, AwaitingInteraction{Phase: 0}, s.State())
	require.NoError(t, s.Steer("  add a dragon "))
	require.False(t, s.Awaiting())

	require.Equal(t, []string{"add a dragon"}, s.Steering())
	require.NotContains(t, s.Narrative(), "dragon")
}

func TestFeedKeepsOneIncompleteSentence(t *testing.T) {
	s := newSession("x", testRegistry().clock())
	var sentences []string
	for _, fragment := range []string{"Hello Mr", ". Smith", ". How are", " you? I am", " fine"} {
		sentences = append(sentences, s.Feed(fragment)...)
		require.False(t, strings.ContainsAny(strings.TrimSpace(s.Pending()), "?"), "pending %q", s.Pending())
	}
	require.Equal(t, []string{"Hello Mr. Smith.", "How are you?"}, sentences)
	require.Equal(t, "I am fine", strings.TrimSpace(s.Pending()))

	require.Equal(t, "I am fine.", s.Flush())
	require.Equal(t, "", s.Pending())
	require.Equal(t, "Hello Mr. Smith. How are you? I am fine.", s.Narrative())
	require.Equal(t, "", s.Flush())
}

func TestTransitionSeparatesPhases(t *testing.T) {
	s := newSession("x", testRegistry().clock())
	s.Reset("seed", "english")
	require.NoError(t, s.Transition(0))
	require.Equal(t, "", s.Narrative())
	s.Feed("Once upon a time.")
	s.Flush()
	require.NoError(t, s.Transition(1))
	s.Feed("The end")
	s.Flush()
	require.NoError(t, s.Transition(2))
	s.Feed("Really.\n")
	require.NoError(t, s.Transition(3))
	require.Equal(t, "Once upon a time. The end. Really.\n", s.Narrative())
}

func TestNarrativeIsMonotonic(t *testing.T) {
	s := newSession("x", testRegistry().clock())
	prev := 0
	for _, fragment := range []string{"One", " two.", " Three", "!"} {
		s.Feed(fragment)
		require.GreaterOrEqual(t, len(s.Narrative()), prev)
		prev = len(s.Narrative())
	}
	s.Flush()
	require.GreaterOrEqual(t, len(s.Narrative()), prev)
}

func TestAbortedState(t *testing.T) {
	s := newSession("x", testRegistry().clock())
	boom := errors.New("boom")
	s.Abort(boom)
	state, ok := s.State().(Aborted)
	require.True(t, ok)
	require.ErrorIs(t, state.Err, boom)
	require.True(t, Terminal(state))
	require.Equal(t, "aborted: boom", state.String())
}

func TestHistoryThroughRegistry(t *testing.T) {
	r := testRegistry()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, r.RecordHistory(ctx, history.Turn{Input: fmt.Sprint(i), Story: "s"}))
	}
	turns, err := r.RecentHistory(ctx, 2)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	require.Equal(t, "2", turns[0].Input)
}

func TestActiveSessionGauge(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	r := testRegistry()
	require.NoError(t, r.RegisterMetrics(provider.Meter("test")))
	_, err := r.Create("a")
	require.NoError(t, err)
	_, err = r.Create("b")
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	require.Len(t, rm.ScopeMetrics[0].Metrics, 1)
	gauge, ok := rm.ScopeMetrics[0].Metrics[0].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Equal(t, int64(2), gauge.DataPoints[0].Value)
}
