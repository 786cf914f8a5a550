package gate

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-story/internal/protocol"
	"github.com/loqalabs/loqa-story/internal/transport"
	"github.com/stretchr/testify/require"
)

type fakeReceiver struct {
	msgs   chan protocol.Inbound
	closed chan struct{}
}

func newFakeReceiver() *fakeReceiver {
	return &fakeReceiver{msgs: make(chan protocol.Inbound, 8), closed: make(chan struct{})}
}

func (f *fakeReceiver) TryReceive() (protocol.Inbound, bool) {
	select {
	case m := <-f.msgs:
		return m, true
	default:
		return protocol.Inbound{}, false
	}
}

func (f *fakeReceiver) Receive(ctx context.Context) (protocol.Inbound, error) {
	select {
	case m := <-f.msgs:
		return m, nil
	case <-f.closed:
		return protocol.Inbound{}, transport.ErrClosed
	case <-ctx.Done():
		return protocol.Inbound{}, ctx.Err()
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAwaitSkipsOtherTypes(t *testing.T) {
	rx := newFakeReceiver()
	rx.msgs <- protocol.Inbound{Type: protocol.TypeTranscription, Text: "again"}
	rx.msgs <- protocol.Inbound{Type: protocol.TypeInteractionResponse, Content: "add a dragon"}

	msg, err := New(0, testLogger()).Await(context.Background(), rx, protocol.TypeInteractionResponse)
	require.NoError(t, err)
	require.Equal(t, "add a dragon", msg.Content)
}

func TestAwaitDisconnect(t *testing.T) {
	rx := newFakeReceiver()
	close(rx.closed)

	_, err := New(0, testLogger()).Await(context.Background(), rx, protocol.TypeInteractionResponse)
	require.ErrorIs(t, err, ErrDisconnected)
}

func TestAwaitTimeout(t *testing.T) {
	rx := newFakeReceiver()

	_, err := New(20*time.Millisecond, testLogger()).Await(context.Background(), rx, protocol.TypeInteractionResponse)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestAwaitParentCancel(t *testing.T) {
	rx := newFakeReceiver()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(time.Minute, testLogger()).Await(ctx, rx, protocol.TypeInteractionResponse)
	require.ErrorIs(t, err, context.Canceled)
}

func TestAwaitDisconnectCause(t *testing.T) {
	rx := newFakeReceiver()
	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(transport.ErrClosed)

	_, err := New(0, testLogger()).Await(ctx, rx, protocol.TypeInteractionResponse)
	require.ErrorIs(t, err, ErrDisconnected)
}

func TestDiscardDropsQueuedMessages(t *testing.T) {
	rx := newFakeReceiver()
	rx.msgs <- protocol.Inbound{Type: protocol.TypeInteractionResponse, Content: "stale"}
	rx.msgs <- protocol.Inbound{Type: protocol.TypeTranscription, Text: "again"}

	g := New(20*time.Millisecond, testLogger())
	require.Equal(t, 2, g.Discard(rx))
	require.Equal(t, 0, g.Discard(rx))

	rx.msgs <- protocol.Inbound{Type: protocol.TypeInteractionResponse, Content: "fresh"}
	msg, err := g.Await(context.Background(), rx, protocol.TypeInteractionResponse)
	require.NoError(t, err)
	require.Equal(t, "fresh", msg.Content)
}
