// Package gate suspends a story run until the client sends a specific message.
package gate

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-story/internal/protocol"
	"github.com/loqalabs/loqa-story/internal/transport"
)

var (
	ErrDisconnected = errors.New("client disconnected while awaiting input")
	ErrTimeout      = errors.New("interaction timed out")
)

// Receiver is the inbound half of a transport channel.
type Receiver interface {
	Receive(ctx context.Context) (protocol.Inbound, error)
}

// Drainer exposes messages already queued on a connection.
type Drainer interface {
	TryReceive() (protocol.Inbound, bool)
}

type Gate struct {
	timeout time.Duration
	logger  *slog.Logger
}

// New returns a gate that waits at most timeout; zero waits forever.
func New(timeout time.Duration, logger *slog.Logger) *Gate {
	return &Gate{timeout: timeout, logger: logger.With(slog.String("component", "gate"))}
}

// Await blocks until a message of type want arrives. Other messages are
// dropped. It returns ErrDisconnected when the connection goes away,
// ErrTimeout when the configured wait elapses, or ctx's error otherwise.
func (g *Gate) Await(ctx context.Context, rx Receiver, want protocol.MessageType) (protocol.Inbound, error) {
	waitCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	for {
		msg, err := rx.Receive(waitCtx)
		switch {
		case err == nil:
		case transport.Disconnected(ctx, err):
			return protocol.Inbound{}, ErrDisconnected
		case ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded):
			return protocol.Inbound{}, ErrTimeout
		default:
			return protocol.Inbound{}, err
		}
		if msg.Type == want {
			return msg, nil
		}
		g.logger.Debug("ignoring message while awaiting input",
			slog.String("type", string(msg.Type)),
			slog.String("want", string(want)),
		)
	}
}

// Discard drops every message already queued on rx and reports how many were
// dropped. Call it before asking the client a new question so that answers
// to an earlier, abandoned question are not taken for the new one.
func (g *Gate) Discard(rx Drainer) int {
	n := 0
	for {
		msg, ok := rx.TryReceive()
		if !ok {
			return n
		}
		n++
		g.logger.Debug("discarding unsolicited message", slog.String("type", string(msg.Type)))
	}
}
