// Package transport carries story messages over one client connection.
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/loqalabs/loqa-story/internal/config"
	"github.com/loqalabs/loqa-story/internal/protocol"
)

// ErrClosed is returned by every operation once the connection is gone. It is
// also the cancellation cause of contexts built with WithDisconnect.
var ErrClosed = errors.New("transport closed")

// Channel is an ordered, per-connection message sink plus the inbound side of
// the same connection. Sends are delivered in call order.
type Channel interface {
	SendJSON(ctx context.Context, v any) error
	SendBinary(ctx context.Context, data []byte) error
	Receive(ctx context.Context) (protocol.Inbound, error)
	// TryReceive returns a queued message without waiting.
	TryReceive() (protocol.Inbound, bool)
	Done() <-chan struct{}
	Close() error
}

type Options struct {
	ReadLimit     int64
	WriteTimeout  time.Duration
	PingInterval  time.Duration
	PongWait      time.Duration
	InboundBuffer int
}

func OptionsFromConfig(cfg config.TransportConfig) Options {
	return Options{
		ReadLimit:     int64(cfg.ReadLimitBytes),
		WriteTimeout:  time.Duration(cfg.WriteTimeoutMS) * time.Millisecond,
		PingInterval:  time.Duration(cfg.PingIntervalMS) * time.Millisecond,
		PongWait:      time.Duration(cfg.PongWaitMS) * time.Millisecond,
		InboundBuffer: cfg.InboundBuffer,
	}
}

// WithDisconnect derives a context that is cancelled with cause ErrClosed as
// soon as ch reports disconnect.
func WithDisconnect(parent context.Context, ch interface{ Done() <-chan struct{} }) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	go func() {
		select {
		case <-ch.Done():
			cancel(ErrClosed)
		case <-ctx.Done():
		}
	}()
	return ctx, func() { cancel(context.Canceled) }
}

// Disconnected reports whether err, or the cancellation cause of ctx, is a
// client disconnect.
func Disconnected(ctx context.Context, err error) bool {
	if errors.Is(err, ErrClosed) {
		return true
	}
	return ctx != nil && errors.Is(context.Cause(ctx), ErrClosed)
}
