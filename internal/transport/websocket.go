package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/loqalabs/loqa-story/internal/protocol"
)

// WebSocket implements Channel on a gorilla connection. A single reader
// goroutine decodes client messages into a bounded queue and drops messages
// that arrive while the queue is full; writes are serialized under a mutex so
// frames leave in call order.
type WebSocket struct {
	conn    *websocket.Conn
	opts    Options
	log     *slog.Logger
	writeMu sync.Mutex
	inbound chan protocol.Inbound
	done    chan struct{}
	once    sync.Once
}

func NewWebSocket(conn *websocket.Conn, opts Options, logger *slog.Logger) *WebSocket {
	if opts.InboundBuffer <= 0 {
		opts.InboundBuffer = 16
	}
	w := &WebSocket{
		conn:    conn,
		opts:    opts,
		log:     logger.With(slog.String("component", "transport")),
		inbound: make(chan protocol.Inbound, opts.InboundBuffer),
		done:    make(chan struct{}),
	}
	if opts.ReadLimit > 0 {
		conn.SetReadLimit(opts.ReadLimit)
	}
	if opts.PongWait > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(opts.PongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(opts.PongWait))
		})
	}
	go w.readLoop()
	if opts.PingInterval > 0 {
		go w.pingLoop()
	}
	return w
}

func (w *WebSocket) SendJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return w.write(ctx, websocket.TextMessage, data)
}

func (w *WebSocket) SendBinary(ctx context.Context, data []byte) error {
	return w.write(ctx, websocket.BinaryMessage, data)
}

func (w *WebSocket) Receive(ctx context.Context) (protocol.Inbound, error) {
	select {
	case msg := <-w.inbound:
		return msg, nil
	case <-w.done:
		return protocol.Inbound{}, ErrClosed
	case <-ctx.Done():
		return protocol.Inbound{}, ctx.Err()
	}
}

func (w *WebSocket) TryReceive() (protocol.Inbound, bool) {
	select {
	case msg := <-w.inbound:
		return msg, true
	default:
		return protocol.Inbound{}, false
	}
}

func (w *WebSocket) Done() <-chan struct{} {
	return w.done
}

// Close sends a normal close frame and releases the connection. Safe to call
// more than once.
func (w *WebSocket) Close() error {
	select {
	case <-w.done:
		return nil
	default:
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	w.shutdown()
	return nil
}

func (w *WebSocket) write(ctx context.Context, messageType int, data []byte) error {
	select {
	case <-w.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	var deadline time.Time
	if w.opts.WriteTimeout > 0 {
		deadline = time.Now().Add(w.opts.WriteTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	_ = w.conn.SetWriteDeadline(deadline)
	if err := w.conn.WriteMessage(messageType, data); err != nil {
		w.log.Debug("ws write failed, dropping connection", slogError(err))
		w.shutdown()
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return nil
}

func (w *WebSocket) readLoop() {
	defer w.shutdown()
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !errors.Is(err, net.ErrClosed) {
				w.log.Debug("ws read ended", slogError(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		var msg protocol.Inbound
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			w.log.Warn("dropping malformed client message", slog.Int("bytes", len(data)))
			continue
		}
		select {
		case w.inbound <- msg:
		default:
			// The reader must keep draining the socket so pongs and close
			// frames are seen while nobody is receiving.
			w.log.Warn("inbound queue full, dropping client message", slog.String("type", string(msg.Type)))
		}
	}
}

func (w *WebSocket) pingLoop() {
	ticker := time.NewTicker(w.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(w.opts.PingInterval)
			if err := w.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				w.log.Debug("ws ping failed", slogError(err))
				w.shutdown()
				return
			}
		}
	}
}

func (w *WebSocket) shutdown() {
	w.once.Do(func() {
		close(w.done)
		_ = w.conn.Close()
	})
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
