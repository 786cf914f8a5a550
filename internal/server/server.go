// Package server accepts story connections and serves the history API.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/loqalabs/loqa-story/internal/config"
	"github.com/loqalabs/loqa-story/internal/history"
	"github.com/loqalabs/loqa-story/internal/protocol"
	"github.com/loqalabs/loqa-story/internal/session"
	"github.com/loqalabs/loqa-story/internal/story"
	"github.com/loqalabs/loqa-story/internal/transport"
)

const maxHistoryLimit = 100

// Server owns the session registry for every connection it accepts.
type Server struct {
	orchestrator *story.Orchestrator
	registry     *session.Registry
	upgrader     websocket.Upgrader
	transport    transport.Options
	historyLimit int
	logger       *slog.Logger

	ctx    context.Context
	cancel context.CancelCauseFunc
	conns  sync.WaitGroup
}

func New(orchestrator *story.Orchestrator, registry *session.Registry, cfg config.Config, logger *slog.Logger) *Server {
	ctx, cancel := context.WithCancelCause(context.Background())
	return &Server{
		orchestrator: orchestrator,
		registry:     registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 16384,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		transport:    transport.OptionsFromConfig(cfg.Transport),
		historyLimit: cfg.History.DefaultLimit,
		logger:       logger.With(slog.String("component", "server")),
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /api/v1/stories", s.handleStories)
}

// Close drops every open connection and waits for their handlers to finish.
// Runs in flight end as if the client had disconnected.
func (s *Server) Close() {
	s.cancel(transport.ErrClosed)
	s.conns.Wait()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.ctx.Err() != nil {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slogError(err))
		return
	}
	s.conns.Add(1)
	defer s.conns.Done()

	id := uuid.NewString()
	log := s.logger.With(slog.String("session_id", id))
	ch := transport.NewWebSocket(conn, s.transport, log)
	defer ch.Close()

	sess, err := s.registry.Create(id)
	if err != nil {
		log.Error("session rejected", slogError(err))
		_ = ch.SendJSON(s.ctx, protocol.NewError("session unavailable"))
		return
	}
	defer s.registry.Destroy(id)

	ctx, cancel := transport.WithDisconnect(s.ctx, ch)
	defer cancel()

	log.Info("client connected", slog.String("remote", r.RemoteAddr))
	s.serve(ctx, log, sess, ch)
	log.Info("client disconnected")
}

func (s *Server) serve(ctx context.Context, log *slog.Logger, sess *session.Session, ch transport.Channel) {
	for {
		msg, err := ch.Receive(ctx)
		if err != nil {
			return
		}
		switch msg.Type {
		case protocol.TypeTranscription:
			text := strings.TrimSpace(msg.Text)
			if text == "" {
				if err := ch.SendJSON(ctx, protocol.NewError("transcription text must not be empty")); err != nil {
					return
				}
				continue
			}
			if err := s.orchestrator.Run(ctx, sess, ch, story.Start{Input: text, Language: msg.Language}); err != nil {
				return
			}
		default:
			log.Debug("ignoring message outside a story run", slog.String("type", string(msg.Type)))
		}
	}
}

type storiesResponse struct {
	Stories []history.Turn `json:"stories"`
}

func (s *Server) handleStories(w http.ResponseWriter, r *http.Request) {
	limit := s.historyLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	turns, err := s.registry.RecentHistory(r.Context(), limit)
	if err != nil {
		s.logger.Error("history query failed", slogError(err))
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	if turns == nil {
		turns = []history.Turn{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(storiesResponse{Stories: turns})
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
