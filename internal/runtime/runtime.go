package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-story/internal/bus"
	"github.com/loqalabs/loqa-story/internal/config"
	"github.com/loqalabs/loqa-story/internal/history"
	"github.com/loqalabs/loqa-story/internal/llm"
	"github.com/loqalabs/loqa-story/internal/natsserver"
	"github.com/loqalabs/loqa-story/internal/server"
	"github.com/loqalabs/loqa-story/internal/session"
	"github.com/loqalabs/loqa-story/internal/story"
	"github.com/loqalabs/loqa-story/internal/tts"
	"go.opentelemetry.io/otel"
)

const shutdownTimeout = 10 * time.Second

type Runtime struct {
	cfg    config.Config
	logger *slog.Logger

	httpServer    *http.Server
	metricsServer *http.Server
	handler       http.Handler
	storyServer   *server.Server
	store         history.Store
	busClient     *bus.Client
	embedded      *natsserver.EmbeddedServer
	tracerClose   func(context.Context) error

	ready atomic.Bool
	wg    sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start wires every component, serves until ctx is cancelled and then shuts
// everything down in reverse order.
func (r *Runtime) Start(ctx context.Context) error {
	if err := r.setup(ctx); err != nil {
		r.teardown(context.Background())
		return err
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		r.teardown(context.Background())
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	r.httpServer = &http.Server{
		Handler:           r.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.serve(r.httpServer, listener, "http")

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", listener.Addr().String()))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	r.teardown(shutdownCtx)
	return nil
}

// setup builds the component graph. It leaves r.handler ready to serve.
func (r *Runtime) setup(ctx context.Context) error {
	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	events, err := r.setupBus(ctx)
	if err != nil {
		return err
	}

	store, err := history.Open(ctx, r.cfg.History, r.logger)
	if err != nil {
		return fmt.Errorf("open story history: %w", err)
	}
	r.store = store

	generator, err := llm.NewGenerator(r.cfg.LLM)
	if err != nil {
		return fmt.Errorf("create generator: %w", err)
	}
	synth, err := tts.NewSynthesizer(r.cfg.TTS)
	if err != nil {
		return fmt.Errorf("create synthesizer: %w", err)
	}

	registry := session.NewRegistry(store, r.logger)
	if err := registry.RegisterMetrics(otel.Meter("github.com/loqalabs/loqa-story/internal/session")); err != nil {
		r.logger.Warn("session metrics disabled", slog.String("error", err.Error()))
	}

	orchestrator := story.New(r.cfg.Story, r.cfg.LLM, generator, tts.NewAdapter(synth, r.cfg.TTS, r.logger), registry, events, r.logger)
	r.storyServer = server.New(orchestrator, registry, r.cfg, r.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	r.storyServer.Register(mux)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
		if err := r.serveMetrics(metricsHandler); err != nil {
			return err
		}
	}
	r.handler = mux

	r.logger.Info("story pipeline ready",
		slog.String("llm_mode", r.cfg.LLM.Mode),
		slog.String("tts_mode", r.cfg.TTS.Mode),
		slog.String("history_mode", r.cfg.History.Mode),
		slog.Int("phases", len(orchestrator.Phases())),
		slog.Bool("interactive", r.cfg.Story.Interactive))
	return nil
}

func (r *Runtime) setupBus(ctx context.Context) (story.EventSink, error) {
	if !r.cfg.Bus.Enabled {
		return story.NopSink{}, nil
	}
	busCfg := r.cfg.Bus
	if busCfg.Embedded {
		embedded, err := natsserver.Start(busCfg, r.logger)
		if err != nil {
			return nil, fmt.Errorf("start embedded nats: %w", err)
		}
		r.embedded = embedded
		busCfg.Servers = []string{embedded.ClientURL()}
	}
	client, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return nil, fmt.Errorf("connect bus: %w", err)
	}
	r.busClient = client
	return bus.NewPublisher(client), nil
}

// serveMetrics exposes the Prometheus handler on its own listener when one
// is configured. /metrics on the main listener is always available.
func (r *Runtime) serveMetrics(handler http.Handler) error {
	bind := r.cfg.Telemetry.PrometheusBind
	if bind == "" {
		return nil
	}
	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return fmt.Errorf("listen on %s for metrics: %w", bind, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	r.metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	r.serve(r.metricsServer, listener, "metrics")
	r.logger.Info("metrics listener started", slog.String("addr", listener.Addr().String()))
	return nil
}

func (r *Runtime) serve(srv *http.Server, listener net.Listener, name string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error(name+" server failed", slog.String("error", err.Error()))
		}
	}()
}

// teardown releases whatever setup managed to create.
func (r *Runtime) teardown(ctx context.Context) {
	for _, srv := range []*http.Server{r.httpServer, r.metricsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(ctx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	// Upgraded websocket connections are not tracked by http.Server.
	if r.storyServer != nil {
		r.storyServer.Close()
	}
	r.wg.Wait()

	if r.busClient != nil {
		r.busClient.Close()
	}
	r.embedded.Shutdown()
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("history close error", slog.String("error", err.Error()))
		}
	}
	if r.tracerClose != nil {
		if err := r.tracerClose(ctx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && (r.busClient == nil || r.busClient.Healthy()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
