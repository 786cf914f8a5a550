// Package natsserver runs a JetStream-enabled NATS server inside storyd so
// story events have somewhere to go without an external broker.
package natsserver

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/loqalabs/loqa-story/internal/config"
	"github.com/nats-io/nats-server/v2/server"
)

const (
	defaultStoreDir = "./data/nats"
	readyTimeout    = 5 * time.Second
)

type EmbeddedServer struct {
	ns  *server.Server
	log *slog.Logger
}

// Start launches the server described by cfg on loopback. It returns nil
// when cfg does not ask for an embedded server. Port -1 picks a free port.
func Start(cfg config.BusConfig, log *slog.Logger) (*EmbeddedServer, error) {
	if !cfg.Embedded {
		return nil, nil
	}
	log = log.With(slog.String("component", "nats-embedded"))

	storeDir := cfg.StoreDir
	if storeDir == "" {
		storeDir = defaultStoreDir
	}
	if err := os.MkdirAll(storeDir, 0o755); err != nil {
		return nil, fmt.Errorf("create jetstream store dir: %w", err)
	}

	opts := &server.Options{
		ServerName: "loqa-story",
		Host:       "127.0.0.1",
		Port:       cfg.Port,
		JetStream:  true,
		StoreDir:   storeDir,
		NoSigs:     true,
		NoLog:      true,
	}
	if cfg.Token != "" {
		opts.Authorization = cfg.Token
	} else if cfg.Username != "" {
		opts.Username = cfg.Username
		opts.Password = cfg.Password
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded NATS server: %w", err)
	}
	go ns.Start()

	if !ns.ReadyForConnections(readyTimeout) {
		ns.Shutdown()
		return nil, errors.New("embedded NATS server not ready within " + readyTimeout.String())
	}

	log.Info("embedded NATS server started",
		slog.String("url", ns.ClientURL()),
		slog.String("store_dir", storeDir),
		slog.Bool("jetstream", ns.JetStreamEnabled()))
	return &EmbeddedServer{ns: ns, log: log}, nil
}

// ClientURL is the address clients should dial.
func (e *EmbeddedServer) ClientURL() string {
	return e.ns.ClientURL()
}

// Shutdown stops the server and waits for it. Safe on a nil server.
func (e *EmbeddedServer) Shutdown() {
	if e == nil || e.ns == nil {
		return
	}
	e.log.Info("shutting down embedded NATS server")
	e.ns.Shutdown()
	e.ns.WaitForShutdown()
}
