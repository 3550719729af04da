// Package devserver is an in-memory, authoritative implementation of the
// server half of the forum/event socket protocol. It backs the integration
// tests and `forumsync serve`; it is not meant for production.
package devserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"forumsync/internal/config"
	"forumsync/internal/metrics"
)

// Server bundles registry, hub, socket handler and HTTP API.
type Server struct {
	Registry *Registry
	Hub      *Hub
	Handler  *Handler
	API      *API

	mux *http.ServeMux
}

// Options carries the non-config collaborators of a Server.
type Options struct {
	// Registerer and Gatherer enable metrics when non-nil.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
	Clock      func() time.Time
}

// New assembles a server from cfg.
func New(cfg config.ServerConfig, opts Options) *Server {
	var m *metrics.Server
	if opts.Registerer != nil {
		m = metrics.NewServer(opts.Registerer)
	}

	registry := NewRegistry()
	hub := NewHub(registry, HubOptions{
		TypingTimeout: cfg.TypingTimeout,
		Metrics:       m,
		Clock:         opts.Clock,
	})
	handler := NewHandler(hub, NewTokenValidator(cfg.Tokens), HandlerOptions{
		PingInterval: cfg.PingInterval,
		PongTimeout:  cfg.PongTimeout,
		Metrics:      m,
		Connection: ConnectionOptions{
			SendBuffer:   cfg.SendBuffer,
			WriteTimeout: cfg.WriteTimeout,
			CommandRate:  cfg.CommandRate,
			CommandBurst: cfg.CommandBurst,
		},
	})
	api := NewAPI(hub, registry, opts.Gatherer)

	mux := http.NewServeMux()
	mux.Handle("/ws/", handler)
	mux.Handle("/", api)

	return &Server{
		Registry: registry,
		Hub:      hub,
		Handler:  handler,
		API:      api,
		mux:      mux,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Start launches the hub.
func (s *Server) Start(ctx context.Context) error {
	return s.Hub.Start(ctx)
}

// Stop closes every socket with 1001 so clients reconnect elsewhere, then
// stops the hub.
func (s *Server) Stop() error {
	for _, conn := range s.Registry.All() {
		_ = conn.CloseWith(websocket.CloseGoingAway, "server shutting down")
	}
	return s.Hub.Stop()
}
