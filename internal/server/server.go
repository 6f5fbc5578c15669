// Package server exposes the relay over HTTP: the WebSocket endpoint plus
// health and stats endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/OCAP2/livemap/internal/relay"
)

// Config holds listener and connection settings.
type Config struct {
	Host            string
	Port            int
	Path            string
	AllowedOrigins  []string // empty allows every origin
	ShutdownTimeout time.Duration
	Client          relay.ClientConfig
}

// Address returns host:port for net.Listen.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Server serves the relay.
type Server struct {
	cfg      Config
	relay    *relay.Relay
	upgrader ws.Upgrader
	logger   *slog.Logger

	mu   sync.Mutex
	addr net.Addr
}

// New creates a server for r.
func New(cfg Config, r *relay.Relay, logger *slog.Logger) *Server {
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		relay:  r,
		logger: logger.With("component", "server"),
	}
	s.upgrader = ws.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	// native clients send no Origin header
	return origin == "" || slices.Contains(s.cfg.AllowedOrigins, origin)
}

// Handler returns the HTTP routes. The WebSocket endpoint is mounted at
// cfg.Path; with the default "/" every path other than /healthz and /stats
// upgrades.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc(s.cfg.Path, s.handleWebSocket)
	return mux
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response
		s.logger.Debug("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := relay.NewClient(conn, s.relay, s.cfg.Client, s.logger)
	client.Run()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.relay.Stats())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// Addr returns the bound address once Start has begun listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start listens and serves until ctx is cancelled, then shuts the HTTP
// server down and closes every relay client. A bind failure is returned
// immediately.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Address())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Address(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start with a caller-supplied listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("Starting WebSocket relay", "address", ln.Addr().String(), "path", s.cfg.Path)
		if err := server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			s.relay.Shutdown()
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	s.logger.Info("Shutting down WebSocket relay")

	// hijacked WebSocket connections are not tracked by http.Server
	err := server.Shutdown(shutdownCtx)
	s.relay.Shutdown()
	if err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}

	s.logger.Info("WebSocket relay stopped")
	return nil
}
