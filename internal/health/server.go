// Package health serves the operational endpoints: /healthz liveness and
// /readyz gateway readiness. The server binds loopback by default and
// carries no authentication; do not expose it publicly.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/ferrite-bot/ferrite/internal/gateway"
)

// SessionInfo reports gateway session state. *gateway.Session satisfies it.
type SessionInfo interface {
	Snapshot() gateway.Snapshot
}

// Pinger checks that the datastore is reachable. *persistence.Store
// satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds the server's dependencies.
type Config struct {
	// Addr is the bind address, e.g. "127.0.0.1:8091".
	Addr    string
	Store   Pinger
	Session SessionInfo
	Logger  *slog.Logger
}

// Server is the operational HTTP endpoint.
type Server struct {
	addr    string
	store   Pinger
	session SessionInfo
	logger  *slog.Logger

	srv *http.Server
	ln  net.Listener
}

// NewServer creates the health server.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	addr := cfg.Addr
	if addr == "" {
		addr = "127.0.0.1:8091"
	}
	return &Server{
		addr:    addr,
		store:   cfg.Store,
		session: cfg.Session,
		logger:  logger,
	}
}

// Handler returns the route table. Split out so tests can drive it without
// a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	return mux
}

// Start binds the address and serves in the background. The returned
// channel yields the terminal serve error, if any.
func (s *Server) Start() (<-chan error, error) {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("health listen %s: %w", s.addr, err)
	}
	s.ln = ln
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	s.logger.Info("health server listening", "addr", ln.Addr().String())
	return serverErr, nil
}

// Addr returns the bound address after Start.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}

// Shutdown stops the server, waiting for in-flight requests up to ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("health check failed", "error", err)
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"healthy": false,
			"db_ok":   false,
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"healthy": true,
		"db_ok":   true,
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	snap := s.session.Snapshot()
	status := http.StatusOK
	if snap.State != gateway.StateActive.String() {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, snap)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("writing health response failed", "error", err)
	}
}
