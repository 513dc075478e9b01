// Package debughttp serves the optional localhost-only /metrics and
// /healthz endpoints, each gated by an argon2id-hashed shared secret when
// one is configured.
package debughttp

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/unrealtools/mcp-bridge/internal/service/health"
)

// HealthChecker is the narrow surface the /healthz handler depends on.
type HealthChecker interface {
	CheckOnce(ctx context.Context) (health.Snapshot, error)
}

// Server serves /metrics and /healthz on a localhost listener.
type Server struct {
	addr         string
	registry     *prometheus.Registry
	checker      HealthChecker
	hashedSecret string
	logger       *slog.Logger
	httpServer   *http.Server
}

// New builds a Server. hashedSecret is an argon2id hash string; empty means
// no auth is enforced. addr is the bind address, e.g. "127.0.0.1:9091".
func New(addr string, registry *prometheus.Registry, checker HealthChecker, hashedSecret string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{addr: addr, registry: registry, checker: checker, hashedSecret: hashedSecret, logger: logger}

	mux := http.NewServeMux()
	mux.Handle("/metrics", s.authenticated(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	mux.HandleFunc("/healthz", s.authenticated(http.HandlerFunc(s.handleHealthz)).ServeHTTP)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Start begins serving in a background goroutine and returns immediately.
// Bind failures are logged, not returned, matching the rest of the bridge's
// observational-only background loops.
func (s *Server) Start() {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("debughttp: listener stopped", "error", err, "addr", s.addr)
		}
	}()
}

// Stop gracefully shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) authenticated(next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.hashedSecret == "" {
			next.ServeHTTP(w, r)
			return
		}
		presented := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if presented == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		match, err := argon2id.ComparePasswordAndHash(presented, s.hashedSecret)
		if err != nil || !match {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	snap, err := s.checker.CheckOnce(ctx)
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": err.Error(), "captured_at_ms": snap.CapturedAtMs})
		return
	}
	if !snap.OK {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(snap)
}
