package debughttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alexedwards/argon2id"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/unrealtools/mcp-bridge/internal/service/health"
)

type fakeChecker struct {
	snap health.Snapshot
	err  error
}

func (f fakeChecker) CheckOnce(ctx context.Context) (health.Snapshot, error) {
	return f.snap, f.err
}

func TestHealthzOKWithoutSecret(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := New("127.0.0.1:0", reg, fakeChecker{snap: health.Snapshot{OK: true}}, "", nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	s.httpServer.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHealthzUnhealthyReturns503(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := New("127.0.0.1:0", reg, fakeChecker{snap: health.Snapshot{OK: false}}, "", nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	s.httpServer.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestMetricsRequiresSecretWhenConfigured(t *testing.T) {
	hash, err := argon2id.CreateHash("s3cret", argon2id.DefaultParams)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	reg := prometheus.NewRegistry()
	s := New("127.0.0.1:0", reg, fakeChecker{}, hash, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	s.httpServer.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 without Authorization header", rec.Code)
	}

	rec2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req2.Header.Set("Authorization", "Bearer s3cret")
	s.httpServer.Handler.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with the correct secret", rec2.Code)
	}
}
