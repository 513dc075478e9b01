// Package port declares the outbound interfaces the domain and service
// layers depend on, implemented by concrete adapters.
package port

import (
	"context"

	"github.com/unrealtools/mcp-bridge/internal/domain/wire"
)

// Transport owns the single downstream WebSocket connection.
type Transport interface {
	Start(ctx context.Context) error
	Stop() error
	SendJSON(ctx context.Context, v any) error
	WaitUntilConnected(ctx context.Context) error
}

// Facade is the narrow surface the catalog, pass-through engine, and health
// monitor use to issue a correlated downstream tool call.
type Facade interface {
	CallTool(ctx context.Context, tool string, params map[string]any, reqCtx wire.RequestContext, timeoutMs int, requestID, sessionID string) (wire.Response, error)
}

// Metrics is the counter/gauge/histogram sink every component reports
// through; adapters may back it with Prometheus, a no-op, or a test spy.
type Metrics interface {
	IncCounter(name string, labels map[string]string)
	ObserveHistogram(name string, seconds float64, labels map[string]string)
	SetGauge(name string, value float64, labels map[string]string)
}

// AuditSink records one lifecycle event; implementations must never block
// or error back to the caller.
type AuditSink interface {
	Record(kind, requestID, tool, status, detail string)
}

// Subscription is a bounded, filtered stream of normalized events.
type Subscription interface {
	Events() <-chan wire.NormalizedEvent
	DroppedCount() uint64
	Close()
}

// EventRouter publishes normalized events and serves bounded subscriptions.
type EventRouter interface {
	Publish(evt wire.Event)
	Subscribe(requestIDFilter string, queueSize int) Subscription
}
