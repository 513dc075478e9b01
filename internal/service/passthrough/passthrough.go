// Package passthrough implements the Pass-Through Engine: bounded-retry
// downstream tool invocation, the catalog guard, and event-stream dispatch
// correlated to one request.
package passthrough

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/unrealtools/mcp-bridge/internal/bridgeerr"
	"github.com/unrealtools/mcp-bridge/internal/domain/catalog"
	"github.com/unrealtools/mcp-bridge/internal/domain/wire"
	"github.com/unrealtools/mcp-bridge/internal/port"
	"github.com/unrealtools/mcp-bridge/internal/telemetry"
)

// Config tunes retry/backoff and the periodic catalog refresh.
type Config struct {
	IncludeSchemas       bool
	RefreshIntervalS     float64
	TransientMaxAttempts int
	BackoffInitialS      float64
	BackoffMaxS          float64
}

// Engine is the Pass-Through Engine.
type Engine struct {
	cfg     Config
	facade  port.Facade
	catalog *catalog.Catalog
	router  port.EventRouter
	guard   *catalog.Guard
	metrics port.Metrics
	tracer  trace.TracerProvider
	audit   port.AuditSink
	logger  *slog.Logger

	refreshMu sync.Mutex
}

// New builds an Engine. tp defaults to a no-op tracer provider when nil;
// audit may be nil, in which case guard-check failures are not recorded.
func New(cfg Config, facade port.Facade, cat *catalog.Catalog, router port.EventRouter, guard *catalog.Guard, metrics port.Metrics, tp trace.TracerProvider, audit port.AuditSink, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if tp == nil {
		tp = trace.NewNoopTracerProvider()
	}
	return &Engine{cfg: cfg, facade: facade, catalog: cat, router: router, guard: guard, metrics: metrics, tracer: tp, audit: audit, logger: logger}
}

// Start refreshes the catalog once, applies the guard, then launches a
// periodic refresh goroutine if the interval is positive.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.refreshCatalog(ctx); err != nil {
		return err
	}
	if e.cfg.RefreshIntervalS > 0 {
		go e.refreshLoop(ctx)
	}
	return nil
}

func (e *Engine) refreshCatalog(ctx context.Context) error {
	e.refreshMu.Lock()
	defer e.refreshMu.Unlock()
	if err := e.catalog.Refresh(ctx, e.facade, e.cfg.IncludeSchemas); err != nil {
		return err
	}
	if e.guard != nil {
		if err := e.guard.Check(e.catalog.Snapshot()); err != nil {
			if e.audit != nil {
				e.audit.Record("guard_failure", "", "", "error", err.Error())
			}
			return err
		}
	}
	return nil
}

func (e *Engine) refreshLoop(ctx context.Context) {
	interval := time.Duration(e.cfg.RefreshIntervalS * float64(time.Second))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.refreshCatalog(ctx); err != nil {
				if kind, ok := bridgeerr.KindOf(err); ok && kind == bridgeerr.KindCatalogGuard {
					e.logger.Error("passthrough: catalog guard failed on periodic refresh, stopping refresh loop", "error", err)
					return
				}
				e.logger.Warn("passthrough: periodic catalog refresh failed", "error", err)
			}
		}
	}
}

func backoffDelay(initialS, maxS float64, attempt int) time.Duration {
	delay := initialS
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay > maxS {
			delay = maxS
			break
		}
	}
	return time.Duration(delay * float64(time.Second))
}

func isTransient(err error) bool {
	kind, ok := bridgeerr.KindOf(err)
	if !ok {
		return false
	}
	return kind == bridgeerr.KindRequestTimeout || kind == bridgeerr.KindConnection
}

// CallTool resolves the tool (refreshing once if unknown), enforces
// enabled, and retries up to TransientMaxAttempts on transient failures or
// a retriable tool error, suffixing request_id on each retry.
func (e *Engine) CallTool(ctx context.Context, tool string, params map[string]any, reqCtx wire.RequestContext, timeoutMs int, requestID string, allowRetry bool) (wire.Response, error) {
	t, ok := e.catalog.GetTool(tool)
	if !ok {
		if err := e.refreshCatalog(ctx); err != nil {
			return wire.Response{}, err
		}
		t, ok = e.catalog.GetTool(tool)
		if !ok {
			return wire.Response{}, bridgeerr.UnknownTool(tool)
		}
	}
	if !t.Enabled {
		return wire.Response{}, bridgeerr.UnknownTool(tool)
	}

	maxAttempts := 1
	if allowRetry {
		maxAttempts = e.cfg.TransientMaxAttempts
		if maxAttempts < 1 {
			maxAttempts = 1
		}
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		id := requestID
		if attempt > 0 {
			id = fmt.Sprintf("%s-r%d", requestID, attempt+1)
			if e.metrics != nil {
				e.metrics.IncCounter("passthrough.retry", map[string]string{"tool": tool})
			}
		}

		spanCtx, span := telemetry.StartToolSpan(ctx, e.tracer, tool, id, attempt)
		start := time.Now()
		resp, err := e.facade.CallTool(spanCtx, tool, params, reqCtx, timeoutMs, id, "")
		if e.metrics != nil {
			e.metrics.ObserveHistogram("passthrough.tool_call_duration_seconds", time.Since(start).Seconds(), map[string]string{"tool": tool})
		}
		span.End()

		if err == nil && (resp.Status != wire.StatusError || !resp.Diagnostics.HasRetriableError()) {
			return resp, nil
		}
		if err == nil {
			lastErr = bridgeerr.Tool(fmt.Errorf("passthrough: tool %s reported status=error", tool), resp.Diagnostics.HasRetriableError())
			if !resp.Diagnostics.HasRetriableError() {
				return resp, nil
			}
		} else {
			lastErr = err
			if !isTransient(err) {
				return wire.Response{}, err
			}
		}

		if attempt < maxAttempts-1 {
			select {
			case <-time.After(backoffDelay(e.cfg.BackoffInitialS, e.cfg.BackoffMaxS, attempt)):
			case <-ctx.Done():
				return wire.Response{}, ctx.Err()
			}
		}
	}
	return wire.Response{}, lastErr
}

// CallToolStream subscribes to events for the resolved request_id, issues
// the call with retry disabled, and dispatches each event to onEvent until
// the call completes and the subscription drains.
func (e *Engine) CallToolStream(ctx context.Context, tool string, params map[string]any, reqCtx wire.RequestContext, timeoutMs int, requestID string, onEvent func(wire.NormalizedEvent), pollInterval time.Duration) (wire.Response, error) {
	sub := e.router.Subscribe(requestID, 256)
	defer sub.Close()

	type callResult struct {
		resp wire.Response
		err  error
	}
	resultCh := make(chan callResult, 1)
	go func() {
		resp, err := e.CallTool(ctx, tool, params, reqCtx, timeoutMs, requestID, false)
		resultCh <- callResult{resp, err}
	}()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var final callResult
	done := false
	for !done {
		select {
		case r := <-resultCh:
			final = r
			done = true
		case <-ticker.C:
			drainEvents(sub, onEvent)
		case <-ctx.Done():
			return wire.Response{}, ctx.Err()
		}
	}
	drainEvents(sub, onEvent)
	return final.resp, final.err
}

func drainEvents(sub port.Subscription, onEvent func(wire.NormalizedEvent)) {
	for {
		select {
		case evt := <-sub.Events():
			onEvent(evt)
		default:
			return
		}
	}
}
