// Package broker implements the Request Broker: correlating outgoing
// downstream requests to their responses by request_id.
package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/unrealtools/mcp-bridge/internal/bridgeerr"
	"github.com/unrealtools/mcp-bridge/internal/domain/wire"
	"github.com/unrealtools/mcp-bridge/internal/port"
)

type pending struct {
	tool      string
	timeoutMs int
	createdAt time.Time
	done      chan result
}

type result struct {
	resp wire.Response
	err  error
}

// SendFunc transmits the built wire envelope; the broker calls it
// synchronously from within SendRequest before awaiting the response.
type SendFunc func(ctx context.Context, envelope wire.RequestEnvelope) error

// Broker registers outgoing requests by id, delivers matching responses,
// enforces per-request timeouts, and fails every pending request when the
// transport disconnects.
type Broker struct {
	defaultTimeoutMs int
	metrics          port.Metrics
	audit            port.AuditSink

	mu      sync.Mutex
	waiting map[string]*pending
}

// New builds a Broker with the given default per-request timeout. audit may
// be nil, in which case register/resolve/timeout/fail-all transitions are
// not recorded.
func New(defaultTimeoutMs int, metrics port.Metrics, audit port.AuditSink) *Broker {
	return &Broker{
		defaultTimeoutMs: defaultTimeoutMs,
		metrics:          metrics,
		audit:            audit,
		waiting:          make(map[string]*pending),
	}
}

func (b *Broker) resolveTimeout(explicitMs int, reqCtx wire.RequestContext) time.Duration {
	if explicitMs > 0 {
		return time.Duration(explicitMs) * time.Millisecond
	}
	if reqCtx != nil {
		if v, ok := reqCtx["timeout_ms"]; ok {
			if f, ok := toFloat(v); ok && f > 0 {
				return time.Duration(f) * time.Millisecond
			}
		}
	}
	return time.Duration(b.defaultTimeoutMs) * time.Millisecond
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}

// SendRequest builds the request envelope, registers a pending entry keyed
// by request_id, invokes send synchronously, and awaits the matching
// response bounded by the resolved timeout.
func (b *Broker) SendRequest(ctx context.Context, send SendFunc, tool string, params map[string]any, reqCtx wire.RequestContext, timeoutMs int, requestID, sessionID string) (wire.Response, error) {
	timeout := b.resolveTimeout(timeoutMs, reqCtx)

	p := &pending{tool: tool, timeoutMs: int(timeout.Milliseconds()), createdAt: time.Now(), done: make(chan result, 1)}
	if err := b.register(requestID, p); err != nil {
		return wire.Response{}, err
	}
	b.observe("request_broker.request_started", tool)
	b.record("request", requestID, tool, "sent", "")

	envelope := wire.NewRequestEnvelope(wire.Request{
		Protocol:  "mcp",
		RequestID: requestID,
		SessionID: sessionID,
		Tool:      tool,
		Params:    params,
		Context:   reqCtx,
	})

	if err := send(ctx, envelope); err != nil {
		b.remove(requestID)
		b.observe("request_broker.send_failed", tool)
		return wire.Response{}, bridgeerr.Connection(fmt.Errorf("broker: send request %s: %w", requestID, err))
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-p.done:
		b.observe("request_broker.request_resolved", tool)
		return r.resp, r.err
	case <-timer.C:
		b.remove(requestID)
		b.observe("request_broker.request_timeout", tool)
		b.record("response", requestID, tool, "timeout", fmt.Sprintf("timed out after %s", timeout))
		return wire.Response{}, bridgeerr.RequestTimeout(fmt.Errorf("broker: request %s timed out after %s", requestID, timeout))
	case <-ctx.Done():
		b.remove(requestID)
		return wire.Response{}, ctx.Err()
	}
}

func (b *Broker) register(requestID string, p *pending) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.waiting[requestID]; exists {
		return fmt.Errorf("broker: duplicate request_id %q", requestID)
	}
	b.waiting[requestID] = p
	if b.metrics != nil {
		b.metrics.SetGauge("request_broker.pending", float64(len(b.waiting)), nil)
	}
	return nil
}

func (b *Broker) remove(requestID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.waiting, requestID)
	if b.metrics != nil {
		b.metrics.SetGauge("request_broker.pending", float64(len(b.waiting)), nil)
	}
}

// ResolveFromMessage parses an mcp.response envelope and, if a matching
// pending entry exists, delivers it and returns true.
func (b *Broker) ResolveFromMessage(obj map[string]any) bool {
	resp, matched, err := wire.DecodeResponse(obj)
	if !matched {
		return false
	}
	if err != nil {
		b.observe("request_broker.unknown_response", "")
		return false
	}

	b.mu.Lock()
	p, ok := b.waiting[resp.RequestID]
	if ok {
		delete(b.waiting, resp.RequestID)
	}
	if b.metrics != nil {
		b.metrics.SetGauge("request_broker.pending", float64(len(b.waiting)), nil)
	}
	b.mu.Unlock()

	if !ok {
		b.observe("request_broker.unknown_response", "")
		return false
	}
	b.observe("request_broker.response_mapped", p.tool)
	b.record("response", resp.RequestID, p.tool, resp.Status, "")
	p.done <- result{resp: resp}
	return true
}

// FailAll clears the pending table and resolves every outstanding future
// with err; used when the transport disconnects.
func (b *Broker) FailAll(err error) {
	b.mu.Lock()
	pendingCopy := make([]*pending, 0, len(b.waiting))
	for _, p := range b.waiting {
		pendingCopy = append(pendingCopy, p)
	}
	b.waiting = make(map[string]*pending)
	if b.metrics != nil {
		b.metrics.SetGauge("request_broker.pending", 0, nil)
	}
	b.mu.Unlock()

	b.observe("request_broker.fail_all", "")
	for _, p := range pendingCopy {
		b.record("response", "", p.tool, "fail_all", err.Error())
		p.done <- result{err: err}
	}
}

func (b *Broker) observe(name, tool string) {
	if b.metrics == nil {
		return
	}
	labels := map[string]string{}
	if tool != "" {
		labels["tool"] = tool
	}
	b.metrics.IncCounter(name, labels)
}

func (b *Broker) record(kind, requestID, tool, status, detail string) {
	if b.audit == nil {
		return
	}
	b.audit.Record(kind, requestID, tool, status, detail)
}
