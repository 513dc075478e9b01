// Package events implements the Event Router: bounded ring buffers and
// bounded-queue, drop-on-full subscriptions over normalized downstream
// events.
package events

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/unrealtools/mcp-bridge/internal/domain/wire"
	"github.com/unrealtools/mcp-bridge/internal/port"
)

const (
	defaultGlobalRing  = 2000
	defaultRequestRing = 200
)

type ringBuffer struct {
	items []wire.NormalizedEvent
	size  int
	next  int
	full  bool
}

func newRing(size int) *ringBuffer {
	return &ringBuffer{items: make([]wire.NormalizedEvent, size), size: size}
}

func (r *ringBuffer) push(e wire.NormalizedEvent) {
	if r.size == 0 {
		return
	}
	r.items[r.next] = e
	r.next = (r.next + 1) % r.size
	if r.next == 0 {
		r.full = true
	}
}

type subscription struct {
	filter   string
	ch       chan wire.NormalizedEvent
	dropped  uint64
	closed   int32
	router   *Router
}

func (s *subscription) Events() <-chan wire.NormalizedEvent { return s.ch }
func (s *subscription) DroppedCount() uint64                { return atomic.LoadUint64(&s.dropped) }

func (s *subscription) Close() {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return
	}
	s.router.remove(s)
	close(s.ch)
}

// Router publishes normalized events into a global ring buffer, per-request
// ring buffers, and any matching live subscriptions without ever blocking on
// a slow consumer.
type Router struct {
	metrics port.Metrics
	audit   port.AuditSink

	mu            sync.Mutex
	global        *ringBuffer
	perRequest    map[string]*ringBuffer
	subscriptions map[*subscription]struct{}
	seenRequests  map[string]bool
}

// New builds a Router using the default ring-buffer sizes. audit may be nil,
// in which case no record is recorded for publish sampling.
func New(metrics port.Metrics, audit port.AuditSink) *Router {
	return &Router{
		metrics:       metrics,
		audit:         audit,
		global:        newRing(defaultGlobalRing),
		perRequest:    make(map[string]*ringBuffer),
		subscriptions: make(map[*subscription]struct{}),
		seenRequests:  make(map[string]bool),
	}
}

// Publish normalizes evt, appends it to the global and per-request ring
// buffers, and offers it to every subscription whose filter matches.
func (r *Router) Publish(evt wire.Event) {
	n := wire.Normalize(evt)

	r.mu.Lock()
	r.global.push(n)
	first := false
	if n.RequestID != "" {
		ring, ok := r.perRequest[n.RequestID]
		if !ok {
			ring = newRing(defaultRequestRing)
			r.perRequest[n.RequestID] = ring
		}
		ring.push(n)
		if !r.seenRequests[n.RequestID] {
			r.seenRequests[n.RequestID] = true
			first = true
		}
	}
	subs := make([]*subscription, 0, len(r.subscriptions))
	for s := range r.subscriptions {
		subs = append(subs, s)
	}
	r.mu.Unlock()

	if r.audit != nil && (first || n.NotificationKind == "job_status") {
		r.audit.Record("event", n.RequestID, "", n.NotificationKind, fmt.Sprintf("event_id=%s event_type=%s", n.EventID, n.EventType))
	}

	for _, s := range subs {
		if s.filter != "" && s.filter != n.RequestID {
			continue
		}
		select {
		case s.ch <- n:
		default:
			atomic.AddUint64(&s.dropped, 1)
			if r.metrics != nil {
				r.metrics.IncCounter("event_router.dropped", map[string]string{"request_id": s.filter})
			}
		}
	}

	if r.metrics != nil {
		r.metrics.IncCounter("event_router.published", map[string]string{"kind": n.NotificationKind})
	}
}

// Subscribe opens a bounded-queue subscription filtered by requestIDFilter
// (empty matches every event).
func (r *Router) Subscribe(requestIDFilter string, queueSize int) port.Subscription {
	if queueSize <= 0 {
		queueSize = 256
	}
	s := &subscription{
		filter: requestIDFilter,
		ch:     make(chan wire.NormalizedEvent, queueSize),
		router: r,
	}
	r.mu.Lock()
	r.subscriptions[s] = struct{}{}
	r.mu.Unlock()
	return s
}

func (r *Router) remove(s *subscription) {
	r.mu.Lock()
	delete(r.subscriptions, s)
	r.mu.Unlock()
}
