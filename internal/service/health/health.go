// Package health implements the Health Monitor: a single latency-measuring
// probe against the downstream system.health tool, with no retry and no
// background loop.
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/unrealtools/mcp-bridge/internal/port"
)

// Snapshot is the result of one health probe.
type Snapshot struct {
	CapturedAtMs int64 `json:"captured_at_ms"`
	OK           bool  `json:"ok"`
	LatencyMs    int64 `json:"latency_ms"`
	Payload      any   `json:"payload,omitempty"`
}

// Monitor wraps a facade to provide CheckOnce.
type Monitor struct {
	facade port.Facade
}

// New builds a Monitor.
func New(facade port.Facade) *Monitor {
	return &Monitor{facade: facade}
}

// CheckOnce calls system.health once and measures wall-clock latency.
func (m *Monitor) CheckOnce(ctx context.Context) (Snapshot, error) {
	start := time.Now()
	resp, err := m.facade.CallTool(ctx, "system.health", map[string]any{}, nil, 0, "", "")
	latency := time.Since(start)

	snap := Snapshot{
		CapturedAtMs: time.Now().UnixMilli(),
		LatencyMs:    latency.Milliseconds(),
	}
	if err != nil {
		return snap, fmt.Errorf("health: system.health probe failed: %w", err)
	}
	snap.OK = resp.Status != "error"
	snap.Payload = resp.Result
	return snap, nil
}
