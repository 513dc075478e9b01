package telemetry

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func TestPromMetricsIncAndObserve(t *testing.T) {
	m := NewPromMetrics()
	m.IncCounter("tool.calls", map[string]string{"tool": "umg.widget.create"})
	m.IncCounter("tool.calls", map[string]string{"tool": "umg.widget.create"})
	m.SetGauge("pending.requests", 3, nil)
	m.ObserveHistogram("tool.call.duration", 0.125, map[string]string{"tool": "umg.widget.create"})

	summary := m.Summary()
	if summary["ue_mcp_bridge_tool_calls"] != 2 {
		t.Fatalf("tool.calls total = %v, want 2", summary["ue_mcp_bridge_tool_calls"])
	}
	if summary["ue_mcp_bridge_pending_requests"] != 3 {
		t.Fatalf("pending.requests gauge = %v, want 3", summary["ue_mcp_bridge_pending_requests"])
	}
	if summary["ue_mcp_bridge_tool_call_duration"] != 1 {
		t.Fatalf("tool.call.duration sample count = %v, want 1", summary["ue_mcp_bridge_tool_call_duration"])
	}
}

func TestSanitizeReplacesNonAlnum(t *testing.T) {
	if got := sanitize("tool.call-duration"); got != "tool_call_duration" {
		t.Fatalf("sanitize() = %q", got)
	}
}

func TestNoopMetricsDiscardsEverything(t *testing.T) {
	var m NoopMetrics
	m.IncCounter("x", nil)
	m.SetGauge("y", 1, nil)
	m.ObserveHistogram("z", 1, nil)
}

func TestLogLoopStopsOnContextCancel(t *testing.T) {
	prom := NewPromMetrics()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		LogLoop(ctx, prom, 1*time.Millisecond, slog.Default())
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("LogLoop did not exit after context cancellation")
	}
}

func TestLogLoopNoopWhenIntervalZero(t *testing.T) {
	LogLoop(context.Background(), NewPromMetrics(), 0, slog.Default())
}
