package passthrough

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/unrealtools/mcp-bridge/internal/bridgeerr"
	"github.com/unrealtools/mcp-bridge/internal/domain/catalog"
	"github.com/unrealtools/mcp-bridge/internal/domain/events"
	"github.com/unrealtools/mcp-bridge/internal/domain/wire"
)

type fakeFacade struct {
	mu        sync.Mutex
	callCount int
	behaviors []func() (wire.Response, error)
	toolsList map[string]any
}

func (f *fakeFacade) CallTool(ctx context.Context, tool string, params map[string]any, reqCtx wire.RequestContext, timeoutMs int, requestID, sessionID string) (wire.Response, error) {
	if tool == "tools.list" {
		return wire.Response{Status: wire.StatusOK, Result: f.toolsList}, nil
	}
	f.mu.Lock()
	i := f.callCount
	f.callCount++
	f.mu.Unlock()
	if i < len(f.behaviors) {
		return f.behaviors[i]()
	}
	return f.behaviors[len(f.behaviors)-1]()
}

func newEngine(t *testing.T, facade *fakeFacade) *Engine {
	t.Helper()
	cat := catalog.New(nil)
	if err := cat.Refresh(context.Background(), facade, true); err != nil {
		t.Fatalf("seed refresh failed: %v", err)
	}
	router := events.New(nil, nil)
	cfg := Config{TransientMaxAttempts: 3, BackoffInitialS: 0.001, BackoffMaxS: 0.01}
	return New(cfg, facade, cat, router, nil, nil, nil, nil, nil)
}

func TestCallToolSucceedsFirstTry(t *testing.T) {
	facade := &fakeFacade{
		toolsList: map[string]any{"tools": []any{map[string]any{"name": "my.tool", "enabled": true}}},
		behaviors: []func() (wire.Response, error){
			func() (wire.Response, error) { return wire.Response{Status: wire.StatusOK}, nil },
		},
	}
	e := newEngine(t, facade)
	_, err := e.CallTool(context.Background(), "my.tool", nil, nil, 0, "req-1", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCallToolRetriesOnConnectionErrorThenSucceeds(t *testing.T) {
	facade := &fakeFacade{
		toolsList: map[string]any{"tools": []any{map[string]any{"name": "my.tool", "enabled": true}}},
		behaviors: []func() (wire.Response, error){
			func() (wire.Response, error) { return wire.Response{}, bridgeerr.Connection(errors.New("boom")) },
			func() (wire.Response, error) { return wire.Response{Status: wire.StatusOK}, nil },
		},
	}
	e := newEngine(t, facade)
	resp, err := e.CallTool(context.Background(), "my.tool", nil, nil, 0, "req-1", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status != wire.StatusOK {
		t.Fatalf("status = %q, want ok", resp.Status)
	}
}

func TestCallToolDoesNotRetryWhenDisallowed(t *testing.T) {
	facade := &fakeFacade{
		toolsList: map[string]any{"tools": []any{map[string]any{"name": "my.tool", "enabled": true}}},
		behaviors: []func() (wire.Response, error){
			func() (wire.Response, error) { return wire.Response{}, bridgeerr.Connection(errors.New("boom")) },
		},
	}
	e := newEngine(t, facade)
	_, err := e.CallTool(context.Background(), "my.tool", nil, nil, 0, "req-1", false)
	if err == nil {
		t.Fatal("expected error since allowRetry=false means a single attempt")
	}
	if facade.callCount != 1 {
		t.Fatalf("callCount = %d, want exactly 1", facade.callCount)
	}
}

func TestCallToolUnknownToolError(t *testing.T) {
	facade := &fakeFacade{toolsList: map[string]any{"tools": []any{}}}
	e := newEngine(t, facade)
	_, err := e.CallTool(context.Background(), "nonexistent", nil, nil, 0, "req-1", true)
	if err == nil {
		t.Fatal("expected UnknownTool error")
	}
	if kind, _ := bridgeerr.KindOf(err); kind != bridgeerr.KindUnknownTool {
		t.Fatalf("kind = %v, want UnknownTool", kind)
	}
}

func TestCallToolDisabledToolIsUnknown(t *testing.T) {
	facade := &fakeFacade{toolsList: map[string]any{"tools": []any{map[string]any{"name": "disabled.tool", "enabled": false}}}}
	e := newEngine(t, facade)
	_, err := e.CallTool(context.Background(), "disabled.tool", nil, nil, 0, "req-1", true)
	if err == nil {
		t.Fatal("expected error for disabled tool")
	}
}

func TestBackoffDelayDoublesAndCaps(t *testing.T) {
	if got := backoffDelay(0.1, 0.3, 0); got != 100*time.Millisecond {
		t.Fatalf("attempt 0 = %v, want 100ms", got)
	}
	if got := backoffDelay(0.1, 0.3, 1); got != 200*time.Millisecond {
		t.Fatalf("attempt 1 = %v, want 200ms", got)
	}
	if got := backoffDelay(0.1, 0.3, 5); got != 300*time.Millisecond {
		t.Fatalf("attempt 5 = %v, want capped at 300ms", got)
	}
}
