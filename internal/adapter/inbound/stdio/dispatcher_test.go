package stdio

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/unrealtools/mcp-bridge/internal/domain/catalog"
	"github.com/unrealtools/mcp-bridge/internal/domain/events"
	"github.com/unrealtools/mcp-bridge/internal/domain/orchestrator"
	"github.com/unrealtools/mcp-bridge/internal/domain/wire"
	"github.com/unrealtools/mcp-bridge/internal/service/passthrough"
)

type fakeFacade struct {
	toolsList map[string]any
	responses map[string]wire.Response
}

func (f *fakeFacade) CallTool(ctx context.Context, tool string, params map[string]any, reqCtx wire.RequestContext, timeoutMs int, requestID, sessionID string) (wire.Response, error) {
	if tool == "tools.list" {
		return wire.Response{Status: wire.StatusOK, Result: f.toolsList}, nil
	}
	if r, ok := f.responses[tool]; ok {
		return r, nil
	}
	return wire.Response{Status: wire.StatusOK, Result: map[string]any{}}, nil
}

func newTestDispatcher(t *testing.T, facade *fakeFacade) *Dispatcher {
	t.Helper()
	cat := catalog.New(nil)
	if err := cat.Refresh(context.Background(), facade, true); err != nil {
		t.Fatalf("seed refresh: %v", err)
	}
	router := events.New(nil, nil)
	pass := passthrough.New(passthrough.Config{TransientMaxAttempts: 1}, facade, cat, router, nil, nil, nil, nil, nil)
	orch := orchestrator.New(cat, facade, nil, nil)
	return NewDispatcher(cat, pass, orch, "ue-mcp-bridge", "test", nil)
}

func rawID(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal id: %v", err)
	}
	return b
}

func TestHandleRequiresInitializeFirst(t *testing.T) {
	d := newTestDispatcher(t, &fakeFacade{toolsList: map[string]any{"tools": []any{}}})
	_, rpcErr := d.Handle(context.Background(), Request{Method: "ping", ID: rawID(t, 1)})
	if rpcErr == nil || rpcErr.Code != codeNotInitialized {
		t.Fatalf("expected codeNotInitialized, got %+v", rpcErr)
	}
}

func TestHandleInitialize(t *testing.T) {
	d := newTestDispatcher(t, &fakeFacade{toolsList: map[string]any{"tools": []any{}}})
	result, rpcErr := d.Handle(context.Background(), Request{Method: "initialize", ID: rawID(t, 1)})
	if rpcErr != nil {
		t.Fatalf("unexpected error: %v", rpcErr)
	}
	m := result.(map[string]any)
	if m["serverInfo"].(map[string]any)["name"] != "ue-mcp-bridge" {
		t.Fatalf("unexpected serverInfo: %+v", m)
	}

	_, rpcErr = d.Handle(context.Background(), Request{Method: "ping", ID: rawID(t, 2)})
	if rpcErr != nil {
		t.Fatalf("ping after initialize should succeed: %+v", rpcErr)
	}
}

func TestHandleToolsListIncludesVirtualTools(t *testing.T) {
	facade := &fakeFacade{toolsList: map[string]any{"tools": []any{
		map[string]any{"name": "umg.save", "enabled": true},
	}}}
	d := newTestDispatcher(t, facade)
	d.initialized.Store(true)

	result, rpcErr := d.Handle(context.Background(), Request{Method: "tools/list", ID: rawID(t, 1)})
	if rpcErr != nil {
		t.Fatalf("unexpected error: %v", rpcErr)
	}
	tools := result.(map[string]any)["tools"].([]any)
	names := map[string]bool{}
	for _, entry := range tools {
		names[entry.(map[string]any)["name"].(string)] = true
	}
	if !names["umg.save"] || !names["umg.workflow.compose"] || !names["seq.workflow.compose"] {
		t.Fatalf("unexpected tool set: %+v", names)
	}
}

func TestHandleToolsListWithCursorReturnsEmpty(t *testing.T) {
	facade := &fakeFacade{toolsList: map[string]any{"tools": []any{map[string]any{"name": "umg.save", "enabled": true}}}}
	d := newTestDispatcher(t, facade)
	d.initialized.Store(true)

	params, _ := json.Marshal(map[string]any{"cursor": "abc"})
	result, rpcErr := d.Handle(context.Background(), Request{Method: "tools/list", Params: params, ID: rawID(t, 1)})
	if rpcErr != nil {
		t.Fatalf("unexpected error: %v", rpcErr)
	}
	tools := result.(map[string]any)["tools"].([]any)
	if len(tools) != 0 {
		t.Fatalf("expected empty list for non-empty cursor, got %d", len(tools))
	}
}

func TestHandleToolsCallUnknownToolReportsNotFound(t *testing.T) {
	facade := &fakeFacade{toolsList: map[string]any{"tools": []any{}}}
	d := newTestDispatcher(t, facade)
	d.initialized.Store(true)

	params, _ := json.Marshal(map[string]any{"name": "nonexistent", "arguments": map[string]any{}})
	result, rpcErr := d.Handle(context.Background(), Request{Method: "tools/call", Params: params, ID: rawID(t, 1)})
	if rpcErr != nil {
		t.Fatalf("unexpected JSON-RPC error: %v", rpcErr)
	}
	m := result.(map[string]any)
	if m["isError"] != true {
		t.Fatalf("expected isError=true, got %+v", m)
	}
	structured := m["structuredContent"].(map[string]any)
	diag := structured["diagnostics"].(wire.Diagnostics)
	if len(diag.Errors) != 1 || diag.Errors[0].Code != "MCP.SERVER.TOOL_NOT_FOUND" {
		t.Fatalf("unexpected diagnostics: %+v", diag)
	}
}

func TestHandleToolsCallVirtualUnknownKindIsInvalidParams(t *testing.T) {
	facade := &fakeFacade{toolsList: map[string]any{"tools": []any{"seq.key.set"}}}
	d := newTestDispatcher(t, facade)
	d.initialized.Store(true)

	params, _ := json.Marshal(map[string]any{
		"name":      "seq.workflow.compose",
		"arguments": map[string]any{"actions": []any{map[string]any{"kind": "not.real"}}},
	})
	_, rpcErr := d.Handle(context.Background(), Request{Method: "tools/call", Params: params, ID: rawID(t, 1)})
	if rpcErr == nil || rpcErr.Code != codeInvalidParams {
		t.Fatalf("expected codeInvalidParams, got %+v", rpcErr)
	}
}

func TestHandleUnknownMethod(t *testing.T) {
	d := newTestDispatcher(t, &fakeFacade{toolsList: map[string]any{"tools": []any{}}})
	d.initialized.Store(true)
	_, rpcErr := d.Handle(context.Background(), Request{Method: "nope", ID: rawID(t, 1)})
	if rpcErr == nil || rpcErr.Code != codeMethodNotFound {
		t.Fatalf("expected codeMethodNotFound, got %+v", rpcErr)
	}
}
