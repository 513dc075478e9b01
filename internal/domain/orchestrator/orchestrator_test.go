package orchestrator

import (
	"context"
	"testing"

	"github.com/unrealtools/mcp-bridge/internal/domain/catalog"
	"github.com/unrealtools/mcp-bridge/internal/domain/wire"
)

type recordedCall struct {
	tool string
	args map[string]any
}

type fakeFacade struct {
	calls     []recordedCall
	responses map[string]wire.Response
}

func (f *fakeFacade) CallTool(ctx context.Context, tool string, params map[string]any, reqCtx wire.RequestContext, timeoutMs int, requestID, sessionID string) (wire.Response, error) {
	f.calls = append(f.calls, recordedCall{tool: tool, args: params})
	if r, ok := f.responses[tool]; ok {
		return r, nil
	}
	return wire.Response{Status: wire.StatusOK, Result: map[string]any{}}, nil
}

func refreshCatalog(t *testing.T, c *catalog.Catalog, tools []string, capabilities []string) {
	t.Helper()
	list := make([]any, 0, len(tools))
	for _, name := range tools {
		list = append(list, map[string]any{"name": name, "enabled": true})
	}
	caps := make([]any, 0, len(capabilities))
	for _, c := range capabilities {
		caps = append(caps, c)
	}
	f := &fakeFacade{responses: map[string]wire.Response{
		"tools.list": {Status: wire.StatusOK, Result: map[string]any{
			"tools":        list,
			"capabilities": caps,
		}},
	}}
	if err := c.Refresh(context.Background(), f, true); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
}

func TestComposeSeqDirectMap(t *testing.T) {
	cat := catalog.New(nil)
	refreshCatalog(t, cat, []string{"seq.asset.create", "seq.key.set"}, nil)

	facade := &fakeFacade{responses: map[string]wire.Response{
		"seq.asset.create": {Status: wire.StatusOK, Result: map[string]any{"object_path": "/Game/Seq1"}},
	}}
	engine := New(cat, facade, nil, nil)

	result, err := engine.Compose(context.Background(), SeqDomain, ComposeRequest{
		Actions: []Action{{Kind: "asset.create", Args: map[string]any{"name": "Seq1"}}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ObjectPath != "/Game/Seq1" {
		t.Fatalf("object_path = %q, want /Game/Seq1", result.ObjectPath)
	}
	if result.StepCount != 1 || result.FailedCount != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestComposePropagatesObjectPathForward(t *testing.T) {
	cat := catalog.New(nil)
	refreshCatalog(t, cat, []string{"seq.asset.create", "seq.key.set"}, nil)

	facade := &fakeFacade{responses: map[string]wire.Response{
		"seq.asset.create": {Status: wire.StatusOK, Result: map[string]any{"object_path": "/Game/Seq1"}},
	}}
	engine := New(cat, facade, nil, nil)

	_, err := engine.Compose(context.Background(), SeqDomain, ComposeRequest{
		Actions: []Action{
			{Kind: "asset.create", Args: map[string]any{"name": "Seq1"}},
			{Kind: "key.set", Args: map[string]any{"time": 0}},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second := facade.calls[1]
	if second.args["object_path"] != "/Game/Seq1" {
		t.Fatalf("second call args = %+v, want object_path propagated", second.args)
	}
}

func TestComposeKeyBulkSetFallback(t *testing.T) {
	cat := catalog.New(nil)
	// seq.key.bulk_set absent from catalog and no sequencer_keys_v1 capability.
	refreshCatalog(t, cat, []string{"seq.key.set"}, nil)

	facade := &fakeFacade{}
	engine := New(cat, facade, nil, nil)

	result, err := engine.Compose(context.Background(), SeqDomain, ComposeRequest{
		Actions: []Action{{Kind: "key.bulk_set", Args: map[string]any{
			"keys": []any{
				map[string]any{"time": 10, "value": 1},
				map[string]any{"time": 20, "value": 2},
			},
		}}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(facade.calls) != 1 || facade.calls[0].tool != "seq.key.set" {
		t.Fatalf("expected fallback call to seq.key.set, got %+v", facade.calls)
	}
	if facade.calls[0].args["time"] != 10 {
		t.Fatalf("expected first key merged into args, got %+v", facade.calls[0].args)
	}
	if result.Steps[0].Fallback == "" {
		t.Fatal("expected a fallback note recorded on the step")
	}
}

func TestComposeKeyBulkSetNoFallbackWhenCapable(t *testing.T) {
	cat := catalog.New(nil)
	refreshCatalog(t, cat, []string{"seq.key.bulk_set"}, []string{"sequencer_keys_v1"})

	facade := &fakeFacade{}
	engine := New(cat, facade, nil, nil)

	_, err := engine.Compose(context.Background(), SeqDomain, ComposeRequest{
		Actions: []Action{{Kind: "key.bulk_set", Args: map[string]any{"keys": []any{map[string]any{"time": 1}}}}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if facade.calls[0].tool != "seq.key.bulk_set" {
		t.Fatalf("expected seq.key.bulk_set, got %s", facade.calls[0].tool)
	}
}

func TestComposeUnknownKindIsArgumentError(t *testing.T) {
	cat := catalog.New(nil)
	refreshCatalog(t, cat, []string{"seq.key.set"}, nil)
	engine := New(cat, &fakeFacade{}, nil, nil)

	_, err := engine.Compose(context.Background(), SeqDomain, ComposeRequest{
		Actions: []Action{{Kind: "not.a.real.kind"}},
	})
	if err == nil {
		t.Fatal("expected argument error for unknown kind")
	}
}

func TestComposeStopsOnFailureUnlessContinueOnError(t *testing.T) {
	cat := catalog.New(nil)
	refreshCatalog(t, cat, []string{"seq.asset.create", "seq.key.set"}, nil)

	facade := &fakeFacade{responses: map[string]wire.Response{
		"seq.asset.create": {Status: wire.StatusError, Diagnostics: wire.Diagnostics{Errors: []wire.Diagnostic{{Code: "X"}}}},
	}}
	engine := New(cat, facade, nil, nil)

	result, err := engine.Compose(context.Background(), SeqDomain, ComposeRequest{
		Actions: []Action{
			{Kind: "asset.create"},
			{Kind: "key.set"},
		},
	})
	if err != nil {
		t.Fatalf("a failed step without continue_on_error surfaces in the result, not as an error from Compose in this path: %v", err)
	}
	if result.FailedCount != 1 || len(facade.calls) != 1 {
		t.Fatalf("expected to stop after first failure: failed=%d calls=%d", result.FailedCount, len(facade.calls))
	}
}
