package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/unrealtools/mcp-bridge/internal/bridgeerr"
	"github.com/unrealtools/mcp-bridge/internal/domain/wire"
)

type fakeFacade struct {
	result map[string]any
	err    error
}

func (f fakeFacade) CallTool(ctx context.Context, tool string, params map[string]any, reqCtx wire.RequestContext, timeoutMs int, requestID, sessionID string) (wire.Response, error) {
	if f.err != nil {
		return wire.Response{}, f.err
	}
	return wire.Response{Status: wire.StatusOK, Result: f.result}, nil
}

func sampleToolsResult() map[string]any {
	return map[string]any{
		"protocol_version": "1.0",
		"schema_hash":       "abc123",
		"capabilities":      []any{"umg_widget_event_k2_v1", "umg_widget_event_k2_v1", "sequencer_keys_v1"},
		"tools": []any{
			map[string]any{"name": "umg.widget.create", "enabled": true},
			map[string]any{"name": "seq.asset.create", "enabled": true, "write": true},
		},
	}
}

func TestRefreshReplacesSnapshot(t *testing.T) {
	c := New(nil)
	err := c.Refresh(context.Background(), fakeFacade{result: sampleToolsResult()}, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snap := c.Snapshot()
	if snap.SchemaHash != "ABC123" {
		t.Fatalf("schema_hash = %q, want uppercased ABC123", snap.SchemaHash)
	}
	if len(snap.Capabilities) != 2 {
		t.Fatalf("capabilities = %v, want deduped to 2 entries", snap.Capabilities)
	}
	if !c.HasTool("umg.widget.create") {
		t.Fatal("expected umg.widget.create in catalog")
	}
	if snap.LocalChecksum == 0 {
		t.Fatal("expected a non-zero local checksum")
	}
}

func TestRefreshPropagatesFacadeError(t *testing.T) {
	c := New(nil)
	err := c.Refresh(context.Background(), fakeFacade{err: errors.New("boom")}, true)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestGuardRequiredTools(t *testing.T) {
	g := NewGuard(GuardConfig{RequiredTools: []string{"missing.tool"}})
	err := g.Check(Snapshot{Tools: map[string]Tool{"other": {}}})
	if err == nil {
		t.Fatal("expected guard failure for missing required tool")
	}
	if kind, _ := bridgeerr.KindOf(err); kind != bridgeerr.KindCatalogGuard {
		t.Fatalf("kind = %v, want CatalogGuard", kind)
	}
}

func TestGuardPinnedHashMismatch(t *testing.T) {
	g := NewGuard(GuardConfig{PinSchemaHash: "DEADBEEF"})
	err := g.Check(Snapshot{SchemaHash: "CAFEBABE"})
	if err == nil {
		t.Fatal("expected guard failure for hash mismatch")
	}
}

func TestGuardFailOnSchemaChange(t *testing.T) {
	g := NewGuard(GuardConfig{FailOnSchemaChange: true})
	first := Snapshot{SchemaHash: "AAA", LocalChecksum: 1}
	if err := g.Check(first); err != nil {
		t.Fatalf("first refresh should establish baseline without error: %v", err)
	}
	changed := Snapshot{SchemaHash: "BBB", LocalChecksum: 1}
	if err := g.Check(changed); err == nil {
		t.Fatal("expected guard failure when schema_hash changes after baseline")
	}
}

type fakeExpr struct {
	ok  bool
	err error
}

func (f fakeExpr) Eval(Snapshot) (bool, error) { return f.ok, f.err }

func TestGuardExprFalseFails(t *testing.T) {
	g := NewGuard(GuardConfig{Expr: fakeExpr{ok: false}})
	if err := g.Check(Snapshot{}); err == nil {
		t.Fatal("expected guard failure when guard_expr evaluates false")
	}
}

func TestGuardExprErrorFails(t *testing.T) {
	g := NewGuard(GuardConfig{Expr: fakeExpr{err: errors.New("bad expr")}})
	if err := g.Check(Snapshot{}); err == nil {
		t.Fatal("expected guard failure when guard_expr errors")
	}
}
