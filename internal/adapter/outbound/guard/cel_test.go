package guard

import (
	"strings"
	"testing"

	"github.com/unrealtools/mcp-bridge/internal/domain/catalog"
)

func snapshotFixture() catalog.Snapshot {
	return catalog.Snapshot{
		ProtocolVersion: "1.0",
		SchemaHash:      "ABC123",
		Capabilities:    []string{"umg_widget_event_k2_v1", "sequencer_core_v1"},
		Tools: map[string]catalog.Tool{
			"umg.widget.create": {Name: "umg.widget.create", Enabled: true},
			"umg.workflow.compose": {Name: "umg.workflow.compose", Enabled: true},
		},
	}
}

func TestNewEnvironment(t *testing.T) {
	env, err := NewEnvironment()
	if err != nil {
		t.Fatalf("NewEnvironment() error: %v", err)
	}
	if env == nil {
		t.Fatal("NewEnvironment() returned nil")
	}
}

func TestCompileAndEvalTrue(t *testing.T) {
	env, err := NewEnvironment()
	if err != nil {
		t.Fatalf("NewEnvironment() error: %v", err)
	}

	expr, err := Compile(env, `'umg_widget_event_k2_v1' in capabilities && size(tools) > 1`)
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}

	ok, err := expr.Eval(snapshotFixture())
	if err != nil {
		t.Fatalf("Eval() error: %v", err)
	}
	if !ok {
		t.Fatal("expected guard_expr to evaluate true")
	}
}

func TestCompileAndEvalFalse(t *testing.T) {
	env, err := NewEnvironment()
	if err != nil {
		t.Fatalf("NewEnvironment() error: %v", err)
	}

	expr, err := Compile(env, `'sequencer_keys_v1' in capabilities`)
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}

	ok, err := expr.Eval(snapshotFixture())
	if err != nil {
		t.Fatalf("Eval() error: %v", err)
	}
	if ok {
		t.Fatal("expected guard_expr to evaluate false")
	}
}

func TestCompileRejectsNonBoolExpression(t *testing.T) {
	env, err := NewEnvironment()
	if err != nil {
		t.Fatalf("NewEnvironment() error: %v", err)
	}
	if _, err := Compile(env, `schema_hash`); err == nil {
		t.Fatal("expected Compile to reject a non-bool expression")
	}
}

func TestCompileRejectsInvalidSyntax(t *testing.T) {
	env, err := NewEnvironment()
	if err != nil {
		t.Fatalf("NewEnvironment() error: %v", err)
	}
	if _, err := Compile(env, `capabilities in`); err == nil {
		t.Fatal("expected Compile to reject invalid syntax")
	}
}

func TestCompileRejectsOversizedExpression(t *testing.T) {
	env, err := NewEnvironment()
	if err != nil {
		t.Fatalf("NewEnvironment() error: %v", err)
	}
	huge := "'" + strings.Repeat("a", maxExpressionLength+1) + "' == schema_hash"
	if _, err := Compile(env, huge); err == nil {
		t.Fatal("expected Compile to reject an oversized expression")
	}
}
