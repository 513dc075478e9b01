// Package guard adapts google/cel-go into the catalog package's Expr
// interface, compiling catalog.guard_expr once and evaluating it against a
// typed activation built from each refreshed snapshot.
package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/unrealtools/mcp-bridge/internal/domain/catalog"
)

const (
	maxExpressionLength = 1024
	maxCostBudget       = 100_000
	evalTimeout         = 5 * time.Second
	interruptCheckFreq  = 100
)

// NewEnvironment builds the CEL environment the catalog guard_expr is
// compiled against: capabilities (list<string>), tools (map<string,bool>),
// schema_hash (string), protocol_version (string).
func NewEnvironment() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("capabilities", cel.ListType(cel.StringType)),
		cel.Variable("tools", cel.MapType(cel.StringType, cel.BoolType)),
		cel.Variable("schema_hash", cel.StringType),
		cel.Variable("protocol_version", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("guard: build cel environment: %w", err)
	}
	return env, nil
}

// CompiledExpr is a compiled, reusable catalog.guard_expr.
type CompiledExpr struct {
	prg cel.Program
}

// Compile validates and compiles expression against env, applying the
// length, cost and interrupt-frequency ceilings declared above.
func Compile(env *cel.Env, expression string) (*CompiledExpr, error) {
	if len(expression) == 0 {
		return nil, fmt.Errorf("guard: empty expression")
	}
	if len(expression) > maxExpressionLength {
		return nil, fmt.Errorf("guard: expression exceeds %d characters", maxExpressionLength)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("guard: compile guard_expr: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("guard: guard_expr must evaluate to a bool, got %s", ast.OutputType())
	}

	prg, err := env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("guard: build program: %w", err)
	}
	return &CompiledExpr{prg: prg}, nil
}

// Eval implements catalog.Expr.
func (c *CompiledExpr) Eval(snapshot catalog.Snapshot) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()

	toolsMap := make(map[string]bool, len(snapshot.Tools))
	for name, t := range snapshot.Tools {
		toolsMap[name] = t.Enabled
	}
	capabilities := snapshot.Capabilities
	if capabilities == nil {
		capabilities = []string{}
	}

	vars := map[string]any{
		"capabilities":     capabilities,
		"tools":            toolsMap,
		"schema_hash":      snapshot.SchemaHash,
		"protocol_version": snapshot.ProtocolVersion,
	}

	out, _, err := c.prg.ContextEval(ctx, vars)
	if err != nil {
		return false, fmt.Errorf("guard: eval: %w", err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("guard: guard_expr did not evaluate to a bool")
	}
	return b, nil
}
