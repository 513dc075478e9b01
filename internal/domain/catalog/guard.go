package catalog

import (
	"fmt"
	"strings"

	"github.com/unrealtools/mcp-bridge/internal/bridgeerr"
)

// Expr evaluates a compiled catalog.guard_expr against a refreshed
// snapshot; implemented by the CEL adapter.
type Expr interface {
	Eval(snapshot Snapshot) (bool, error)
}

// GuardConfig names the unconditional baseline checks plus the optional CEL
// expression layered on top of them.
type GuardConfig struct {
	RequiredTools      []string
	PinSchemaHash      string
	FailOnSchemaChange bool
	Expr               Expr
}

// Guard runs the ordered catalog guard checks after every refresh; the
// first observed (schema_hash, local_checksum) pair becomes the
// fail-on-change baseline.
type Guard struct {
	cfg      GuardConfig
	baseline *baselinePair
}

type baselinePair struct {
	schemaHash    string
	localChecksum uint64
}

// NewGuard builds a Guard from cfg.
func NewGuard(cfg GuardConfig) *Guard {
	return &Guard{cfg: cfg}
}

// Check runs the ordered guard checks against snapshot.
func (g *Guard) Check(snapshot Snapshot) error {
	if len(g.cfg.RequiredTools) > 0 {
		for _, name := range g.cfg.RequiredTools {
			if _, ok := snapshot.Tools[name]; !ok {
				return bridgeerr.CatalogGuard(fmt.Errorf("required tool %q missing from catalog", name))
			}
		}
	}

	if g.cfg.PinSchemaHash != "" {
		pinned := strings.ToUpper(g.cfg.PinSchemaHash)
		if snapshot.SchemaHash != pinned {
			return bridgeerr.CatalogGuard(fmt.Errorf("schema_hash %q does not match pinned %q", snapshot.SchemaHash, pinned))
		}
	}

	if g.cfg.FailOnSchemaChange {
		if g.baseline == nil {
			g.baseline = &baselinePair{schemaHash: snapshot.SchemaHash, localChecksum: snapshot.LocalChecksum}
		} else if g.baseline.schemaHash != snapshot.SchemaHash || g.baseline.localChecksum != snapshot.LocalChecksum {
			return bridgeerr.CatalogGuard(fmt.Errorf("catalog schema changed: baseline=(%s,%d) current=(%s,%d)",
				g.baseline.schemaHash, g.baseline.localChecksum, snapshot.SchemaHash, snapshot.LocalChecksum))
		}
	}

	if g.cfg.Expr != nil {
		ok, err := g.cfg.Expr.Eval(snapshot)
		if err != nil {
			return bridgeerr.CatalogGuard(fmt.Errorf("guard_expr evaluation failed: %w", err))
		}
		if !ok {
			return bridgeerr.CatalogGuard(fmt.Errorf("guard_expr evaluated false"))
		}
	}

	return nil
}
