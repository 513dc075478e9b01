// Package catalog implements the Tool Catalog: mirroring the downstream
// tools.list result and computing a local verification checksum.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/unrealtools/mcp-bridge/internal/port"
)

// Tool is one downstream-advertised tool definition.
type Tool struct {
	Name         string          `json:"name"`
	Domain       string          `json:"domain,omitempty"`
	Version      string          `json:"version,omitempty"`
	Enabled      bool            `json:"enabled"`
	Write        bool            `json:"write,omitempty"`
	ParamsSchema json.RawMessage `json:"params_schema,omitempty"`
	ResultSchema json.RawMessage `json:"result_schema,omitempty"`
}

// Snapshot is an immutable view of the catalog at the moment of a refresh.
type Snapshot struct {
	ProtocolVersion string
	SchemaHash      string
	LocalChecksum   uint64
	Capabilities    []string
	Tools           map[string]Tool
}

// Catalog mirrors the downstream tools.list result behind a refresh mutex,
// replacing all state atomically on each successful Refresh.
type Catalog struct {
	metrics port.Metrics

	mu       sync.RWMutex
	snapshot Snapshot
}

// New builds an empty Catalog.
func New(metrics port.Metrics) *Catalog {
	return &Catalog{metrics: metrics, snapshot: Snapshot{Tools: map[string]Tool{}}}
}

// Refresh calls tools.list through facade and replaces all catalog state.
func (c *Catalog) Refresh(ctx context.Context, facade port.Facade, includeSchemas bool) error {
	resp, err := facade.CallTool(ctx, "tools.list", map[string]any{"include_schemas": includeSchemas}, nil, 0, "", "")
	if err != nil {
		return fmt.Errorf("catalog: refresh: %w", err)
	}

	result, _ := resp.Result.(map[string]any)
	if result == nil {
		return fmt.Errorf("catalog: refresh: tools.list returned no result")
	}

	protocolVersion, _ := result["protocol_version"].(string)
	schemaHash, _ := result["schema_hash"].(string)

	tools := parseTools(result["tools"])
	capabilities := dedupPreserveOrder(toStringSlice(result["capabilities"]))
	checksum := localChecksum(tools)

	snap := Snapshot{
		ProtocolVersion: protocolVersion,
		SchemaHash:      strings.ToUpper(schemaHash),
		LocalChecksum:   checksum,
		Capabilities:    capabilities,
		Tools:           tools,
	}

	c.mu.Lock()
	c.snapshot = snap
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.IncCounter("catalog.refreshed", map[string]string{"tool_count": fmt.Sprint(len(tools))})
	}
	return nil
}

func parseTools(raw any) map[string]Tool {
	out := map[string]Tool{}
	list, ok := raw.([]any)
	if !ok {
		return out
	}
	for _, item := range list {
		b, err := json.Marshal(item)
		if err != nil {
			continue
		}
		var t Tool
		if err := json.Unmarshal(b, &t); err != nil {
			continue
		}
		if t.Name == "" {
			continue
		}
		out[t.Name] = t
	}
	return out
}

func toStringSlice(raw any) []string {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func dedupPreserveOrder(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// localChecksum computes xxhash.Sum64 over the canonical (name-sorted)
// JSON encoding of the tool list, independent of whatever schema_hash the
// peer reports.
func localChecksum(tools map[string]Tool) uint64 {
	names := make([]string, 0, len(tools))
	for name := range tools {
		names = append(names, name)
	}
	sort.Strings(names)

	ordered := make([]Tool, 0, len(names))
	for _, name := range names {
		ordered = append(ordered, tools[name])
	}
	b, _ := json.Marshal(ordered)
	canonical := strings.Join(strings.Fields(string(b)), "")
	return xxhash.Sum64String(canonical)
}

// Snapshot returns a copy of the current catalog state.
func (c *Catalog) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// GetTool performs an O(1) lookup by name against the current snapshot.
func (c *Catalog) GetTool(name string) (Tool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.snapshot.Tools[name]
	return t, ok
}

// HasTool reports whether name is present in the current snapshot, used by
// the invariant that every orchestrator dispatch target must exist.
func (c *Catalog) HasTool(name string) bool {
	_, ok := c.GetTool(name)
	return ok
}

// Names returns the current tool names, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.snapshot.Tools))
	for name := range c.snapshot.Tools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
