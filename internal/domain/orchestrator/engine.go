// Package orchestrator implements the Virtual-Tool Orchestrator: composite
// tools that translate an ordered list of domain actions into a sequence of
// downstream tool calls, with capability-aware fallback and a single
// running object_path carried forward across steps.
package orchestrator

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"github.com/unrealtools/mcp-bridge/internal/bridgeerr"
	"github.com/unrealtools/mcp-bridge/internal/domain/catalog"
	"github.com/unrealtools/mcp-bridge/internal/domain/wire"
	"github.com/unrealtools/mcp-bridge/internal/port"
	"github.com/unrealtools/mcp-bridge/internal/telemetry"
)

// Action is one step of a compose request: {kind, args}.
type Action struct {
	Kind string         `json:"kind"`
	Args map[string]any `json:"args"`
}

// ComposeRequest is the input to a umg.workflow.compose / seq.workflow.compose
// call.
type ComposeRequest struct {
	Actions         []Action `json:"actions"`
	ObjectPath      string   `json:"object_path,omitempty"`
	AutoSave        bool     `json:"auto_save,omitempty"`
	ContinueOnError bool     `json:"continue_on_error,omitempty"`
}

// StepResult records one executed (or failed) action.
type StepResult struct {
	Index         int    `json:"index"`
	RequestedKind string `json:"requested_kind"`
	DelegatedTool string `json:"delegated_tool"`
	RequestID     string `json:"request_id"`
	Status        string `json:"status"`
	OK            bool   `json:"ok"`
	Fallback      string `json:"fallback,omitempty"`
	Diagnostics   wire.Diagnostics `json:"diagnostics,omitempty"`
}

// WorkflowResult is the full compose response.
type WorkflowResult struct {
	ObjectPath      string          `json:"object_path,omitempty"`
	StepCount       int             `json:"step_count"`
	FailedCount     int             `json:"failed_count"`
	Steps           []StepResult    `json:"steps"`
	TouchedPackages []string        `json:"touched_packages,omitempty"`
	Strategy        Strategy        `json:"strategy"`
	Diagnostics     wire.Diagnostics `json:"diagnostics,omitempty"`
}

// Strategy echoes back the capability-derived decisions the engine made.
type Strategy struct {
	AutoSave                  bool     `json:"auto_save"`
	ContinueOnError           bool     `json:"continue_on_error"`
	CoreCapability            string   `json:"core_capability,omitempty"`
	KeysCapability             string   `json:"keys_capability,omitempty"`
	Capabilities              []string `json:"capabilities,omitempty"`
}

// Domain parameterizes one shared composeEngine instance for a specific
// orchestrated domain (UMG or Sequencer).
type Domain struct {
	Name                string
	ErrorCodeSuffix     string // e.g. "UMG_WORKFLOW_STEP_FAILED"
	DirectMap           map[string]string
	AssetCreateKinds    map[string]bool
	SaveAwareTools      map[string]bool
	CompileAwareTools   map[string]bool // UMG-only; empty for other domains
	CoreCapability      string
	KeysCapability      string
	V2Variants          map[string]string // legacy tool -> preferred -.v2 tool
	// Rewrite applies a domain-specific capability-gated fallback, e.g. the
	// Sequencer's key.bulk_set -> key.set translation. It may return
	// modified args (e.g. the first key of a batch); nil means unchanged.
	Rewrite func(kind string, directTool string, args map[string]any, snapshot catalog.Snapshot) (tool, fallbackNote string, rewrittenArgs map[string]any)
}

// Engine is the single shared compose engine every domain's virtual tool
// goes through.
type Engine struct {
	catalog *catalog.Catalog
	facade  port.Facade
	metrics port.Metrics
	tracer  trace.TracerProvider
}

// New builds an Engine. tp defaults to a no-op tracer provider when nil.
func New(cat *catalog.Catalog, facade port.Facade, metrics port.Metrics, tp trace.TracerProvider) *Engine {
	if tp == nil {
		tp = trace.NewNoopTracerProvider()
	}
	return &Engine{catalog: cat, facade: facade, metrics: metrics, tracer: tp}
}

// Compose executes req against domain's action table.
func (e *Engine) Compose(ctx context.Context, domain Domain, req ComposeRequest) (WorkflowResult, error) {
	snapshot := e.catalog.Snapshot()

	result := WorkflowResult{
		Steps: make([]StepResult, 0, len(req.Actions)),
		Strategy: Strategy{
			AutoSave:        req.AutoSave,
			ContinueOnError: req.ContinueOnError,
			CoreCapability:  domain.CoreCapability,
			KeysCapability:  domain.KeysCapability,
			Capabilities:    snapshot.Capabilities,
		},
	}

	currentObjectPath := req.ObjectPath
	touched := map[string]bool{}
	var touchedOrder []string

	for i, action := range req.Actions {
		step := StepResult{Index: i, RequestedKind: action.Kind}

		direct, present := domain.DirectMap[action.Kind]
		if !present {
			return result, bridgeerr.Argument(fmt.Errorf("orchestrator: unknown action kind %q", action.Kind))
		}

		args := cloneArgs(action.Args)
		tool, fallback := direct, ""
		if domain.Rewrite != nil {
			if rewrittenTool, note, rewrittenArgs := domain.Rewrite(action.Kind, direct, args, snapshot); rewrittenTool != "" {
				tool, fallback = rewrittenTool, note
				if rewrittenArgs != nil {
					args = rewrittenArgs
				}
			}
		}
		tool = preferV2(domain, tool, snapshot)

		if !e.catalog.HasTool(tool) {
			return result, bridgeerr.Argument(fmt.Errorf("orchestrator: delegated tool %q not present in catalog", tool))
		}
		step.DelegatedTool = tool
		step.Fallback = fallback
		if currentObjectPath != "" && !hasObjectPath(args) && !domain.AssetCreateKinds[action.Kind] {
			args["object_path"] = currentObjectPath
		}
		if i == len(req.Actions)-1 && domain.CompileAwareTools[tool] {
			args["compile_on_success"] = true
		}
		if req.AutoSave && domain.SaveAwareTools[tool] {
			if save, ok := args["save"].(map[string]any); ok {
				save["auto_save"] = true
			} else {
				args["save"] = map[string]any{"auto_save": true}
			}
		}

		requestID := fmt.Sprintf("wf-%d-%s", i, action.Kind)
		spanCtx, span := telemetry.StartWorkflowStepSpan(ctx, e.tracer, domain.Name, action.Kind, i)
		resp, err := e.facade.CallTool(spanCtx, tool, args, nil, 0, requestID, "")
		span.End()
		step.RequestID = requestID

		if err != nil {
			step.Status = wire.StatusError
			step.OK = false
			result.Steps = append(result.Steps, step)
			result.FailedCount++
			result.Diagnostics.Errors = append(result.Diagnostics.Errors, stepFailureDiagnostic(domain, step, err))
			if !req.ContinueOnError {
				result.StepCount = len(result.Steps)
				return finalize(result, currentObjectPath, touchedOrder), bridgeerr.Tool(fmt.Errorf("orchestrator: %s: %w", codeFor(domain), err), false)
			}
			continue
		}

		step.Status = resp.Status
		step.OK = resp.Status != wire.StatusError
		step.Diagnostics = resp.Diagnostics
		result.Steps = append(result.Steps, step)
		if !step.OK {
			result.FailedCount++
			result.Diagnostics.Errors = append(result.Diagnostics.Errors, stepFailureDiagnostic(domain, step, nil))
			if !req.ContinueOnError {
				break
			}
		}

		if objPath, ok := extractObjectPath(resp); ok && objPath != "" {
			currentObjectPath = objPath
		}
		for _, pkg := range extractTouchedPackages(resp) {
			if !touched[pkg] {
				touched[pkg] = true
				touchedOrder = append(touchedOrder, pkg)
			}
		}
	}

	result.StepCount = len(result.Steps)
	return finalize(result, currentObjectPath, touchedOrder), nil
}

func finalize(result WorkflowResult, objectPath string, touched []string) WorkflowResult {
	result.ObjectPath = objectPath
	result.TouchedPackages = touched
	return result
}

func codeFor(d Domain) string {
	return "MCP.SERVER." + d.ErrorCodeSuffix
}

// stepFailureDiagnostic builds the aggregated workflow-level diagnostic for
// one failed step, either a transport/tool-call error (err != nil) or a
// business-level failure already reflected in step.Status.
func stepFailureDiagnostic(d Domain, step StepResult, err error) wire.Diagnostic {
	detail := fmt.Sprintf("index=%d, kind=%s, tool=%s, status=%s", step.Index+1, step.RequestedKind, step.DelegatedTool, step.Status)
	if err != nil {
		detail = fmt.Sprintf("%s, error=%v", detail, err)
	}
	retriable := err != nil && bridgeerr.IsRetriable(err)
	return wire.Diagnostic{
		Code:      codeFor(d),
		Message:   fmt.Sprintf("Workflow step failed: %s", detail),
		Retriable: retriable,
	}
}

func cloneArgs(in map[string]any) map[string]any {
	out := make(map[string]any, len(in)+2)
	for k, v := range in {
		out[k] = v
	}
	return out
}

func hasObjectPath(args map[string]any) bool {
	v, ok := args["object_path"]
	if !ok {
		return false
	}
	s, ok := v.(string)
	return ok && s != ""
}

func extractObjectPath(resp wire.Response) (string, bool) {
	m, ok := resp.Result.(map[string]any)
	if !ok {
		return "", false
	}
	s, ok := m["object_path"].(string)
	return s, ok
}

func extractTouchedPackages(resp wire.Response) []string {
	m, ok := resp.Result.(map[string]any)
	if !ok {
		return nil
	}
	list, ok := m["touched_packages"].([]any)
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

func preferV2(d Domain, tool string, snapshot catalog.Snapshot) string {
	if v2, ok := d.V2Variants[tool]; ok {
		if _, present := snapshot.Tools[v2]; present {
			return v2
		}
	}
	return tool
}
