package stdio

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/unrealtools/mcp-bridge/internal/bridgeerr"
	"github.com/unrealtools/mcp-bridge/internal/domain/catalog"
	"github.com/unrealtools/mcp-bridge/internal/domain/orchestrator"
	"github.com/unrealtools/mcp-bridge/internal/domain/wire"
	"github.com/unrealtools/mcp-bridge/internal/service/passthrough"
)

const defaultProtocolVersion = "2024-11-05"

// virtualTool names a composite tool served entirely by the orchestrator,
// never forwarded to the downstream peer directly.
type virtualTool struct {
	name        string
	description string
	domain      orchestrator.Domain
}

// Dispatcher holds the Uninitialized/Initialized state machine and routes
// every handled method to the catalog, the pass-through engine, or one of
// the orchestrator domains.
type Dispatcher struct {
	cat     *catalog.Catalog
	pass    *passthrough.Engine
	virtual map[string]virtualTool
	orch    *orchestrator.Engine
	logger  *slog.Logger

	serverName    string
	serverVersion string

	initialized   atomic.Bool
	mu            sync.Mutex
	clientVersion string
}

// NewDispatcher builds a Dispatcher and registers the two virtual tools,
// umg.workflow.compose and seq.workflow.compose, each mapped to the
// orchestrator domain it executes against.
func NewDispatcher(cat *catalog.Catalog, pass *passthrough.Engine, orch *orchestrator.Engine, serverName, serverVersion string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		cat:           cat,
		pass:          pass,
		orch:          orch,
		serverName:    serverName,
		serverVersion: serverVersion,
		logger:        logger,
		virtual:       map[string]virtualTool{},
	}
	d.virtual["umg.workflow.compose"] = virtualTool{
		name:        "umg.workflow.compose",
		description: "Composes a sequence of UMG widget-blueprint actions into one downstream call sequence.",
		domain:      orchestrator.UMGDomain,
	}
	d.virtual["seq.workflow.compose"] = virtualTool{
		name:        "seq.workflow.compose",
		description: "Composes a sequence of Sequencer actions into one downstream call sequence.",
		domain:      orchestrator.SeqDomain,
	}
	return d
}

// Handle dispatches req and returns either a result value or a JSON-RPC
// error. It never panics on malformed params; malformed params surface as
// codeInvalidParams.
func (d *Dispatcher) Handle(ctx context.Context, req Request) (any, *RPCError) {
	if req.Method != "initialize" && !d.initialized.Load() {
		return nil, &RPCError{Code: codeNotInitialized, Message: "server not initialized"}
	}

	switch req.Method {
	case "initialize":
		return d.handleInitialize(req.Params)
	case "ping":
		return map[string]any{}, nil
	case "tools/list":
		return d.handleToolsList(req.Params)
	case "tools/call":
		return d.handleToolsCall(ctx, req)
	case "resources/list":
		return map[string]any{"resources": []any{}}, nil
	case "resources/templates/list":
		return map[string]any{"resourceTemplates": []any{}}, nil
	case "prompts/list":
		return map[string]any{"prompts": []any{}}, nil
	default:
		return nil, &RPCError{Code: codeMethodNotFound, Message: fmt.Sprintf("method not found: %s", req.Method)}
	}
}

func (d *Dispatcher) handleInitialize(params json.RawMessage) (any, *RPCError) {
	var body struct {
		ProtocolVersion string `json:"protocolVersion"`
	}
	if len(params) > 0 {
		_ = json.Unmarshal(params, &body)
	}

	d.mu.Lock()
	if body.ProtocolVersion != "" {
		d.clientVersion = body.ProtocolVersion
	} else {
		d.clientVersion = defaultProtocolVersion
	}
	version := d.clientVersion
	d.mu.Unlock()
	d.initialized.Store(true)

	return map[string]any{
		"protocolVersion": version,
		"capabilities": map[string]any{
			"tools": map[string]any{"listChanged": false},
		},
		"serverInfo": map[string]any{
			"name":    d.serverName,
			"version": d.serverVersion,
		},
	}, nil
}

func (d *Dispatcher) handleToolsList(params json.RawMessage) (any, *RPCError) {
	var body struct {
		Cursor string `json:"cursor"`
	}
	if len(params) > 0 {
		_ = json.Unmarshal(params, &body)
	}
	if body.Cursor != "" {
		return map[string]any{"tools": []any{}}, nil
	}

	tools := make([]any, 0, len(d.cat.Names())+len(d.virtual))
	for _, name := range d.cat.Names() {
		t, ok := d.cat.GetTool(name)
		if !ok || !t.Enabled {
			continue
		}
		entry := map[string]any{
			"name":        t.Name,
			"description": fmt.Sprintf("%s (%s)", t.Name, t.Domain),
			"annotations": map[string]any{"readOnlyHint": !t.Write},
		}
		if len(t.ParamsSchema) > 0 {
			entry["inputSchema"] = json.RawMessage(t.ParamsSchema)
		} else {
			entry["inputSchema"] = map[string]any{"type": "object"}
		}
		if len(t.ResultSchema) > 0 {
			entry["outputSchema"] = json.RawMessage(t.ResultSchema)
		}
		tools = append(tools, entry)
	}
	for _, vt := range d.virtual {
		tools = append(tools, map[string]any{
			"name":        vt.name,
			"description": vt.description,
			"inputSchema": composeInputSchema,
			"annotations": map[string]any{"readOnlyHint": false},
		})
	}
	return map[string]any{"tools": tools}, nil
}

var composeInputSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"actions": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":       "object",
				"properties": map[string]any{"kind": map[string]any{"type": "string"}, "args": map[string]any{"type": "object"}},
				"required":   []string{"kind"},
			},
		},
		"object_path":       map[string]any{"type": "string"},
		"auto_save":         map[string]any{"type": "boolean"},
		"continue_on_error": map[string]any{"type": "boolean"},
	},
	"required": []string{"actions"},
}

func (d *Dispatcher) handleToolsCall(ctx context.Context, req Request) (any, *RPCError) {
	var body struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &body); err != nil || body.Name == "" {
		return nil, &RPCError{Code: codeInvalidParams, Message: "invalid tools/call params"}
	}

	requestID := fmt.Sprintf("mcp-%s", stripJSONQuotes(req.ID))

	if vt, ok := d.virtual[body.Name]; ok {
		return d.callVirtual(ctx, vt, body.Arguments, requestID)
	}
	return d.callPassthrough(ctx, body.Name, body.Arguments, requestID)
}

func (d *Dispatcher) callVirtual(ctx context.Context, vt virtualTool, arguments map[string]any, requestID string) (any, *RPCError) {
	b, _ := json.Marshal(arguments)
	var composeReq orchestrator.ComposeRequest
	if err := json.Unmarshal(b, &composeReq); err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("invalid %s arguments: %v", vt.name, err)}
	}

	result, err := d.orch.Compose(ctx, vt.domain, composeReq)
	if err != nil {
		kind, ok := bridgeerr.KindOf(err)
		if ok && kind == bridgeerr.KindArgument {
			return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
		}
		if ok && kind == bridgeerr.KindTool {
			return toolErrorResult("MCP.SERVER."+vt.domain.ErrorCodeSuffix, err.Error(), bridgeerr.IsRetriable(err)), nil
		}
		return toolErrorResult("MCP.SERVER.INTERNAL", err.Error(), bridgeerr.IsRetriable(err)), nil
	}
	return structuredToolResult(requestID, result.FailedCount > 0, wire.Response{
		RequestID:   requestID,
		Status:      composeStatus(result),
		Result:      result,
		Diagnostics: result.Diagnostics,
	}), nil
}

func composeStatus(result orchestrator.WorkflowResult) string {
	if result.FailedCount > 0 {
		return wire.StatusError
	}
	return wire.StatusOK
}

func (d *Dispatcher) callPassthrough(ctx context.Context, tool string, arguments map[string]any, requestID string) (any, *RPCError) {
	resp, err := d.pass.CallTool(ctx, tool, arguments, nil, 0, requestID, true)
	if err != nil {
		kind, ok := bridgeerr.KindOf(err)
		if ok && kind == bridgeerr.KindUnknownTool {
			return toolErrorResult("MCP.SERVER.TOOL_NOT_FOUND", err.Error(), false), nil
		}
		return toolErrorResult("MCP.SERVER.INTERNAL", err.Error(), bridgeerr.IsRetriable(err)), nil
	}
	return structuredToolResult(requestID, resp.Status == wire.StatusError, resp), nil
}

func structuredToolResult(requestID string, isError bool, resp wire.Response) map[string]any {
	structured := map[string]any{
		"ok":          resp.Status != wire.StatusError,
		"status":      resp.Status,
		"request_id":  requestID,
		"result":      resp.Result,
		"diagnostics": resp.Diagnostics,
	}
	text, _ := json.Marshal(structured)
	return map[string]any{
		"isError":          isError,
		"structuredContent": structured,
		"content": []any{
			map[string]any{"type": "text", "text": string(text)},
		},
	}
}

func toolErrorResult(code, message string, retriable bool) map[string]any {
	structured := map[string]any{
		"ok":     false,
		"status": wire.StatusError,
		"diagnostics": wire.Diagnostics{
			Errors: []wire.Diagnostic{{Code: code, Message: message, Retriable: retriable}},
		},
	}
	text, _ := json.Marshal(structured)
	return map[string]any{
		"isError":          true,
		"structuredContent": structured,
		"content": []any{
			map[string]any{"type": "text", "text": string(text)},
		},
	}
}

func stripJSONQuotes(id json.RawMessage) string {
	s := string(id)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
