// Package wire defines the JSON envelopes exchanged with the downstream
// WebSocket peer and the normalization rules applied when decoding them.
package wire

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RequestContext carries per-request hints such as an explicit timeout.
type RequestContext map[string]any

// Request is the inner payload of an outgoing mcp.request envelope.
type Request struct {
	Protocol  string         `json:"protocol"`
	RequestID string         `json:"request_id"`
	SessionID string         `json:"session_id,omitempty"`
	Tool      string         `json:"tool"`
	Params    map[string]any `json:"params"`
	Context   RequestContext `json:"context,omitempty"`
}

// RequestEnvelope is the full client->server wire object for a tool call.
type RequestEnvelope struct {
	Type    string  `json:"type"`
	Request Request `json:"request"`
}

// NewRequestEnvelope builds the envelope for sending over the wire.
func NewRequestEnvelope(req Request) RequestEnvelope {
	return RequestEnvelope{Type: "mcp.request", Request: req}
}

// PingEnvelope is sent on the transport's ping loop.
type PingEnvelope struct {
	Type string `json:"type"`
}

// NewPing returns the literal ping frame.
func NewPing() PingEnvelope { return PingEnvelope{Type: "ping"} }

// Diagnostic describes one error/warning/info entry attached to a response.
type Diagnostic struct {
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
	Retriable bool   `json:"retriable,omitempty"`
}

// Diagnostics groups the three diagnostic severities carried by a response.
type Diagnostics struct {
	Errors   []Diagnostic `json:"errors,omitempty"`
	Warnings []Diagnostic `json:"warnings,omitempty"`
	Infos    []Diagnostic `json:"infos,omitempty"`
}

// HasRetriableError reports whether any error diagnostic is retriable.
func (d Diagnostics) HasRetriableError() bool {
	for _, e := range d.Errors {
		if e.Retriable {
			return true
		}
	}
	return false
}

// Response is the decoded inner payload of an mcp.response envelope.
type Response struct {
	RequestID   string         `json:"request_id"`
	Status      string         `json:"status"`
	Result      any            `json:"result,omitempty"`
	Diagnostics Diagnostics    `json:"diagnostics,omitempty"`
	raw         map[string]any `json:"-"`
}

// StatusOK, StatusPartial, and StatusError are the only valid Status values.
const (
	StatusOK      = "ok"
	StatusPartial = "partial"
	StatusError   = "error"
)

// ResponseEnvelope is the outer server->client wrapper: the inner response
// travels pre-serialized in ResponseJSON.
type ResponseEnvelope struct {
	Type         string `json:"type"`
	OK           *bool  `json:"ok,omitempty"`
	ResponseJSON string `json:"response_json"`
}

// ErrMalformedEnvelope is returned when a top-level payload cannot be
// interpreted as any known envelope shape.
var ErrMalformedEnvelope = fmt.Errorf("wire: malformed envelope")

// DecodeTopLevel parses a raw downstream frame into a generic map, rejecting
// non-object roots.
func DecodeTopLevel(raw []byte) (map[string]any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("wire: decode top level: %w", err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: root is not an object", ErrMalformedEnvelope)
	}
	return obj, nil
}

// DecodeResponse parses an mcp.response envelope's wrapper and its nested
// response_json. A missing or blank request_id is rejected.
func DecodeResponse(obj map[string]any) (Response, bool, error) {
	respJSONAny, ok := obj["response_json"]
	if !ok {
		return Response{}, false, nil
	}
	respJSON, ok := respJSONAny.(string)
	if !ok {
		return Response{}, false, fmt.Errorf("%w: response_json is not a string", ErrMalformedEnvelope)
	}

	var inner map[string]any
	if err := json.Unmarshal([]byte(respJSON), &inner); err != nil {
		return Response{}, false, fmt.Errorf("%w: response_json does not decode to an object: %v", ErrMalformedEnvelope, err)
	}

	reqID, _ := inner["request_id"].(string)
	if strings.TrimSpace(reqID) == "" {
		return Response{}, false, fmt.Errorf("%w: blank request_id", ErrMalformedEnvelope)
	}

	status, _ := inner["status"].(string)
	if status == "" {
		status = StatusError
	}

	resp := Response{
		RequestID: reqID,
		Status:    status,
		Result:    inner["result"],
		raw:       inner,
	}
	if diagRaw, ok := inner["diagnostics"]; ok {
		b, _ := json.Marshal(diagRaw)
		_ = json.Unmarshal(b, &resp.Diagnostics)
	}

	okVal := status != StatusError
	if rawOK, present := obj["ok"]; present {
		if b, ok := rawOK.(bool); ok {
			okVal = b
		}
	}
	_ = okVal

	return resp, true, nil
}

// Raw exposes the fully decoded inner response map for callers that need
// fields beyond the normalized subset (e.g. structured content passthrough).
func (r Response) Raw() map[string]any { return r.raw }
