package stdio

import (
	"encoding/json"
	"fmt"

	sdkjsonrpc "github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// Request is one JSON-RPC 2.0 request or notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request carries no id.
func (r Request) IsNotification() bool { return len(r.ID) == 0 }

// decodeRequest decodes one raw frame through the SDK's own JSON-RPC codec
// and confirms it decoded to a request rather than a response. The id is
// re-extracted straight from raw rather than trusted off the decoded
// sdkjsonrpc.Request: the SDK's jsonrpc.ID type doesn't round-trip correctly
// through interface{}, so echoing a string- or null-shaped id back through
// it would mangle the reply.
func decodeRequest(raw []byte) (Request, error) {
	msg, err := sdkjsonrpc.DecodeMessage(raw)
	if err != nil {
		return Request{}, err
	}
	sdkReq, ok := msg.(*sdkjsonrpc.Request)
	if !ok {
		return Request{}, fmt.Errorf("stdio: expected a request message, got %T", msg)
	}

	var req Request
	_ = json.Unmarshal(raw, &req)
	req.Method = sdkReq.Method
	req.Params = sdkReq.Params
	return req, nil
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return e.Message }

// Standard JSON-RPC 2.0 error codes used by the dispatcher.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
	codeNotInitialized = -32002
)

// Response is one JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

func newResultResponse(id json.RawMessage, result any) Response {
	return Response{JSONRPC: "2.0", ID: id, Result: result}
}

func newErrorResponse(id json.RawMessage, err *RPCError) Response {
	return Response{JSONRPC: "2.0", ID: id, Error: err}
}
