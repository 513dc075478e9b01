// Package bridgeerr defines the error kinds shared across the bridge's
// components so callers can branch on retryability without a generic
// exception hierarchy.
package bridgeerr

import "errors"

// Kind identifies one of the error categories from the error handling table.
type Kind int

const (
	KindArgument Kind = iota
	KindConfig
	KindEndpointSelection
	KindConnectTimeout
	KindUnknownTool
	KindCatalogGuard
	KindRequestTimeout
	KindConnection
	KindTool
	KindToolException
)

// Error wraps an underlying cause with a Kind, an MCP.SERVER.* code, and
// whether the failure is safe to retry.
type Error struct {
	Kind      Kind
	Code      string
	Retriable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Code
	}
	return e.Code + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func new(kind Kind, code string, retriable bool, err error) *Error {
	return &Error{Kind: kind, Code: code, Retriable: retriable, Err: err}
}

func Argument(err error) *Error  { return new(KindArgument, "MCP.SERVER.ARGUMENT_ERROR", false, err) }
func Config(err error) *Error    { return new(KindConfig, "MCP.SERVER.CONFIG_ERROR", false, err) }
func EndpointSelection(err error) *Error {
	return new(KindEndpointSelection, "MCP.SERVER.ENDPOINT_SELECTION_ERROR", false, err)
}
func ConnectTimeout(err error) *Error {
	return new(KindConnectTimeout, "MCP.SERVER.CONNECT_TIMEOUT", false, err)
}
func UnknownTool(name string) *Error {
	return new(KindUnknownTool, "MCP.SERVER.TOOL_NOT_FOUND", false, errors.New("unknown tool: "+name))
}
func CatalogGuard(err error) *Error {
	return new(KindCatalogGuard, "MCP.SERVER.CATALOG_GUARD_FAILED", false, err)
}
func RequestTimeout(err error) *Error {
	return new(KindRequestTimeout, "MCP.SERVER.REQUEST_TIMEOUT", true, err)
}
func Connection(err error) *Error {
	return new(KindConnection, "MCP.SERVER.CONNECTION_ERROR", true, err)
}
func Tool(err error, retriable bool) *Error {
	return new(KindTool, "MCP.SERVER.TOOL_ERROR", retriable, err)
}
func ToolException(err error, retriable bool) *Error {
	return new(KindToolException, "MCP.SERVER.INTERNAL", retriable, err)
}

// IsRetriable reports whether err (or a wrapped *Error within it) is marked
// retriable. Non-*Error values are treated as non-retriable.
func IsRetriable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retriable
	}
	return false
}

// KindOf extracts the Kind of err, or (-1, false) if err isn't a *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return -1, false
}
