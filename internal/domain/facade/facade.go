// Package facade composes the Request Broker and Transport into the narrow
// port.Facade surface the catalog, pass-through engine, and health monitor
// call through.
package facade

import (
	"context"

	"github.com/unrealtools/mcp-bridge/internal/domain/broker"
	"github.com/unrealtools/mcp-bridge/internal/domain/wire"
	"github.com/unrealtools/mcp-bridge/internal/port"
)

// Facade implements port.Facade over a Broker and a Transport.
type Facade struct {
	broker    *broker.Broker
	transport port.Transport
}

// New builds a Facade.
func New(b *broker.Broker, t port.Transport) *Facade {
	return &Facade{broker: b, transport: t}
}

// CallTool implements port.Facade by routing the send through the
// transport and the correlation through the broker.
func (f *Facade) CallTool(ctx context.Context, tool string, params map[string]any, reqCtx wire.RequestContext, timeoutMs int, requestID, sessionID string) (wire.Response, error) {
	send := func(ctx context.Context, env wire.RequestEnvelope) error {
		return f.transport.SendJSON(ctx, env)
	}
	return f.broker.SendRequest(ctx, send, tool, params, reqCtx, timeoutMs, requestID, sessionID)
}
