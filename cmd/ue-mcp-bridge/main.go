// Command ue-mcp-bridge bridges a stdio MCP JSON-RPC client to a
// WebSocket-based embedded tool-hosting application.
package main

import "github.com/unrealtools/mcp-bridge/cmd/ue-mcp-bridge/cmd"

func main() {
	cmd.Execute()
}
