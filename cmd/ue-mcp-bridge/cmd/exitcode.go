package cmd

import (
	"context"
	"errors"

	"github.com/unrealtools/mcp-bridge/internal/bridgeerr"
)

// Exit codes per the CLI's documented contract.
const (
	exitOK              = 0
	exitArgumentOrConfig = 2
	exitConnectTimeout  = 3
	exitUnknownOrGuard  = 4
	exitToolError       = 5
	exitInternal        = 6
	exitInterrupted     = 130
)

// exitCodeForError classifies err into the CLI's exit-code contract. A nil
// err (success) is never passed here; rootCmd.Execute only calls this on a
// non-nil RunE error.
func exitCodeForError(err error) int {
	if err == nil {
		return exitOK
	}
	if errors.Is(err, context.Canceled) {
		return exitInterrupted
	}
	kind, ok := bridgeerr.KindOf(err)
	if !ok {
		return exitInternal
	}
	switch kind {
	case bridgeerr.KindArgument, bridgeerr.KindConfig, bridgeerr.KindEndpointSelection:
		return exitArgumentOrConfig
	case bridgeerr.KindConnectTimeout:
		return exitConnectTimeout
	case bridgeerr.KindUnknownTool, bridgeerr.KindCatalogGuard:
		return exitUnknownOrGuard
	case bridgeerr.KindTool, bridgeerr.KindRequestTimeout, bridgeerr.KindConnection:
		return exitToolError
	default:
		return exitInternal
	}
}
