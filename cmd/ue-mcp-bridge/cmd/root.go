// Package cmd provides the CLI commands for ue-mcp-bridge.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/unrealtools/mcp-bridge/internal/config"
)

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "ue-mcp-bridge",
	Short: "Bridges a stdio MCP client to an embedded Unreal Engine tool host",
	Long: `ue-mcp-bridge is a long-lived bridge process: it speaks JSON-RPC 2.0
over stdio to an MCP client, and WebSocket JSON to an embedded tool-hosting
application inside a running Unreal Engine instance.

Configuration is loaded from bridge.yaml in the current directory or
$HOME/.ue-mcp-bridge/, overridden by BRIDGE_* environment variables, in
turn overridden by CLI flags.

Commands:
  start       Run the long-lived stdio<->WebSocket bridge
  call        Issue one tool call and print the result
  endpoints   Print resolved endpoint candidates
  health      Run one system.health probe
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeForError(err))
	}
}

func init() {
	cobra.OnInitialize(func() {})
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./bridge.yaml or $HOME/.ue-mcp-bridge/bridge.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override server.log_level (debug|info|warn|error)")
}

// configFileInUse records which file the most recent loadConfig call read,
// for a one-line "loaded config" log on startup.
var configFileInUse string

// loadConfig builds the viper-backed config honoring flags > env > file >
// defaults, and applies the --log-level override last so it always wins.
func loadConfig() (config.Config, error) {
	v := config.InitViper(cfgFile)
	cfg, err := config.Load(v)
	if err != nil {
		return config.Config{}, err
	}
	configFileInUse = config.ConfigFileUsed(v)
	if logLevel != "" {
		cfg.Server.LogLevel = logLevel
	}
	return cfg, nil
}
