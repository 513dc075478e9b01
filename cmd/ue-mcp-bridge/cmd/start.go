package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/unrealtools/mcp-bridge/internal/adapter/inbound/debughttp"
	"github.com/unrealtools/mcp-bridge/internal/adapter/inbound/stdio"
	"github.com/unrealtools/mcp-bridge/internal/domain/endpoint"
	"github.com/unrealtools/mcp-bridge/internal/telemetry"
)

const debugShutdownTimeout = 5 * time.Second

var (
	startInstanceID string
	startProjectDir string
	startProcessID  string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the long-lived stdio<->WebSocket bridge",
	Long: `start resolves one downstream endpoint, connects, refreshes the tool
catalog, and then serves JSON-RPC 2.0 over stdin/stdout until the client
disconnects or the process receives SIGINT/SIGTERM.`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&startInstanceID, "ue-instance-id", "", "disambiguate among multiple running instances")
	startCmd.Flags().StringVar(&startProjectDir, "ue-project-dir", "", "disambiguate by project directory")
	startCmd.Flags().StringVar(&startProcessID, "ue-process-id", "", "disambiguate by process id")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Create signal context for graceful shutdown. stop() restores default
	// signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logger := newLogger(cfg)
	if configFileInUse != "" {
		logger.Info("loaded config", "file", configFileInUse)
	}

	pidPath := pidFilePath()
	warnStalePID(pidPath, logger)
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	sel := endpoint.Selector{InstanceID: startInstanceID, ProjectDir: startProjectDir, ProcessID: startProcessID}
	br, err := buildBridge(cfg, logger, sel)
	if err != nil {
		return err
	}
	defer br.Close()

	if err := br.Connect(ctx, true); err != nil {
		return err
	}
	logger.Info("bridge connected, serving stdio", "tools", len(br.catalog.Names()))

	if br.prom != nil && cfg.Metrics.LogIntervalS > 0 {
		go telemetry.LogLoop(ctx, br.prom, time.Duration(cfg.Metrics.LogIntervalS*float64(time.Second)), logger)
	}

	var debugSrv *debughttp.Server
	if cfg.Debug.Enabled && br.prom != nil {
		debugSrv = debughttp.New(cfg.Debug.Addr, br.prom.Registry(), br.health, cfg.Debug.HashedSecret, logger)
		debugSrv.Start()
		logger.Info("debug HTTP listening", "addr", cfg.Debug.Addr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), debugShutdownTimeout)
			defer cancel()
			_ = debugSrv.Stop(shutdownCtx)
		}()
	}

	dispatcher := stdio.NewDispatcher(br.catalog, br.pass, br.orch, "ue-mcp-bridge", Version, logger)
	server := stdio.NewServer(os.Stdin, os.Stdout, dispatcher, logger)

	runErr := make(chan error, 1)
	go func() { runErr <- server.Run(ctx) }()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		return nil
	case err := <-runErr:
		if err != nil {
			return fmt.Errorf("stdio server: %w", err)
		}
		logger.Info("stdio client disconnected")
		return nil
	}
}
