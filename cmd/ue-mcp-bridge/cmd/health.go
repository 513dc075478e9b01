package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/unrealtools/mcp-bridge/internal/bridgeerr"
	"github.com/unrealtools/mcp-bridge/internal/domain/endpoint"
)

var (
	healthInstanceID   string
	healthProjectDir   string
	healthProcessID    string
	healthPrintMetrics bool
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Connect and run one system.health probe",
	RunE:  runHealth,
}

func init() {
	healthCmd.Flags().StringVar(&healthInstanceID, "ue-instance-id", "", "disambiguate among multiple running instances")
	healthCmd.Flags().StringVar(&healthProjectDir, "ue-project-dir", "", "disambiguate by project directory")
	healthCmd.Flags().StringVar(&healthProcessID, "ue-process-id", "", "disambiguate by process id")
	healthCmd.Flags().BoolVar(&healthPrintMetrics, "print-metrics", false, "dump the Prometheus registry to stdout before exiting")
	rootCmd.AddCommand(healthCmd)
}

func runHealth(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	sel := endpoint.Selector{InstanceID: healthInstanceID, ProjectDir: healthProjectDir, ProcessID: healthProcessID}
	br, err := buildBridge(cfg, logger, sel)
	if err != nil {
		return err
	}
	defer br.Close()

	ctx := context.Background()
	if err := br.Connect(ctx, false); err != nil {
		return err
	}

	snap, err := br.health.CheckOnce(ctx)
	if healthPrintMetrics {
		dumpMetrics(br.prom)
	}
	if err != nil {
		return err
	}

	out, marshalErr := json.MarshalIndent(snap, "", "  ")
	if marshalErr != nil {
		return fmt.Errorf("health: encode snapshot: %w", marshalErr)
	}
	fmt.Println(string(out))
	if !snap.OK {
		return bridgeerr.Tool(fmt.Errorf("health: system.health reported not ok"), false)
	}
	return nil
}
