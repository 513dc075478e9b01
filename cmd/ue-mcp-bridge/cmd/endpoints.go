package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/unrealtools/mcp-bridge/internal/domain/endpoint"
	"github.com/unrealtools/mcp-bridge/internal/telemetry"
)

var (
	endpointsInstanceID string
	endpointsProjectDir string
	endpointsProcessID  string
	endpointsPrintMetrics bool
)

var endpointsCmd = &cobra.Command{
	Use:   "endpoints",
	Short: "Print resolved endpoint candidates as JSON",
	RunE:  runEndpoints,
}

func init() {
	endpointsCmd.Flags().StringVar(&endpointsInstanceID, "ue-instance-id", "", "narrow candidates by instance id")
	endpointsCmd.Flags().StringVar(&endpointsProjectDir, "ue-project-dir", "", "narrow candidates by project directory")
	endpointsCmd.Flags().StringVar(&endpointsProcessID, "ue-process-id", "", "narrow candidates by process id")
	endpointsCmd.Flags().BoolVar(&endpointsPrintMetrics, "print-metrics", false, "dump the Prometheus registry to stdout before exiting")
	rootCmd.AddCommand(endpointsCmd)
}

func runEndpoints(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	resolver := endpoint.New(endpoint.OSEnv, cfg.Ue.WsURL, cfg.Ue.ConnectionFile, cfg.Ue.ProjectRoot)
	sel := endpoint.Selector{InstanceID: endpointsInstanceID, ProjectDir: endpointsProjectDir, ProcessID: endpointsProcessID}
	candidates := resolver.Candidates(sel)

	out, err := json.MarshalIndent(candidates, "", "  ")
	if err != nil {
		return fmt.Errorf("endpoints: encode candidates: %w", err)
	}
	fmt.Println(string(out))

	if endpointsPrintMetrics {
		var prom *telemetry.PromMetrics
		if cfg.Metrics.Enabled {
			prom = telemetry.NewPromMetrics()
		}
		dumpMetrics(prom)
	}
	return nil
}
