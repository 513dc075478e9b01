package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/unrealtools/mcp-bridge/internal/bridgeerr"
	"github.com/unrealtools/mcp-bridge/internal/domain/endpoint"
	"github.com/unrealtools/mcp-bridge/internal/domain/wire"
)

var (
	callParamsJSON  string
	callContextJSON string
	callTimeoutMs   int
	callStreamEvents bool
	callPrintMetrics bool
	callInstanceID  string
	callProjectDir  string
	callProcessID   string
)

var callCmd = &cobra.Command{
	Use:   "call NAME",
	Short: "Connect, call one downstream tool, print the result, and exit",
	Args:  cobra.ExactArgs(1),
	RunE:  runCall,
}

func init() {
	callCmd.Flags().StringVar(&callParamsJSON, "params-json", "{}", "JSON object of tool parameters")
	callCmd.Flags().StringVar(&callContextJSON, "context-json", "", "JSON object merged into the request context")
	callCmd.Flags().IntVar(&callTimeoutMs, "timeout-ms", 0, "per-request timeout override (0 = broker default)")
	callCmd.Flags().BoolVar(&callStreamEvents, "stream-events", false, "print normalized events to stderr as they arrive")
	callCmd.Flags().BoolVar(&callPrintMetrics, "print-metrics", false, "dump the Prometheus registry to stdout before exiting")
	callCmd.Flags().StringVar(&callInstanceID, "ue-instance-id", "", "disambiguate among multiple running instances")
	callCmd.Flags().StringVar(&callProjectDir, "ue-project-dir", "", "disambiguate by project directory")
	callCmd.Flags().StringVar(&callProcessID, "ue-process-id", "", "disambiguate by process id")
	rootCmd.AddCommand(callCmd)
}

func runCall(cmd *cobra.Command, args []string) error {
	tool := args[0]

	var params map[string]any
	if err := json.Unmarshal([]byte(callParamsJSON), &params); err != nil {
		return bridgeerr.Argument(fmt.Errorf("call: invalid --params-json: %w", err))
	}

	var reqCtx wire.RequestContext
	if callContextJSON != "" {
		if err := json.Unmarshal([]byte(callContextJSON), &reqCtx); err != nil {
			return bridgeerr.Argument(fmt.Errorf("call: invalid --context-json: %w", err))
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	sel := endpoint.Selector{InstanceID: callInstanceID, ProjectDir: callProjectDir, ProcessID: callProcessID}
	br, err := buildBridge(cfg, logger, sel)
	if err != nil {
		return err
	}
	defer br.Close()

	ctx := context.Background()
	if err := br.Connect(ctx, true); err != nil {
		return err
	}

	requestID := uuid.New().String()

	var resp wire.Response
	if callStreamEvents {
		resp, err = br.pass.CallToolStream(ctx, tool, params, reqCtx, callTimeoutMs, requestID, printEvent, 200*time.Millisecond)
	} else {
		resp, err = br.pass.CallTool(ctx, tool, params, reqCtx, callTimeoutMs, requestID, true)
	}
	if callPrintMetrics {
		dumpMetrics(br.prom)
	}
	if err != nil {
		return err
	}

	out, marshalErr := json.MarshalIndent(resp, "", "  ")
	if marshalErr != nil {
		return fmt.Errorf("call: encode response: %w", marshalErr)
	}
	fmt.Println(string(out))
	if resp.Status == wire.StatusError {
		return bridgeerr.Tool(fmt.Errorf("call: %s reported status=error", tool), resp.Diagnostics.HasRetriableError())
	}
	return nil
}

func printEvent(evt wire.NormalizedEvent) {
	b, err := json.Marshal(evt)
	if err != nil {
		return
	}
	fmt.Fprintln(os.Stderr, string(b))
}
