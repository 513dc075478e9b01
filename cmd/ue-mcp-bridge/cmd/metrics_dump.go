package cmd

import (
	"fmt"
	"net/http/httptest"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/unrealtools/mcp-bridge/internal/telemetry"
)

// dumpMetrics writes the in-process Prometheus registry in the standard text
// exposition format to stdout, used by every one-shot subcommand's
// --print-metrics flag. It reuses the same promhttp handler the debug HTTP
// server serves /metrics with, against an in-memory recorder, so the CLI
// and HTTP output paths can never drift.
func dumpMetrics(prom *telemetry.PromMetrics) {
	if prom == nil {
		fmt.Fprintln(os.Stderr, "metrics disabled (metrics.enabled=false); nothing to print")
		return
	}
	handler := promhttp.HandlerFor(prom.Registry(), promhttp.HandlerOpts{})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	os.Stdout.Write(rec.Body.Bytes())
}
