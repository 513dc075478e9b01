package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/unrealtools/mcp-bridge/internal/adapter/outbound/audit"
	guardadapter "github.com/unrealtools/mcp-bridge/internal/adapter/outbound/guard"
	"github.com/unrealtools/mcp-bridge/internal/adapter/outbound/transport"
	"github.com/unrealtools/mcp-bridge/internal/bridgeerr"
	"github.com/unrealtools/mcp-bridge/internal/config"
	"github.com/unrealtools/mcp-bridge/internal/domain/broker"
	"github.com/unrealtools/mcp-bridge/internal/domain/catalog"
	"github.com/unrealtools/mcp-bridge/internal/domain/endpoint"
	"github.com/unrealtools/mcp-bridge/internal/domain/events"
	"github.com/unrealtools/mcp-bridge/internal/domain/facade"
	"github.com/unrealtools/mcp-bridge/internal/domain/orchestrator"
	"github.com/unrealtools/mcp-bridge/internal/port"
	"github.com/unrealtools/mcp-bridge/internal/service/health"
	"github.com/unrealtools/mcp-bridge/internal/service/passthrough"
	"github.com/unrealtools/mcp-bridge/internal/telemetry"
)

// bridge owns every long-lived component wired from one Config, shared by
// every subcommand that needs a live downstream connection.
type bridge struct {
	cfg    config.Config
	logger *slog.Logger

	metrics     port.Metrics
	prom        *telemetry.PromMetrics
	tracerDone  func(context.Context) error
	auditSink   port.AuditSink
	router      *events.Router
	transport   *transport.Transport
	facade      *facade.Facade
	catalog     *catalog.Catalog
	pass        *passthrough.Engine
	orch        *orchestrator.Engine
	health      *health.Monitor
}

// buildBridge resolves one endpoint and wires every component against it.
// It does not connect; call Connect to dial and run the catalog's first
// refresh.
func buildBridge(cfg config.Config, logger *slog.Logger, sel endpoint.Selector) (*bridge, error) {
	var metrics port.Metrics = telemetry.NoopMetrics{}
	var prom *telemetry.PromMetrics
	if cfg.Metrics.Enabled {
		prom = telemetry.NewPromMetrics()
		metrics = prom
	}

	tracer, tracerDone, err := telemetry.NewTracerProvider(cfg.Metrics.OtelEnabled, cfg.Server.DevMode)
	if err != nil {
		return nil, bridgeerr.Config(err)
	}

	var auditSink port.AuditSink = audit.NoopSink{}
	if cfg.Audit.Enabled {
		sink, err := audit.Open(cfg.Audit.DBPath, logger, metrics)
		if err != nil {
			tracerDone(context.Background())
			return nil, fmt.Errorf("bootstrap: open audit sink: %w", err)
		}
		auditSink = sink
	}

	resolver := endpoint.New(endpoint.OSEnv, cfg.Ue.WsURL, cfg.Ue.ConnectionFile, cfg.Ue.ProjectRoot)
	candidate, err := resolver.Resolve(sel)
	if err != nil {
		closeAuditSink(auditSink)
		tracerDone(context.Background())
		return nil, bridgeerr.EndpointSelection(err)
	}
	logger.Info("endpoint resolved", "url", candidate.WsURL, "source", candidate.Source, "instance_id", candidate.InstanceID)

	b := broker.New(cfg.Request.DefaultTimeoutMs, metrics, auditSink)
	router := events.New(metrics, auditSink)
	tCfg := transport.Config{
		URL:                candidate.WsURL,
		ConnectTimeout:     cfg.Ue.ConnectTimeout(),
		PingInterval:       cfg.Ue.PingInterval(),
		ReconnectInitial:   cfg.Ue.Reconnect.InitialDelay(),
		ReconnectMax:       cfg.Ue.Reconnect.MaxDelay(),
		ExpectedInstanceID: cfg.Ue.ExpectedInstanceID,
		ExpectedProcessID:  cfg.Ue.ExpectedProcessID,
		ExpectedProjectDir: cfg.Ue.ExpectedProjectDir,
	}
	tr := transport.New(tCfg, b, router, metrics, logger)
	fac := facade.New(b, tr)
	cat := catalog.New(metrics)

	guardCfg := catalog.GuardConfig{
		RequiredTools:      cfg.Catalog.RequiredTools,
		PinSchemaHash:      cfg.Catalog.PinSchemaHash,
		FailOnSchemaChange: cfg.Catalog.FailOnSchemaChange,
	}
	if expr := strings.TrimSpace(cfg.Catalog.GuardExpr); expr != "" {
		env, err := guardadapter.NewEnvironment()
		if err != nil {
			closeAuditSink(auditSink)
			tracerDone(context.Background())
			return nil, bridgeerr.Config(err)
		}
		compiled, err := guardadapter.Compile(env, expr)
		if err != nil {
			closeAuditSink(auditSink)
			tracerDone(context.Background())
			return nil, bridgeerr.Config(err)
		}
		guardCfg.Expr = compiled
	}
	grd := catalog.NewGuard(guardCfg)

	passCfg := passthrough.Config{
		IncludeSchemas:       cfg.Catalog.IncludeSchemas,
		RefreshIntervalS:     cfg.Catalog.RefreshIntervalS,
		TransientMaxAttempts: cfg.Retry.TransientMaxAttempts,
		BackoffInitialS:      cfg.Retry.BackoffInitialS,
		BackoffMaxS:          cfg.Retry.BackoffMaxS,
	}
	pass := passthrough.New(passCfg, fac, cat, router, grd, metrics, tracer, auditSink, logger)
	orch := orchestrator.New(cat, fac, metrics, tracer)
	mon := health.New(fac)

	return &bridge{
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		prom:       prom,
		tracerDone: tracerDone,
		auditSink:  auditSink,
		router:     router,
		transport:  tr,
		facade:     fac,
		catalog:    cat,
		pass:       pass,
		orch:       orch,
		health:     mon,
	}, nil
}

// Connect dials the downstream peer and waits for the handshake. withCatalog
// additionally runs the pass-through engine's first catalog refresh (and
// the guard check it implies) and its periodic refresh loop; one-shot
// subcommands that don't call tools by name can skip it.
func (b *bridge) Connect(ctx context.Context, withCatalog bool) error {
	if err := b.transport.Start(ctx); err != nil {
		return err
	}
	connectCtx, cancel := context.WithTimeout(ctx, b.cfg.Ue.ConnectTimeout())
	defer cancel()
	if err := b.transport.WaitUntilConnected(connectCtx); err != nil {
		return bridgeerr.ConnectTimeout(fmt.Errorf("bootstrap: %w", err))
	}
	if withCatalog {
		if err := b.pass.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close releases every resource Connect may have acquired. Safe to call
// even if Connect was never reached.
func (b *bridge) Close() {
	if b.transport != nil {
		_ = b.transport.Stop()
	}
	closeAuditSink(b.auditSink)
	if b.tracerDone != nil {
		_ = b.tracerDone(context.Background())
	}
}

func closeAuditSink(sink port.AuditSink) {
	if s, ok := sink.(interface{ Close() error }); ok {
		_ = s.Close()
	}
}
