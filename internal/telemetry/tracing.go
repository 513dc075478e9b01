package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/unrealtools/mcp-bridge"

// NewTracerProvider returns a no-op provider when enabled is false. When
// enabled, it builds an SDK provider that exports spans to stdout in dev
// mode and has no exporter otherwise. Callers must call the returned
// shutdown func before exit.
func NewTracerProvider(enabled, devMode bool) (trace.TracerProvider, func(context.Context) error, error) {
	if !enabled {
		return trace.NewNoopTracerProvider(), func(context.Context) error { return nil }, nil
	}

	var tp *sdktrace.TracerProvider
	if devMode {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, nil, fmt.Errorf("telemetry: build stdout trace exporter: %w", err)
		}
		res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
			attribute.String("service.name", "ue-mcp-bridge"),
		))
		if err != nil {
			return nil, nil, fmt.Errorf("telemetry: build resource: %w", err)
		}
		tp = sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp), sdktrace.WithResource(res))
	} else {
		tp = sdktrace.NewTracerProvider()
	}
	otel.SetTracerProvider(tp)
	return tp, tp.Shutdown, nil
}

// StartToolSpan starts a span for one downstream tool call attempt.
func StartToolSpan(ctx context.Context, tp trace.TracerProvider, tool, requestID string, attempt int) (context.Context, trace.Span) {
	return tp.Tracer(tracerName).Start(ctx, "tool.call", trace.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("request_id", requestID),
		attribute.Int("attempt", attempt),
	))
}

// StartWorkflowStepSpan starts a span for one virtual-tool workflow step.
func StartWorkflowStepSpan(ctx context.Context, tp trace.TracerProvider, domain, kind string, index int) (context.Context, trace.Span) {
	return tp.Tracer(tracerName).Start(ctx, "workflow.step", trace.WithAttributes(
		attribute.String("domain", domain),
		attribute.String("kind", kind),
		attribute.Int("index", index),
	))
}
