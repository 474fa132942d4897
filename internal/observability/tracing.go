package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracingConfig configures span export. Disabled tracing yields a noop
// tracer so call sites never branch.
type TracingConfig struct {
	Enabled        bool
	OTLPEndpoint   string
	SampleRate     float64
	ServiceName    string
	ServiceVersion string
}

// TracerProvider wraps the OpenTelemetry tracer for the process.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracerProvider builds the provider. Endpoint defaults to the local
// collector.
func NewTracerProvider(config TracingConfig) (*TracerProvider, error) {
	if !config.Enabled {
		return &TracerProvider{
			tracer: noop.NewTracerProvider().Tracer("agentos"),
		}, nil
	}

	if config.ServiceName == "" {
		config.ServiceName = "agentos"
	}
	if config.SampleRate <= 0 || config.SampleRate > 1.0 {
		config.SampleRate = 1.0
	}
	endpoint := config.OTLPEndpoint
	if endpoint == "" {
		endpoint = "localhost:4318"
	}

	exporter, err := otlptracehttp.New(
		context.Background(),
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(config.SampleRate)),
	)
	otel.SetTracerProvider(provider)

	return &TracerProvider{
		provider: provider,
		tracer:   provider.Tracer("agentos"),
	}, nil
}

// Shutdown flushes and stops span export.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp == nil || tp.provider == nil {
		return nil
	}
	return tp.provider.Shutdown(ctx)
}

// Tracer returns the process tracer. A nil provider yields a noop tracer.
func (tp *TracerProvider) Tracer() trace.Tracer {
	if tp == nil || tp.tracer == nil {
		return noop.NewTracerProvider().Tracer("agentos")
	}
	return tp.tracer
}

// StartSpan starts a span with the given attributes.
func (tp *TracerProvider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tp.Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// Common span names
const (
	SpanKernelSubmit = "agentos.kernel.submit"
	SpanEngineRun    = "agentos.engine.run"
	SpanAttempt      = "agentos.engine.attempt"
	SpanToolInvoke   = "agentos.mcp.invoke"
	SpanServiceCall  = "agentos.service.call"
	SpanTunerCycle   = "agentos.tuner.cycle"
)

// Common attribute keys
const (
	AttrRunID      = "agentos.run_id"
	AttrTaskID     = "agentos.task_id"
	AttrTaskKind   = "agentos.task_kind"
	AttrProfile    = "agentos.profile"
	AttrStrategyID = "agentos.strategy_id"
	AttrToolName   = "agentos.tool_name"
	AttrErrorKind  = "agentos.error_kind"
	AttrOutcome    = "agentos.outcome"
)

// RunAttr builds the baseline attribute set for run-scoped spans.
func RunAttr(runID, taskID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrRunID, runID),
		attribute.String(AttrTaskID, taskID),
	}
}
