// Package observability exports runtime metrics and traces, and aggregates
// the evidence index into operator-facing reports.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"agentos/internal/shared/logging"
)

// MetricsCollector manages the runtime metric set. A disabled or nil
// collector is a valid no-op value; every Record method tolerates both.
type MetricsCollector struct {
	meter metric.Meter

	runsTotal    metric.Int64Counter
	runLatency   metric.Float64Histogram
	attemptTotal metric.Int64Counter
	attemptLat   metric.Float64Histogram
	toolCalls    metric.Int64Counter
	toolLatency  metric.Float64Histogram
	breakerTrips metric.Int64Counter
	queueDepth   metric.Int64UpDownCounter

	server *http.Server
	logger logging.Logger
}

// MetricsConfig configures the collector and its scrape endpoint.
type MetricsConfig struct {
	Enabled bool
	Port    int
}

// NewMetricsCollector builds the collector and registers the instruments.
func NewMetricsCollector(config MetricsConfig, logger logging.Logger) (*MetricsCollector, error) {
	mc := &MetricsCollector{logger: logging.OrNop(logger)}
	if !config.Enabled {
		return mc, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	mc.meter = provider.Meter("agentos")

	if mc.runsTotal, err = mc.meter.Int64Counter(
		"agentos.runs.total",
		metric.WithDescription("Sealed runs by outcome"),
		metric.WithUnit("{run}"),
	); err != nil {
		return nil, fmt.Errorf("create runs counter: %w", err)
	}
	if mc.runLatency, err = mc.meter.Float64Histogram(
		"agentos.run.latency",
		metric.WithDescription("End-to-end run latency in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("create run latency histogram: %w", err)
	}
	if mc.attemptTotal, err = mc.meter.Int64Counter(
		"agentos.attempts.total",
		metric.WithDescription("Strategy attempts by strategy and status"),
		metric.WithUnit("{attempt}"),
	); err != nil {
		return nil, fmt.Errorf("create attempts counter: %w", err)
	}
	if mc.attemptLat, err = mc.meter.Float64Histogram(
		"agentos.attempt.latency",
		metric.WithDescription("Single attempt latency in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("create attempt latency histogram: %w", err)
	}
	if mc.toolCalls, err = mc.meter.Int64Counter(
		"agentos.tool.calls.total",
		metric.WithDescription("Connector tool invocations by tool and status"),
		metric.WithUnit("{call}"),
	); err != nil {
		return nil, fmt.Errorf("create tool calls counter: %w", err)
	}
	if mc.toolLatency, err = mc.meter.Float64Histogram(
		"agentos.tool.latency",
		metric.WithDescription("Connector tool latency in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("create tool latency histogram: %w", err)
	}
	if mc.breakerTrips, err = mc.meter.Int64Counter(
		"agentos.breaker.transitions.total",
		metric.WithDescription("Circuit breaker state transitions by tool and state"),
		metric.WithUnit("{transition}"),
	); err != nil {
		return nil, fmt.Errorf("create breaker counter: %w", err)
	}
	if mc.queueDepth, err = mc.meter.Int64UpDownCounter(
		"agentos.pool.queue_depth",
		metric.WithDescription("Runs waiting in the admission queue"),
		metric.WithUnit("{run}"),
	); err != nil {
		return nil, fmt.Errorf("create queue depth counter: %w", err)
	}

	if config.Port > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mc.server = &http.Server{
			Addr:              fmt.Sprintf(":%d", config.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := mc.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				mc.logger.Error("metrics server: %v", err)
			}
		}()
	}
	return mc, nil
}

// RecordRun counts a sealed run.
func (mc *MetricsCollector) RecordRun(ctx context.Context, outcome string, latency time.Duration) {
	if mc == nil || mc.runsTotal == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	mc.runsTotal.Add(ctx, 1, attrs)
	mc.runLatency.Record(ctx, latency.Seconds(), attrs)
}

// RecordAttempt counts one strategy attempt.
func (mc *MetricsCollector) RecordAttempt(ctx context.Context, strategyID, status string, latency time.Duration) {
	if mc == nil || mc.attemptTotal == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("strategy", strategyID),
		attribute.String("status", status),
	)
	mc.attemptTotal.Add(ctx, 1, attrs)
	mc.attemptLat.Record(ctx, latency.Seconds(), attrs)
}

// RecordToolCall counts one connector invocation.
func (mc *MetricsCollector) RecordToolCall(ctx context.Context, tool string, success bool, latency time.Duration) {
	if mc == nil || mc.toolCalls == nil {
		return
	}
	status := "success"
	if !success {
		status = "failed"
	}
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
	)
	mc.toolCalls.Add(ctx, 1, attrs)
	mc.toolLatency.Record(ctx, latency.Seconds(), attrs)
}

// RecordBreakerTransition counts a breaker state change.
func (mc *MetricsCollector) RecordBreakerTransition(ctx context.Context, tool, state string) {
	if mc == nil || mc.breakerTrips == nil {
		return
	}
	mc.breakerTrips.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("state", state),
	))
}

// QueueDelta adjusts the admission queue gauge.
func (mc *MetricsCollector) QueueDelta(ctx context.Context, delta int64) {
	if mc == nil || mc.queueDepth == nil {
		return
	}
	mc.queueDepth.Add(ctx, delta)
}

// Shutdown stops the scrape server.
func (mc *MetricsCollector) Shutdown(ctx context.Context) error {
	if mc == nil || mc.server == nil {
		return nil
	}
	return mc.server.Shutdown(ctx)
}
