package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records engine metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordEnqueue records an envelope admitted to a stage queue.
	RecordEnqueue(ctx context.Context, stage string)

	// RecordDrop records an envelope rejected or evicted by a stage
	// queue's overflow policy.
	RecordDrop(ctx context.Context, stage string)

	// RecordStageProcess records one worker execution of a stage's
	// continuation route.
	RecordStageProcess(ctx context.Context, stage string, duration time.Duration)

	// RecordRouteExecution records a completed route execution with
	// its duration and outcome.
	RecordRouteExecution(ctx context.Context, route string, duration time.Duration, err error)

	// RecordRedelivery records one redelivery attempt for a route.
	RecordRedelivery(ctx context.Context, route string)

	// RecordDeadLetter records an envelope forwarded to the dead
	// letter stage after exhausting redelivery.
	RecordDeadLetter(ctx context.Context, route string)

	// RecordQueueDepth records the instantaneous depth of a stage queue.
	RecordQueueDepth(ctx context.Context, stage string, depth int64)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	enqueues     metric.Int64Counter
	drops        metric.Int64Counter
	stageCount   metric.Int64Counter
	stageLatency metric.Float64Histogram
	routeCount   metric.Int64Counter
	routeLatency metric.Float64Histogram
	routeErrors  metric.Int64Counter
	redeliveries metric.Int64Counter
	deadLetters  metric.Int64Counter
	queueDepth   metric.Int64Gauge
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance,
// lazily initialized on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("sedaflow")

	enqueues, err := meter.Int64Counter("sedaflow.stage.enqueues",
		metric.WithDescription("Envelopes admitted to stage queues"),
	)
	if err != nil {
		return nil, err
	}

	drops, err := meter.Int64Counter("sedaflow.stage.drops",
		metric.WithDescription("Envelopes dropped by stage overflow policies"),
	)
	if err != nil {
		return nil, err
	}

	stageCount, err := meter.Int64Counter("sedaflow.stage.processed",
		metric.WithDescription("Stage continuation executions"),
	)
	if err != nil {
		return nil, err
	}

	stageLatency, err := meter.Float64Histogram("sedaflow.stage.latency_ms",
		metric.WithDescription("Stage continuation latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	routeCount, err := meter.Int64Counter("sedaflow.route.executions",
		metric.WithDescription("Route executions"),
	)
	if err != nil {
		return nil, err
	}

	routeLatency, err := meter.Float64Histogram("sedaflow.route.latency_ms",
		metric.WithDescription("Route execution latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	routeErrors, err := meter.Int64Counter("sedaflow.route.errors",
		metric.WithDescription("Route executions that ended in error"),
	)
	if err != nil {
		return nil, err
	}

	redeliveries, err := meter.Int64Counter("sedaflow.route.redeliveries",
		metric.WithDescription("Redelivery attempts"),
	)
	if err != nil {
		return nil, err
	}

	deadLetters, err := meter.Int64Counter("sedaflow.route.deadletters",
		metric.WithDescription("Envelopes forwarded to the dead letter stage"),
	)
	if err != nil {
		return nil, err
	}

	queueDepth, err := meter.Int64Gauge("sedaflow.stage.depth",
		metric.WithDescription("Instantaneous stage queue depth"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		enqueues:     enqueues,
		drops:        drops,
		stageCount:   stageCount,
		stageLatency: stageLatency,
		routeCount:   routeCount,
		routeLatency: routeLatency,
		routeErrors:  routeErrors,
		redeliveries: redeliveries,
		deadLetters:  deadLetters,
		queueDepth:   queueDepth,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder backed by the global
// OTel meter provider. Falls back to NoopMetrics if instrument
// creation fails, logging the reason.
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("otel metrics unavailable, using noop recorder", "error", err)
		return NoopMetrics{}
	}
	return m
}

func stageAttr(stage string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("stage", stage))
}

func routeAttr(route string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("route", route))
}

// RecordEnqueue implements MetricsRecorder.
func (m *otelMetrics) RecordEnqueue(ctx context.Context, stage string) {
	m.enqueues.Add(ctx, 1, stageAttr(stage))
}

// RecordDrop implements MetricsRecorder.
func (m *otelMetrics) RecordDrop(ctx context.Context, stage string) {
	m.drops.Add(ctx, 1, stageAttr(stage))
}

// RecordStageProcess implements MetricsRecorder.
func (m *otelMetrics) RecordStageProcess(ctx context.Context, stage string, duration time.Duration) {
	m.stageCount.Add(ctx, 1, stageAttr(stage))
	m.stageLatency.Record(ctx, float64(duration.Milliseconds()), stageAttr(stage))
}

// RecordRouteExecution implements MetricsRecorder.
func (m *otelMetrics) RecordRouteExecution(ctx context.Context, route string, duration time.Duration, err error) {
	m.routeCount.Add(ctx, 1, routeAttr(route))
	m.routeLatency.Record(ctx, float64(duration.Milliseconds()), routeAttr(route))
	if err != nil {
		m.routeErrors.Add(ctx, 1, routeAttr(route))
	}
}

// RecordRedelivery implements MetricsRecorder.
func (m *otelMetrics) RecordRedelivery(ctx context.Context, route string) {
	m.redeliveries.Add(ctx, 1, routeAttr(route))
}

// RecordDeadLetter implements MetricsRecorder.
func (m *otelMetrics) RecordDeadLetter(ctx context.Context, route string) {
	m.deadLetters.Add(ctx, 1, routeAttr(route))
}

// RecordQueueDepth implements MetricsRecorder.
func (m *otelMetrics) RecordQueueDepth(ctx context.Context, stage string, depth int64) {
	m.queueDepth.Record(ctx, depth, stageAttr(stage))
}
