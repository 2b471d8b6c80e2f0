package builds

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Metrics provides OpenTelemetry metrics for the build system
type Metrics struct {
	buildDuration metric.Float64Histogram
	buildTotal    metric.Int64Counter
	stepTotal     metric.Int64Counter
	tracer        trace.Tracer
}

// NewMetrics creates a new Metrics instance
func NewMetrics(meter metric.Meter, tracer trace.Tracer, queue *BuildQueue) (*Metrics, error) {
	buildDuration, err := meter.Float64Histogram(
		"kiln_build_duration_seconds",
		metric.WithDescription("Duration of builds in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	buildTotal, err := meter.Int64Counter(
		"kiln_builds_total",
		metric.WithDescription("Total number of builds"),
	)
	if err != nil {
		return nil, err
	}

	stepTotal, err := meter.Int64Counter(
		"kiln_build_steps_total",
		metric.WithDescription("Total number of executed build commands"),
	)
	if err != nil {
		return nil, err
	}

	// Register observable gauge for queue depth
	queueLength, err := meter.Int64ObservableGauge(
		"kiln_build_queue_length",
		metric.WithDescription("Current number of builds waiting in the queue"),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(queueLength, int64(queue.PendingCount()))
			return nil
		},
		queueLength,
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		buildDuration: buildDuration,
		buildTotal:    buildTotal,
		stepTotal:     stepTotal,
		tracer:        tracer,
	}, nil
}

// RecordBuild records metrics for a completed build
func (m *Metrics) RecordBuild(ctx context.Context, status string, engineName string, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("status", status),
		attribute.String("engine", engineName),
	}

	m.buildDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.buildTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordStep records metrics for one executed build command
func (m *Metrics) RecordStep(ctx context.Context, status string, engineName string) {
	m.stepTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
		attribute.String("engine", engineName),
	))
}
