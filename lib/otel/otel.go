// Package otel wires the OpenTelemetry SDK (OTLP gRPC exporters for
// traces, metrics and logs) and holds the shared instrument constructors.
package otel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const instrumentationName = "github.com/kilnworks/kiln"

// Config configures the telemetry pipeline.
type Config struct {
	Endpoint       string // OTLP gRPC collector (host:port); empty disables telemetry
	ServiceName    string
	ServiceVersion string
}

// SDK holds the running telemetry providers. The zero value is a
// disabled SDK: Meter and LogHandler return nil and Shutdown is a no-op.
type SDK struct {
	meter      metric.Meter
	logHandler slog.Handler
	shutdowns  []func(context.Context) error
}

// Setup initializes tracing, metrics and log export against the
// configured OTLP endpoint and registers the global providers. When no
// endpoint is configured it returns a disabled SDK and the process runs
// without telemetry.
func Setup(ctx context.Context, cfg Config) (*SDK, error) {
	if cfg.Endpoint == "" {
		return &SDK{}, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	sdk := &SDK{}

	// 1. Traces
	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	sdk.shutdowns = append(sdk.shutdowns, tracerProvider.Shutdown)
	otelapi.SetTracerProvider(tracerProvider)
	otelapi.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	// 2. Metrics
	metricExporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("create metric exporter: %w", err), sdk.Shutdown(ctx))
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
		sdkmetric.WithResource(res),
	)
	sdk.shutdowns = append(sdk.shutdowns, meterProvider.Shutdown)
	otelapi.SetMeterProvider(meterProvider)

	// 3. Logs (exported via the slog bridge handler)
	logExporter, err := otlploggrpc.New(ctx,
		otlploggrpc.WithEndpoint(cfg.Endpoint),
		otlploggrpc.WithInsecure(),
	)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("create log exporter: %w", err), sdk.Shutdown(ctx))
	}
	loggerProvider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
		sdklog.WithResource(res),
	)
	sdk.shutdowns = append(sdk.shutdowns, loggerProvider.Shutdown)

	// 4. Go runtime metrics
	if err := runtime.Start(runtime.WithMeterProvider(meterProvider)); err != nil {
		return nil, errors.Join(fmt.Errorf("start runtime instrumentation: %w", err), sdk.Shutdown(ctx))
	}

	sdk.meter = meterProvider.Meter(instrumentationName)
	sdk.logHandler = otelslog.NewHandler(cfg.ServiceName, otelslog.WithLoggerProvider(loggerProvider))
	return sdk, nil
}

// Enabled reports whether telemetry is exporting.
func (s *SDK) Enabled() bool {
	return len(s.shutdowns) > 0
}

// Meter returns the meter instruments are built from, nil when
// telemetry is disabled. Managers treat a nil meter as "no metrics".
func (s *SDK) Meter() metric.Meter {
	return s.meter
}

// LogHandler returns the slog bridge handler, nil when disabled.
func (s *SDK) LogHandler() slog.Handler {
	return s.logHandler
}

// Shutdown flushes and stops the providers in reverse setup order.
func (s *SDK) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(s.shutdowns) - 1; i >= 0; i-- {
		errs = append(errs, s.shutdowns[i](ctx))
	}
	s.shutdowns = nil
	return errors.Join(errs...)
}
