package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MeterConfig configures the OpenTelemetry meter provider.
type MeterConfig struct {
	// ServiceName is the name of the host service.
	ServiceName string
	// ServiceVersion is the version of the host service.
	ServiceVersion string
	// Environment is the deployment environment.
	Environment string
	// Endpoint is the OTLP HTTP endpoint host:port (e.g., "localhost:4318").
	Endpoint string
	// Insecure allows insecure connections (for development).
	Insecure bool
	// Interval is the metric export interval.
	Interval time.Duration
}

// DefaultMeterConfig returns sensible defaults for development.
func DefaultMeterConfig(serviceName string) MeterConfig {
	return MeterConfig{
		ServiceName:    serviceName,
		ServiceVersion: "1.0.0",
		Environment:    "development",
		Endpoint:       "localhost:4318",
		Insecure:       true,
		Interval:       15 * time.Second,
	}
}

// InitMeter initializes the OpenTelemetry meter provider.
// Returns a MeterProvider that should be shut down on application exit.
func InitMeter(ctx context.Context, config MeterConfig) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(config.Endpoint),
	}
	if config.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	res, err := newResource(config.ServiceName, config.ServiceVersion, config.Environment)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	readerOpts := []sdkmetric.PeriodicReaderOption{}
	if config.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(config.Interval))
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(mp)
	return mp, nil
}

// Meter returns a named meter from the global provider.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// Metrics holds the instruments recorded by the router and the satellite
// supervisors. A nil *Metrics skips all recording.
type Metrics struct {
	callTotal    metric.Int64Counter
	callDuration metric.Float64Histogram
	callErrors   metric.Int64Counter
	faults       metric.Int64Counter
	restarts     metric.Int64Counter
	workerMemory metric.Int64Gauge
}

// NewMetrics creates metric instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	callTotal, err := meter.Int64Counter("capability.call.total",
		metric.WithDescription("Total capability calls by provider, method, and status"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating capability.call.total counter: %w", err)
	}

	callDuration, err := meter.Float64Histogram("capability.call.duration",
		metric.WithDescription("Duration of capability calls in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating capability.call.duration histogram: %w", err)
	}

	callErrors, err := meter.Int64Counter("capability.call.errors",
		metric.WithDescription("Capability call failures by provider and error code"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating capability.call.errors counter: %w", err)
	}

	faults, err := meter.Int64Counter("satellite.faults",
		metric.WithDescription("Satellite faults by provider and reason"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating satellite.faults counter: %w", err)
	}

	restarts, err := meter.Int64Counter("satellite.restarts",
		metric.WithDescription("Satellite restarts by provider"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating satellite.restarts counter: %w", err)
	}

	workerMemory, err := meter.Int64Gauge("satellite.worker.memory",
		metric.WithDescription("Last sampled worker memory usage in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating satellite.worker.memory gauge: %w", err)
	}

	return &Metrics{
		callTotal:    callTotal,
		callDuration: callDuration,
		callErrors:   callErrors,
		faults:       faults,
		restarts:     restarts,
		workerMemory: workerMemory,
	}, nil
}

// RecordCall records a completed capability call.
func (m *Metrics) RecordCall(ctx context.Context, providerID, method, status string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("provider", providerID),
		attribute.String("method", method),
		attribute.String("status", status),
	)
	m.callTotal.Add(ctx, 1, attrs)
	m.callDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("provider", providerID),
		attribute.String("method", method),
	))
}

// RecordCallError records a failed capability call by error code.
func (m *Metrics) RecordCallError(ctx context.Context, providerID, code string) {
	if m == nil {
		return
	}
	m.callErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", providerID),
		attribute.String("code", code),
	))
}

// RecordFault records a satellite fault by reason.
func (m *Metrics) RecordFault(ctx context.Context, providerID, reason string) {
	if m == nil {
		return
	}
	m.faults.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", providerID),
		attribute.String("reason", reason),
	))
}

// RecordRestart records a satellite restart.
func (m *Metrics) RecordRestart(ctx context.Context, providerID string) {
	if m == nil {
		return
	}
	m.restarts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", providerID),
	))
}

// RecordWorkerMemory records a worker memory sample.
func (m *Metrics) RecordWorkerMemory(ctx context.Context, providerID string, bytes uint64) {
	if m == nil {
		return
	}
	m.workerMemory.Record(ctx, int64(bytes), metric.WithAttributes(
		attribute.String("provider", providerID),
	))
}
