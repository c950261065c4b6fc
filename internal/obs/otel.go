package obs

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"

	"github.com/intelligencedev/docmemory/internal/config"
)

// InitOTel registers a real metric.MeterProvider as the global OTel
// provider, grounded on the metrics half of the teacher's
// internal/observability/otel.go (resource.New with the same WithFromEnv/
// WithTelemetrySDK/WithProcess/WithOS options, otlpmetrichttp + a
// PeriodicReader, otel.SetMeterProvider). Without this, every NewOtelMetrics
// call resolves otel.Meter against the global no-op provider and every
// counter/histogram recorded through it is silently discarded.
//
// obs.OTLP empty means no collector is configured; InitOTel still installs a
// real in-process MeterProvider (aggregating but exporting nothing) rather
// than leaving the no-op provider installed, so instruments created before a
// collector is configured aren't orphaned against it.
func InitOTel(ctx context.Context, obs config.ObsConfig) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithProcess(),
		resource.WithOS(),
		resource.WithAttributes(
			semconv.ServiceName(obs.ServiceName),
			semconv.ServiceVersion(obs.ServiceVersion),
			attribute.String("deployment.environment", obs.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("init resource: %w", err)
	}

	opts := []metric.Option{metric.WithResource(res)}
	if obs.OTLP != "" {
		exp, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(obs.OTLP), otlpmetrichttp.WithInsecure())
		if err != nil {
			return nil, fmt.Errorf("init metrics exporter: %w", err)
		}
		opts = append(opts, metric.WithReader(metric.NewPeriodicReader(exp, metric.WithInterval(10*time.Second))))
	}

	mp := metric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	return mp.Shutdown, nil
}
