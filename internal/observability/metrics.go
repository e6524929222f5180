// Package observability provides OpenTelemetry instrumentation for tracing and metrics.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// InitMetrics initializes the OpenTelemetry metrics provider with a Prometheus exporter.
// It returns the HTTP handler for the /metrics endpoint and a shutdown function.
func InitMetrics() (http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)

	otel.SetMeterProvider(provider)

	return promhttp.Handler(), provider.Shutdown, nil
}

// FleetStats reports the number of jobs under a debug grant and the number
// of offline nodes.
type FleetStats func(ctx context.Context) (debugging, offline int64, err error)

// RegisterFleetGauges registers observable gauges that query stats only
// when scraped.
func RegisterFleetGauges(stats FleetStats) error {
	meter := otel.Meter(MeterName)

	debugging, err := meter.Int64ObservableGauge("cifleet.jobs.debugging",
		metric.WithDescription("Jobs currently holding a debug grant"))
	if err != nil {
		return fmt.Errorf("failed to create debugging gauge: %w", err)
	}
	offline, err := meter.Int64ObservableGauge("cifleet.nodes.offline",
		metric.WithDescription("Nodes currently offline"))
	if err != nil {
		return fmt.Errorf("failed to create offline gauge: %w", err)
	}

	_, err = meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		d, o, err := stats(ctx)
		if err != nil {
			// Don't fail the scrape on a store error.
			slog.WarnContext(ctx, "failed to collect fleet stats", "error", err)
			return nil
		}
		obs.ObserveInt64(debugging, d)
		obs.ObserveInt64(offline, o)
		return nil
	}, debugging, offline)
	if err != nil {
		return fmt.Errorf("failed to register fleet gauges: %w", err)
	}
	return nil
}
