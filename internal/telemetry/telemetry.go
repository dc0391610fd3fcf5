// Package telemetry sets up the OpenTelemetry meter provider and exposes it
// to Prometheus.
package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Telemetry owns the meter provider and its Prometheus registry
type Telemetry struct {
	provider *sdkmetric.MeterProvider
	handler  http.Handler
}

// New creates a meter provider exporting to a dedicated Prometheus registry
func New() (*Telemetry, error) {
	registry := prometheus.NewRegistry()

	exporter, err := promexporter.New(promexporter.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	return &Telemetry{
		provider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter)),
		handler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}, nil
}

// MeterProvider returns the provider instruments should be created on
func (t *Telemetry) MeterProvider() metric.MeterProvider {
	return t.provider
}

// Handler serves the metrics in the Prometheus text format
func (t *Telemetry) Handler() http.Handler {
	return t.handler
}

// Shutdown flushes and stops the meter provider
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}
