package client

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "tetrio-api/pkg/client"

// Lookup results, dispatch outcomes and store outcomes used as metric attributes
const (
	resultHit   = "hit"
	resultMiss  = "miss"
	resultError = "error"

	outcomeOK      = "ok"
	outcomeError   = "error"
	outcomeStored  = "stored"
	outcomeSkipped = "skipped"
)

// Metrics holds the pipeline instruments. A nil *Metrics records nothing.
type Metrics struct {
	cacheLookupsTotal metric.Int64Counter
	cacheStoresTotal  metric.Int64Counter
	dispatchesTotal   metric.Int64Counter
	dispatchWait      metric.Float64Histogram
}

// NewMetrics creates the instruments on mp. A nil provider uses the global one.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)

	cacheLookupsTotal, err := meter.Int64Counter(
		"tetrio_client_cache_lookups_total",
		metric.WithDescription("Total number of cache lookups by result"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	cacheStoresTotal, err := meter.Int64Counter(
		"tetrio_client_cache_stores_total",
		metric.WithDescription("Total number of fetched envelopes offered to the cache, by outcome"),
		metric.WithUnit("{store}"),
	)
	if err != nil {
		return nil, err
	}

	dispatchesTotal, err := meter.Int64Counter(
		"tetrio_client_dispatches_total",
		metric.WithDescription("Total number of outbound requests by outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	dispatchWait, err := meter.Float64Histogram(
		"tetrio_client_dispatch_wait_seconds",
		metric.WithDescription("Time spent waiting for the rate limited dispatcher"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		cacheLookupsTotal: cacheLookupsTotal,
		cacheStoresTotal:  cacheStoresTotal,
		dispatchesTotal:   dispatchesTotal,
		dispatchWait:      dispatchWait,
	}, nil
}

func (m *Metrics) recordLookup(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.cacheLookupsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *Metrics) recordStore(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.cacheStoresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) recordDispatch(ctx context.Context, err error) {
	if m == nil {
		return
	}
	outcome := outcomeOK
	if err != nil {
		outcome = outcomeError
	}
	m.dispatchesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) recordWait(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.dispatchWait.Record(ctx, d.Seconds())
}
