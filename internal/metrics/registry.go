package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/davidleathers/unit-kpi-backend/internal/domain/kpi"
)

// Registry holds the OpenTelemetry instruments of the fan-out path
type Registry struct {
	meter metric.Meter

	UnitFetchDuration metric.Float64Histogram
	UnitFetchFailures metric.Int64Counter
	UnitFetches       metric.Int64Counter
	QueryDuration     metric.Float64Histogram
	QueryFailures     metric.Int64Counter
}

// NewRegistry creates the instruments on the global meter provider
func NewRegistry(meterName string) (*Registry, error) {
	return NewRegistryWithMeter(otel.Meter(meterName))
}

// NewRegistryWithMeter creates the instruments on meter
func NewRegistryWithMeter(meter metric.Meter) (*Registry, error) {
	r := &Registry{meter: meter}

	if err := r.initFanOutMetrics(); err != nil {
		return nil, err
	}
	if err := r.initQueryMetrics(); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *Registry) initFanOutMetrics() error {
	var err error

	r.UnitFetchDuration, err = r.meter.Float64Histogram(
		"kpi.fanout.unit_fetch_duration",
		metric.WithDescription("Duration of one unit's sub-queries in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000),
	)
	if err != nil {
		return err
	}

	r.UnitFetches, err = r.meter.Int64Counter(
		"kpi.fanout.unit_fetches_total",
		metric.WithDescription("Unit fetches attempted"),
	)
	if err != nil {
		return err
	}

	r.UnitFetchFailures, err = r.meter.Int64Counter(
		"kpi.fanout.unit_failures_total",
		metric.WithDescription("Unit fetches excluded from consolidation"),
	)
	return err
}

func (r *Registry) initQueryMetrics() error {
	var err error

	r.QueryDuration, err = r.meter.Float64Histogram(
		"kpi.unit.query_duration",
		metric.WithDescription("Duration of a single unit query in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000),
	)
	if err != nil {
		return err
	}

	r.QueryFailures, err = r.meter.Int64Counter(
		"kpi.unit.query_failures_total",
		metric.WithDescription("Unit queries that returned an error"),
	)
	return err
}

// UnitFetched records the outcome of one unit fetch.
func (r *Registry) UnitFetched(ctx context.Context, domain kpi.Domain, unit kpi.UnitID, d time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("domain", string(domain)),
		attribute.String("unit_id", string(unit)),
	)

	r.UnitFetches.Add(ctx, 1, attrs)
	r.UnitFetchDuration.Record(ctx, float64(d)/float64(time.Millisecond), attrs)
	if err != nil {
		r.UnitFetchFailures.Add(ctx, 1, attrs)
	}
}

// QueryCompleted records one unit query.
func (r *Registry) QueryCompleted(ctx context.Context, unit kpi.UnitID, query string, d time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("unit_id", string(unit)),
		attribute.String("query", query),
	)

	r.QueryDuration.Record(ctx, float64(d)/float64(time.Millisecond), attrs)
	if err != nil {
		r.QueryFailures.Add(ctx, 1, attrs)
	}
}
