package reporting

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/davidleathers/unit-kpi-backend/internal/domain/errors"
	"github.com/davidleathers/unit-kpi-backend/internal/domain/kpi"
	"github.com/davidleathers/unit-kpi-backend/internal/infrastructure/cache"
	"github.com/davidleathers/unit-kpi-backend/internal/infrastructure/telemetry"
	"github.com/davidleathers/unit-kpi-backend/internal/service/fanout"
)

// DefaultMaxRangeDays caps custom requests at roughly a year
const DefaultMaxRangeDays = 366

// Config holds orchestrator settings
type Config struct {
	MaxRangeDays int
}

// Orchestrator builds consolidated KPI reports through the period cache.
type Orchestrator struct {
	source   UnitDataSource
	cache    ReportCache
	fetcher  *fanout.Fetcher
	calendar *kpi.Calendar
	config   Config
	logger   *zap.Logger
	tracer   trace.Tracer
}

var _ Service = (*Orchestrator)(nil)

// NewOrchestrator wires the reporting pipeline
func NewOrchestrator(
	source UnitDataSource,
	reportCache ReportCache,
	fetcher *fanout.Fetcher,
	calendar *kpi.Calendar,
	config *Config,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if source == nil {
		return nil, fmt.Errorf("unit data source is required")
	}
	if reportCache == nil {
		return nil, fmt.Errorf("report cache is required")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if calendar == nil {
		calendar = kpi.NewCalendar(nil, nil, kpi.DefaultDayStartHour)
	}
	if config == nil {
		config = &Config{MaxRangeDays: DefaultMaxRangeDays}
	}

	return &Orchestrator{
		source:   source,
		cache:    reportCache,
		fetcher:  fetcher,
		calendar: calendar,
		config:   *config,
		logger:   logger.Named("reporting"),
		tracer:   otel.Tracer("unit-kpi-backend/reporting"),
	}, nil
}

// GetUnifiedKpis returns the consolidated report for an inclusive ISO date
// range. Results are cached per domain, range and unit scope; failures are
// never cached.
func (o *Orchestrator) GetUnifiedKpis(ctx context.Context, domain, start, end string, scope kpi.UnitScope) (*UnifiedResult, error) {
	d, err := kpi.ParseDomain(domain)
	if err != nil {
		return nil, err
	}

	r, err := kpi.ParseDateRange(start, end)
	if err != nil {
		return nil, err
	}
	if o.config.MaxRangeDays > 0 && r.Days() > o.config.MaxRangeDays {
		return nil, errors.NewValidationError(errors.CodeInvalidTimeRange,
			fmt.Sprintf("range spans %d days, maximum is %d", r.Days(), o.config.MaxRangeDays))
	}

	return o.report(ctx, d, kpi.CustomPeriod(r), r, scope)
}

// GetNamedKpis returns the report for a rolling period resolved against
// the commercial calendar.
func (o *Orchestrator) GetNamedKpis(ctx context.Context, domain, period string, scope kpi.UnitScope) (*UnifiedResult, error) {
	d, err := kpi.ParseDomain(domain)
	if err != nil {
		return nil, err
	}

	p, err := kpi.ParseNamedPeriod(period)
	if err != nil {
		return nil, err
	}

	descriptor := kpi.Named(p)
	r, err := o.calendar.Resolve(descriptor)
	if err != nil {
		return nil, err
	}

	return o.report(ctx, d, descriptor, r, scope)
}

// InvalidateDomain drops cached reports of domain, optionally only for the
// given periods.
func (o *Orchestrator) InvalidateDomain(domain kpi.Domain, periods ...kpi.PeriodDescriptor) int {
	n := o.cache.Invalidate(domain, periods...)
	o.logger.Info("invalidated cached reports",
		zap.String("domain", string(domain)),
		zap.Int("removed", n))
	return n
}

// CacheStats reports the cache contents
func (o *Orchestrator) CacheStats() cache.Stats {
	return o.cache.Stats()
}

// CacheMetrics reports cache effectiveness for domain
func (o *Orchestrator) CacheMetrics(domain kpi.Domain) cache.MetricsSnapshot {
	return o.cache.Metrics(domain)
}

func (o *Orchestrator) report(ctx context.Context, domain kpi.Domain, period kpi.PeriodDescriptor, r kpi.DateRange, scope kpi.UnitScope) (*UnifiedResult, error) {
	ctx, span := o.tracer.Start(ctx, "reporting.get_kpis",
		trace.WithAttributes(
			attribute.String("kpi.domain", string(domain)),
			attribute.String("kpi.period", period.Key()),
			attribute.String("kpi.unit_scope", string(scope)),
		),
	)
	defer span.End()

	logger := telemetry.WithTrace(ctx, o.logger)

	res, err := o.cache.GetOrCalculate(ctx, domain, period, scope, func(ctx context.Context) (*kpi.Report, error) {
		return o.compute(ctx, domain, r, scope)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("kpi report failed",
			zap.String("domain", string(domain)),
			zap.String("period", period.Key()),
			zap.String("unit_scope", string(scope)),
			zap.Error(err))
		return nil, err
	}

	span.SetAttributes(attribute.Bool("kpi.from_cache", res.FromCache))

	out := &UnifiedResult{
		Data:      res.Data,
		FromCache: res.FromCache,
		CacheKey:  res.CacheKey,
	}
	if !res.FromCache {
		out.CalculationTimeMs = res.CalculationTime.Milliseconds()
		logger.Info("kpi report calculated",
			zap.String("cache_key", res.CacheKey),
			zap.Int("units", len(res.Data.Units)),
			zap.Duration("duration", res.CalculationTime))
	}

	return out, nil
}

// compute runs the full pipeline for one cache miss: resolve units, derive
// period metadata, fetch every unit and consolidate.
func (o *Orchestrator) compute(ctx context.Context, domain kpi.Domain, r kpi.DateRange, scope kpi.UnitScope) (*kpi.Report, error) {
	def, err := DefinitionFor(domain)
	if err != nil {
		return nil, err
	}

	units, err := o.units(ctx, scope)
	if err != nil {
		return nil, err
	}

	meta := o.calendar.Meta(r)
	loader := &unitLoader{
		source: o.source,
		def:    def,
		meta:   meta,
		logger: o.logger,
	}

	aggs, err := o.fetcher.Fetch(ctx, domain, units, loader.Load)
	if err != nil {
		return nil, err
	}

	report := Consolidate(def, meta, aggs)
	report.CalculationID = uuid.NewString()
	report.GeneratedAt = o.calendar.Now().UTC()

	return report, nil
}

func (o *Orchestrator) units(ctx context.Context, scope kpi.UnitScope) ([]kpi.Unit, error) {
	connected, err := o.source.ListConnectedUnits(ctx)
	if err != nil {
		return nil, errors.NewInternalError("failed to list connected units").WithCause(err)
	}
	if len(connected) == 0 {
		return nil, errors.NewConfigurationError(errors.CodeNoUnitsConnected, "no unit databases are connected")
	}
	if scope.IsAll() {
		return connected, nil
	}

	for _, u := range connected {
		if scope.Matches(u) {
			return []kpi.Unit{u}, nil
		}
	}
	return nil, errors.NewConfigurationError(errors.CodeUnitNotConnected,
		fmt.Sprintf("unit %q is not connected", string(scope)))
}
