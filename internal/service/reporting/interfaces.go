package reporting

import (
	"context"

	"github.com/davidleathers/unit-kpi-backend/internal/domain/kpi"
	"github.com/davidleathers/unit-kpi-backend/internal/infrastructure/cache"
)

// Service is the KPI reporting entry point
type Service interface {
	// GetUnifiedKpis returns the consolidated report of domain for an
	// inclusive ISO date range, optionally scoped to one unit.
	GetUnifiedKpis(ctx context.Context, domain, start, end string, scope kpi.UnitScope) (*UnifiedResult, error)

	// GetNamedKpis returns the report for a rolling period.
	GetNamedKpis(ctx context.Context, domain, period string, scope kpi.UnitScope) (*UnifiedResult, error)

	InvalidateDomain(domain kpi.Domain, periods ...kpi.PeriodDescriptor) int
	CacheStats() cache.Stats
	CacheMetrics(domain kpi.Domain) cache.MetricsSnapshot
}

// UnitDataSource reaches the per-unit databases
type UnitDataSource interface {
	// ListConnectedUnits returns the units whose databases are reachable.
	ListConnectedUnits(ctx context.Context) ([]kpi.Unit, error)

	// Query runs a named catalog query against one unit.
	Query(ctx context.Context, unit kpi.UnitID, queryName string, params kpi.QueryParams) (kpi.RawRows, error)
}

// ReportCache stores consolidated reports
type ReportCache interface {
	GetOrCalculate(
		ctx context.Context,
		domain kpi.Domain,
		period kpi.PeriodDescriptor,
		scope kpi.UnitScope,
		compute func(context.Context) (*kpi.Report, error),
	) (cache.Result[*kpi.Report], error)
	Invalidate(domain kpi.Domain, periods ...kpi.PeriodDescriptor) int
	Stats() cache.Stats
	Metrics(domain kpi.Domain) cache.MetricsSnapshot
}

// UnifiedResult is the envelope returned to callers
type UnifiedResult struct {
	Data              *kpi.Report `json:"data"`
	FromCache         bool        `json:"fromCache"`
	CacheKey          string      `json:"cacheKey"`
	CalculationTimeMs int64       `json:"calculationTimeMs,omitempty"`
}
