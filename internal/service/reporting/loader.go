package reporting

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/davidleathers/unit-kpi-backend/internal/domain/kpi"
	"github.com/davidleathers/unit-kpi-backend/internal/service/fanout"
)

// subQuery is one catalog query of a unit load and how its rows land in the
// aggregate.
type subQuery struct {
	name   string
	params kpi.QueryParams
	apply  func(agg *kpi.UnitAggregate, rows kpi.RawRows)
}

// unitLoader fetches the raw aggregate of a single unit for one report.
type unitLoader struct {
	source UnitDataSource
	def    *Definition
	meta   kpi.PeriodMeta
	logger *zap.Logger
}

// Load runs the domain's sub-queries for unit with at most queryLimit in
// flight. Any failing sub-query fails the unit.
func (l *unitLoader) Load(ctx context.Context, unit kpi.Unit, queryLimit int) (*kpi.UnitAggregate, error) {
	queries := l.plan()

	tasks := make([]fanout.Task[kpi.RawRows], len(queries))
	for i, q := range queries {
		tasks[i] = func(ctx context.Context) (kpi.RawRows, error) {
			rows, err := l.source.Query(ctx, unit.ID, q.name, q.params)
			if err != nil {
				return nil, fmt.Errorf("query %s on unit %s: %w", q.name, unit.ID, err)
			}
			return rows, nil
		}
	}

	results, err := fanout.Run(ctx, queryLimit, tasks)
	if err != nil {
		return nil, err
	}

	agg := kpi.NewUnitAggregate(unit)
	for i, q := range queries {
		q.apply(agg, results[i])
	}
	return agg, nil
}

func (l *unitLoader) plan() []subQuery {
	meta := l.meta
	hour := meta.DayStartHour
	totals := l.def.QueryName(QueryTotals)

	queries := []subQuery{
		{
			name:   totals,
			params: kpi.ParamsFor(meta.Range, meta.Granularity, hour),
			apply: func(agg *kpi.UnitAggregate, rows kpi.RawRows) {
				agg.Current.Add(l.totals(rows))
			},
		},
		{
			name:   totals,
			params: kpi.ParamsFor(meta.Previous, kpi.GranularityFor(meta.Previous), hour),
			apply: func(agg *kpi.UnitAggregate, rows kpi.RawRows) {
				// a unit with no readable previous totals supplies no previous block
				if figures, ok := pick(rows, l.def.Additive); ok {
					agg.Previous = figures
				}
			},
		},
		{
			name:   l.def.QueryName(QuerySeries),
			params: kpi.ParamsFor(meta.Range, meta.Granularity, hour),
			apply: func(agg *kpi.UnitAggregate, rows kpi.RawRows) {
				l.series(agg, rows)
			},
		},
	}

	if !meta.MonthToDate.IsZero() && len(l.def.Forecast) > 0 {
		queries = append(queries, subQuery{
			name:   totals,
			params: kpi.ParamsFor(meta.MonthToDate, kpi.GranularityDay, hour),
			apply: func(agg *kpi.UnitAggregate, rows kpi.RawRows) {
				agg.MonthToDate = l.totals(rows)
			},
		})
	}

	// capacity is a stock figure shared by every window, so it is applied
	// after the totals blocks exist
	if l.def.HasCapacity {
		queries = append(queries, subQuery{
			name:   l.def.QueryName(QueryCapacity),
			params: kpi.ParamsFor(meta.Range, meta.Granularity, hour),
			apply: func(agg *kpi.UnitAggregate, rows kpi.RawRows) {
				stock := l.stock(rows)
				for _, block := range []kpi.Figures{agg.Current, agg.Previous, agg.MonthToDate} {
					if block != nil {
						block.Add(stock)
					}
				}
			},
		})
	}

	return queries
}

// totals reads the additive figures from a one-row totals result. An empty
// result is a unit with no activity.
func (l *unitLoader) totals(rows kpi.RawRows) kpi.Figures {
	figures, _ := pick(rows, l.def.Additive)
	return figures
}

func (l *unitLoader) stock(rows kpi.RawRows) kpi.Figures {
	figures, _ := pick(rows, l.def.Stock)
	return figures
}

// pick reads fields from the first row, zero-filling the ones missing. It
// reports whether any field held a number.
func pick(rows kpi.RawRows, fields []string) (kpi.Figures, bool) {
	out := make(kpi.Figures, len(fields))
	for _, name := range fields {
		out[name] = 0
	}
	if len(rows) == 0 {
		return out, false
	}
	read := false
	for _, name := range fields {
		if v, ok := rows[0].Float(name); ok {
			out[name] = v
			read = true
		}
	}
	return out, read
}

func (l *unitLoader) series(agg *kpi.UnitAggregate, rows kpi.RawRows) {
	for _, col := range l.def.SeriesColumns {
		if _, ok := agg.Series[col]; !ok {
			agg.Series[col] = kpi.Series{}
		}
	}

	for _, row := range rows {
		bucket, ok := kpi.NormalizeBucket(row[BucketColumn], l.meta.Granularity)
		if !ok {
			l.logger.Debug("skipping series row with unreadable bucket",
				zap.String("unit_id", string(agg.Unit.ID)),
				zap.Any("bucket", row[BucketColumn]))
			continue
		}
		for _, col := range l.def.SeriesColumns {
			if v, ok := row.Float(col); ok {
				agg.Series[col][bucket] += v
			}
		}
	}
}
