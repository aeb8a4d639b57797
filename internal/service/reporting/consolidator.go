package reporting

import (
	"github.com/davidleathers/unit-kpi-backend/internal/domain/kpi"
)

// Consolidate merges per-unit aggregates into one company-wide report.
// Additive figures are summed and every rate is recomputed from the summed
// numerator and denominator, never averaged across units.
func Consolidate(def *Definition, meta kpi.PeriodMeta, aggs []*kpi.UnitAggregate) *kpi.Report {
	report := &kpi.Report{
		Domain:        def.Domain,
		Range:         meta.Range,
		PreviousRange: meta.Previous,
		Granularity:   meta.Granularity,
		Units:         make([]kpi.Unit, 0, len(aggs)),
		ByUnit:        make(map[kpi.UnitID]kpi.Figures, len(aggs)),
		Charts:        make(map[string]*kpi.Chart, len(def.Charts)),
	}

	current := kpi.Figures{}
	var previous, mtd kpi.Figures

	for _, agg := range aggs {
		report.Units = append(report.Units, agg.Unit)
		current.Add(agg.Current)
		report.ByUnit[agg.Unit.ID] = def.Derive(agg.Current, meta.Range.Days())

		if agg.Previous != nil {
			if previous == nil {
				previous = kpi.Figures{}
			}
			previous.Add(agg.Previous)
		}
		if agg.MonthToDate != nil {
			if mtd == nil {
				mtd = kpi.Figures{}
			}
			mtd.Add(agg.MonthToDate)
		}
	}

	report.Current = def.Derive(current, meta.Range.Days())
	if previous != nil {
		report.Previous = def.Derive(previous, meta.Previous.Days())
	}
	if mtd != nil && meta.DaysElapsed > 0 {
		report.MonthToDate = def.Derive(mtd, meta.DaysElapsed)
	}
	if len(def.Forecast) > 0 {
		report.Forecast = Forecast(def, meta, mtd)
	}

	for _, spec := range def.Charts {
		if spec.ByUnit {
			report.Charts[spec.Name] = unitChart(spec, meta.Buckets, aggs)
		} else {
			report.Charts[spec.Name] = bucketChart(spec, meta.Buckets, aggs)
		}
	}

	return report
}

// Forecast projects month-to-date figures to the end of the month with a
// linear run rate: mtd + mtd/elapsed*remaining. Figures outside the
// forecast list carry their month-to-date value and rates are recomputed
// over the whole month. With no elapsed days every field is zero.
func Forecast(def *Definition, meta kpi.PeriodMeta, mtd kpi.Figures) kpi.Figures {
	if meta.DaysElapsed <= 0 || mtd == nil {
		out := make(kpi.Figures)
		for _, name := range def.Fields() {
			out[name] = 0
		}
		return out
	}

	projected := make(kpi.Figures, len(mtd))
	for name, v := range mtd {
		projected[name] = v
	}

	elapsed := float64(meta.DaysElapsed)
	remaining := float64(meta.DaysRemaining)
	for _, name := range def.Forecast {
		v := mtd.Get(name)
		projected[name] = v + v/elapsed*remaining
	}

	return def.Derive(projected, meta.DaysInMonth)
}

// unitChart plots the first series of spec once per unit over the
// canonical buckets.
func unitChart(spec ChartSpec, buckets []string, aggs []*kpi.UnitAggregate) *kpi.Chart {
	chart := &kpi.Chart{
		Categories: append([]string(nil), buckets...),
		Series:     make([]kpi.ChartSeries, 0, len(aggs)),
	}
	if len(spec.Series) == 0 {
		return chart
	}

	name := spec.Series[0]
	for _, agg := range aggs {
		chart.Series = append(chart.Series, kpi.ChartSeries{
			Name:   agg.Unit.Name,
			UnitID: agg.Unit.ID,
			Data:   align(buckets, agg.Series[name]),
		})
	}
	return chart
}

// bucketChart plots each series of spec summed across units.
func bucketChart(spec ChartSpec, buckets []string, aggs []*kpi.UnitAggregate) *kpi.Chart {
	chart := &kpi.Chart{
		Categories: append([]string(nil), buckets...),
		Series:     make([]kpi.ChartSeries, 0, len(spec.Series)),
	}

	for _, name := range spec.Series {
		sum := kpi.Series{}
		for _, agg := range aggs {
			for bucket, v := range agg.Series[name] {
				sum[bucket] += v
			}
		}
		chart.Series = append(chart.Series, kpi.ChartSeries{
			Name: name,
			Data: align(buckets, sum),
		})
	}
	return chart
}

// align lays series out on the canonical buckets. Missing buckets are an
// explicit zero and values outside the bucket list are dropped.
func align(buckets []string, series kpi.Series) []float64 {
	data := make([]float64, len(buckets))
	for i, bucket := range buckets {
		data[i] = kpi.Round2(series[bucket])
	}
	return data
}
