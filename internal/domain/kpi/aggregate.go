package kpi

import (
	"math"
	"time"
)

// Figures is a record of named numeric fields.
type Figures map[string]float64

// Add accumulates other into f.
func (f Figures) Add(other Figures) {
	for name, v := range other {
		f[name] += v
	}
}

// Get returns the named field or 0.
func (f Figures) Get(name string) float64 {
	if f == nil {
		return 0
	}
	return f[name]
}

// Series maps a bucket key to a value.
type Series map[string]float64

// UnitAggregate is the raw numeric bundle fetched from one unit. Figure
// blocks hold additive components only; ratios are derived later.
type UnitAggregate struct {
	Unit        Unit
	Current     Figures
	Previous    Figures
	MonthToDate Figures
	Series      map[string]Series
}

// NewUnitAggregate returns an empty aggregate for u.
func NewUnitAggregate(u Unit) *UnitAggregate {
	return &UnitAggregate{
		Unit:    u,
		Current: Figures{},
		Series:  make(map[string]Series),
	}
}

// Row is one named-field record returned by a unit query. Values are
// float64, int64, string, bool, time.Time or nil.
type Row map[string]any

// Float returns the named field as a float64.
func (r Row) Float(name string) (float64, bool) {
	switch v := r[name].(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return v, true
	case float32:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}

// RawRows is the ordered result of a unit query.
type RawRows []Row

// QueryParams are the bind parameters shared by every unit query.
type QueryParams struct {
	Start        time.Time
	End          time.Time
	Granularity  Granularity
	DayStartHour int
}

// ParamsFor builds query parameters for a window.
func ParamsFor(r DateRange, g Granularity, dayStartHour int) QueryParams {
	return QueryParams{Start: r.Start, End: r.End, Granularity: g, DayStartHour: dayStartHour}
}
