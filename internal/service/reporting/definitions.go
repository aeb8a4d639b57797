package reporting

import (
	"fmt"

	"github.com/davidleathers/unit-kpi-backend/internal/domain/errors"
	"github.com/davidleathers/unit-kpi-backend/internal/domain/kpi"
)

// SecondsPerDay scales per-day capacity rates.
const SecondsPerDay = 86400

// Query name suffixes. A unit query is addressed as "<domain>.<suffix>".
const (
	QueryTotals   = "totals"
	QuerySeries   = "series"
	QueryCapacity = "capacity"
)

// BucketColumn is the bucket field of a series query row.
const BucketColumn = "bucket"

// RateSpec derives a ratio from two summed figures.
type RateSpec struct {
	Name        string
	Numerator   string
	Denominator string
	// Multiplier scales the ratio, 0 means 1.
	Multiplier float64
	// PerDayCapacity divides the denominator side by SecondsPerDay times the
	// window length in days.
	PerDayCapacity bool
}

// ShareSpec derives a percentage of a segment over a total.
type ShareSpec struct {
	Name    string
	Segment string
	Total   string
}

// ChartSpec describes a plotted payload. A by-unit chart plots the first
// series once per unit; otherwise every listed series is summed across
// units.
type ChartSpec struct {
	Name   string
	ByUnit bool
	Series []string
}

// Definition is everything the engine knows about a domain: which queries
// to run and how to turn their figures into KPIs.
type Definition struct {
	Domain kpi.Domain

	// Additive figures are summed across units and forecast if listed in
	// Forecast. Stock figures are summed but carried as-is into forecasts.
	Additive []string
	Stock    []string

	Rates    []RateSpec
	Shares   []ShareSpec
	Forecast []string

	SeriesColumns []string
	Charts        []ChartSpec

	HasCapacity bool
}

// QueryName returns the catalog name of one of the domain's queries.
func (d *Definition) QueryName(suffix string) string {
	return string(d.Domain) + "." + suffix
}

// Fields returns every derived and raw field name of a report block.
func (d *Definition) Fields() []string {
	fields := make([]string, 0, len(d.Additive)+len(d.Stock)+len(d.Rates)+len(d.Shares))
	fields = append(fields, d.Additive...)
	fields = append(fields, d.Stock...)
	for _, r := range d.Rates {
		fields = append(fields, r.Name)
	}
	for _, s := range d.Shares {
		fields = append(fields, s.Name)
	}
	return fields
}

// Derive builds a report block from summed raw figures. windowDays is the
// length of the window the figures cover.
func (d *Definition) Derive(raw kpi.Figures, windowDays int) kpi.Figures {
	out := make(kpi.Figures, len(d.Additive)+len(d.Stock)+len(d.Rates)+len(d.Shares))

	for _, name := range d.Additive {
		out[name] = kpi.Round2(raw.Get(name))
	}
	for _, name := range d.Stock {
		out[name] = kpi.Round2(raw.Get(name))
	}

	for _, r := range d.Rates {
		multiplier := r.Multiplier
		if multiplier == 0 {
			multiplier = 1
		}
		den := raw.Get(r.Denominator)
		if r.PerDayCapacity {
			den *= float64(SecondsPerDay * windowDays)
		}
		out[r.Name] = kpi.Round2(multiplier * kpi.SafeDiv(raw.Get(r.Numerator), den))
	}

	for _, s := range d.Shares {
		out[s.Name] = kpi.Round2(100 * kpi.SafeDiv(raw.Get(s.Segment), raw.Get(s.Total)))
	}

	return out
}

// Definitions holds the supported domains.
var Definitions = map[kpi.Domain]*Definition{
	kpi.DomainCompany: {
		Domain:   kpi.DomainCompany,
		Additive: []string{"revenue", "transactions", "roomNightsSold", "roomNightsAvailable"},
		Rates: []RateSpec{
			{Name: "averageTicket", Numerator: "revenue", Denominator: "transactions"},
			{Name: "occupancyRate", Numerator: "roomNightsSold", Denominator: "roomNightsAvailable", Multiplier: 100},
			{Name: "revPar", Numerator: "revenue", Denominator: "roomNightsAvailable"},
		},
		Forecast:      []string{"revenue", "transactions", "roomNightsSold", "roomNightsAvailable"},
		SeriesColumns: []string{"revenue", "transactions"},
		Charts: []ChartSpec{
			{Name: "RevenueByCompany", ByUnit: true, Series: []string{"revenue"}},
			{Name: "RevenueByDate", Series: []string{"revenue"}},
		},
	},
	kpi.DomainBookings: {
		Domain:   kpi.DomainBookings,
		Additive: []string{"bookingValue", "bookingCount", "roomNights", "directValue"},
		Rates: []RateSpec{
			{Name: "averageTicket", Numerator: "bookingValue", Denominator: "bookingCount"},
			{Name: "averageDailyRate", Numerator: "bookingValue", Denominator: "roomNights"},
		},
		Shares: []ShareSpec{
			{Name: "directShare", Segment: "directValue", Total: "bookingValue"},
		},
		Forecast:      []string{"bookingValue", "bookingCount", "roomNights", "directValue"},
		SeriesColumns: []string{"bookingValue", "bookingCount"},
		Charts: []ChartSpec{
			{Name: "BookingsByCompany", ByUnit: true, Series: []string{"bookingValue"}},
			{Name: "BookingsByDate", Series: []string{"bookingValue", "bookingCount"}},
		},
	},
	kpi.DomainRestaurant: {
		Domain:   kpi.DomainRestaurant,
		Additive: []string{"revenue", "checks", "covers", "foodRevenue", "beverageRevenue"},
		Rates: []RateSpec{
			{Name: "averageTicket", Numerator: "revenue", Denominator: "checks"},
			{Name: "revenuePerCover", Numerator: "revenue", Denominator: "covers"},
		},
		Shares: []ShareSpec{
			{Name: "foodShare", Segment: "foodRevenue", Total: "revenue"},
			{Name: "beverageShare", Segment: "beverageRevenue", Total: "revenue"},
		},
		Forecast:      []string{"revenue", "checks", "covers", "foodRevenue", "beverageRevenue"},
		SeriesColumns: []string{"revenue", "covers"},
		Charts: []ChartSpec{
			{Name: "RevenueByCompany", ByUnit: true, Series: []string{"revenue"}},
			{Name: "RevenueByDate", Series: []string{"revenue"}},
		},
	},
	kpi.DomainGovernance: {
		Domain:   kpi.DomainGovernance,
		Additive: []string{"roomsCleaned", "cleaningSeconds", "occupiedSeconds", "checkouts"},
		Stock:    []string{"capacityUnits"},
		Rates: []RateSpec{
			{Name: "averageCleaningMinutes", Numerator: "cleaningSeconds", Denominator: "roomsCleaned", Multiplier: 1.0 / 60},
			{Name: "occupancyRate", Numerator: "occupiedSeconds", Denominator: "capacityUnits", Multiplier: 100, PerDayCapacity: true},
			{Name: "turnover", Numerator: "checkouts", Denominator: "capacityUnits"},
		},
		Forecast:      []string{"roomsCleaned", "cleaningSeconds", "occupiedSeconds", "checkouts"},
		SeriesColumns: []string{"roomsCleaned"},
		Charts: []ChartSpec{
			{Name: "CleaningsByCompany", ByUnit: true, Series: []string{"roomsCleaned"}},
			{Name: "CleaningsByDate", Series: []string{"roomsCleaned"}},
		},
		HasCapacity: true,
	},
}

// DefinitionFor returns the definition of domain.
func DefinitionFor(domain kpi.Domain) (*Definition, error) {
	def, ok := Definitions[domain]
	if !ok {
		return nil, errors.NewValidationError(errors.CodeInvalidDomain, fmt.Sprintf("unknown KPI domain %q", domain))
	}
	return def, nil
}
