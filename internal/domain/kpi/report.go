package kpi

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Report is the consolidated, company-wide result for one domain and
// period. It is the value stored in the period cache.
type Report struct {
	CalculationID string      `json:"calculationId"`
	Domain        Domain      `json:"domain"`
	Range         DateRange   `json:"range"`
	PreviousRange DateRange   `json:"previousRange"`
	Granularity   Granularity `json:"granularity"`
	Units         []Unit      `json:"units"`

	Current     Figures `json:"current"`
	Previous    Figures `json:"previous,omitempty"`
	MonthToDate Figures `json:"monthToDate,omitempty"`
	Forecast    Figures `json:"forecast,omitempty"`

	ByUnit map[UnitID]Figures `json:"byUnit"`
	Charts map[string]*Chart  `json:"charts"`

	GeneratedAt time.Time `json:"generatedAt"`
}

// Chart is a category/series payload ready for plotting.
type Chart struct {
	Categories []string      `json:"categories"`
	Series     []ChartSeries `json:"series"`
}

// ChartSeries is one plotted line or bar group.
type ChartSeries struct {
	Name   string    `json:"name"`
	UnitID UnitID    `json:"unitId,omitempty"`
	Data   []float64 `json:"data"`
}

// Round2 rounds v half away from zero to two decimal places. Non-finite
// values collapse to zero.
func Round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// SafeDiv divides and returns 0 for a zero denominator.
func SafeDiv(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}
