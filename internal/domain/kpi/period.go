package kpi

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/davidleathers/unit-kpi-backend/internal/domain/errors"
)

// DateLayout is the ISO calendar date format used on every boundary.
const DateLayout = "2006-01-02"

const day = 24 * time.Hour

// Granularity is the width of a time-series bucket.
type Granularity string

const (
	GranularityDay   Granularity = "day"
	GranularityMonth Granularity = "month"
)

// MaxDailyBucketDays is the longest range still bucketed by day.
const MaxDailyBucketDays = 40

// DateRange is an inclusive range of civil dates. Both bounds are stored as
// midnight UTC so that arithmetic never crosses a DST transition.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// ParseDate parses an ISO date into midnight UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, errors.NewValidationError(errors.CodeInvalidTimeRange,
			fmt.Sprintf("invalid date %q, expected YYYY-MM-DD", s)).WithCause(err)
	}
	return t, nil
}

// NewDateRange builds a range from two dates, truncating any clock part.
func NewDateRange(start, end time.Time) (DateRange, error) {
	r := DateRange{Start: civil(start), End: civil(end)}
	if r.End.Before(r.Start) {
		return DateRange{}, errors.NewValidationError(errors.CodeInvalidTimeRange, "start date must not be after end date")
	}
	return r, nil
}

// ParseDateRange parses two ISO dates into a range.
func ParseDateRange(start, end string) (DateRange, error) {
	s, err := ParseDate(start)
	if err != nil {
		return DateRange{}, err
	}
	e, err := ParseDate(end)
	if err != nil {
		return DateRange{}, err
	}
	return NewDateRange(s, e)
}

// Days returns the number of calendar days covered, bounds included.
func (r DateRange) Days() int {
	if r.Start.IsZero() || r.End.Before(r.Start) {
		return 0
	}
	return int(r.End.Sub(r.Start)/day) + 1
}

// IsZero reports whether the range is unset.
func (r DateRange) IsZero() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

// Preceding returns the window of equal length ending the day before r.
func (r DateRange) Preceding() DateRange {
	days := r.Days()
	end := r.Start.Add(-day)
	return DateRange{Start: end.Add(-time.Duration(days-1) * day), End: end}
}

func (r DateRange) String() string {
	return r.Start.Format(DateLayout) + ".." + r.End.Format(DateLayout)
}

type dateRangeJSON struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// MarshalJSON renders the bounds as ISO dates.
func (r DateRange) MarshalJSON() ([]byte, error) {
	if r.IsZero() {
		return json.Marshal(dateRangeJSON{})
	}
	return json.Marshal(dateRangeJSON{Start: r.Start.Format(DateLayout), End: r.End.Format(DateLayout)})
}

// UnmarshalJSON parses ISO date bounds.
func (r *DateRange) UnmarshalJSON(data []byte) error {
	var raw dateRangeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Start == "" && raw.End == "" {
		*r = DateRange{}
		return nil
	}
	parsed, err := ParseDateRange(raw.Start, raw.End)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// NamedPeriod is a rolling period resolved against the current commercial day.
type NamedPeriod string

const (
	PeriodLast7Days       NamedPeriod = "last_7_days"
	PeriodLastClosedMonth NamedPeriod = "last_closed_month"
	PeriodYearToDate      NamedPeriod = "year_to_date"
)

// IsValid reports whether p is a known named period.
func (p NamedPeriod) IsValid() bool {
	switch p {
	case PeriodLast7Days, PeriodLastClosedMonth, PeriodYearToDate:
		return true
	}
	return false
}

// ParseNamedPeriod converts user input into a NamedPeriod.
func ParseNamedPeriod(s string) (NamedPeriod, error) {
	p := NamedPeriod(s)
	if !p.IsValid() {
		return "", errors.NewValidationError(errors.CodeInvalidPeriod, fmt.Sprintf("unknown period %q", s))
	}
	return p, nil
}

// PeriodDescriptor is either a named bucket or a custom date range.
type PeriodDescriptor struct {
	Named NamedPeriod
	Range DateRange
}

// CustomPeriod describes an explicit date range.
func CustomPeriod(r DateRange) PeriodDescriptor {
	return PeriodDescriptor{Range: r}
}

// Named describes a rolling named period.
func Named(p NamedPeriod) PeriodDescriptor {
	return PeriodDescriptor{Named: p}
}

// IsCustom reports whether the descriptor carries explicit bounds.
func (p PeriodDescriptor) IsCustom() bool {
	return p.Named == ""
}

// Key is the deterministic cache-key fragment for the period.
func (p PeriodDescriptor) Key() string {
	if !p.IsCustom() {
		return string(p.Named)
	}
	return "custom:" + p.Range.Start.Format(DateLayout) + ":" + p.Range.End.Format(DateLayout)
}

func (p PeriodDescriptor) String() string {
	return p.Key()
}

// ParsePeriodKey reverses Key.
func ParsePeriodKey(key string) (PeriodDescriptor, error) {
	if rest, ok := strings.CutPrefix(key, "custom:"); ok {
		start, end, found := strings.Cut(rest, ":")
		if !found {
			return PeriodDescriptor{}, errors.NewValidationError(errors.CodeInvalidPeriod, fmt.Sprintf("malformed period key %q", key))
		}
		r, err := ParseDateRange(start, end)
		if err != nil {
			return PeriodDescriptor{}, err
		}
		return CustomPeriod(r), nil
	}
	p, err := ParseNamedPeriod(key)
	if err != nil {
		return PeriodDescriptor{}, err
	}
	return Named(p), nil
}

func civil(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
