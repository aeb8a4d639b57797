package kpi

import (
	"fmt"
	"time"

	"github.com/davidleathers/unit-kpi-backend/internal/domain/errors"
)

// Clock provides time for domain services.
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now.
type SystemClock struct{}

// Now returns current time.
func (SystemClock) Now() time.Time { return time.Now() }

// DefaultDayStartHour is the hour at which a commercial day begins. Sales
// rung up at 02:00 belong to the previous day's shift.
const DefaultDayStartHour = 6

// Calendar converts wall-clock time into commercial dates. The tenant
// queries bucket by the same cutoff, so series alignment depends on both
// sides agreeing on it.
type Calendar struct {
	clock        Clock
	loc          *time.Location
	dayStartHour int
}

// NewCalendar creates a calendar. A nil clock means the system clock and a
// nil location means UTC.
func NewCalendar(clock Clock, loc *time.Location, dayStartHour int) *Calendar {
	if clock == nil {
		clock = SystemClock{}
	}
	if loc == nil {
		loc = time.UTC
	}
	if dayStartHour < 0 || dayStartHour > 23 {
		dayStartHour = DefaultDayStartHour
	}
	return &Calendar{clock: clock, loc: loc, dayStartHour: dayStartHour}
}

// Now returns the current instant from the calendar's clock.
func (c *Calendar) Now() time.Time {
	return c.clock.Now()
}

// DayStartHour returns the commercial day cutoff.
func (c *Calendar) DayStartHour() int {
	return c.dayStartHour
}

// Today returns the current commercial date as midnight UTC.
func (c *Calendar) Today() time.Time {
	now := c.clock.Now().In(c.loc).Add(-time.Duration(c.dayStartHour) * time.Hour)
	return civil(now)
}

// NextDayStart returns the first commercial day cutoff strictly after t.
func (c *Calendar) NextDayStart(t time.Time) time.Time {
	local := t.In(c.loc)
	cutoff := time.Date(local.Year(), local.Month(), local.Day(), c.dayStartHour, 0, 0, 0, c.loc)
	if !cutoff.After(local) {
		cutoff = time.Date(local.Year(), local.Month(), local.Day()+1, c.dayStartHour, 0, 0, 0, c.loc)
	}
	return cutoff
}

// Resolve turns a period descriptor into concrete bounds.
func (c *Calendar) Resolve(p PeriodDescriptor) (DateRange, error) {
	if p.IsCustom() {
		if p.Range.IsZero() {
			return DateRange{}, errors.NewValidationError(errors.CodeInvalidPeriod, "custom period requires start and end dates")
		}
		return p.Range, nil
	}

	today := c.Today()
	yesterday := today.Add(-day)

	switch p.Named {
	case PeriodLast7Days:
		return DateRange{Start: yesterday.Add(-6 * day), End: yesterday}, nil
	case PeriodLastClosedMonth:
		end := firstOfMonth(today).Add(-day)
		return DateRange{Start: firstOfMonth(end), End: end}, nil
	case PeriodYearToDate:
		return DateRange{Start: time.Date(yesterday.Year(), time.January, 1, 0, 0, 0, 0, time.UTC), End: yesterday}, nil
	}
	return DateRange{}, errors.NewValidationError(errors.CodeInvalidPeriod, fmt.Sprintf("unknown period %q", p.Named))
}

// PeriodMeta carries every date derived from a requested range that the
// fetch and consolidation steps need.
type PeriodMeta struct {
	Range       DateRange
	Previous    DateRange
	Granularity Granularity
	Buckets     []string

	// Month-to-date window of the current commercial month, up to
	// yesterday. Zero when the month has just started.
	MonthToDate   DateRange
	DaysElapsed   int
	DaysRemaining int
	DaysInMonth   int

	DayStartHour int
}

// Meta derives the period metadata for r.
func (c *Calendar) Meta(r DateRange) PeriodMeta {
	g := GranularityFor(r)
	today := c.Today()
	first := firstOfMonth(today)
	daysInMonth := int(first.AddDate(0, 1, 0).Sub(first) / day)
	elapsed := today.Day() - 1

	meta := PeriodMeta{
		Range:         r,
		Previous:      r.Preceding(),
		Granularity:   g,
		Buckets:       BucketKeys(r, g),
		DaysElapsed:   elapsed,
		DaysRemaining: daysInMonth - elapsed,
		DaysInMonth:   daysInMonth,
		DayStartHour:  c.dayStartHour,
	}
	if elapsed > 0 {
		meta.MonthToDate = DateRange{Start: first, End: today.Add(-day)}
	}
	return meta
}

// GranularityFor picks daily buckets for short ranges and monthly buckets
// otherwise, keeping chart payloads bounded.
func GranularityFor(r DateRange) Granularity {
	if r.Days() > MaxDailyBucketDays {
		return GranularityMonth
	}
	return GranularityDay
}

// BucketKeys lists every bucket covered by r, independent of any data.
func BucketKeys(r DateRange, g Granularity) []string {
	if r.Days() == 0 {
		return nil
	}
	var keys []string
	switch g {
	case GranularityMonth:
		for m := firstOfMonth(r.Start); !m.After(r.End); m = m.AddDate(0, 1, 0) {
			keys = append(keys, BucketKey(m, g))
		}
	default:
		keys = make([]string, 0, r.Days())
		for d := r.Start; !d.After(r.End); d = d.Add(day) {
			keys = append(keys, BucketKey(d, g))
		}
	}
	return keys
}

// BucketKey formats t as a bucket key of granularity g.
func BucketKey(t time.Time, g Granularity) string {
	if g == GranularityMonth {
		return t.Format("2006-01")
	}
	return t.Format(DateLayout)
}

var bucketLayouts = []string{DateLayout, time.RFC3339, "2006-01-02 15:04:05", "02/01/2006", "2006-01"}

// NormalizeBucket converts a raw bucket column value into a bucket key.
func NormalizeBucket(v any, g Granularity) (string, bool) {
	switch b := v.(type) {
	case time.Time:
		return BucketKey(b, g), true
	case string:
		for _, layout := range bucketLayouts {
			if t, err := time.Parse(layout, b); err == nil {
				return BucketKey(t, g), true
			}
		}
	}
	return "", false
}

func firstOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
