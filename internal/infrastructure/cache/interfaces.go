package cache

import (
	"encoding/json"
	"time"

	"github.com/davidleathers/unit-kpi-backend/internal/domain/kpi"
)

// KeyPrefix namespaces every period cache key
const KeyPrefix = "kpi:"

// TTL values for the period cache
const (
	Last7DaysTTL       = 6 * time.Hour
	LastClosedMonthTTL = 24 * time.Hour
	YearToDateTTL      = 24 * time.Hour

	ShortRangeTTL  = 10 * time.Minute // custom ranges up to 10 days
	MediumRangeTTL = 30 * time.Minute // custom ranges of 11 to 30 days
	LongRangeTTL   = 3 * time.Hour    // custom ranges longer than 30 days

	DefaultTTL = ShortRangeTTL
)

// Day-span thresholds for custom ranges
const (
	ShortRangeMaxDays  = 10
	MediumRangeMaxDays = 30
)

// namedTTL is the fixed lookup table for rolling periods.
var namedTTL = map[kpi.NamedPeriod]time.Duration{
	kpi.PeriodLast7Days:       Last7DaysTTL,
	kpi.PeriodLastClosedMonth: LastClosedMonthTTL,
	kpi.PeriodYearToDate:      YearToDateTTL,
}

// TTLFor returns how long a result for period stays fresh. Short and recent
// ranges still receive new transactions, long historical ones are stable.
func TTLFor(period kpi.PeriodDescriptor) time.Duration {
	if !period.IsCustom() {
		if ttl, ok := namedTTL[period.Named]; ok {
			return ttl
		}
		return DefaultTTL
	}

	days := period.Range.Days()
	switch {
	case days <= ShortRangeMaxDays:
		return ShortRangeTTL
	case days <= MediumRangeMaxDays:
		return MediumRangeTTL
	default:
		return LongRangeTTL
	}
}

// BuildKey derives the cache key for a request. Identical requests always
// produce identical keys.
func BuildKey(domain kpi.Domain, period kpi.PeriodDescriptor, scope kpi.UnitScope) string {
	key := KeyPrefix + string(domain) + ":" + period.Key()
	if !scope.IsAll() {
		key += ":unit:" + string(scope)
	}
	return key
}

// Recorder receives cache events for external metrics. Implementations
// must be safe for concurrent use.
type Recorder interface {
	CacheHit(domain string)
	CacheMiss(domain string)
	CacheEvicted(count int)
	CacheSize(entries int)
	CalculationObserved(domain string, d time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) CacheHit(string)                           {}
func (noopRecorder) CacheMiss(string)                          {}
func (noopRecorder) CacheEvicted(int)                          {}
func (noopRecorder) CacheSize(int)                             {}
func (noopRecorder) CalculationObserved(string, time.Duration) {}

// Codec turns cached values into independent byte payloads and back, so a
// value handed out by the cache never aliases the stored entry.
type Codec[T any] interface {
	Encode(value T) ([]byte, error)
	Decode(data []byte) (T, error)
}

// JSONCodec stores values as JSON
type JSONCodec[T any] struct{}

func (JSONCodec[T]) Encode(value T) ([]byte, error) {
	return json.Marshal(value)
}

func (JSONCodec[T]) Decode(data []byte) (T, error) {
	var value T
	err := json.Unmarshal(data, &value)
	return value, err
}
