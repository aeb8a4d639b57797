package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CacheRecorder exports period cache events as Prometheus metrics.
type CacheRecorder struct {
	hits        *prometheus.CounterVec
	misses      *prometheus.CounterVec
	evictions   prometheus.Counter
	entries     prometheus.Gauge
	calculation *prometheus.HistogramVec
}

// NewCacheRecorder registers the cache metrics on reg.
func NewCacheRecorder(reg prometheus.Registerer) *CacheRecorder {
	factory := promauto.With(reg)

	return &CacheRecorder{
		hits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kpi",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Period cache hits by domain",
		}, []string{"domain"}),
		misses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kpi",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Period cache misses by domain",
		}, []string{"domain"}),
		evictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kpi",
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Entries removed by expiry or size pressure",
		}),
		entries: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "kpi",
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Current number of cached reports",
		}),
		calculation: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kpi",
			Subsystem: "report",
			Name:      "calculation_duration_seconds",
			Help:      "Time to compute a report on a cache miss",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		}, []string{"domain"}),
	}
}

func (r *CacheRecorder) CacheHit(domain string) {
	r.hits.WithLabelValues(domain).Inc()
}

func (r *CacheRecorder) CacheMiss(domain string) {
	r.misses.WithLabelValues(domain).Inc()
}

func (r *CacheRecorder) CacheEvicted(count int) {
	r.evictions.Add(float64(count))
}

func (r *CacheRecorder) CacheSize(entries int) {
	r.entries.Set(float64(entries))
}

func (r *CacheRecorder) CalculationObserved(domain string, d time.Duration) {
	r.calculation.WithLabelValues(domain).Observe(d.Seconds())
}
