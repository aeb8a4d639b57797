package cache

import (
	"time"

	"github.com/davidleathers/unit-kpi-backend/internal/domain/kpi"
)

// MaxLatencySamples bounds the per-domain calculation time buffer
const MaxLatencySamples = 100

// domainMetrics is mutated only under the cache lock.
type domainMetrics struct {
	hits    int64
	misses  int64
	samples [MaxLatencySamples]time.Duration
	next    int
	count   int
}

func (m *domainMetrics) observe(d time.Duration) {
	m.samples[m.next] = d
	m.next = (m.next + 1) % MaxLatencySamples
	if m.count < MaxLatencySamples {
		m.count++
	}
}

func (m *domainMetrics) snapshot(domain kpi.Domain) MetricsSnapshot {
	s := MetricsSnapshot{
		Domain:  domain,
		Hits:    m.hits,
		Misses:  m.misses,
		Samples: m.count,
	}

	if total := m.hits + m.misses; total > 0 {
		s.HitRatio = kpi.Round2(float64(m.hits) / float64(total) * 100)
	}

	if m.count > 0 {
		var sum time.Duration
		for i := 0; i < m.count; i++ {
			sum += m.samples[i]
		}
		s.AverageCalculationTime = sum / time.Duration(m.count)
		s.AverageCalculationMs = kpi.Round2(float64(s.AverageCalculationTime) / float64(time.Millisecond))
	}

	return s
}

// MetricsSnapshot reports cache effectiveness for one domain
type MetricsSnapshot struct {
	Domain                 kpi.Domain    `json:"domain"`
	Hits                   int64         `json:"hits"`
	Misses                 int64         `json:"misses"`
	HitRatio               float64       `json:"hitRatio"` // percent
	AverageCalculationTime time.Duration `json:"-"`
	AverageCalculationMs   float64       `json:"averageCalculationMs"`
	Samples                int           `json:"samples"`
}

// Stats describes the cache contents
type Stats struct {
	TotalItems  int                `json:"totalItems"`
	PerDomain   map[kpi.Domain]int `json:"perDomain"`
	OldestEntry *time.Time         `json:"oldestEntry,omitempty"`
	NewestEntry *time.Time         `json:"newestEntry,omitempty"`
}
