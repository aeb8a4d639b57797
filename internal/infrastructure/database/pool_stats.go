package database

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"

	"github.com/davidleathers/unit-kpi-backend/internal/domain/kpi"
)

// ConnectionStats is a point-in-time view of one unit's pool
type ConnectionStats struct {
	Unit               kpi.UnitID `json:"unit"`
	ActiveConnections  int32      `json:"activeConnections"`
	IdleConnections    int32      `json:"idleConnections"`
	TotalConnections   int32      `json:"totalConnections"`
	MaxConnections     int32      `json:"maxConnections"`
	AcquireCount       int64      `json:"acquireCount"`
	EmptyAcquireCount  int64      `json:"emptyAcquireCount"`
	MaxLifetimeClosing int64      `json:"maxLifetimeClosures"`
	BreakerState       string     `json:"breakerState"`
}

// Stats returns the pool statistics of every connected unit.
func (p *UnitPools) Stats() []ConnectionStats {
	out := make([]ConnectionStats, 0, len(p.units))
	for _, c := range p.units {
		s := c.pool.Stat()
		out = append(out, ConnectionStats{
			Unit:               c.unit.ID,
			ActiveConnections:  s.AcquiredConns(),
			IdleConnections:    s.IdleConns(),
			TotalConnections:   s.TotalConns(),
			MaxConnections:     s.MaxConns(),
			AcquireCount:       s.AcquireCount(),
			EmptyAcquireCount:  s.EmptyAcquireCount(),
			MaxLifetimeClosing: s.MaxLifetimeDestroyCount(),
			BreakerState:       c.breaker.State().String(),
		})
	}
	return out
}

// PoolCollector exports per-unit pool statistics to Prometheus. Values are
// read at scrape time.
type PoolCollector struct {
	pools *UnitPools

	connections *prometheus.Desc
	maxConns    *prometheus.Desc
	acquires    *prometheus.Desc
	breakerOpen *prometheus.Desc
}

// NewPoolCollector describes the pool metrics of pools
func NewPoolCollector(pools *UnitPools) *PoolCollector {
	return &PoolCollector{
		pools: pools,
		connections: prometheus.NewDesc(
			"pgxpool_connections",
			"Current number of connections in the unit pool",
			[]string{"unit", "state"}, nil,
		),
		maxConns: prometheus.NewDesc(
			"pgxpool_max_conns",
			"Maximum number of connections in the unit pool",
			[]string{"unit"}, nil,
		),
		acquires: prometheus.NewDesc(
			"pgxpool_acquire_count",
			"Total number of connection acquisitions",
			[]string{"unit"}, nil,
		),
		breakerOpen: prometheus.NewDesc(
			"kpi_unit_breaker_open",
			"1 when the unit circuit breaker is open",
			[]string{"unit"}, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.connections
	ch <- c.maxConns
	ch <- c.acquires
	ch <- c.breakerOpen
}

// Collect implements prometheus.Collector
func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.pools.Stats() {
		unit := string(s.Unit)
		ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(s.ActiveConnections), unit, "active")
		ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(s.IdleConnections), unit, "idle")
		ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(s.TotalConnections), unit, "total")
		ch <- prometheus.MustNewConstMetric(c.maxConns, prometheus.GaugeValue, float64(s.MaxConnections), unit)
		ch <- prometheus.MustNewConstMetric(c.acquires, prometheus.CounterValue, float64(s.AcquireCount), unit)

		open := 0.0
		if s.BreakerState == gobreaker.StateOpen.String() {
			open = 1
		}
		ch <- prometheus.MustNewConstMetric(c.breakerOpen, prometheus.GaugeValue, open, unit)
	}
}
