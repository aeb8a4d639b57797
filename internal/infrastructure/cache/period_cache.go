package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/davidleathers/unit-kpi-backend/internal/domain/errors"
	"github.com/davidleathers/unit-kpi-backend/internal/domain/kpi"
)

// EvictionFraction is the share of entries dropped when the cache is full
const EvictionFraction = 0.2

// Config holds period cache settings
type Config struct {
	MaxEntries      int
	CleanupInterval time.Duration
	CoalesceMisses  bool
}

// DefaultConfig returns the default period cache settings
func DefaultConfig() *Config {
	return &Config{
		MaxEntries:      500,
		CleanupInterval: 5 * time.Minute,
	}
}

// Result wraps a cached or freshly computed value
type Result[T any] struct {
	Data            T
	FromCache       bool
	CacheKey        string
	CalculationTime time.Duration
}

// Option configures a PeriodCache
type Option[T any] func(*PeriodCache[T])

// WithClock replaces the wall clock used for expiry
func WithClock[T any](clock kpi.Clock) Option[T] {
	return func(c *PeriodCache[T]) { c.clock = clock }
}

// WithRecorder forwards cache events to r
func WithRecorder[T any](r Recorder) Option[T] {
	return func(c *PeriodCache[T]) { c.recorder = r }
}

// WithCodec replaces the JSON payload codec
func WithCodec[T any](codec Codec[T]) Option[T] {
	return func(c *PeriodCache[T]) { c.codec = codec }
}

// WithRollover caps named-period entries at the boundary returned by next,
// since a named period resolves to a new window once the day rolls over.
func WithRollover[T any](next func(now time.Time) time.Time) Option[T] {
	return func(c *PeriodCache[T]) { c.rollover = next }
}

type entry struct {
	payload   []byte
	domain    kpi.Domain
	period    string
	cachedAt  time.Time
	expiresAt time.Time
	seq       uint64
}

// PeriodCache is an in-process TTL cache for computed KPI results keyed by
// domain, period and unit scope.
type PeriodCache[T any] struct {
	mu      sync.Mutex
	entries map[string]*entry
	metrics map[kpi.Domain]*domainMetrics
	seq     uint64

	config   Config
	clock    kpi.Clock
	codec    Codec[T]
	recorder Recorder
	rollover func(time.Time) time.Time
	logger   *zap.Logger
	flights  singleflight.Group

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a period cache. A positive CleanupInterval starts a background
// janitor that is stopped by Close.
func New[T any](config *Config, logger *zap.Logger, opts ...Option[T]) (*PeriodCache[T], error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxEntries < 1 {
		return nil, errors.NewValidationError("INVALID_CACHE_SIZE", "cache max entries must be at least 1")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &PeriodCache[T]{
		entries:  make(map[string]*entry),
		metrics:  make(map[kpi.Domain]*domainMetrics),
		config:   *config,
		clock:    kpi.SystemClock{},
		codec:    JSONCodec[T]{},
		recorder: noopRecorder{},
		logger:   logger.Named("period_cache"),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.config.CleanupInterval > 0 {
		go c.janitor(c.config.CleanupInterval)
	} else {
		close(c.done)
	}

	return c, nil
}

// Get returns the cached value for the request, if present and fresh.
func (c *PeriodCache[T]) Get(domain kpi.Domain, period kpi.PeriodDescriptor, scope kpi.UnitScope) (T, bool) {
	return c.get(domain, BuildKey(domain, period, scope))
}

// Set stores value under the request's key with the period's TTL.
func (c *PeriodCache[T]) Set(domain kpi.Domain, period kpi.PeriodDescriptor, value T, scope kpi.UnitScope) {
	c.set(domain, period, BuildKey(domain, period, scope), value)
}

// GetOrCalculate returns the cached value or runs compute, storing a
// successful result. Compute errors propagate and nothing is stored.
func (c *PeriodCache[T]) GetOrCalculate(
	ctx context.Context,
	domain kpi.Domain,
	period kpi.PeriodDescriptor,
	scope kpi.UnitScope,
	compute func(context.Context) (T, error),
) (Result[T], error) {
	key := BuildKey(domain, period, scope)

	if value, ok := c.get(domain, key); ok {
		return Result[T]{Data: value, FromCache: true, CacheKey: key}, nil
	}

	calculate := func() (Result[T], error) {
		start := time.Now()
		value, err := compute(ctx)
		elapsed := time.Since(start)
		if err != nil {
			return Result[T]{CacheKey: key, CalculationTime: elapsed}, err
		}

		c.observe(domain, elapsed)
		c.set(domain, period, key, value)

		return Result[T]{Data: value, CacheKey: key, CalculationTime: elapsed}, nil
	}

	if !c.config.CoalesceMisses {
		return calculate()
	}

	v, err, shared := c.flights.Do(key, func() (any, error) {
		return calculate()
	})
	res, _ := v.(Result[T])
	if shared && err == nil {
		res.Data = c.clone(key, res.Data)
	}
	return res, err
}

// clone gives a coalesced caller its own copy of value by a codec round
// trip. On a codec failure the shared value is returned.
func (c *PeriodCache[T]) clone(key string, value T) T {
	payload, err := c.codec.Encode(value)
	if err != nil {
		c.logStorageError("encode", key, err)
		return value
	}
	out, err := c.codec.Decode(payload)
	if err != nil {
		c.logStorageError("decode", key, err)
		return value
	}
	return out
}

// Invalidate drops cached entries for domain. With no periods every entry of
// the domain goes; otherwise only entries for the listed periods. It returns
// the number of entries removed.
func (c *PeriodCache[T]) Invalidate(domain kpi.Domain, periods ...kpi.PeriodDescriptor) int {
	wanted := make(map[string]struct{}, len(periods))
	for _, p := range periods {
		wanted[p.Key()] = struct{}{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if e.domain != domain {
			continue
		}
		if len(wanted) > 0 {
			if _, ok := wanted[e.period]; !ok {
				continue
			}
		}
		delete(c.entries, key)
		removed++
	}

	if removed > 0 {
		c.recorder.CacheSize(len(c.entries))
		c.logger.Debug("cache invalidated",
			zap.String("domain", string(domain)),
			zap.Int("removed", removed))
	}

	return removed
}

// PurgeExpired removes every expired entry and returns how many were dropped.
func (c *PeriodCache[T]) PurgeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	removed := 0
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}

	if removed > 0 {
		c.recorder.CacheEvicted(removed)
		c.recorder.CacheSize(len(c.entries))
	}
	return removed
}

// Stats reports entry counts and the age bounds of the cache contents.
func (c *PeriodCache[T]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		TotalItems: len(c.entries),
		PerDomain:  make(map[kpi.Domain]int),
	}

	for _, e := range c.entries {
		stats.PerDomain[e.domain]++

		cachedAt := e.cachedAt
		if stats.OldestEntry == nil || cachedAt.Before(*stats.OldestEntry) {
			oldest := cachedAt
			stats.OldestEntry = &oldest
		}
		if stats.NewestEntry == nil || cachedAt.After(*stats.NewestEntry) {
			newest := cachedAt
			stats.NewestEntry = &newest
		}
	}

	return stats
}

// Metrics returns hit and latency metrics for domain.
func (c *PeriodCache[T]) Metrics(domain kpi.Domain) MetricsSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.metrics[domain]
	if !ok {
		return MetricsSnapshot{Domain: domain}
	}
	return m.snapshot(domain)
}

// Close stops the janitor and drops every entry. It is safe to call more
// than once.
func (c *PeriodCache[T]) Close() {
	c.closeOnce.Do(func() {
		close(c.stop)
		<-c.done

		c.mu.Lock()
		c.entries = make(map[string]*entry)
		c.mu.Unlock()
	})
}

func (c *PeriodCache[T]) get(domain kpi.Domain, key string) (T, bool) {
	var zero T

	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.metricsFor(domain)

	e, ok := c.entries[key]
	if ok && c.clock.Now().After(e.expiresAt) {
		delete(c.entries, key)
		c.recorder.CacheEvicted(1)
		c.recorder.CacheSize(len(c.entries))
		ok = false
	}
	if !ok {
		m.misses++
		c.recorder.CacheMiss(string(domain))
		return zero, false
	}

	value, err := c.codec.Decode(e.payload)
	if err != nil {
		c.logStorageError("decode", key, err)
		delete(c.entries, key)
		c.recorder.CacheSize(len(c.entries))
		m.misses++
		c.recorder.CacheMiss(string(domain))
		return zero, false
	}

	m.hits++
	c.recorder.CacheHit(string(domain))
	return value, true
}

func (c *PeriodCache[T]) set(domain kpi.Domain, period kpi.PeriodDescriptor, key string, value T) {
	payload, err := c.codec.Encode(value)
	if err != nil {
		c.logStorageError("encode", key, err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.config.MaxEntries {
		c.evictOldest()
	}

	now := c.clock.Now()
	expiresAt := now.Add(TTLFor(period))
	if !period.IsCustom() && c.rollover != nil {
		if boundary := c.rollover(now); boundary.Before(expiresAt) {
			expiresAt = boundary
		}
	}

	c.seq++
	c.entries[key] = &entry{
		payload:   payload,
		domain:    domain,
		period:    period.Key(),
		cachedAt:  now,
		expiresAt: expiresAt,
		seq:       c.seq,
	}
	c.recorder.CacheSize(len(c.entries))
}

// evictOldest drops the oldest fifth of the entries, at least one. Callers
// hold c.mu.
func (c *PeriodCache[T]) evictOldest() {
	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := c.entries[keys[i]], c.entries[keys[j]]
		if !a.cachedAt.Equal(b.cachedAt) {
			return a.cachedAt.Before(b.cachedAt)
		}
		return a.seq < b.seq
	})

	n := int(float64(len(keys)) * EvictionFraction)
	if n < 1 {
		n = 1
	}
	for _, key := range keys[:n] {
		delete(c.entries, key)
	}

	c.recorder.CacheEvicted(n)
	c.logger.Debug("cache full, evicted oldest entries",
		zap.Int("evicted", n),
		zap.Int("max_entries", c.config.MaxEntries))
}

func (c *PeriodCache[T]) observe(domain kpi.Domain, d time.Duration) {
	c.mu.Lock()
	c.metricsFor(domain).observe(d)
	c.mu.Unlock()

	c.recorder.CalculationObserved(string(domain), d)
}

// metricsFor must be called with c.mu held.
func (c *PeriodCache[T]) metricsFor(domain kpi.Domain) *domainMetrics {
	m, ok := c.metrics[domain]
	if !ok {
		m = &domainMetrics{}
		c.metrics[domain] = m
	}
	return m
}

func (c *PeriodCache[T]) logStorageError(op, key string, cause error) {
	err := errors.NewCacheStorageError("cache "+op+" failed").WithCause(cause)
	c.logger.Warn("cache storage error, continuing without cache",
		zap.String("key", key),
		zap.String("op", op),
		zap.Error(err))
}

func (c *PeriodCache[T]) janitor(interval time.Duration) {
	defer close(c.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if n := c.PurgeExpired(); n > 0 {
				c.logger.Debug("purged expired cache entries", zap.Int("count", n))
			}
		}
	}
}
