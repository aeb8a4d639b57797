package database

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/davidleathers/unit-kpi-backend/internal/domain/errors"
	"github.com/davidleathers/unit-kpi-backend/internal/domain/kpi"
	"github.com/davidleathers/unit-kpi-backend/internal/infrastructure/config"
)

// Pool defaults
const (
	DefaultMaxConns     = 4
	DefaultQueryTimeout = 30 * time.Second
	PingTimeout         = 10 * time.Second
)

// QueryObserver receives per-query outcomes
type QueryObserver interface {
	QueryCompleted(ctx context.Context, unit kpi.UnitID, query string, d time.Duration, err error)
}

type unitConn struct {
	unit    kpi.Unit
	pool    *pgxpool.Pool
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	timeout time.Duration
}

// UnitPools holds one connection pool per reachable unit database and runs
// catalog queries against them.
type UnitPools struct {
	units    []*unitConn
	byID     map[kpi.UnitID]*unitConn
	catalog  map[string]string
	logger   *zap.Logger
	observer QueryObserver
}

// NewUnitPools connects to every configured unit. Units whose database
// cannot be reached at startup are logged and left out of the connected
// set; they do not fail construction.
func NewUnitPools(ctx context.Context, units []config.UnitConfig, catalog map[string]string, logger *zap.Logger, observer QueryObserver) (*UnitPools, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	p := &UnitPools{
		byID:     make(map[kpi.UnitID]*unitConn, len(units)),
		catalog:  catalog,
		logger:   logger.Named("unit_pools"),
		observer: observer,
	}

	for _, uc := range units {
		conn, err := p.connect(ctx, uc)
		if err != nil {
			p.logger.Warn("unit database unavailable, excluding from connected units",
				zap.String("unit_id", uc.ID),
				zap.String("unit_name", uc.Name),
				zap.Error(err))
			continue
		}
		p.units = append(p.units, conn)
		p.byID[conn.unit.ID] = conn
	}

	p.logger.Info("unit pools initialized",
		zap.Int("configured", len(units)),
		zap.Int("connected", len(p.units)),
		zap.Int("queries", len(catalog)))

	return p, nil
}

func (p *UnitPools) connect(ctx context.Context, uc config.UnitConfig) (*unitConn, error) {
	poolConfig, err := pgxpool.ParseConfig(uc.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = DefaultMaxConns
	if uc.MaxConns > 0 {
		poolConfig.MaxConns = uc.MaxConns
	}
	poolConfig.MinConns = 0
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 10 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute
	poolConfig.ConnConfig.ConnectTimeout = 5 * time.Second
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "unit_kpi_backend"
	poolConfig.ConnConfig.RuntimeParams["default_transaction_read_only"] = "on"

	pingCtx, cancel := context.WithTimeout(ctx, PingTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(pingCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping unit database: %w", err)
	}

	timeout := uc.QueryTimeout
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}

	var limiter *rate.Limiter
	if uc.QueriesPerSecond > 0 {
		burst := uc.Burst
		if burst < 1 {
			burst = int(math.Max(1, math.Ceil(uc.QueriesPerSecond)))
		}
		limiter = rate.NewLimiter(rate.Limit(uc.QueriesPerSecond), burst)
	}

	name := uc.Name
	if name == "" {
		name = uc.ID
	}

	return &unitConn{
		unit:    kpi.Unit{ID: kpi.UnitID(uc.ID), Name: name},
		pool:    pool,
		breaker: p.newBreaker(uc.ID),
		limiter: limiter,
		timeout: timeout,
	}, nil
}

func (p *UnitPools) newBreaker(unitID string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "unit-" + unitID,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: breakerSuccessful,
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.logger.Warn("unit circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
}

// abortedError marks a query error caused by the caller giving up rather
// than by the unit database.
type abortedError struct {
	err error
}

func (e *abortedError) Error() string { return e.err.Error() }
func (e *abortedError) Unwrap() error { return e.err }

// callerAborted wraps err when the caller's own context ended. The unit's
// query timeout is derived below parent, so it still counts as a failure.
func callerAborted(parent context.Context, err error) error {
	if err == nil || parent.Err() == nil {
		return err
	}
	return &abortedError{err: err}
}

// breakerSuccessful keeps caller cancellations from tripping a unit breaker.
func breakerSuccessful(err error) bool {
	if err == nil {
		return true
	}
	var aborted *abortedError
	return stderrors.As(err, &aborted) || stderrors.Is(err, context.Canceled)
}

// ListConnectedUnits returns the reachable units in configuration order.
func (p *UnitPools) ListConnectedUnits(context.Context) ([]kpi.Unit, error) {
	units := make([]kpi.Unit, len(p.units))
	for i, c := range p.units {
		units[i] = c.unit
	}
	return units, nil
}

// Query runs a catalog query against one unit with the unit's timeout,
// rate limit and circuit breaker applied.
func (p *UnitPools) Query(ctx context.Context, unit kpi.UnitID, queryName string, params kpi.QueryParams) (kpi.RawRows, error) {
	sql, ok := p.catalog[queryName]
	if !ok {
		return nil, errors.NewNotFoundError("query " + queryName)
	}
	conn, ok := p.byID[unit]
	if !ok {
		return nil, errors.NewConfigurationError(errors.CodeUnitNotConnected, fmt.Sprintf("unit %q is not connected", unit))
	}

	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, conn.timeout)
	defer cancel()

	if conn.limiter != nil {
		if err := conn.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	start := time.Now()
	out, err := conn.breaker.Execute(func() (interface{}, error) {
		rows, err := p.run(ctx, conn.pool, sql, params)
		return rows, callerAborted(parent, err)
	})
	if p.observer != nil {
		p.observer.QueryCompleted(ctx, unit, queryName, time.Since(start), err)
	}
	if err != nil {
		return nil, fmt.Errorf("unit %s query %s: %w", unit, queryName, err)
	}

	p.logger.Debug("unit query completed",
		zap.String("unit_id", string(unit)),
		zap.String("query", queryName),
		zap.Duration("duration", time.Since(start)))

	return out.(kpi.RawRows), nil
}

func (p *UnitPools) run(ctx context.Context, pool *pgxpool.Pool, sql string, params kpi.QueryParams) (kpi.RawRows, error) {
	rows, err := pool.Query(ctx, sql, namedArgs(params))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	out := kpi.RawRows{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(kpi.Row, len(fields))
		for i, fd := range fields {
			row[fd.Name] = convertValue(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Close releases every pool
func (p *UnitPools) Close() {
	for _, c := range p.units {
		c.pool.Close()
	}
}

func namedArgs(params kpi.QueryParams) pgx.NamedArgs {
	return pgx.NamedArgs{
		"start":          params.Start,
		"end":            params.End,
		"granularity":    string(params.Granularity),
		"day_start_hour": params.DayStartHour,
	}
}

// convertValue maps driver values onto the Row value set: float64, int64,
// string, bool, time.Time or nil.
func convertValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case float64:
		return x
	case float32:
		return float64(x)
	case int64:
		return x
	case int32:
		return int64(x)
	case int16:
		return int64(x)
	case int8:
		return int64(x)
	case int:
		return int64(x)
	case string:
		return x
	case bool:
		return x
	case time.Time:
		return x
	case []byte:
		return string(x)
	case pgtype.Numeric:
		if !x.Valid || x.NaN {
			return nil
		}
		f, err := x.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case pgtype.Date:
		if !x.Valid {
			return nil
		}
		return x.Time
	case pgtype.Interval:
		if !x.Valid {
			return nil
		}
		seconds := float64(x.Microseconds)/1e6 + float64(x.Days)*86400 + float64(x.Months)*30*86400
		return seconds
	}
	return fmt.Sprint(v)
}
