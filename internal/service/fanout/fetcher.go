package fanout

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/davidleathers/unit-kpi-backend/internal/domain/errors"
	"github.com/davidleathers/unit-kpi-backend/internal/domain/kpi"
)

// Default concurrency limits
const (
	DefaultUnitConcurrency  = 2
	DefaultQueryConcurrency = 5
)

// Config holds fan-out limits
type Config struct {
	UnitConcurrency  int
	QueryConcurrency int
}

// DefaultConfig returns the default fan-out limits
func DefaultConfig() *Config {
	return &Config{
		UnitConcurrency:  DefaultUnitConcurrency,
		QueryConcurrency: DefaultQueryConcurrency,
	}
}

// Validate rejects limits below one
func (c *Config) Validate() error {
	if c.UnitConcurrency < 1 || c.QueryConcurrency < 1 {
		return errors.NewValidationError(errors.CodeInvalidLimit, "fan-out concurrency limits must be at least 1")
	}
	return nil
}

// UnitLoader fetches the raw aggregate of one unit. queryLimit is the
// number of sub-queries the loader may run concurrently.
type UnitLoader func(ctx context.Context, unit kpi.Unit, queryLimit int) (*kpi.UnitAggregate, error)

// Observer receives per-unit fetch outcomes.
type Observer interface {
	UnitFetched(ctx context.Context, domain kpi.Domain, unit kpi.UnitID, d time.Duration, err error)
}

type noopObserver struct{}

func (noopObserver) UnitFetched(context.Context, kpi.Domain, kpi.UnitID, time.Duration, error) {}

// Fetcher runs a unit loader across units with bounded concurrency and
// tolerates partial failure.
type Fetcher struct {
	config   Config
	logger   *zap.Logger
	tracer   trace.Tracer
	observer Observer
}

// NewFetcher creates a fan-out fetcher. observer may be nil.
func NewFetcher(config *Config, logger *zap.Logger, observer Observer) (*Fetcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if observer == nil {
		observer = noopObserver{}
	}

	return &Fetcher{
		config:   *config,
		logger:   logger.Named("fanout"),
		tracer:   otel.Tracer("unit-kpi-backend/fanout"),
		observer: observer,
	}, nil
}

// Fetch loads every unit with at most UnitConcurrency loaders in flight. A
// failing unit is logged and skipped; the surviving aggregates keep unit
// order. If every unit fails the result is a NO_UNIT_DATA error.
func (f *Fetcher) Fetch(ctx context.Context, domain kpi.Domain, units []kpi.Unit, load UnitLoader) ([]*kpi.UnitAggregate, error) {
	if len(units) == 0 {
		return nil, errors.NewUnavailableError(errors.CodeNoUnitData, "no units to fetch")
	}

	tasks := make([]Task[*kpi.UnitAggregate], len(units))
	for i, unit := range units {
		tasks[i] = func(ctx context.Context) (*kpi.UnitAggregate, error) {
			return f.fetchUnit(ctx, domain, unit, load)
		}
	}

	settled, err := RunSettled(ctx, f.config.UnitConcurrency, tasks)
	if err != nil {
		return nil, err
	}

	aggregates := make([]*kpi.UnitAggregate, 0, len(settled))
	var failed []string
	for i, s := range settled {
		if s.Err != nil {
			failed = append(failed, string(units[i].ID))
			f.logger.Warn("unit fetch failed, excluding from consolidation",
				zap.String("domain", string(domain)),
				zap.String("unit_id", string(units[i].ID)),
				zap.String("unit_name", units[i].Name),
				zap.Error(s.Err))
			continue
		}
		if s.Value != nil {
			aggregates = append(aggregates, s.Value)
		}
	}

	if len(aggregates) == 0 {
		return nil, errors.NewUnavailableError(errors.CodeNoUnitData,
			fmt.Sprintf("no unit returned data for %s", domain)).
			WithDetails(map[string]interface{}{"failed_units": failed})
	}

	if len(failed) > 0 {
		f.logger.Info("consolidating partial unit set",
			zap.String("domain", string(domain)),
			zap.Int("succeeded", len(aggregates)),
			zap.Strings("failed_units", failed))
	}

	return aggregates, nil
}

func (f *Fetcher) fetchUnit(ctx context.Context, domain kpi.Domain, unit kpi.Unit, load UnitLoader) (*kpi.UnitAggregate, error) {
	ctx, span := f.tracer.Start(ctx, "fanout.fetch_unit",
		trace.WithAttributes(
			attribute.String("kpi.domain", string(domain)),
			attribute.String("kpi.unit_id", string(unit.ID)),
		),
	)
	defer span.End()

	start := time.Now()
	agg, err := call[*kpi.UnitAggregate](ctx, func(ctx context.Context) (*kpi.UnitAggregate, error) {
		return load(ctx, unit, f.config.QueryConcurrency)
	})
	f.observer.UnitFetched(ctx, domain, unit.ID, time.Since(start), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return agg, nil
}
