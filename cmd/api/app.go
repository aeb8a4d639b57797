package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/davidleathers/unit-kpi-backend/internal/domain/kpi"
	"github.com/davidleathers/unit-kpi-backend/internal/infrastructure/cache"
	"github.com/davidleathers/unit-kpi-backend/internal/infrastructure/config"
	"github.com/davidleathers/unit-kpi-backend/internal/infrastructure/database"
	"github.com/davidleathers/unit-kpi-backend/internal/infrastructure/telemetry"
	"github.com/davidleathers/unit-kpi-backend/internal/metrics"
	"github.com/davidleathers/unit-kpi-backend/internal/service/fanout"
	"github.com/davidleathers/unit-kpi-backend/internal/service/reporting"
)

// app is the fully wired process shared by every command
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	telemetry *telemetry.Provider
	registry  *prometheus.Registry
	pools     *database.UnitPools
	cache     *cache.PeriodCache[*kpi.Report]
	service   *reporting.Orchestrator
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	a := &app{cfg: cfg, logger: logger}
	if err := a.wire(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg
	cfg.Telemetry.ServiceVersion = cfg.Version

	provider, err := telemetry.InitializeOpenTelemetry(ctx, &cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.telemetry = provider

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	fanoutMetrics, err := metrics.NewRegistry("unit-kpi-backend/fanout")
	if err != nil {
		return fmt.Errorf("failed to create fan-out instruments: %w", err)
	}

	a.pools, err = database.NewUnitPools(ctx, cfg.Units, cfg.QueryCatalog(), a.logger, fanoutMetrics)
	if err != nil {
		return fmt.Errorf("failed to connect unit databases: %w", err)
	}
	a.registry.MustRegister(database.NewPoolCollector(a.pools))

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	calendar := kpi.NewCalendar(kpi.SystemClock{}, loc, cfg.KPI.DayStartHour)

	a.cache, err = cache.New[*kpi.Report](&cache.Config{
		MaxEntries:      cfg.Cache.MaxEntries,
		CleanupInterval: cfg.Cache.CleanupInterval,
		CoalesceMisses:  cfg.Cache.CoalesceMisses,
	}, a.logger,
		cache.WithRecorder[*kpi.Report](metrics.NewCacheRecorder(a.registry)),
		cache.WithRollover[*kpi.Report](calendar.NextDayStart),
	)
	if err != nil {
		return fmt.Errorf("failed to create period cache: %w", err)
	}

	fetcher, err := fanout.NewFetcher(&fanout.Config{
		UnitConcurrency:  cfg.FanOut.UnitConcurrency,
		QueryConcurrency: cfg.FanOut.QueryConcurrency,
	}, a.logger, fanoutMetrics)
	if err != nil {
		return fmt.Errorf("failed to create fetcher: %w", err)
	}

	a.service, err = reporting.NewOrchestrator(a.pools, a.cache, fetcher, calendar,
		&reporting.Config{MaxRangeDays: cfg.KPI.MaxRangeDays}, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create reporting service: %w", err)
	}

	return nil
}

// Close releases resources in reverse wiring order
func (a *app) Close(ctx context.Context) {
	if a.cache != nil {
		a.cache.Close()
	}
	if a.pools != nil {
		a.pools.Close()
	}
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(ctx); err != nil {
			a.logger.Warn("failed to shutdown telemetry", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
