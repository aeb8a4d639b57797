package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/davidleathers/unit-kpi-backend/internal/infrastructure/telemetry"
)

// EnvPrefix prefixes every environment override. Nested keys are separated
// by a double underscore: KPI_CACHE__MAX_ENTRIES sets cache.max_entries.
const EnvPrefix = "KPI_"

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Server    ServerConfig     `koanf:"server"`
	Telemetry telemetry.Config `koanf:"telemetry"`
	Cache     CacheConfig      `koanf:"cache"`
	FanOut    FanOutConfig     `koanf:"fanout"`
	KPI       KPIConfig        `koanf:"kpi"`

	Units []UnitConfig `koanf:"units"`

	// Queries holds SQL text by domain and query name, for example
	// queries.company.totals.
	Queries map[string]map[string]string `koanf:"queries"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type CacheConfig struct {
	MaxEntries      int           `koanf:"max_entries"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
	CoalesceMisses  bool          `koanf:"coalesce_misses"`
}

type FanOutConfig struct {
	UnitConcurrency  int `koanf:"unit_concurrency"`
	QueryConcurrency int `koanf:"query_concurrency"`
}

type KPIConfig struct {
	Timezone     string `koanf:"timezone"`
	DayStartHour int    `koanf:"day_start_hour"`
	MaxRangeDays int    `koanf:"max_range_days"`
}

// UnitConfig describes one tenant property database
type UnitConfig struct {
	ID               string        `koanf:"id"`
	Name             string        `koanf:"name"`
	DatabaseURL      string        `koanf:"database_url"`
	MaxConns         int32         `koanf:"max_conns"`
	QueryTimeout     time.Duration `koanf:"query_timeout"`
	QueriesPerSecond float64       `koanf:"queries_per_second"`
	Burst            int           `koanf:"burst"`
}

// Defaults returns the built-in configuration
func Defaults() *Config {
	tel := telemetry.DefaultConfig()

	return &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Telemetry: *tel,
		Cache: CacheConfig{
			MaxEntries:      500,
			CleanupInterval: 5 * time.Minute,
		},
		FanOut: FanOutConfig{
			UnitConcurrency:  2,
			QueryConcurrency: 5,
		},
		KPI: KPIConfig{
			Timezone:     "America/Sao_Paulo",
			DayStartHour: 6,
			MaxRangeDays: 366,
		},
	}
}

// Load reads defaults, the optional YAML file at path and KPI_ environment
// overrides, in that order.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Telemetry.Environment = cfg.Environment

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// Validate rejects settings the engine cannot run with
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Cache.MaxEntries < 1 {
		return fmt.Errorf("cache.max_entries must be at least 1, got %d", c.Cache.MaxEntries)
	}
	if c.FanOut.UnitConcurrency < 1 {
		return fmt.Errorf("fanout.unit_concurrency must be at least 1, got %d", c.FanOut.UnitConcurrency)
	}
	if c.FanOut.QueryConcurrency < 1 {
		return fmt.Errorf("fanout.query_concurrency must be at least 1, got %d", c.FanOut.QueryConcurrency)
	}
	if c.KPI.DayStartHour < 0 || c.KPI.DayStartHour > 23 {
		return fmt.Errorf("kpi.day_start_hour must be between 0 and 23, got %d", c.KPI.DayStartHour)
	}
	if c.KPI.MaxRangeDays < 1 {
		return fmt.Errorf("kpi.max_range_days must be at least 1, got %d", c.KPI.MaxRangeDays)
	}
	if _, err := c.Location(); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(c.Units))
	for i, u := range c.Units {
		if u.ID == "" {
			return fmt.Errorf("units[%d].id is required", i)
		}
		if _, dup := seen[u.ID]; dup {
			return fmt.Errorf("units[%d].id %q is duplicated", i, u.ID)
		}
		seen[u.ID] = struct{}{}

		if u.DatabaseURL == "" {
			return fmt.Errorf("units[%d].database_url is required", i)
		}
		if u.QueriesPerSecond < 0 {
			return fmt.Errorf("units[%d].queries_per_second must not be negative", i)
		}
	}

	return nil
}

// Location returns the time zone of the commercial calendar
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.KPI.Timezone)
	if err != nil {
		return nil, fmt.Errorf("kpi.timezone %q: %w", c.KPI.Timezone, err)
	}
	return loc, nil
}

// QueryCatalog flattens Queries into "<domain>.<name>" keys
func (c *Config) QueryCatalog() map[string]string {
	catalog := make(map[string]string)
	for domain, queries := range c.Queries {
		for name, sql := range queries {
			catalog[domain+"."+name] = sql
		}
	}
	return catalog
}
