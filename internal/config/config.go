// Package config loads service configuration from a YAML file with
// environment-variable overrides for deploy-time settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"gasroute/internal/model"
)

type Config struct {
	HTTPAddr    string `yaml:"http_addr"`
	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`

	Slots     SlotConfig      `yaml:"slots"`
	Forecast  ForecastConfig  `yaml:"forecast"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
	Cost      CostConfig      `yaml:"cost"`
	Geo       GeoConfig       `yaml:"geo"`

	// WarnUtilization is the slot fill ratio above which the assembler
	// emits a near-saturation warning.
	WarnUtilization float64 `yaml:"warn_utilization"`

	// GenerateRatePerMin caps schedule-generation requests per minute.
	GenerateRatePerMin int `yaml:"generate_rate_per_min"`
}

// SlotConfig describes how a working day is partitioned into time slots.
type SlotConfig struct {
	DayStartHour   int `yaml:"day_start_hour"`
	DayEndHour     int `yaml:"day_end_hour"`
	SlotMinutes    int `yaml:"slot_minutes"`
	PerSlotPerTeam int `yaml:"per_slot_per_team"` // request capacity each team adds to a slot
}

type ForecastConfig struct {
	HorizonDays int `yaml:"horizon_days"`
}

type OptimizerConfig struct {
	// SolverStopThreshold: above this many stops the constraint solver is
	// selected regardless of mode.
	SolverStopThreshold int           `yaml:"solver_stop_threshold"`
	SolverModes         []string      `yaml:"solver_modes"` // modes that force the solver
	TimeBudget          time.Duration `yaml:"time_budget"`
	InitialTemp         float64       `yaml:"initial_temp"`
	Cooling             float64       `yaml:"cooling"`
	DistanceWeight      float64       `yaml:"distance_weight"`
	LatenessWeight      float64       `yaml:"lateness_weight"`
}

type CostConfig struct {
	PerKm         float64 `yaml:"per_km"`
	DriverPerHour float64 `yaml:"driver_per_hour"`
}

type GeoConfig struct {
	MatrixURL   string        `yaml:"matrix_url"` // empty: haversine only
	MatrixKey   string        `yaml:"matrix_key"`
	Timeout     time.Duration `yaml:"timeout"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
	AvgSpeedKph float64       `yaml:"avg_speed_kph"` // used by the haversine estimator
}

func Default() Config {
	return Config{
		HTTPAddr: ":8080",
		Slots: SlotConfig{
			DayStartHour:   8,
			DayEndHour:     18,
			SlotMinutes:    120,
			PerSlotPerTeam: 4,
		},
		Forecast: ForecastConfig{HorizonDays: 7},
		Optimizer: OptimizerConfig{
			SolverStopThreshold: 50,
			SolverModes:         []string{"cost", "quality"},
			TimeBudget:          5 * time.Second,
			InitialTemp:         1.0,
			Cooling:             0.995,
			DistanceWeight:      1.0,
			LatenessWeight:      3.0,
		},
		Cost: CostConfig{PerKm: 0.45, DriverPerHour: 22},
		Geo: GeoConfig{
			Timeout:     3 * time.Second,
			CacheTTL:    24 * time.Hour,
			AvgSpeedKph: 40,
		},
		WarnUtilization:    0.9,
		GenerateRatePerMin: 30,
	}
}

// Load reads the YAML file at path (if it exists), applies env overrides and
// validates. A missing file is fine; a malformed one is not.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("GEO_MATRIX_URL"); v != "" {
		cfg.Geo.MatrixURL = v
	}
	if v := os.Getenv("GEO_MATRIX_KEY"); v != "" {
		cfg.Geo.MatrixKey = v
	}
	if v := os.Getenv("SOLVER_STOP_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Optimizer.SolverStopThreshold = n
		}
	}
}

// Validate rejects contradictory settings. These indicate a data-integrity
// bug, so loading fails hard instead of degrading.
func (c Config) Validate() error {
	s := c.Slots
	if s.DayStartHour < 0 || s.DayEndHour > 24 || s.DayEndHour <= s.DayStartHour {
		return fmt.Errorf("%w: slot day bounds %d..%d", model.ErrBadConfig, s.DayStartHour, s.DayEndHour)
	}
	if s.SlotMinutes <= 0 || s.PerSlotPerTeam <= 0 {
		return fmt.Errorf("%w: slot_minutes=%d per_slot_per_team=%d", model.ErrBadConfig, s.SlotMinutes, s.PerSlotPerTeam)
	}
	if (s.DayEndHour-s.DayStartHour)*60%s.SlotMinutes != 0 {
		return fmt.Errorf("%w: slot_minutes=%d does not divide the working day", model.ErrBadConfig, s.SlotMinutes)
	}
	if c.Forecast.HorizonDays <= 0 {
		return fmt.Errorf("%w: horizon_days=%d", model.ErrBadConfig, c.Forecast.HorizonDays)
	}
	o := c.Optimizer
	if o.SolverStopThreshold <= 0 || o.TimeBudget <= 0 {
		return fmt.Errorf("%w: solver_stop_threshold=%d time_budget=%s", model.ErrBadConfig, o.SolverStopThreshold, o.TimeBudget)
	}
	if o.Cooling <= 0 || o.Cooling >= 1 {
		return fmt.Errorf("%w: cooling=%v must be in (0,1)", model.ErrBadConfig, o.Cooling)
	}
	if c.Cost.PerKm < 0 || c.Cost.DriverPerHour < 0 {
		return fmt.Errorf("%w: negative cost rates", model.ErrBadConfig)
	}
	if c.WarnUtilization <= 0 || c.WarnUtilization > 1 {
		return fmt.Errorf("%w: warn_utilization=%v", model.ErrBadConfig, c.WarnUtilization)
	}
	if c.Geo.AvgSpeedKph <= 0 {
		return fmt.Errorf("%w: avg_speed_kph=%v", model.ErrBadConfig, c.Geo.AvgSpeedKph)
	}
	return nil
}
