package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"gasroute/internal/model"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default().Slots, cfg.Slots)
}

func TestLoadYAMLOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
slots:
  day_start_hour: 9
  day_end_hour: 17
  slot_minutes: 60
  per_slot_per_team: 3
forecast:
  horizon_days: 14
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9, cfg.Slots.DayStartHour)
	require.Equal(t, 60, cfg.Slots.SlotMinutes)
	require.Equal(t, 3, cfg.Slots.PerSlotPerTeam)
	require.Equal(t, 14, cfg.Forecast.HorizonDays)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("slots: ["), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("SOLVER_STOP_THRESHOLD", "75")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":9999", cfg.HTTPAddr)
	require.Equal(t, 75, cfg.Optimizer.SolverStopThreshold)
}

func TestValidateRejectsBadSettings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"inverted day bounds", func(c *Config) { c.Slots.DayStartHour = 18; c.Slots.DayEndHour = 8 }},
		{"slot does not divide day", func(c *Config) { c.Slots.SlotMinutes = 85 }},
		{"zero horizon", func(c *Config) { c.Forecast.HorizonDays = 0 }},
		{"cooling out of range", func(c *Config) { c.Optimizer.Cooling = 1.5 }},
		{"negative cost", func(c *Config) { c.Cost.PerKm = -1 }},
		{"utilization above one", func(c *Config) { c.WarnUtilization = 1.2 }},
		{"zero avg speed", func(c *Config) { c.Geo.AvgSpeedKph = 0 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, model.ErrBadConfig)
		})
	}
}
