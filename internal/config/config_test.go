package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timelinecal/internal/config"
	"timelinecal/internal/model"
	"timelinecal/internal/source"
)

func TestLoadCreatesDefault(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), cfg)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadNormalizes(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
timezone: Europe/Berlin
overlap_type: overlap
min_start_difference: 15
backfill_days: -3
sources:
  - path: /data/team.ics
  - id: personal
    path: /data/personal.yaml
`), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", cfg.Timezone)
	assert.Equal(t, model.OverlapStack, cfg.OverlapType)
	assert.Equal(t, 15, cfg.MinStartDifference)
	assert.Equal(t, 0, cfg.BackfillDays)
	assert.Equal(t, 14, cfg.HorizonDays)
	assert.Equal(t, "*/15 * * * *", cfg.RefreshCron)
	assert.Equal(t, []source.File{
		{ID: "team.ics", Path: "/data/team.ics"},
		{ID: "personal", Path: "/data/personal.yaml"},
	}, cfg.Sources)
}

func TestValidate(t *testing.T) {
	for name, test := range map[string]struct {
		mutate   func(*config.Config)
		contains string
	}{
		"overlap_type": {func(c *config.Config) { c.OverlapType = "tiles" }, "overlap_type"},
		"timezone":     {func(c *config.Config) { c.Timezone = "Mars/Olympus" }, "timezone"},
		"refresh":      {func(c *config.Config) { c.RefreshCron = "every minute" }, "refresh"},
		"day_start":    {func(c *config.Config) { c.DayStartMinutes = 1440 }, "day_start_minutes"},
		"stack_inset":  {func(c *config.Config) { c.StackInsetPercent = 100 }, "stack_inset_percent"},
		"source_path":  {func(c *config.Config) { c.Sources = []source.File{{ID: "x"}} }, "sources[0]"},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			cfg := config.DefaultConfig()
			test.mutate(cfg)
			require.ErrorContains(t, cfg.Validate(), test.contains)
		})
	}

	require.NoError(t, config.DefaultConfig().Validate())
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("refresh: \"61 * * * *\"\n"), 0o600))
	_, err := config.Load(path)
	require.ErrorContains(t, err, "refresh")

	require.NoError(t, os.WriteFile(path, []byte("listen: [\n"), 0o600))
	_, err = config.Load(path)
	require.Error(t, err)

	_, err = config.Load("")
	require.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}
	cfg.Sources = []source.File{{ID: "team", Path: "team.ics"}}
	require.NoError(t, config.Save(path, cfg))

	loaded, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	require.Error(t, config.Save(path, nil))
}

func TestWindow(t *testing.T) {
	t.Parallel()
	cfg := config.DefaultConfig()
	cfg.Timezone = "Asia/Seoul"
	cfg.BackfillDays = 1
	cfg.HorizonDays = 7

	// 20:00 UTC on June 2 is already June 3 in Seoul.
	start, end := cfg.Window(time.Date(2025, 6, 2, 20, 0, 0, 0, time.UTC))
	seoul, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)
	assert.True(t, start.Equal(time.Date(2025, 6, 2, 0, 0, 0, 0, seoul)))
	assert.True(t, end.Equal(time.Date(2025, 6, 10, 0, 0, 0, 0, seoul)))
}
