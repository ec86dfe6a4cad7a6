package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"timelinecal/internal/model"
	"timelinecal/internal/source"
)

const (
	defaultListen         = "127.0.0.1:8080"
	defaultTimezone       = "UTC"
	defaultRefresh        = "*/15 * * * *"
	defaultHorizonDays    = 14
	defaultLogLevel       = "info"
	defaultStackInset     = 10
	defaultMaxOccurrences = 5000
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the query API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA display zone (e.g. "Europe/Berlin").
	Timezone string `yaml:"timezone" json:"timezone"`

	// OverlapType selects the layout mode: "no-overlap" (equal division)
	// or "overlap" (stacking).
	OverlapType model.OverlapType `yaml:"overlap_type" json:"overlap_type"`

	// MinStartDifference is the minimum start gap, in minutes, below which
	// two segments are treated as starting together.
	MinStartDifference int `yaml:"min_start_difference" json:"min_start_difference"`

	// DayStartMinutes shifts the rendered day start (0 = midnight).
	DayStartMinutes int `yaml:"day_start_minutes" json:"day_start_minutes"`

	// StackInsetPercent is the per-level inset in stacking mode.
	StackInsetPercent float64 `yaml:"stack_inset_percent" json:"stack_inset_percent"`

	// MaxOccurrencesPerEvent caps recurrence expansion per definition.
	MaxOccurrencesPerEvent int `yaml:"max_occurrences_per_event" json:"max_occurrences_per_event"`

	// HorizonDays and BackfillDays size the window around today.
	HorizonDays  int `yaml:"horizon_days" json:"horizon_days"`
	BackfillDays int `yaml:"backfill_days" json:"backfill_days"`

	// RefreshCron is a standard 5-field cron schedule (e.g. "*/15 * * * *")
	// for reloading sources and sliding the window.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	// Sources lists the event files to load on every cycle.
	Sources []source.File `yaml:"sources" json:"sources"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:                 defaultListen,
		Timezone:               defaultTimezone,
		OverlapType:            model.OverlapNone,
		StackInsetPercent:      defaultStackInset,
		MaxOccurrencesPerEvent: defaultMaxOccurrences,
		HorizonDays:            defaultHorizonDays,
		RefreshCron:            defaultRefresh,
		LogLevel:               defaultLogLevel,
		Sources:                []source.File{},
	}
}

// Normalize fills in missing/zero values with defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.OverlapType == "" {
		c.OverlapType = model.OverlapNone
	}
	if c.MinStartDifference < 0 {
		c.MinStartDifference = 0
	}
	if c.StackInsetPercent <= 0 {
		c.StackInsetPercent = defaultStackInset
	}
	if c.MaxOccurrencesPerEvent <= 0 {
		c.MaxOccurrencesPerEvent = defaultMaxOccurrences
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = defaultHorizonDays
	}
	if c.BackfillDays < 0 {
		c.BackfillDays = 0
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefresh
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.Sources == nil {
		c.Sources = []source.File{}
	}
	for i := range c.Sources {
		if c.Sources[i].ID == "" {
			c.Sources[i].ID = filepath.Base(c.Sources[i].Path)
		}
	}
}

// Validate reports every setting that Normalize cannot repair.
func (c *Config) Validate() error {
	var errs []error
	switch c.OverlapType {
	case model.OverlapNone, model.OverlapStack:
	default:
		errs = append(errs, fmt.Errorf("overlap_type %q: want %q or %q", c.OverlapType, model.OverlapNone, model.OverlapStack))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	if c.DayStartMinutes < 0 || c.DayStartMinutes >= 24*60 {
		errs = append(errs, fmt.Errorf("day_start_minutes %d: want 0-1439", c.DayStartMinutes))
	}
	if c.StackInsetPercent >= 100 {
		errs = append(errs, fmt.Errorf("stack_inset_percent %g: want below 100", c.StackInsetPercent))
	}
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		errs = append(errs, fmt.Errorf("refresh %q: %w", c.RefreshCron, err))
	}
	for i, s := range c.Sources {
		if s.Path == "" {
			errs = append(errs, fmt.Errorf("sources[%d]: path is empty", i))
		}
	}
	return errors.Join(errs...)
}

// Window returns the [start, end) range the config covers around now, in
// the configured zone.
func (c *Config) Window(now time.Time) (time.Time, time.Time) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return today.AddDate(0, 0, -c.BackfillDays), today.AddDate(0, 0, c.HorizonDays)
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is unmarshalled, normalized and validated.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// Save writes cfg to path atomically via a temp file + rename, with 0600
// permissions and a 0700 parent directory.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".timelinecal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
