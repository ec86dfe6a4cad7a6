package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"timelinecal/internal/config"
	"timelinecal/internal/engine"
	appLog "timelinecal/internal/log"
	"timelinecal/internal/model"
	"timelinecal/internal/source"
	"timelinecal/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
	logLevel   string
	logFile    string
}

func main() {
	flags := parseFlags()
	if err := run(flags, os.Stdout); err != nil {
		appLog.Error("timelinecal failed", err)
		os.Exit(1)
	}
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/timelinecal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one update cycle, print the day buckets as YAML and exit")
	flag.StringVar(&cfg.logLevel, "loglevel", "", "Log level (overrides config if set)")
	flag.StringVar(&cfg.logFile, "logfile", "", "Append logs to this file instead of stderr")

	flag.Parse()

	return cfg
}

func run(flags flagConfig, stdout io.Writer) error {
	if flags.logFile != "" {
		f, err := os.OpenFile(flags.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		appLog.SetOutput(f)
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", flags.configPath, err)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	level := conf.LogLevel
	if flags.logLevel != "" {
		level = flags.logLevel
	}
	if err := appLog.SetLevel(level); err != nil {
		return err
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"overlap_type", conf.OverlapType,
		"refresh", conf.RefreshCron,
		"horizon_days", conf.HorizonDays,
		"backfill_days", conf.BackfillDays,
		"source_count", len(conf.Sources),
		"once", flags.once,
	)

	cache := engine.NewCache(
		engine.WithDayStartMinutes(conf.DayStartMinutes),
		engine.WithStackInsetPercent(conf.StackInsetPercent),
		engine.WithMaxOccurrences(conf.MaxOccurrencesPerEvent),
	)
	refresh := func(ctx context.Context) (engine.UpdateResult, error) {
		return runCycle(ctx, conf, cache, time.Now())
	}

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if flags.once {
		if _, err := refresh(ctx); err != nil {
			return err
		}
		return dump(stdout, cache)
	}

	if _, err := refresh(ctx); err != nil {
		appLog.Error("initial update cycle failed", err)
	}

	loc, err := time.LoadLocation(conf.Timezone)
	if err != nil {
		return err
	}
	logger := cronLogger{}
	scheduler := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := scheduler.AddFunc(conf.RefreshCron, func() {
		if _, err := refresh(ctx); err != nil {
			appLog.Error("scheduled update cycle failed", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule refresh %q: %w", conf.RefreshCron, err)
	}
	scheduler.Start()
	defer func() {
		<-scheduler.Stop().Done()
	}()

	err = web.NewServer(conf, cache, refresh).ListenAndServe(ctx)
	appLog.Info("timelinecal exiting")
	return err
}

// runCycle reloads every source and slides the window to the one around
// now.
func runCycle(ctx context.Context, conf *config.Config, cache *engine.Cache, now time.Time) (engine.UpdateResult, error) {
	events, err := source.LoadAll(conf.Sources)
	if err != nil {
		// Broken sources are skipped; the rest still update the cache.
		appLog.Warn("some sources failed to load", "err", err.Error())
	}

	start, end := conf.Window(now)
	res, err := cache.Update(ctx, events, engine.Params{
		WindowStart:        start,
		WindowEnd:          end,
		TimeZone:           conf.Timezone,
		OverlapType:        conf.OverlapType,
		MinStartDifference: conf.MinStartDifference,
	})
	if err != nil {
		return res, err
	}
	appLog.Info("update cycle completed",
		"events", len(events),
		"added", len(res.Added),
		"updated", len(res.Updated),
		"deleted", len(res.Deleted),
		"changed_days", len(res.ChangedDays),
		"short_circuited", res.ShortCircuited,
		"diagnostics", len(res.Diagnostics),
	)
	return res, nil
}

// dayDump is the YAML shape of one bucket in -once output.
type dayDump struct {
	Day      model.DayKey          `yaml:"day"`
	Segments []model.PackedSegment `yaml:"segments"`
}

func dump(w io.Writer, cache *engine.Cache) error {
	start, end := cache.Window()
	out := struct {
		WindowStart time.Time `yaml:"window_start"`
		WindowEnd   time.Time `yaml:"window_end"`
		Days        []dayDump `yaml:"days"`
	}{WindowStart: start, WindowEnd: end, Days: []dayDump{}}
	for _, d := range cache.Days() {
		out.Days = append(out.Days, dayDump{Day: d, Segments: cache.OccurrencesOnDay(d)})
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encode dump: %w", err)
	}
	return enc.Close()
}

// cronLogger routes scheduler logs through the application logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
