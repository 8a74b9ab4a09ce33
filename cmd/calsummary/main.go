package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/martinaparikova/calendar-asistant/internal/app"
	"github.com/martinaparikova/calendar-asistant/internal/config"
	appLog "github.com/martinaparikova/calendar-asistant/internal/log"
	"github.com/martinaparikova/calendar-asistant/internal/model"
	"github.com/martinaparikova/calendar-asistant/internal/pipeline"
	"github.com/martinaparikova/calendar-asistant/internal/schedule"
	"github.com/martinaparikova/calendar-asistant/internal/web"
	"github.com/martinaparikova/calendar-asistant/internal/window"
)

const version = "1.0.0"

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	mode       string
	date       string
	dryRun     bool
	serve      bool
	previewPNG bool
	logLevel   string
	noColor    bool
	listen     string
}

func main() {
	os.Exit(run())
}

func run() int {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		return 1
	}
	conf.ApplyEnv()
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	level := conf.LogLevel
	if flags.logLevel != "" {
		level = flags.logLevel
	}
	appLog.Configure(os.Stderr, appLog.ParseLevel(level), flags.noColor)
	appLog.Info("calsummary starting", "version", version)

	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		return 1
	}

	appLog.Info("effective config",
		"time_zone", conf.Timezone,
		"week_start", conf.WeekStart,
		"calendars", len(conf.Calendars),
		"expand_recurrences", conf.ExpandRecurrences,
		"history", conf.History.Path != "",
		"serve", flags.serve,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, conf, app.Options{PreviewPNG: flags.previewPNG})
	if err != nil {
		appLog.Error("failed to initialize", err)
		return 1
	}
	defer a.Close()

	dryRun := flags.dryRun || conf.DryRun

	if flags.serve {
		if err := serve(ctx, conf, a, dryRun); err != nil {
			appLog.Error("serve failed", err)
			return 1
		}
		appLog.Info("calsummary exiting")
		return 0
	}

	mode, err := window.ParseMode(flags.mode)
	if err != nil {
		appLog.Error("invalid -mode", err)
		return 2
	}
	loc, err := conf.Location()
	if err != nil {
		appLog.Error("invalid time zone", err)
		return 1
	}
	ref, err := newDateParser().Parse(flags.date, time.Now(), loc)
	if err != nil {
		appLog.Error("invalid -date", err)
		return 2
	}

	out, err := a.Run(ctx, mode, ref, dryRun)
	if err != nil {
		report(out, err)
		return 1
	}
	report(out, nil)
	return 0
}

// serve runs the scheduler and the HTTP server until ctx is cancelled.
func serve(ctx context.Context, conf *config.Config, a *app.App, dryRun bool) error {
	loc, err := conf.Location()
	if err != nil {
		return err
	}

	sched, err := schedule.New(loc, map[model.Mode]string{
		model.ModeDaily:  conf.Schedule.Daily,
		model.ModeWeekly: conf.Schedule.Weekly,
	}, func(ctx context.Context, mode model.Mode, ref time.Time) {
		out, err := a.Run(ctx, mode, ref, dryRun)
		report(out, err)
	})
	if err != nil {
		return err
	}
	sched.Start()
	defer func() {
		stopCtx, stop := context.WithTimeout(context.Background(), conf.RunTimeout)
		defer stop()
		sched.Stop(stopCtx)
	}()

	srv := web.NewServer(a, conf.BasicAuth, loc)
	return srv.ListenAndServe(ctx, conf.Listen)
}

// report logs the outcome of a run in one place so CLI and scheduled runs
// read the same.
func report(out *app.Outcome, err error) {
	var (
		runID    string
		failures int
		events   int
	)
	if out != nil {
		runID = out.RunID
		if out.Result != nil {
			failures = len(out.Result.Failures)
			events = out.Result.Summary.EventCount()
		}
	}

	switch {
	case errors.Is(err, pipeline.ErrNoSources):
		appLog.Error("run aborted: no enabled calendars", err, "run_id", runID)
	case errors.Is(err, pipeline.ErrAllSourcesFailed):
		appLog.Error("run aborted: every calendar failed, nothing sent", err, "run_id", runID, "failures", failures)
	case err != nil:
		appLog.Error("run failed", err, "run_id", runID)
	case out.Skipped:
		appLog.Info("run finished: already delivered", "run_id", runID)
	case failures > 0:
		appLog.Warn("run finished with missing calendars", "run_id", runID, "events", events, "failures", failures, "delivered", out.Delivered)
	default:
		appLog.Info("run finished", "run_id", runID, "events", events, "delivered", out.Delivered, "html", out.HTMLPath)
	}
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "config.yaml", "Path to config file (created with defaults if missing)")
	flag.StringVar(&cfg.mode, "mode", "daily", "Summary window: daily or weekly")
	flag.StringVar(&cfg.date, "date", "", `Reference date: YYYY-MM-DD or an expression like "tomorrow" (default now)`)
	flag.BoolVar(&cfg.dryRun, "dry-run", false, "Write output_<mode>.html instead of sending")
	flag.BoolVar(&cfg.serve, "serve", false, "Run the scheduler and HTTP server")
	flag.BoolVar(&cfg.previewPNG, "preview-png", false, "In dry-run, also capture output_<mode>.png with headless Chromium")
	flag.StringVar(&cfg.logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
	flag.BoolVar(&cfg.noColor, "no-color", false, "Disable colored log output")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags]\n\nBuilds a daily or weekly summary from ICS calendars.\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	return cfg
}
