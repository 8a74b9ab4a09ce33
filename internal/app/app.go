// Package app assembles the configured pipeline, renderers, transports and
// run ledger into the operations the CLI, web server and scheduler share.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/martinaparikova/calendar-asistant/internal/capture"
	"github.com/martinaparikova/calendar-asistant/internal/config"
	"github.com/martinaparikova/calendar-asistant/internal/history"
	"github.com/martinaparikova/calendar-asistant/internal/ics"
	appLog "github.com/martinaparikova/calendar-asistant/internal/log"
	"github.com/martinaparikova/calendar-asistant/internal/model"
	"github.com/martinaparikova/calendar-asistant/internal/notify"
	"github.com/martinaparikova/calendar-asistant/internal/pipeline"
	"github.com/martinaparikova/calendar-asistant/internal/render"
	"github.com/martinaparikova/calendar-asistant/internal/window"
)

// Options overrides collaborators; zero values build them from config.
type Options struct {
	Fetcher   pipeline.Fetcher
	Notifiers []notify.Notifier
	Store     *history.Store
	Now       func() time.Time
	// PreviewPNG captures output_<mode>.png next to the HTML in dry-run.
	PreviewPNG bool
}

// App is safe for concurrent use; every run builds its own state.
type App struct {
	cfg        *config.Config
	loc        *time.Location
	runner     *pipeline.Runner
	notifiers  []notify.Notifier
	store      *history.Store
	ownStore   bool
	now        func() time.Time
	previewPNG bool
}

// New builds an App from a validated config.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("app: time zone: %w", err)
	}

	f := opts.Fetcher
	if f == nil {
		f = ics.NewFetcher(ics.FetcherOptions{
			Timeout:        cfg.FetchTimeout,
			Retries:        cfg.RetryCount(),
			MaxConcurrency: cfg.MaxConcurrency,
			CacheDir:       cfg.CacheDir,
		})
	}

	a := &App{
		cfg:        cfg,
		loc:        loc,
		runner:     pipeline.NewRunner(f),
		notifiers:  opts.Notifiers,
		store:      opts.Store,
		now:        opts.Now,
		previewPNG: opts.PreviewPNG,
	}
	if a.now == nil {
		a.now = time.Now
	}
	if a.notifiers == nil {
		if a.notifiers, err = Notifiers(cfg); err != nil {
			return nil, err
		}
	}
	if a.store == nil && cfg.History.Path != "" {
		if a.store, err = history.Open(ctx, cfg.History.Path); err != nil {
			return nil, err
		}
		a.ownStore = true
	}
	return a, nil
}

// Close releases the run ledger if App opened it.
func (a *App) Close() error {
	if a.ownStore && a.store != nil {
		return a.store.Close()
	}
	return nil
}

// Notifiers builds the enabled transports in a fixed order.
func Notifiers(cfg *config.Config) ([]notify.Notifier, error) {
	var out []notify.Notifier
	if cfg.SMTP.Enabled {
		out = append(out, notify.NewEmail(notify.EmailConfig{
			Server:   cfg.SMTP.Server,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			To:       cfg.SMTP.To,
			StartTLS: cfg.SMTP.StartTLS(),
		}))
	}
	if cfg.Slack.Enabled && cfg.Slack.WebhookURL != "" {
		out = append(out, notify.NewSlackWebhook(cfg.Slack.WebhookURL))
	}
	if cfg.SlackBot.Enabled {
		out = append(out, notify.NewSlackBot(cfg.SlackBot.Token, cfg.SlackBot.ChannelID))
	}
	if cfg.Discord.Enabled && cfg.Discord.WebhookURL != "" {
		d, err := notify.NewDiscord(cfg.Discord.WebhookURL)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		out = append(out, d)
	}
	return out, nil
}

// Window returns the reporting window of mode around ref.
func (a *App) Window(mode model.Mode, ref time.Time) (window.Window, error) {
	return window.For(mode, ref, a.loc, a.cfg.WeekStartDay(), a.cfg.DailyOffsetDays, a.cfg.WeeklyOffsetWeeks)
}

// Summarize runs the pipeline for mode around ref. A zero ref means now.
func (a *App) Summarize(ctx context.Context, mode model.Mode, ref time.Time) (*pipeline.Result, error) {
	return a.summarize(ctx, a.runner, mode, ref)
}

func (a *App) summarize(ctx context.Context, r *pipeline.Runner, mode model.Mode, ref time.Time) (*pipeline.Result, error) {
	if ref.IsZero() {
		ref = a.now()
	}
	w, err := a.Window(mode, ref)
	if err != nil {
		return nil, err
	}
	return r.Run(ctx, pipeline.Request{
		Sources:           a.cfg.Sources(),
		Location:          a.loc,
		Window:            w,
		RunTimeout:        a.cfg.RunTimeout,
		ExpandRecurrences: a.cfg.ExpandRecurrences,
	})
}

// Message renders a summary for delivery.
func (a *App) Message(s model.Summary) (notify.Message, error) {
	opts := render.Options{Intro: a.cfg.IntroDaily}
	if s.Mode == model.ModeWeekly {
		opts.Intro = a.cfg.IntroWeekly
	}
	html, err := render.HTML(s, opts)
	if err != nil {
		return notify.Message{}, err
	}
	return notify.Message{
		Subject: render.Title(s),
		HTML:    html,
		Text:    render.Text(s, opts),
	}, nil
}

// RecentRuns lists the ledger; empty when history is disabled.
func (a *App) RecentRuns(ctx context.Context, limit int) ([]history.Run, error) {
	if a.store == nil {
		return []history.Run{}, nil
	}
	return a.store.Recent(ctx, limit)
}

// Outcome describes one executed run.
type Outcome struct {
	RunID  string
	Result *pipeline.Result
	// HTMLPath is set when the body was written to disk (dry-run).
	HTMLPath string
	// PNGPath is set when a preview screenshot was captured.
	PNGPath   string
	Delivered bool
	// Skipped means an identical summary had already been delivered.
	Skipped bool
}

// Run executes one full run: summarize, render, then deliver or (dry-run)
// write output_<mode>.html. The error is non-nil for run-fatal pipeline
// errors and for delivery failures; the Outcome is returned whenever the
// pipeline produced a result.
func (a *App) Run(ctx context.Context, mode model.Mode, ref time.Time, dryRun bool) (*Outcome, error) {
	out := &Outcome{RunID: uuid.NewString()}
	log := appLog.With("run_id", out.RunID, "mode", string(mode))

	res, err := a.summarize(ctx, a.runner.WithLogger(log), mode, ref)
	out.Result = res
	if err != nil {
		return out, err
	}
	if res.Summary.Degraded() {
		for _, f := range res.Failures {
			log.Warn("source failed", "source", f.Source, "kind", f.Kind, "message", f.Message)
		}
	}

	msg, err := a.Message(res.Summary)
	if err != nil {
		return out, err
	}

	run, err := history.NewRun(res.Summary, dryRun, a.now())
	if err != nil {
		return out, err
	}
	run.ID = out.RunID

	if dryRun {
		if err := a.writePreview(ctx, mode, msg, out); err != nil {
			return out, err
		}
		log.Info("dry run: delivery skipped", "html", out.HTMLPath, "png", out.PNGPath)
		return out, a.record(ctx, run)
	}

	if len(a.notifiers) == 0 {
		log.Warn("no transport enabled; nothing delivered")
		return out, a.record(ctx, run)
	}

	if a.store != nil {
		done, err := a.store.AlreadyDelivered(ctx, run)
		if err != nil {
			return out, err
		}
		if done {
			out.Skipped = true
			log.Info("identical summary already delivered; skipping", "digest", run.Digest)
			return out, nil
		}
	}

	deliverErr := notify.Deliver(ctx, a.notifiers, msg)
	out.Delivered = deliverErr == nil
	run.Delivered = out.Delivered
	if err := a.record(ctx, run); err != nil {
		return out, errors.Join(deliverErr, err)
	}
	if deliverErr != nil {
		return out, fmt.Errorf("app: deliver: %w", deliverErr)
	}
	return out, nil
}

func (a *App) record(ctx context.Context, run *history.Run) error {
	if a.store == nil {
		return nil
	}
	return a.store.Record(ctx, run)
}

func (a *App) writePreview(ctx context.Context, mode model.Mode, msg notify.Message, out *Outcome) error {
	if err := os.MkdirAll(a.cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("app: output dir: %w", err)
	}
	out.HTMLPath = filepath.Join(a.cfg.OutputDir, "output_"+string(mode)+".html")
	if err := os.WriteFile(out.HTMLPath, []byte(msg.HTML), 0o644); err != nil {
		return fmt.Errorf("app: write preview: %w", err)
	}
	if !a.previewPNG {
		return nil
	}

	u, err := capture.FileURL(out.HTMLPath)
	if err != nil {
		return err
	}
	png := filepath.Join(a.cfg.OutputDir, "output_"+string(mode)+".png")
	if err := capture.SummaryPNG(ctx, capture.Options{URL: u, OutputPath: png}); err != nil {
		return err
	}
	out.PNGPath = png
	return nil
}
