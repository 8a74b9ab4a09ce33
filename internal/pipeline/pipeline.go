// Package pipeline wires fetch, parse, normalize, window filter, dedup and
// summary building into one run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/martinaparikova/calendar-asistant/internal/dedup"
	"github.com/martinaparikova/calendar-asistant/internal/ics"
	appLog "github.com/martinaparikova/calendar-asistant/internal/log"
	"github.com/martinaparikova/calendar-asistant/internal/metrics"
	"github.com/martinaparikova/calendar-asistant/internal/model"
	"github.com/martinaparikova/calendar-asistant/internal/normalize"
	"github.com/martinaparikova/calendar-asistant/internal/summary"
	"github.com/martinaparikova/calendar-asistant/internal/window"
)

var (
	// ErrNoSources means no enabled calendar is configured.
	ErrNoSources = errors.New("pipeline: no calendar sources configured")
	// ErrAllSourcesFailed means every enabled calendar failed to fetch or
	// parse; an empty summary would be misleading.
	ErrAllSourcesFailed = errors.New("pipeline: every calendar source failed")
)

// AllFailedError carries the failures behind ErrAllSourcesFailed.
type AllFailedError struct {
	Failures []model.Failure
}

func (e *AllFailedError) Error() string {
	return fmt.Sprintf("%v (%d sources)", ErrAllSourcesFailed, len(e.Failures))
}

func (e *AllFailedError) Unwrap() error { return ErrAllSourcesFailed }

// Fetcher retrieves raw ICS bodies; *ics.Fetcher implements it.
type Fetcher interface {
	FetchAll(ctx context.Context, sources []model.CalendarSource) []ics.FetchResult
}

// Request describes one run.
type Request struct {
	Sources  []model.CalendarSource
	Location *time.Location
	Window   window.Window
	// RunTimeout aborts pending fetches; zero means no run-level deadline.
	RunTimeout time.Duration
	// ExpandRecurrences materializes RRULEs inside the window.
	ExpandRecurrences bool
}

// Stats counts events leaving each stage.
type Stats struct {
	Sources      int `json:"sources"`
	VEvents      int `json:"vevents"`
	Parsed       int `json:"parsed"`
	Expanded     int `json:"expanded"`
	InWindow     int `json:"in_window"`
	Deduplicated int `json:"deduplicated"`
}

// Result is the Summary plus everything a caller needs to explain it.
type Result struct {
	Summary  model.Summary   `json:"summary"`
	Failures []model.Failure `json:"failures"`
	Warnings []model.Warning `json:"warnings"`
	Stats    Stats           `json:"stats"`
}

// Runner executes runs. It holds no per-run state and may be reused.
type Runner struct {
	fetcher Fetcher
	log     *slog.Logger
}

// NewRunner creates a Runner using f for network access.
func NewRunner(f Fetcher) *Runner {
	return &Runner{fetcher: f, log: appLog.Logger()}
}

// WithLogger returns a copy of r logging through l.
func (r *Runner) WithLogger(l *slog.Logger) *Runner {
	cp := *r
	cp.log = l
	return &cp
}

// Run executes the pipeline. Per-source problems end up in the Result; the
// only errors are ErrNoSources and *AllFailedError (which still comes with a
// Result describing the failures).
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	loc := req.Location
	if loc == nil {
		loc = time.UTC
	}
	mode := string(req.Window.Mode)

	sources := make([]model.CalendarSource, 0, len(req.Sources))
	for _, s := range req.Sources {
		if s.Enabled {
			sources = append(sources, s)
		}
	}
	if len(sources) == 0 {
		metrics.RunsTotal.WithLabelValues(mode, "no_sources").Inc()
		return nil, ErrNoSources
	}

	res := &Result{
		Failures: []model.Failure{},
		Warnings: []model.Warning{},
		Stats:    Stats{Sources: len(sources)},
	}

	fetchCtx := ctx
	if req.RunTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, req.RunTimeout)
		defer cancel()
	}

	r.log.Info("run start", "mode", mode, "sources", len(sources),
		"window_start", req.Window.Start.Format(time.RFC3339),
		"window_end", req.Window.End.Format(time.RFC3339))

	// Everything below runs on the collected, position-indexed results and
	// is therefore independent of fetch completion order.
	fetched := r.fetcher.FetchAll(fetchCtx, sources)

	raws := make([]model.RawEvent, 0)
	for _, fr := range fetched {
		if fr.Err != nil {
			res.addFailure(fr.Source.Name, model.KindFetchError, fr.Err)
			continue
		}
		out, err := ics.ParseICS(fr.Source, fr.Body, loc)
		if err != nil {
			res.addFailure(fr.Source.Name, model.KindParseError, err)
			continue
		}
		res.Stats.VEvents += out.VEvents
		for _, w := range out.Warnings {
			res.Warnings = append(res.Warnings, model.Warning{Source: w.Source, Kind: model.KindParseWarning, Message: w.String()})
		}
		raws = append(raws, out.Events...)
	}
	res.Stats.Parsed = len(raws)

	if len(res.Failures) == len(sources) {
		metrics.RunsTotal.WithLabelValues(mode, "all_failed").Inc()
		r.log.Error("run failed: every source failed", "err", ErrAllSourcesFailed, "mode", mode, "failures", len(res.Failures))
		return res, &AllFailedError{Failures: res.Failures}
	}

	if req.ExpandRecurrences {
		expanded, err := ics.Expand(raws, req.Window.Start, req.Window.End, 0)
		if err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
		for _, id := range expanded.Truncated {
			res.Warnings = append(res.Warnings, model.Warning{Source: id, Kind: model.KindParseWarning, Message: "recurrence truncated"})
		}
		raws = expanded.Events
	} else {
		raws = ics.DropCancelled(raws)
	}
	res.Stats.Expanded = len(raws)

	normalized := normalize.Events(raws, loc)
	inWindow := window.Filter(req.Window, normalized)
	res.Stats.InWindow = len(inWindow)
	merged := dedup.Merge(inWindow)
	res.Stats.Deduplicated = len(merged)

	s := summary.Build(req.Window, loc, merged)
	s.Failures = res.Failures
	s.Warnings = res.Warnings
	res.Summary = s

	metrics.StageEvents.WithLabelValues(mode, "parsed").Set(float64(res.Stats.Parsed))
	metrics.StageEvents.WithLabelValues(mode, "in_window").Set(float64(res.Stats.InWindow))
	metrics.StageEvents.WithLabelValues(mode, "deduplicated").Set(float64(res.Stats.Deduplicated))
	outcome := "ok"
	if len(res.Failures) > 0 {
		outcome = "degraded"
	}
	metrics.RunsTotal.WithLabelValues(mode, outcome).Inc()

	r.log.Info("run completed", "mode", mode, "outcome", outcome,
		"parsed", res.Stats.Parsed, "in_window", res.Stats.InWindow,
		"deduplicated", res.Stats.Deduplicated, "failures", len(res.Failures),
		"warnings", len(res.Warnings))
	return res, nil
}

func (res *Result) addFailure(source string, kind model.FailureKind, err error) {
	res.Failures = append(res.Failures, model.Failure{Source: source, Kind: kind, Message: err.Error()})
	metrics.SourceFailures.WithLabelValues(source, string(kind)).Inc()
}
