// Package schedule triggers daily and weekly runs from cron expressions in
// serve mode.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appLog "github.com/martinaparikova/calendar-asistant/internal/log"
	"github.com/martinaparikova/calendar-asistant/internal/model"
)

// Job runs one summary for mode; ref is the trigger time.
type Job func(ctx context.Context, mode model.Mode, ref time.Time)

// Scheduler wraps a cron instance configured in the summary time zone.
type Scheduler struct {
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	entries map[model.Mode]cron.EntryID
}

// New registers one cron entry per non-empty spec. Specs use the standard
// five-field syntax ("0 18 * * *") or descriptors ("@daily").
func New(loc *time.Location, specs map[model.Mode]string, job Job) (*Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	logger := cronLogger{}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		entries: make(map[model.Mode]cron.EntryID, len(specs)),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	// Registration order is fixed so entry ids are stable.
	for _, mode := range []model.Mode{model.ModeDaily, model.ModeWeekly} {
		spec := specs[mode]
		if spec == "" {
			continue
		}
		id, err := s.cron.AddFunc(spec, func() {
			job(s.ctx, mode, time.Now().In(loc))
		})
		if err != nil {
			return nil, fmt.Errorf("schedule: %s %q: %w", mode, spec, err)
		}
		s.entries[mode] = id
	}
	return s, nil
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	for mode, id := range s.entries {
		appLog.Info("schedule armed", "mode", mode, "next", s.cron.Entry(id).Next.Format(time.RFC3339))
	}
}

// Stop cancels running jobs' context and waits for them to finish or for ctx
// to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		appLog.Warn("schedule: jobs still running at shutdown")
	}
}

// Next returns the next activation of mode after t, or zero if mode is not
// scheduled.
func (s *Scheduler) Next(mode model.Mode, t time.Time) time.Time {
	id, ok := s.entries[mode]
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(id).Schedule.Next(t)
}

// cronLogger routes cron's own messages to appLog.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...any) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...any) {
	appLog.Error("cron: "+msg, err, kv...)
}
