package schedule

import (
	"context"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/martinaparikova/calendar-asistant/internal/model"
)

func noop(context.Context, model.Mode, time.Time) {}

func TestNextActivations(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Prague")
	if err != nil {
		t.Fatalf("load zone: %v", err)
	}
	s, err := New(loc, map[model.Mode]string{
		model.ModeDaily:  "0 18 * * *",
		model.ModeWeekly: "0 18 * * 0",
	}, noop)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	// Wednesday 2024-03-13 19:00 local.
	ref := time.Date(2024, 3, 13, 19, 0, 0, 0, loc)
	if got, want := s.Next(model.ModeDaily, ref), time.Date(2024, 3, 14, 18, 0, 0, 0, loc); !got.Equal(want) {
		t.Fatalf("daily next %s want %s", got, want)
	}
	if got, want := s.Next(model.ModeWeekly, ref), time.Date(2024, 3, 17, 18, 0, 0, 0, loc); !got.Equal(want) {
		t.Fatalf("weekly next %s want %s", got, want)
	}
}

func TestEmptySpecIsNotScheduled(t *testing.T) {
	s, err := New(time.UTC, map[model.Mode]string{model.ModeDaily: "@daily"}, noop)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if !s.Next(model.ModeWeekly, time.Now()).IsZero() {
		t.Fatalf("weekly should not be scheduled")
	}
}

func TestInvalidSpec(t *testing.T) {
	if _, err := New(time.UTC, map[model.Mode]string{model.ModeDaily: "every evening"}, noop); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestStartStop(t *testing.T) {
	fired := make(chan model.Mode, 1)
	s, err := New(time.UTC, map[model.Mode]string{model.ModeDaily: "@every 1s"}, func(_ context.Context, m model.Mode, _ time.Time) {
		select {
		case fired <- m:
		default:
		}
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	s.Start()
	select {
	case m := <-fired:
		if m != model.ModeDaily {
			t.Fatalf("unexpected mode %s", m)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("job did not fire")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}
