package window

import (
	"fmt"
	"strings"
	"time"

	"github.com/martinaparikova/calendar-asistant/internal/model"
)

// Window is the half-open reporting interval [Start, End) in the target zone.
type Window struct {
	Mode  model.Mode
	Start time.Time
	End   time.Time
}

// ParseMode validates a mode selector.
func ParseMode(s string) (model.Mode, error) {
	switch m := model.Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case model.ModeDaily, model.ModeWeekly:
		return m, nil
	default:
		return "", fmt.Errorf("mode must be %q or %q, got %q", model.ModeDaily, model.ModeWeekly, s)
	}
}

// Daily returns the local day of ref (shifted by offsetDays) in loc:
// 00:00 to the next day's 00:00. On DST change days the window is 23 or
// 25 hours long.
func Daily(ref time.Time, loc *time.Location, offsetDays int) Window {
	d := model.DateOf(ref.In(loc)).AddDays(offsetDays)
	return Window{
		Mode:  model.ModeDaily,
		Start: d.In(loc),
		End:   d.AddDays(1).In(loc),
	}
}

// Weekly returns the local week containing ref (shifted by offsetWeeks)
// starting on weekStart 00:00 and ending seven calendar days later.
func Weekly(ref time.Time, loc *time.Location, weekStart time.Weekday, offsetWeeks int) Window {
	today := model.DateOf(ref.In(loc))
	back := (int(today.Weekday()) - int(weekStart) + 7) % 7
	first := today.AddDays(-back + 7*offsetWeeks)
	return Window{
		Mode:  model.ModeWeekly,
		Start: first.In(loc),
		End:   first.AddDays(7).In(loc),
	}
}

// For builds the window of mode around ref.
func For(mode model.Mode, ref time.Time, loc *time.Location, weekStart time.Weekday, offsetDays, offsetWeeks int) (Window, error) {
	switch mode {
	case model.ModeDaily:
		return Daily(ref, loc, offsetDays), nil
	case model.ModeWeekly:
		return Weekly(ref, loc, weekStart, offsetWeeks), nil
	default:
		return Window{}, fmt.Errorf("window: unknown mode %q", mode)
	}
}

// Unbounded covers every event a feed can carry. It is meant for Filter
// only: Days over it would list millions of dates.
func Unbounded() Window {
	return Window{
		Start: time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC),
	}
}

// Contains reports whether the instant t is within [Start, End).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Intersects applies half-open interval intersection. A zero-duration event
// intersects only when its instant is inside the window.
func (w Window) Intersects(start, end time.Time) bool {
	if end.Equal(start) {
		return w.Contains(start)
	}
	return start.Before(w.End) && end.After(w.Start)
}

// Days lists the calendar dates covered by the window, in loc.
func (w Window) Days(loc *time.Location) []model.Date {
	first := model.DateOf(w.Start.In(loc))
	var days []model.Date
	for d := first; d.In(loc).Before(w.End); d = d.AddDays(1) {
		days = append(days, d)
	}
	return days
}

// Filter returns the events intersecting w, preserving order.
func Filter(w Window, events []model.NormalizedEvent) []model.NormalizedEvent {
	out := make([]model.NormalizedEvent, 0, len(events))
	for _, ev := range events {
		if w.Intersects(ev.Start, ev.End) {
			out = append(out, ev)
		}
	}
	return out
}
