package summary

import (
	"slices"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/martinaparikova/calendar-asistant/internal/model"
	"github.com/martinaparikova/calendar-asistant/internal/window"
)

func titles(b model.DayBucket) []string {
	var out []string
	for _, e := range b.Entries {
		out = append(out, e.Title)
	}
	return out
}

func TestBuildDailyOrdersAllDayFirst(t *testing.T) {
	loc := time.UTC
	w := window.Daily(time.Date(2024, 3, 12, 6, 0, 0, 0, loc), loc, 0)
	day := model.NewDate(2024, time.March, 12)
	at := func(h int) time.Time { return day.In(loc).Add(time.Duration(h) * time.Hour) }

	events := []model.NormalizedEvent{
		{Title: "Review", Start: at(15), End: at(16), Sources: []string{"Work"}},
		{Title: "Holiday", AllDay: true, StartDate: day, EndDate: day.AddDays(1), Start: at(0), End: at(24), Sources: []string{"Family"}},
		{Title: "Standup", Start: at(9), End: at(9), Sources: []string{"Work"}},
	}
	sum := Build(w, loc, events)

	if sum.Mode != model.ModeDaily || len(sum.Days) != 1 {
		t.Fatalf("unexpected summary shape: %+v", sum)
	}
	if got := titles(sum.Days[0]); !slices.Equal(got, []string{"Holiday", "Standup", "Review"}) {
		t.Fatalf("unexpected order %v", got)
	}
	entries := sum.Days[0].Entries
	if entries[0].TimeRange != AllDayLabel || entries[1].TimeRange != "09:00" || entries[2].TimeRange != "15:00–16:00" {
		t.Fatalf("unexpected time ranges: %q %q %q", entries[0].TimeRange, entries[1].TimeRange, entries[2].TimeRange)
	}
	if sum.EventCount() != 3 || sum.Failures == nil || sum.Warnings == nil {
		t.Fatalf("unexpected counters: %+v", sum)
	}
}

func TestBuildWeeklyMultiDay(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Prague")
	if err != nil {
		t.Fatalf("load zone: %v", err)
	}
	w := window.Weekly(time.Date(2024, 3, 13, 12, 0, 0, 0, loc), loc, time.Monday, 0)
	mon := model.NewDate(2024, time.March, 11)

	events := []model.NormalizedEvent{
		// Started last week, ends Wednesday (exclusive).
		{Title: "Conference", AllDay: true, StartDate: mon.AddDays(-2), EndDate: mon.AddDays(2), Start: mon.AddDays(-2).In(loc), End: mon.AddDays(2).In(loc)},
		// Tuesday 22:00 to Wednesday 02:00.
		{Title: "Night shift", Start: mon.AddDays(1).In(loc).Add(22 * time.Hour), End: mon.AddDays(2).In(loc).Add(2 * time.Hour)},
	}
	sum := Build(w, loc, events)
	if len(sum.Days) != 7 {
		t.Fatalf("expected 7 days, got %d", len(sum.Days))
	}

	want := map[int][]string{
		0: {"Conference"},
		1: {"Conference", "Night shift"},
		2: {"Night shift"},
	}
	for i, b := range sum.Days {
		if b.Day != mon.AddDays(i) {
			t.Fatalf("day %d is %s", i, b.Day)
		}
		if got := titles(b); !slices.Equal(got, want[i]) {
			t.Fatalf("day %s: got %v want %v", b.Day, got, want[i])
		}
	}
	if got := sum.Days[1].Entries[1].TimeRange; got != "22:00–Wed 02:00" {
		t.Fatalf("unexpected overnight range %q", got)
	}
}

func TestTimeRange(t *testing.T) {
	d := time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC)
	h := time.Hour
	for _, tc := range []struct {
		start, end time.Time
		want       string
	}{
		{d.Add(9 * h), d.Add(9 * h), "09:00"},
		{d.Add(9 * h), d.Add(10*h + 30*time.Minute), "09:00–10:30"},
		{d.Add(22 * h), d.Add(24 * h), "22:00–24:00"},
		{d.Add(22 * h), d.Add(26 * h), "22:00–Wed 02:00"},
	} {
		if got := TimeRange(tc.start, tc.end); got != tc.want {
			t.Fatalf("got %q want %q", got, tc.want)
		}
	}
}

func TestBuildKeepsEmptyDays(t *testing.T) {
	w := window.Weekly(time.Date(2024, 3, 13, 0, 0, 0, 0, time.UTC), time.UTC, time.Monday, 0)
	sum := Build(w, time.UTC, nil)
	if len(sum.Days) != 7 || sum.EventCount() != 0 {
		t.Fatalf("expected 7 empty days, got %+v", sum.Days)
	}
	for _, b := range sum.Days {
		if b.Entries == nil {
			t.Fatalf("entries should be an empty slice, not nil")
		}
	}
}
