package normalize

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/martinaparikova/calendar-asistant/internal/model"
)

func load(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("load %s: %v", name, err)
	}
	return loc
}

func TestAllDayDatesSurviveAnyZone(t *testing.T) {
	raw := model.RawEvent{
		Source:    model.CalendarSource{Name: "Family", Index: 1},
		Title:     "Birthday",
		AllDay:    true,
		StartDate: model.NewDate(2024, time.March, 10),
		EndDate:   model.NewDate(2024, time.March, 11),
		Start:     time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
		End:       time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC),
		HasEnd:    true,
	}

	for _, name := range []string{"UTC", "Pacific/Kiritimati", "Pacific/Pago_Pago", "America/Los_Angeles", "Europe/Prague"} {
		loc := load(t, name)
		ev := Event(raw, loc)
		if ev.StartDate != raw.StartDate || ev.EndDate != raw.EndDate {
			t.Fatalf("%s: dates shifted to %s..%s", name, ev.StartDate, ev.EndDate)
		}
		if want := time.Date(2024, 3, 10, 0, 0, 0, 0, loc); !ev.Start.Equal(want) {
			t.Fatalf("%s: start %s, want local midnight %s", name, ev.Start, want)
		}
		if ev.SourceIndex != 1 || len(ev.Sources) != 1 || ev.Sources[0] != "Family" {
			t.Fatalf("%s: source not carried: %+v", name, ev)
		}
	}
}

func TestTimedEventAcrossDST(t *testing.T) {
	prague := load(t, "Europe/Prague")
	// 2024-03-31: clocks jump from 02:00 CET to 03:00 CEST (01:00 UTC).
	before := model.RawEvent{Title: "Early", Start: time.Date(2024, 3, 31, 0, 30, 0, 0, time.UTC)}
	after := model.RawEvent{Title: "Late", Start: time.Date(2024, 3, 31, 1, 30, 0, 0, time.UTC)}

	if got := Event(before, prague).Start; got.Hour() != 1 || got.Minute() != 30 {
		t.Fatalf("before the switch: got %s", got)
	}
	if got := Event(after, prague).Start; got.Hour() != 3 || got.Minute() != 30 {
		t.Fatalf("after the switch: got %s", got)
	}
}

func TestMissingOrInvertedEndIsZeroDuration(t *testing.T) {
	start := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	for name, raw := range map[string]model.RawEvent{
		"missing":  {Start: start},
		"inverted": {Start: start, End: start.Add(-time.Hour), HasEnd: true},
	} {
		ev := Event(raw, time.UTC)
		if ev.Duration() != 0 || !ev.End.Equal(ev.Start) {
			t.Fatalf("%s: expected zero duration, got %s", name, ev.Duration())
		}
	}
}

func TestEventIsIdempotent(t *testing.T) {
	ny := load(t, "America/New_York")
	raw := model.RawEvent{
		Title:  "Call",
		Start:  time.Date(2024, 1, 15, 23, 30, 0, 0, time.UTC),
		End:    time.Date(2024, 1, 16, 0, 30, 0, 0, time.UTC),
		HasEnd: true,
	}
	first := Event(raw, ny)
	second := Event(raw, ny)
	if !first.Start.Equal(second.Start) || !first.End.Equal(second.End) || first.StartDate != second.StartDate {
		t.Fatalf("normalization is not stable: %+v vs %+v", first, second)
	}
	if first.StartDate != model.NewDate(2024, time.January, 15) {
		t.Fatalf("local start date should be Jan 15 in New York, got %s", first.StartDate)
	}
	if !raw.Start.Equal(time.Date(2024, 1, 15, 23, 30, 0, 0, time.UTC)) || raw.Start.Location() != time.UTC {
		t.Fatalf("raw event was modified")
	}
}

func TestEventsPreservesOrder(t *testing.T) {
	raws := []model.RawEvent{{Title: "b", Seq: 0}, {Title: "a", Seq: 1}}
	out := Events(raws, time.UTC)
	if len(out) != 2 || out[0].Title != "b" || out[1].Seq != 1 {
		t.Fatalf("unexpected order: %+v", out)
	}
}
