package summary

import (
	"slices"
	"strings"
	"time"

	"github.com/martinaparikova/calendar-asistant/internal/dedup"
	"github.com/martinaparikova/calendar-asistant/internal/model"
	"github.com/martinaparikova/calendar-asistant/internal/window"
)

// AllDayLabel is the TimeRange of all-day entries.
const AllDayLabel = "all day"

// Build groups deduplicated events into one bucket per window day.
//
// A multi-day all-day event is placed in every day of [StartDate, EndDate)
// that lies inside the window. A timed event is placed in every day it
// overlaps; a zero-duration event in the day of its instant. Within a day,
// all-day entries come first, then timed entries by start; ties are broken
// by case-insensitive title.
func Build(w window.Window, loc *time.Location, events []model.NormalizedEvent) model.Summary {
	if loc == nil {
		loc = time.UTC
	}
	days := w.Days(loc)
	buckets := make([]model.DayBucket, len(days))
	pos := make(map[model.Date]int, len(days))
	for i, d := range days {
		buckets[i] = model.DayBucket{Day: d, Entries: []model.SummaryEntry{}}
		pos[d] = i
	}

	for _, ev := range events {
		for _, d := range occupiedDays(ev, days, loc) {
			i := pos[d]
			buckets[i].Entries = append(buckets[i].Entries, entry(ev, d, loc))
		}
	}

	for i := range buckets {
		slices.SortStableFunc(buckets[i].Entries, compareEntries)
	}

	return model.Summary{
		Mode:        w.Mode,
		TimeZone:    loc.String(),
		WindowStart: w.Start,
		WindowEnd:   w.End,
		Days:        buckets,
		Failures:    []model.Failure{},
		Warnings:    []model.Warning{},
	}
}

// occupiedDays returns the window days the event belongs to.
func occupiedDays(ev model.NormalizedEvent, days []model.Date, loc *time.Location) []model.Date {
	var out []model.Date
	for _, d := range days {
		if ev.AllDay {
			if !d.Before(ev.StartDate) && d.Before(ev.EndDate) {
				out = append(out, d)
			}
			continue
		}
		day := window.Window{Start: d.In(loc), End: d.AddDays(1).In(loc)}
		if day.Intersects(ev.Start, ev.End) {
			out = append(out, d)
		}
	}
	return out
}

func entry(ev model.NormalizedEvent, day model.Date, loc *time.Location) model.SummaryEntry {
	e := model.SummaryEntry{
		Title:       ev.Title,
		AllDay:      ev.AllDay,
		Start:       ev.Start,
		End:         ev.End,
		Location:    ev.Location,
		Description: ev.Description,
		Sources:     slices.Clone(ev.Sources),
		Day:         day,
	}
	if ev.AllDay {
		e.TimeRange = AllDayLabel
	} else {
		e.TimeRange = TimeRange(ev.Start.In(loc), ev.End.In(loc))
	}
	return e
}

// TimeRange formats a timed interval for display: "14:00" for an instant,
// "14:00–15:00" within one day and "22:00–Tue 02:00" across midnight.
func TimeRange(start, end time.Time) string {
	if end.Equal(start) {
		return start.Format("15:04")
	}
	if model.DateOf(start) == model.DateOf(end) {
		return start.Format("15:04") + "–" + end.Format("15:04")
	}
	// An event ending exactly at midnight still reads as ending that day.
	if end.Hour() == 0 && end.Minute() == 0 && model.DateOf(start).AddDays(1) == model.DateOf(end) {
		return start.Format("15:04") + "–24:00"
	}
	return start.Format("15:04") + "–" + end.Format("Mon 15:04")
}

func compareEntries(a, b model.SummaryEntry) int {
	if a.AllDay != b.AllDay {
		if a.AllDay {
			return -1
		}
		return 1
	}
	if !a.AllDay {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
	}
	if c := strings.Compare(dedup.NormalizeTitle(a.Title), dedup.NormalizeTitle(b.Title)); c != 0 {
		return c
	}
	if c := strings.Compare(a.Title, b.Title); c != 0 {
		return c
	}
	if c := a.End.Compare(b.End); c != 0 {
		return c
	}
	return strings.Compare(strings.Join(a.Sources, "\x00"), strings.Join(b.Sources, "\x00"))
}
