// Package normalize converts parsed events into the target time zone.
//
// Conversion is a pure function of (event, zone): a new NormalizedEvent is
// built every time and the RawEvent is never touched, so converting twice
// cannot shift anything twice.
package normalize

import (
	"time"

	"github.com/martinaparikova/calendar-asistant/internal/model"
)

// Event converts one RawEvent into loc.
//
// All-day events keep their dates exactly as written; Start/End are set to
// midnight of those dates in loc. Timed events are converted with the
// offset in effect at the event's own instant, so DST transitions are
// respected. A missing end means a zero-duration event.
func Event(raw model.RawEvent, loc *time.Location) model.NormalizedEvent {
	if loc == nil {
		loc = time.UTC
	}

	ev := model.NormalizedEvent{
		UID:         raw.UID,
		Title:       raw.Title,
		Location:    raw.Location,
		Description: raw.Description,
		AllDay:      raw.AllDay,
		Sources:     []string{raw.Source.Name},
		SourceIndex: raw.Source.Index,
		Seq:         raw.Seq,
	}

	if raw.AllDay {
		ev.StartDate = raw.StartDate
		ev.EndDate = raw.EndDate
		if !ev.EndDate.After(ev.StartDate) {
			ev.EndDate = ev.StartDate.AddDays(1)
		}
		ev.Start = ev.StartDate.In(loc)
		ev.End = ev.EndDate.In(loc)
		return ev
	}

	ev.Start = raw.Start.In(loc)
	ev.End = ev.Start
	if raw.HasEnd && raw.End.After(raw.Start) {
		ev.End = raw.End.In(loc)
	}
	ev.StartDate = model.DateOf(ev.Start)
	ev.EndDate = model.DateOf(ev.End)
	return ev
}

// Events converts a slice, preserving order.
func Events(raws []model.RawEvent, loc *time.Location) []model.NormalizedEvent {
	out := make([]model.NormalizedEvent, 0, len(raws))
	for _, r := range raws {
		out = append(out, Event(r, loc))
	}
	return out
}
