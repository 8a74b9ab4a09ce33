package ics

import (
	"errors"
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	appLog "github.com/martinaparikova/calendar-asistant/internal/log"
	"github.com/martinaparikova/calendar-asistant/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000
	// expandPadding widens the expansion range so that all-day occurrences,
	// whose instants are UTC midnights, are not lost near the window edges
	// for far-east or far-west target zones. The window filter trims later.
	expandPadding = 48 * time.Hour
)

// ExpandResult wraps the expanded events and information about truncation.
type ExpandResult struct {
	Events []model.RawEvent
	// Truncated records "source/uid" of events that hit the per-event cap.
	Truncated []string
}

type overrideKey struct {
	source int
	uid    string
}

// Expand materializes RRULE-based recurrences found in the feeds within
// [from, to). It handles:
//
//   - Single non-recurring events (passed through)
//   - RRULE-based recurrence (DAILY/WEEKLY/MONTHLY/YEARLY, etc.)
//   - EXDATE for exception removal
//   - RECURRENCE-ID overrides; a STATUS:CANCELLED override removes its
//     instance like an EXDATE
//   - All-day semantics (occurrences keep whole-day spans)
//
// The result is a new slice; input events are not modified.
func Expand(events []model.RawEvent, from, to time.Time, maxPerEvent int) (ExpandResult, error) {
	var result ExpandResult

	if to.Before(from) {
		return result, errors.New("expand: range end is before range start")
	}
	if maxPerEvent <= 0 {
		maxPerEvent = defaultMaxOccurrencesPerEvent
	}

	overrides := make(map[overrideKey][]model.RawEvent)
	for _, ev := range events {
		if ev.RecurrenceID != nil && ev.UID != "" {
			k := overrideKey{source: ev.Source.Index, uid: ev.UID}
			overrides[k] = append(overrides[k], ev)
		}
	}
	used := make(map[*model.RawEvent]bool)

	out := make([]model.RawEvent, 0, len(events))
	for _, ev := range events {
		if ev.RecurrenceID != nil && ev.UID != "" {
			// Emitted below, either through their base or standalone.
			continue
		}
		if ev.RRule == "" {
			out = append(out, ev)
			continue
		}

		ov := overrides[overrideKey{source: ev.Source.Index, uid: ev.UID}]
		occ, hitCap, err := expandRecurring(ev, ov, used, from, to, maxPerEvent)
		if err != nil {
			appLog.Error("expand: failed to parse RRULE; keeping first instance", err, "source", ev.Source.Name, "uid", ev.UID, "rrule", ev.RRule)
			out = append(out, ev)
			continue
		}
		if hitCap {
			id := ev.Source.Name + "/" + ev.UID
			result.Truncated = append(result.Truncated, id)
			appLog.Warn("expand: truncated occurrences due to cap", "event", id, "cap", maxPerEvent)
		}
		out = append(out, occ...)
	}

	// Overrides that did not replace a generated instance stand on their own
	// (moved instance of a series whose base falls outside the range, or an
	// override for a non-recurring base).
	for _, ev := range events {
		if ev.RecurrenceID == nil || ev.UID == "" {
			continue
		}
		list := overrides[overrideKey{source: ev.Source.Index, uid: ev.UID}]
		for i := range list {
			if list[i].Seq == ev.Seq && !used[&list[i]] && !list[i].Cancelled {
				out = append(out, list[i])
			}
		}
	}

	result.Events = out
	return result, nil
}

func expandRecurring(ev model.RawEvent, overrides []model.RawEvent, used map[*model.RawEvent]bool, from, to time.Time, maxPerEvent int) ([]model.RawEvent, bool, error) {
	opt, err := rrule.StrToROptionInLocation(ev.RRule, ev.Start.Location())
	if err != nil {
		return nil, false, fmt.Errorf("parse rrule %q: %w", ev.RRule, err)
	}
	opt.Dtstart = ev.Start
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, false, fmt.Errorf("build rrule %q: %w", ev.RRule, err)
	}

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	dur := time.Duration(0)
	if ev.HasEnd {
		dur = ev.End.Sub(ev.Start)
	}
	spanDays := 0
	if ev.AllDay {
		spanDays = int(ev.EndDate.In(time.UTC).Sub(ev.StartDate.In(time.UTC)) / (24 * time.Hour))
	}

	rangeStart := from.Add(-dur - expandPadding).In(ev.Start.Location())
	rangeEnd := to.Add(expandPadding).In(ev.Start.Location())

	starts := set.Between(rangeStart, rangeEnd, true)
	hitCap := false
	if len(starts) > maxPerEvent {
		starts = starts[:maxPerEvent]
		hitCap = true
	}

	out := make([]model.RawEvent, 0, len(starts))
	for _, s := range starts {
		if o, ok := findOverride(overrides, s); ok {
			used[o] = true
			if !o.Cancelled {
				out = append(out, *o)
			}
			continue
		}

		occ := ev
		occ.RRule = ""
		occ.ExDates = nil
		if ev.AllDay {
			d := model.DateOf(s.In(time.UTC))
			occ.StartDate = d
			occ.EndDate = d.AddDays(max(spanDays, 1))
			occ.Start = d.In(time.UTC)
			occ.End = occ.EndDate.In(time.UTC)
		} else {
			occ.Start = s
			if ev.HasEnd {
				occ.End = s.Add(dur)
			}
		}
		out = append(out, occ)
	}
	return out, hitCap, nil
}

// findOverride finds an override whose RECURRENCE-ID matches the generated
// start with exact instant equality.
func findOverride(overrides []model.RawEvent, start time.Time) (*model.RawEvent, bool) {
	for i := range overrides {
		if overrides[i].RecurrenceID != nil && overrides[i].RecurrenceID.Equal(start) {
			return &overrides[i], true
		}
	}
	return nil, false
}

// DropCancelled removes cancelled overrides when recurrences are not
// expanded; without expansion there is no instance for them to remove.
func DropCancelled(events []model.RawEvent) []model.RawEvent {
	out := make([]model.RawEvent, 0, len(events))
	for _, ev := range events {
		if !ev.Cancelled {
			out = append(out, ev)
		}
	}
	return out
}
