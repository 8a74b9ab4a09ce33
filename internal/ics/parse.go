package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "github.com/martinaparikova/calendar-asistant/internal/log"
	"github.com/martinaparikova/calendar-asistant/internal/model"
)

const (
	untitled = "(no title)"

	layoutUTC      = "20060102T150405Z"
	layoutFloating = "20060102T150405"
	layoutDate     = "20060102"
)

// ParseOutput is what one ICS document contributes to a run.
type ParseOutput struct {
	Events   []model.RawEvent
	Warnings []ParseWarning
	// DefaultZone is X-WR-TIMEZONE if the feed declares a known zone,
	// otherwise the fallback passed to ParseICS.
	DefaultZone *time.Location
	// VEvents is the number of VEVENT components in the document.
	VEvents int
}

// ParseICS parses a single ICS payload into RawEvents.
//
//   - Structural problems of the whole document fail with *ParseError.
//   - Non-VEVENT components are ignored.
//   - A VEVENT without a usable DTSTART is skipped and reported as a
//     ParseWarning.
//   - Floating date-times are read in the feed's X-WR-TIMEZONE, or in
//     fallback when the feed does not declare one.
//   - RRULE/EXDATE/RECURRENCE-ID are recorded but not expanded; see
//     Expand.
func ParseICS(src model.CalendarSource, body []byte, fallback *time.Location) (ParseOutput, error) {
	out := ParseOutput{DefaultZone: fallback}
	if out.DefaultZone == nil {
		out.DefaultZone = time.UTC
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return out, &ParseError{Source: src.Name, Err: errors.New("empty ICS body")}
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "source", src.Name, "url", redactURL(src.URL))
		return out, &ParseError{Source: src.Name, Err: err}
	}
	// golang-ical accepts a document cut off after any END:VEVENT; a feed
	// that lost its tail must not pass as complete.
	if !terminated(body) {
		err := errors.New("unterminated VCALENDAR")
		appLog.Error("ics parse failed", err, "source", src.Name, "url", redactURL(src.URL))
		return out, &ParseError{Source: src.Name, Err: err}
	}

	for _, p := range cal.CalendarProperties {
		if !strings.EqualFold(p.IANAToken, string(ical.PropertyXWRTimezone)) {
			continue
		}
		if loc, ok := resolveTZID(p.Value); ok {
			out.DefaultZone = loc
		} else {
			out.Warnings = append(out.Warnings, ParseWarning{
				Source: src.Name,
				Reason: fmt.Sprintf("unknown X-WR-TIMEZONE %q, using %s", p.Value, out.DefaultZone),
			})
		}
	}

	vevents := cal.Events()
	out.VEvents = len(vevents)
	out.Events = make([]model.RawEvent, 0, len(vevents))

	for seq, comp := range vevents {
		p := veventParser{src: src, ve: comp, defaultLoc: out.DefaultZone}
		ev, skip, perr := p.parse(seq)
		out.Warnings = append(out.Warnings, p.warnings...)
		if perr != nil {
			// Log and skip this event, but keep parsing others.
			appLog.Warn("ics vevent skipped", "source", src.Name, "seq", seq, "reason", perr.Error())
			out.Warnings = append(out.Warnings, ParseWarning{Source: src.Name, UID: ev.UID, Reason: perr.Error()})
			continue
		}
		if skip {
			continue
		}
		out.Events = append(out.Events, ev)
	}

	appLog.Info("ics parse completed", "source", src.Name, "vevents", out.VEvents, "event_count", len(out.Events), "warnings", len(out.Warnings))
	return out, nil
}

// terminated reports whether the last non-blank line closes the VCALENDAR.
func terminated(body []byte) bool {
	trimmed := bytes.TrimRight(body, " \t\r\n")
	if i := bytes.LastIndexByte(trimmed, '\n'); i >= 0 {
		trimmed = trimmed[i+1:]
	}
	return strings.EqualFold(strings.TrimSpace(string(trimmed)), "END:VCALENDAR")
}

type veventParser struct {
	src        model.CalendarSource
	ve         *ical.VEvent
	defaultLoc *time.Location
	warnings   []ParseWarning
}

func (p *veventParser) warn(uid, format string, args ...any) {
	p.warnings = append(p.warnings, ParseWarning{Source: p.src.Name, UID: uid, Reason: fmt.Sprintf(format, args...)})
}

func (p *veventParser) text(prop ical.ComponentProperty) string {
	if v := p.ve.GetProperty(prop); v != nil {
		return strings.TrimSpace(unescapeText(v.Value))
	}
	return ""
}

// parse converts one VEVENT. skip reports an event that is intentionally left
// out (cancelled) and is not a warning.
func (p *veventParser) parse(seq int) (model.RawEvent, bool, error) {
	ev := model.RawEvent{
		Source:      p.src,
		Seq:         seq,
		UID:         p.text(ical.ComponentPropertyUniqueId),
		Title:       p.text(ical.ComponentPropertySummary),
		Location:    p.text(ical.ComponentPropertyLocation),
		Description: p.text(ical.ComponentPropertyDescription),
	}
	if ev.Title == "" {
		ev.Title = untitled
	}

	// A cancelled override is kept so that expansion can remove the instance
	// it replaces; any other cancelled event is dropped here.
	if strings.EqualFold(p.text(ical.ComponentPropertyStatus), "CANCELLED") {
		if p.ve.GetProperty(ical.ComponentProperty("RECURRENCE-ID")) == nil {
			return ev, true, nil
		}
		ev.Cancelled = true
	}

	startProp := p.ve.GetProperty(ical.ComponentPropertyDtStart)
	if startProp == nil || strings.TrimSpace(startProp.Value) == "" {
		return ev, false, errors.New("missing DTSTART")
	}
	start, err := p.dateValue(ev.UID, startProp.Value, startProp.ICalParameters)
	if err != nil {
		return ev, false, fmt.Errorf("invalid DTSTART: %w", err)
	}
	ev.AllDay = start.allDay

	var (
		end    value
		hasEnd bool
	)
	if endProp := p.ve.GetProperty(ical.ComponentPropertyDtEnd); endProp != nil && strings.TrimSpace(endProp.Value) != "" {
		if end, err = p.dateValue(ev.UID, endProp.Value, endProp.ICalParameters); err != nil {
			p.warn(ev.UID, "ignoring invalid DTEND %q", endProp.Value)
		} else {
			hasEnd = true
		}
	}
	var dur time.Duration
	hasDur := false
	if !hasEnd {
		if durProp := p.ve.GetProperty(ical.ComponentProperty("DURATION")); durProp != nil {
			if d, derr := parseDuration(durProp.Value); derr != nil || d < 0 {
				p.warn(ev.UID, "ignoring invalid DURATION %q", durProp.Value)
			} else {
				dur, hasDur = d, true
			}
		}
	}

	if ev.AllDay {
		ev.StartDate = start.date
		// By convention the instant of an all-day event is midnight UTC of its
		// date; only the dates are meaningful.
		ev.Start = start.date.In(time.UTC)
		switch {
		case hasEnd:
			ev.EndDate = end.date
		case hasDur:
			days := int(dur / (24 * time.Hour))
			ev.EndDate = start.date.AddDays(max(days, 1))
		default:
			// RFC 5545 3.6.1: a DATE DTSTART without DTEND lasts one day.
			ev.EndDate = start.date.AddDays(1)
		}
		if !ev.EndDate.After(ev.StartDate) {
			ev.EndDate = ev.StartDate.AddDays(1)
		}
		ev.End = ev.EndDate.In(time.UTC)
		ev.HasEnd = true
	} else {
		ev.Start = start.t
		switch {
		case hasEnd && end.allDay:
			ev.End = end.date.In(start.t.Location())
			ev.HasEnd = true
		case hasEnd:
			ev.End = end.t
			ev.HasEnd = true
		case hasDur:
			ev.End = start.t.Add(dur)
			ev.HasEnd = true
		}
	}

	if rr := p.ve.GetProperty(ical.ComponentPropertyRrule); rr != nil {
		ev.RRule = strings.TrimSpace(rr.Value)
	}

	// EXDATE (can appear multiple times, each possibly a comma list)
	for _, ex := range p.ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(ex.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			v, err := p.dateValue(ev.UID, part, ex.ICalParameters)
			if err != nil {
				p.warn(ev.UID, "ignoring invalid EXDATE %q", part)
				continue
			}
			ev.ExDates = append(ev.ExDates, v.instant())
		}
	}

	if rid := p.ve.GetProperty(ical.ComponentProperty("RECURRENCE-ID")); rid != nil {
		if v, err := p.dateValue(ev.UID, rid.Value, rid.ICalParameters); err == nil {
			t := v.instant()
			ev.RecurrenceID = &t
		} else {
			p.warn(ev.UID, "ignoring invalid RECURRENCE-ID %q", rid.Value)
		}
	}
	if ev.Cancelled && ev.RecurrenceID == nil {
		return ev, true, nil
	}

	return ev, false, nil
}

// value is a parsed DATE or DATE-TIME.
type value struct {
	allDay bool
	date   model.Date
	t      time.Time
}

// instant returns the value as a time; DATE values map to midnight UTC in
// line with RawEvent.Start of all-day events.
func (v value) instant() time.Time {
	if v.allDay {
		return v.date.In(time.UTC)
	}
	return v.t
}

func (p *veventParser) dateValue(uid, raw string, params map[string][]string) (value, error) {
	raw = strings.TrimSpace(raw)

	isDate := !strings.Contains(raw, "T")
	if vs := param(params, "VALUE"); strings.EqualFold(vs, "DATE") {
		isDate = true
	}

	if isDate {
		if len(raw) < len(layoutDate) {
			return value{}, fmt.Errorf("bad date %q", raw)
		}
		d, err := time.Parse(layoutDate, raw[:len(layoutDate)])
		if err != nil {
			return value{}, err
		}
		return value{allDay: true, date: model.DateOf(d)}, nil
	}

	if strings.HasSuffix(raw, "Z") || strings.HasSuffix(raw, "z") {
		t, err := time.Parse(layoutUTC, strings.ToUpper(raw))
		if err != nil {
			return value{}, err
		}
		return value{t: t}, nil
	}

	loc := p.defaultLoc
	if tzid := param(params, "TZID"); tzid != "" {
		if l, ok := resolveTZID(tzid); ok {
			loc = l
		} else {
			p.warn(uid, "unknown TZID %q, using %s", tzid, p.defaultLoc)
		}
	}
	t, err := time.ParseInLocation(layoutFloating, raw, loc)
	if err != nil {
		return value{}, err
	}
	return value{t: t}, nil
}

func param(params map[string][]string, key string) string {
	for k, vs := range params {
		if strings.EqualFold(k, key) && len(vs) > 0 {
			return strings.Trim(strings.TrimSpace(vs[0]), `"`)
		}
	}
	return ""
}

// parseDuration parses an RFC 5545 dur-value such as P1D, PT1H30M or P2W.
func parseDuration(s string) (time.Duration, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, errors.New("empty duration")
	}
	sign := time.Duration(1)
	switch s[0] {
	case '-':
		sign = -1
		s = s[1:]
	case '+':
		s = s[1:]
	}
	if !strings.HasPrefix(s, "P") {
		return 0, fmt.Errorf("duration %q must start with P", s)
	}
	s = s[1:]

	var (
		total  time.Duration
		inTime bool
		num    strings.Builder
		parsed bool
	)
	for _, r := range s {
		switch {
		case r == 'T':
			inTime = true
		case r >= '0' && r <= '9':
			num.WriteRune(r)
		default:
			if num.Len() == 0 {
				return 0, fmt.Errorf("duration %q: missing number before %c", s, r)
			}
			n, err := strconv.Atoi(num.String())
			if err != nil {
				return 0, err
			}
			num.Reset()
			unit, err := durationUnit(r, inTime)
			if err != nil {
				return 0, err
			}
			total += time.Duration(n) * unit
			parsed = true
		}
	}
	if !parsed || num.Len() > 0 {
		return 0, fmt.Errorf("duration %q is incomplete", s)
	}
	return sign * total, nil
}

func durationUnit(r rune, inTime bool) (time.Duration, error) {
	switch {
	case r == 'W' && !inTime:
		return 7 * 24 * time.Hour, nil
	case r == 'D' && !inTime:
		return 24 * time.Hour, nil
	case r == 'H' && inTime:
		return time.Hour, nil
	case r == 'M' && inTime:
		return time.Minute, nil
	case r == 'S' && inTime:
		return time.Second, nil
	}
	return 0, fmt.Errorf("unexpected duration unit %c", r)
}

// unescapeText reverses RFC 5545 TEXT escaping.
func unescapeText(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 == len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n', 'N':
			b.WriteByte('\n')
		case ',', ';', '\\':
			b.WriteByte(s[i])
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
