// Package render turns a Summary into the HTML email body and the plain
// chat message. Both renderers read the same Summary value.
package render

import (
	"fmt"
	"time"

	"github.com/martinaparikova/calendar-asistant/internal/model"
)

// Options carries presentation-only settings.
type Options struct {
	// Title overrides the generated heading.
	Title string
	// Intro is an optional paragraph under the heading.
	Intro string
}

// Title builds the subject line for a summary, e.g.
// "Plan for Tuesday 14.10.2026" or "Week plan 12.10.–18.10.2026".
func Title(s model.Summary) string {
	loc := location(s)
	start := s.WindowStart.In(loc)
	switch s.Mode {
	case model.ModeWeekly:
		// WindowEnd is exclusive; the last shown day is the one before it.
		last := s.WindowEnd.In(loc).AddDate(0, 0, -1)
		return fmt.Sprintf("Week plan %s–%s", start.Format("02.01."), last.Format("02.01.2006"))
	default:
		return "Plan for " + start.Format("Monday 02.01.2006")
	}
}

// DayLabel formats a bucket heading.
func DayLabel(d model.Date) string {
	return d.In(time.UTC).Format("Monday 02.01.2006")
}

func location(s model.Summary) *time.Location {
	if s.TimeZone != "" {
		if loc, err := time.LoadLocation(s.TimeZone); err == nil {
			return loc
		}
	}
	return s.WindowStart.Location()
}

func title(s model.Summary, opts Options) string {
	if opts.Title != "" {
		return opts.Title
	}
	return Title(s)
}

// nonEmptyDays drops days without entries; headings for empty days are noise
// in a weekly mail.
func nonEmptyDays(s model.Summary) []model.DayBucket {
	out := make([]model.DayBucket, 0, len(s.Days))
	for _, d := range s.Days {
		if len(d.Entries) > 0 {
			out = append(out, d)
		}
	}
	return out
}
