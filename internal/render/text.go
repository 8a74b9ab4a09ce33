package render

import (
	"strings"

	"github.com/martinaparikova/calendar-asistant/internal/model"
)

// Text renders the chat message in Slack mrkdwn (Discord renders the same
// markers well enough).
func Text(s model.Summary, opts Options) string {
	var b strings.Builder

	b.WriteString("*" + title(s, opts) + "*\n")
	if opts.Intro != "" {
		b.WriteString(opts.Intro + "\n")
	}

	if len(s.Failures) > 0 {
		b.WriteString("\n:warning: Some calendars could not be loaded, this summary may be incomplete:\n")
		for _, f := range s.Failures {
			b.WriteString("• " + f.Source + " (" + string(f.Kind) + "): " + f.Message + "\n")
		}
	}

	days := nonEmptyDays(s)
	if len(days) == 0 {
		if len(s.Failures) > 0 {
			b.WriteString("\nNo events could be shown for this period from the calendars that loaded.\n")
		} else {
			b.WriteString("\nNo events in this period.\n")
		}
		return b.String()
	}

	for _, d := range days {
		b.WriteString("\n*" + DayLabel(d.Day) + "*\n")
		for _, e := range d.Entries {
			b.WriteString("• " + e.TimeRange + " — " + e.Title)
			if e.Location != "" {
				b.WriteString(" @ " + e.Location)
			}
			b.WriteString(" _(" + strings.Join(e.Sources, ", ") + ")_\n")
		}
	}
	return b.String()
}
