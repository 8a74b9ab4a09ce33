// Package notify delivers a rendered summary over email and chat.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	appLog "github.com/martinaparikova/calendar-asistant/internal/log"
	"github.com/martinaparikova/calendar-asistant/internal/metrics"
)

// Message is one rendered summary.
type Message struct {
	Subject string
	HTML    string
	Text    string
}

// Notifier sends a Message over one transport.
type Notifier interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Deliver sends msg through every notifier. A failing transport does not
// stop the others; all errors are joined.
func Deliver(ctx context.Context, notifiers []Notifier, msg Message) error {
	var errs []error
	for _, n := range notifiers {
		if err := n.Send(ctx, msg); err != nil {
			metrics.DeliveriesTotal.WithLabelValues(n.Name(), "error").Inc()
			appLog.Error("delivery failed", err, "transport", n.Name())
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
			continue
		}
		metrics.DeliveriesTotal.WithLabelValues(n.Name(), "ok").Inc()
		appLog.Info("delivered", "transport", n.Name())
	}
	return errors.Join(errs...)
}

// truncate cuts s to at most limit bytes on a rune boundary, marking the cut.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	const marker = "\n…"
	cut := limit - len(marker)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + marker
}

// chunkLines splits s into pieces of at most limit bytes, preferring line
// boundaries. Lines longer than limit are truncated.
func chunkLines(s string, limit int) []string {
	var (
		chunks []string
		cur    strings.Builder
	)
	for _, line := range strings.SplitAfter(s, "\n") {
		if len(line) > limit {
			line = truncate(line, limit)
		}
		if cur.Len()+len(line) > limit {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
		cur.WriteString(line)
	}
	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}
