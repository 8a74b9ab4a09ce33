package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// dateParser resolves the -date flag: an ISO date ("2024-03-12") or an
// English expression ("tomorrow", "next friday", "in 3 days").
type dateParser struct {
	w *when.Parser
}

func newDateParser() *dateParser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return &dateParser{w: w}
}

// Parse returns the reference time for s in loc. An empty s means now.
func (p *dateParser) Parse(s string, now time.Time, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	now = now.In(loc)
	if s == "" {
		return now, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		// Midday keeps the date stable whatever the window offsets.
		return t.Add(12 * time.Hour), nil
	}

	res, err := p.w.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("-date %q: %w", s, err)
	}
	if res == nil {
		return time.Time{}, errors.New("-date: expected YYYY-MM-DD or an expression like \"tomorrow\"")
	}
	return res.Time.In(loc), nil
}
