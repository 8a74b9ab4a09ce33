// Package dedup merges events that several calendars report for the same
// real occurrence.
package dedup

import (
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/martinaparikova/calendar-asistant/internal/model"
)

// NormalizeTitle returns the title in its comparison form: NFC, trimmed,
// inner whitespace collapsed to single spaces, Unicode case-folded.
// " Team  Sync " and "team sync" normalize to the same string.
func NormalizeTitle(title string) string {
	t := norm.NFC.String(title)
	t = strings.Join(strings.Fields(t), " ")
	// Casers are stateful and must not be shared between goroutines.
	return cases.Fold().String(t)
}

// Key derives the identity of an occurrence. The reporting calendar is not
// part of it.
func Key(ev model.NormalizedEvent) model.DedupKey {
	k := model.DedupKey{
		Title:  NormalizeTitle(ev.Title),
		AllDay: ev.AllDay,
	}
	if ev.AllDay {
		k.Date = ev.StartDate
	} else {
		k.Instant = ev.Start.UnixNano()
	}
	return k
}

// Merge collapses events with equal keys.
//
// Input is first sorted by (SourceIndex, Seq), i.e. configured calendar order
// then feed order, so the arrival order of concurrent fetches has no effect.
// The first event of each group in that order provides every secondary field
// (location, description, end); later duplicates only add their calendar
// name. The result is ordered by start, then normalized title, then title.
func Merge(events []model.NormalizedEvent) []model.NormalizedEvent {
	sorted := slices.Clone(events)
	slices.SortStableFunc(sorted, func(a, b model.NormalizedEvent) int {
		if a.SourceIndex != b.SourceIndex {
			return a.SourceIndex - b.SourceIndex
		}
		return a.Seq - b.Seq
	})

	index := make(map[model.DedupKey]int, len(sorted))
	out := make([]model.NormalizedEvent, 0, len(sorted))
	for _, ev := range sorted {
		k := Key(ev)
		if i, ok := index[k]; ok {
			out[i].Sources = appendSources(out[i].Sources, ev.Sources)
			continue
		}
		merged := ev
		merged.Sources = appendSources(nil, ev.Sources)
		index[k] = len(out)
		out = append(out, merged)
	}

	slices.SortStableFunc(out, compare)
	return out
}

func appendSources(dst, src []string) []string {
	for _, s := range src {
		if !slices.Contains(dst, s) {
			dst = append(dst, s)
		}
	}
	return dst
}

func compare(a, b model.NormalizedEvent) int {
	if c := a.Start.Compare(b.Start); c != 0 {
		return c
	}
	if c := strings.Compare(NormalizeTitle(a.Title), NormalizeTitle(b.Title)); c != 0 {
		return c
	}
	if c := strings.Compare(a.Title, b.Title); c != 0 {
		return c
	}
	if a.AllDay != b.AllDay {
		if a.AllDay {
			return -1
		}
		return 1
	}
	return a.SourceIndex - b.SourceIndex
}
