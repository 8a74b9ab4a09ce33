package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	"github.com/martinaparikova/calendar-asistant/internal/ics"
	"github.com/martinaparikova/calendar-asistant/internal/model"
	"github.com/martinaparikova/calendar-asistant/internal/window"
)

// fakeFetcher serves canned bodies or errors by source name.
type fakeFetcher struct {
	bodies map[string]string
	errs   map[string]error
}

func (f fakeFetcher) FetchAll(_ context.Context, sources []model.CalendarSource) []ics.FetchResult {
	out := make([]ics.FetchResult, len(sources))
	for i, s := range sources {
		out[i] = ics.FetchResult{Source: s}
		if err, ok := f.errs[s.Name]; ok {
			out[i].Err = err
			continue
		}
		out[i].Body = []byte(f.bodies[s.Name])
	}
	return out
}

func feed(events ...string) string {
	s := "BEGIN:VCALENDAR\r\nVERSION:2.0\r\n"
	for _, e := range events {
		s += "BEGIN:VEVENT\r\n" + e + "END:VEVENT\r\n"
	}
	return s + "END:VCALENDAR\r\n"
}

func sources(names ...string) []model.CalendarSource {
	out := make([]model.CalendarSource, len(names))
	for i, n := range names {
		out[i] = model.CalendarSource{Name: n, URL: "https://example.com/" + n + ".ics", Enabled: true, Index: i}
	}
	return out
}

var day = time.Date(2024, 3, 12, 12, 0, 0, 0, time.UTC)

func dailyRequest(names ...string) Request {
	return Request{
		Sources:  sources(names...),
		Location: time.UTC,
		Window:   window.Daily(day, time.UTC, 0),
	}
}

func TestRunMergesAcrossCalendars(t *testing.T) {
	f := fakeFetcher{bodies: map[string]string{
		"Work": feed(
			"UID:w1\r\nSUMMARY: Team Sync \r\nLOCATION:Room 1\r\nDTSTART:20240312T140000Z\r\nDTEND:20240312T150000Z\r\n",
			"UID:w2\r\nSUMMARY:Yesterday\r\nDTSTART:20240311T140000Z\r\n",
		),
		"Personal": feed(
			"UID:p1\r\nSUMMARY:team sync\r\nDTSTART:20240312T140000Z\r\nDTEND:20240312T150000Z\r\n",
			"UID:p2\r\nSUMMARY:Birthday\r\nDTSTART;VALUE=DATE:20240312\r\n",
		),
	}}

	res, err := NewRunner(f).Run(context.Background(), dailyRequest("Work", "Personal"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Failures) != 0 || res.Summary.Degraded() {
		t.Fatalf("unexpected failures: %v", res.Failures)
	}
	if len(res.Summary.Days) != 1 {
		t.Fatalf("expected one day, got %d", len(res.Summary.Days))
	}
	entries := res.Summary.Days[0].Entries
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %+v", entries)
	}
	if entries[0].Title != "Birthday" || !entries[0].AllDay {
		t.Fatalf("all-day entry should come first: %+v", entries[0])
	}
	sync := entries[1]
	if !slices.Equal(sync.Sources, []string{"Work", "Personal"}) || sync.Location != "Room 1" || sync.TimeRange != "14:00–15:00" {
		t.Fatalf("unexpected merged entry: %+v", sync)
	}
	want := Stats{Sources: 2, VEvents: 4, Parsed: 4, Expanded: 4, InWindow: 3, Deduplicated: 2}
	if res.Stats != want {
		t.Fatalf("stats %+v want %+v", res.Stats, want)
	}
}

func TestRunHidesCancelledOccurrence(t *testing.T) {
	f := fakeFetcher{bodies: map[string]string{
		"Work": feed(
			"UID:r1\r\nSUMMARY:Review\r\nDTSTART:20240311T090000Z\r\nDTEND:20240311T100000Z\r\nRRULE:FREQ=DAILY;COUNT=3\r\n",
			"UID:r1\r\nSUMMARY:Review\r\nSTATUS:CANCELLED\r\nRECURRENCE-ID:20240312T090000Z\r\nDTSTART:20240312T090000Z\r\nDTEND:20240312T100000Z\r\n",
			"UID:l1\r\nSUMMARY:Lunch\r\nDTSTART:20240312T120000Z\r\n",
		),
	}}

	for _, expand := range []bool{false, true} {
		req := dailyRequest("Work")
		req.ExpandRecurrences = expand
		res, err := NewRunner(f).Run(context.Background(), req)
		if err != nil {
			t.Fatalf("expand=%v: run: %v", expand, err)
		}
		entries := res.Summary.Days[0].Entries
		if len(entries) != 1 || entries[0].Title != "Lunch" {
			t.Fatalf("expand=%v: cancelled occurrence shown: %+v", expand, entries)
		}
	}
}

func TestRunReportsFailuresInSourceOrder(t *testing.T) {
	f := fakeFetcher{
		bodies: map[string]string{
			"Broken": "this is not a calendar\r\n",
			"Good":   feed("UID:g1\r\nSUMMARY:Lunch\r\nDTSTART:20240312T120000Z\r\n"),
		},
		errs: map[string]error{
			"Down": &ics.FetchError{Source: "Down", Reason: ics.ReasonStatus, StatusCode: 503},
		},
	}

	res, err := NewRunner(f).Run(context.Background(), dailyRequest("Down", "Good", "Broken"))
	if err != nil {
		t.Fatalf("partial failure must not fail the run: %v", err)
	}
	if len(res.Failures) != 2 {
		t.Fatalf("expected 2 failures, got %v", res.Failures)
	}
	if res.Failures[0].Source != "Down" || res.Failures[0].Kind != model.KindFetchError {
		t.Fatalf("unexpected first failure %+v", res.Failures[0])
	}
	if res.Failures[1].Source != "Broken" || res.Failures[1].Kind != model.KindParseError {
		t.Fatalf("unexpected second failure %+v", res.Failures[1])
	}
	if !res.Summary.Degraded() || res.Summary.EventCount() != 1 {
		t.Fatalf("summary should be degraded with one event: %+v", res.Summary)
	}
}

func TestRunCarriesParseWarnings(t *testing.T) {
	f := fakeFetcher{bodies: map[string]string{
		"Work": feed(
			"UID:ok\r\nSUMMARY:Fine\r\nDTSTART:20240312T090000Z\r\n",
			"UID:bad\r\nSUMMARY:No start\r\n",
		),
	}}
	res, err := NewRunner(f).Run(context.Background(), dailyRequest("Work"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Warnings) != 1 || res.Warnings[0].Kind != model.KindParseWarning || res.Warnings[0].Source != "Work" {
		t.Fatalf("unexpected warnings %v", res.Warnings)
	}
	if len(res.Summary.Warnings) != 1 || len(res.Failures) != 0 {
		t.Fatalf("warnings belong in the summary but are not failures")
	}
}

func TestRunAllSourcesFailed(t *testing.T) {
	f := fakeFetcher{errs: map[string]error{
		"A": &ics.FetchError{Source: "A", Reason: ics.ReasonTimeout},
		"B": &ics.FetchError{Source: "B", Reason: ics.ReasonNetwork},
	}}
	res, err := NewRunner(f).Run(context.Background(), dailyRequest("A", "B"))
	if !errors.Is(err, ErrAllSourcesFailed) {
		t.Fatalf("expected ErrAllSourcesFailed, got %v", err)
	}
	var afe *AllFailedError
	if !errors.As(err, &afe) || len(afe.Failures) != 2 {
		t.Fatalf("expected failures on the error, got %v", err)
	}
	if res == nil || len(res.Failures) != 2 {
		t.Fatalf("result should still describe the failures")
	}
}

func TestRunNoSources(t *testing.T) {
	req := dailyRequest("A")
	req.Sources[0].Enabled = false
	if _, err := NewRunner(fakeFetcher{}).Run(context.Background(), req); !errors.Is(err, ErrNoSources) {
		t.Fatalf("expected ErrNoSources, got %v", err)
	}
}

func TestRunIsDeterministic(t *testing.T) {
	f := fakeFetcher{bodies: map[string]string{
		"A": feed(
			"UID:1\r\nSUMMARY:Standup\r\nDESCRIPTION:from A\r\nDTSTART:20240312T090000Z\r\n",
			"UID:2\r\nSUMMARY:Offsite\r\nDTSTART;VALUE=DATE:20240311\r\nDTEND;VALUE=DATE:20240314\r\n",
		),
		"B": feed(
			"UID:3\r\nSUMMARY:standup\r\nDESCRIPTION:from B\r\nDTSTART:20240312T090000Z\r\n",
		),
	}}
	r := NewRunner(f)
	req := dailyRequest("A", "B")

	var first []byte
	for i := range 5 {
		res, err := r.Run(context.Background(), req)
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		b, err := json.Marshal(res.Summary)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if i == 0 {
			first = b
			continue
		}
		if string(b) != string(first) {
			t.Fatalf("run %d differs:\n%s\n%s", i, b, first)
		}
	}
}

func TestRunWideWindowNeverInventsEvents(t *testing.T) {
	f := fakeFetcher{bodies: map[string]string{
		"A": feed(
			"UID:1\r\nSUMMARY:One\r\nDTSTART:20240101T090000Z\r\n",
			"UID:2\r\nSUMMARY:Two\r\nDTSTART:20240601T090000Z\r\nRRULE:FREQ=DAILY\r\n",
			"UID:3\r\nSUMMARY:Three\r\nDTSTART;VALUE=DATE:20241231\r\n",
		),
		"B": feed("UID:4\r\nSUMMARY:one\r\nDTSTART:20240101T090000Z\r\n"),
	}}
	req := Request{
		Sources:  sources("A", "B"),
		Location: time.UTC,
		Window: window.Window{
			Mode:  model.ModeWeekly,
			Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	}
	res, err := NewRunner(f).Run(context.Background(), req)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Stats.Deduplicated > res.Stats.VEvents {
		t.Fatalf("more events than VEVENTs: %+v", res.Stats)
	}
	if res.Stats.Deduplicated != 3 {
		t.Fatalf("expected 3 distinct events, got %+v", res.Stats)
	}
}

func TestRunTimeoutAbortsSlowSource(t *testing.T) {
	fast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(feed("UID:f\r\nSUMMARY:Quick\r\nDTSTART:20240312T100000Z\r\n")))
	}))
	defer fast.Close()
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer slow.Close()

	req := Request{
		Sources: []model.CalendarSource{
			{Name: "Fast", URL: fast.URL, Enabled: true, Index: 0},
			{Name: "Slow", URL: slow.URL, Enabled: true, Index: 1},
		},
		Location:   time.UTC,
		Window:     window.Daily(day, time.UTC, 0),
		RunTimeout: 200 * time.Millisecond,
	}
	f := ics.NewFetcher(ics.FetcherOptions{Timeout: 10 * time.Second, Retries: 2})

	started := time.Now()
	res, err := NewRunner(f).Run(context.Background(), req)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if elapsed := time.Since(started); elapsed > 3*time.Second {
		t.Fatalf("run did not honor its timeout: %s", elapsed)
	}
	if len(res.Failures) != 1 || res.Failures[0].Source != "Slow" || res.Failures[0].Kind != model.KindFetchError {
		t.Fatalf("expected exactly one fetch failure for Slow, got %v", res.Failures)
	}
	if res.Summary.EventCount() != 1 {
		t.Fatalf("fast source should still contribute, got %d events", res.Summary.EventCount())
	}
}
