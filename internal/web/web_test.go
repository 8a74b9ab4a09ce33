package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/martinaparikova/calendar-asistant/internal/config"
	"github.com/martinaparikova/calendar-asistant/internal/history"
	"github.com/martinaparikova/calendar-asistant/internal/model"
	"github.com/martinaparikova/calendar-asistant/internal/notify"
	"github.com/martinaparikova/calendar-asistant/internal/pipeline"
)

type fakeBackend struct {
	calls atomic.Int32
	err   error
	refs  []time.Time
}

func (f *fakeBackend) Summarize(_ context.Context, mode model.Mode, ref time.Time) (*pipeline.Result, error) {
	f.calls.Add(1)
	f.refs = append(f.refs, ref)
	res := &pipeline.Result{
		Summary:  model.Summary{Mode: mode, TimeZone: "UTC", Days: []model.DayBucket{}, Failures: []model.Failure{}, Warnings: []model.Warning{}},
		Failures: []model.Failure{},
		Warnings: []model.Warning{},
	}
	if f.err != nil {
		res.Failures = []model.Failure{{Source: "Work", Kind: model.KindFetchError, Message: "timeout"}}
		return res, f.err
	}
	return res, nil
}

func (f *fakeBackend) Message(s model.Summary) (notify.Message, error) {
	return notify.Message{Subject: "s", HTML: "<p>" + string(s.Mode) + " preview</p>"}, nil
}

func (f *fakeBackend) RecentRuns(context.Context, int) ([]history.Run, error) {
	return []history.Run{{ID: "r1", Mode: "daily", Delivered: true}}, nil
}

func get(t *testing.T, h http.Handler, path string, auth ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if len(auth) == 2 {
		req.SetBasicAuth(auth[0], auth[1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestBasicAuth(t *testing.T) {
	s := NewServer(&fakeBackend{}, &config.BasicAuthConfig{Username: "admin", Password: "secret"}, time.UTC)
	h := s.Handler()

	if rec := get(t, h, "/health"); rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("health should be public, got %d", rec.Code)
	}
	if rec := get(t, h, "/api/summary"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if rec := get(t, h, "/api/summary", "admin", "wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password accepted: %d", rec.Code)
	}
	if rec := get(t, h, "/api/summary", "admin", "secret"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestSummaryIsCached(t *testing.T) {
	b := &fakeBackend{}
	s := NewServer(b, nil, time.UTC)
	clock := time.Date(2024, 3, 12, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }
	h := s.Handler()

	for range 3 {
		rec := get(t, h, "/api/summary?mode=weekly")
		if rec.Code != http.StatusOK {
			t.Fatalf("status %d", rec.Code)
		}
		var res pipeline.Result
		if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if res.Summary.Mode != model.ModeWeekly {
			t.Fatalf("unexpected mode %q", res.Summary.Mode)
		}
	}
	if b.calls.Load() != 1 {
		t.Fatalf("expected one backend call, got %d", b.calls.Load())
	}

	clock = clock.Add(summaryCacheTTL)
	get(t, h, "/api/summary?mode=weekly")
	if b.calls.Load() != 2 {
		t.Fatalf("expired entry should be refreshed")
	}
}

func TestSummaryDateParameter(t *testing.T) {
	b := &fakeBackend{}
	h := NewServer(b, nil, time.UTC).Handler()

	if rec := get(t, h, "/api/summary?date=2024-03-20"); rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if len(b.refs) != 1 || model.DateOf(b.refs[0]) != model.NewDate(2024, time.March, 20) {
		t.Fatalf("date not passed through: %v", b.refs)
	}
	if rec := get(t, h, "/api/summary?date=next-week"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad date should be 400, got %d", rec.Code)
	}
}

func TestSummaryErrors(t *testing.T) {
	h := NewServer(&fakeBackend{}, nil, time.UTC).Handler()
	if rec := get(t, h, "/api/summary?mode=monthly"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad mode should be 400, got %d", rec.Code)
	}

	failing := NewServer(&fakeBackend{err: &pipeline.AllFailedError{}}, nil, time.UTC).Handler()
	rec := get(t, failing, "/api/summary")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("all sources failed should be 502, got %d", rec.Code)
	}
	var body summaryError
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Failures) != 1 || body.Failures[0].Source != "Work" {
		t.Fatalf("failures should be reported: %+v", body)
	}

	none := NewServer(&fakeBackend{err: pipeline.ErrNoSources}, nil, time.UTC).Handler()
	if rec := get(t, none, "/api/summary"); rec.Code != http.StatusConflict {
		t.Fatalf("no sources should be 409, got %d", rec.Code)
	}
}

func TestPreviewRunsAndMetrics(t *testing.T) {
	h := NewServer(&fakeBackend{}, nil, time.UTC).Handler()

	rec := get(t, h, "/preview?mode=daily")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "daily preview") {
		t.Fatalf("unexpected preview %d %q", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("unexpected content type %q", ct)
	}

	rec = get(t, h, "/api/runs")
	var runs []history.Run
	if err := json.NewDecoder(rec.Body).Decode(&runs); err != nil || len(runs) != 1 || runs[0].ID != "r1" {
		t.Fatalf("unexpected runs %v (%v)", runs, err)
	}

	if rec := get(t, h, "/metrics"); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Fatalf("metrics endpoint broken: %d", rec.Code)
	}
}
