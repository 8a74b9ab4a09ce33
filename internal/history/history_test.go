package history_test

import (
	"context"
	"testing"
	"time"

	"github.com/martinaparikova/calendar-asistant/internal/history"
	"github.com/martinaparikova/calendar-asistant/internal/model"
)

func sampleSummary(title string) model.Summary {
	start := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	day := model.DateOf(start)
	return model.Summary{
		Mode:        model.ModeDaily,
		TimeZone:    "UTC",
		WindowStart: start,
		WindowEnd:   start.AddDate(0, 0, 1),
		Days: []model.DayBucket{{
			Day: day,
			Entries: []model.SummaryEntry{{
				Title:     title,
				TimeRange: "14:00–15:00",
				Start:     start.Add(14 * time.Hour),
				End:       start.Add(15 * time.Hour),
				Sources:   []string{"Work"},
				Day:       day,
			}},
		}},
		Failures: []model.Failure{},
		Warnings: []model.Warning{},
	}
}

func TestStoreAlreadyDelivered(t *testing.T) {
	ctx := context.Background()
	store, err := history.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	now := time.Date(2024, 3, 9, 18, 0, 0, 0, time.UTC)
	run, err := history.NewRun(sampleSummary("Team sync"), false, now)
	if err != nil {
		t.Fatalf("new run: %v", err)
	}

	delivered, err := store.AlreadyDelivered(ctx, run)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if delivered {
		t.Fatalf("empty ledger should not report a delivery")
	}

	run.Delivered = true
	if err := store.Record(ctx, run); err != nil {
		t.Fatalf("record: %v", err)
	}

	again, err := history.NewRun(sampleSummary("Team sync"), false, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("new run: %v", err)
	}
	if again.Digest != run.Digest {
		t.Fatalf("identical summaries must have identical digests")
	}
	delivered, err = store.AlreadyDelivered(ctx, again)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !delivered {
		t.Fatalf("expected the identical summary to be reported as delivered")
	}

	changed, err := history.NewRun(sampleSummary("Team sync (moved)"), false, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("new run: %v", err)
	}
	delivered, err = store.AlreadyDelivered(ctx, changed)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if delivered {
		t.Fatalf("a changed summary must be delivered again")
	}

	runs, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(runs) != 1 || runs[0].Events != 1 {
		t.Fatalf("unexpected runs: %+v", runs)
	}
}
