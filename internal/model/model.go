package model

import "time"

// CalendarSource is one configured ICS subscription. It is read-only for the
// duration of a run.
type CalendarSource struct {
	// Name is the human-friendly label shown next to merged events.
	Name string
	// URL is the secret ICS endpoint.
	URL string
	// Enabled sources take part in a run; disabled ones are skipped.
	Enabled bool
	// Index is the position of the source in the configured list. It is the
	// tie-breaker for every "first seen" decision downstream.
	Index int
}

// RawEvent is a VEVENT as produced by the ICS parser, before any zone
// conversion.
type RawEvent struct {
	Source CalendarSource

	// Seq is the position of the VEVENT inside its feed.
	Seq int

	UID         string
	Title       string
	Location    string
	Description string

	AllDay bool

	// Timed events: Start is zone-aware (TZID, UTC or the feed default zone
	// for floating values). End is zero when HasEnd is false.
	Start  time.Time
	End    time.Time
	HasEnd bool

	// All-day events: [StartDate, EndDate).
	StartDate Date
	EndDate   Date

	// Recurrence data as written in the feed; only used when expansion is
	// enabled.
	RRule        string
	ExDates      []time.Time
	RecurrenceID *time.Time
	// Cancelled marks a STATUS:CANCELLED override; it removes the instance
	// at RecurrenceID from its series and is never shown itself.
	Cancelled bool
}

// NormalizedEvent is a RawEvent expressed in the target zone with all-day
// handling resolved.
//
// Timed events carry Start/End in the target zone. All-day events carry
// StartDate/EndDate (half-open) and Start/End set to midnight of those dates
// in the target zone, so that window arithmetic works on instants for both
// kinds. End is never before Start.
type NormalizedEvent struct {
	UID         string
	Title       string
	Location    string
	Description string

	AllDay    bool
	StartDate Date
	EndDate   Date

	Start time.Time
	End   time.Time

	// Sources lists the names of the calendars reporting this occurrence, in
	// configured order.
	Sources []string

	SourceIndex int
	Seq         int
}

// Duration returns End - Start.
func (e NormalizedEvent) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// DedupKey identifies "the same occurrence" independent of the reporting
// calendar. It is a comparable value so it can be used as a map key.
type DedupKey struct {
	Title  string
	AllDay bool
	// Date is set for all-day events.
	Date Date
	// Instant is the start in Unix nanoseconds for timed events.
	Instant int64
}
