package model

import "time"

// Mode selects the reporting window.
type Mode string

const (
	ModeDaily  Mode = "daily"
	ModeWeekly Mode = "weekly"
)

// FailureKind classifies per-source problems.
type FailureKind string

const (
	KindFetchError   FailureKind = "FetchError"
	KindParseError   FailureKind = "ParseError"
	KindParseWarning FailureKind = "ParseWarning"
)

// Failure is a source that contributed no data to the run.
type Failure struct {
	Source  string      `json:"source"`
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

// Warning is a non-fatal problem inside a source that still contributed
// data, e.g. a skipped VEVENT.
type Warning struct {
	Source  string      `json:"source"`
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

// SummaryEntry is one event as it appears in rendered output.
type SummaryEntry struct {
	Title       string    `json:"title"`
	AllDay      bool      `json:"all_day"`
	TimeRange   string    `json:"time_range"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Location    string    `json:"location,omitempty"`
	Description string    `json:"description,omitempty"`
	Sources     []string  `json:"sources"`
	Day         Date      `json:"day"`
}

// DayBucket holds the ordered entries of one calendar day.
type DayBucket struct {
	Day     Date           `json:"day"`
	Entries []SummaryEntry `json:"entries"`
}

// Summary is the presentation-ready result of one run. It is built once and
// handed unchanged to every renderer.
type Summary struct {
	Mode        Mode        `json:"mode"`
	TimeZone    string      `json:"timezone"`
	WindowStart time.Time   `json:"window_start"`
	WindowEnd   time.Time   `json:"window_end"`
	Days        []DayBucket `json:"days"`
	Failures    []Failure   `json:"failures"`
	Warnings    []Warning   `json:"warnings"`
}

// EventCount returns the number of entries across all days. An event that
// spans several days is counted once per day.
func (s Summary) EventCount() int {
	n := 0
	for _, d := range s.Days {
		n += len(d.Entries)
	}
	return n
}

// Degraded reports whether at least one source failed.
func (s Summary) Degraded() bool {
	return len(s.Failures) > 0
}
