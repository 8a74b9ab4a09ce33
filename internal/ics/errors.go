package ics

import (
	"context"
	"errors"
	"fmt"
)

// FetchReason classifies why a fetch failed.
type FetchReason string

const (
	ReasonTimeout  FetchReason = "timeout"
	ReasonAborted  FetchReason = "aborted"
	ReasonNetwork  FetchReason = "network"
	ReasonStatus   FetchReason = "status"
	ReasonEmpty    FetchReason = "empty body"
	ReasonInvalid  FetchReason = "invalid source"
	ReasonTooLarge FetchReason = "body too large"
)

// FetchError is returned when a source produced no ICS payload.
type FetchError struct {
	Source     string
	Reason     FetchReason
	StatusCode int
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %q: %s", e.Source, e.Reason)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError is returned when a whole ICS document is unusable.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %q: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseWarning describes one VEVENT (or property) that was skipped while the
// rest of the document was kept.
type ParseWarning struct {
	Source string
	UID    string
	Reason string
}

func (w ParseWarning) String() string {
	if w.UID != "" {
		return fmt.Sprintf("%s (uid %s)", w.Reason, w.UID)
	}
	return w.Reason
}

// classify maps a transport error onto a FetchReason. runCtx is the run-level
// context: when it is done the fetch was aborted rather than timed out.
func classify(runCtx context.Context, err error) FetchReason {
	switch {
	case runCtx.Err() != nil:
		return ReasonAborted
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	default:
		var te interface{ Timeout() bool }
		if errors.As(err, &te) && te.Timeout() {
			return ReasonTimeout
		}
		return ReasonNetwork
	}
}
