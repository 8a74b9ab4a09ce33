package main

import (
	"testing"
	"time"
)

func TestDateParser(t *testing.T) {
	p := newDateParser()
	now := time.Date(2024, 3, 12, 9, 0, 0, 0, time.UTC) // Tuesday

	got, err := p.Parse("", now, time.UTC)
	if err != nil || !got.Equal(now) {
		t.Fatalf("empty: %s %v", got, err)
	}

	got, err = p.Parse("2024-03-20", now, time.UTC)
	if err != nil || got.Day() != 20 || got.Month() != time.March {
		t.Fatalf("iso: %s %v", got, err)
	}

	got, err = p.Parse("tomorrow", now, time.UTC)
	if err != nil || got.Day() != 13 {
		t.Fatalf("tomorrow: %s %v", got, err)
	}

	if _, err := p.Parse("qwerty", now, time.UTC); err == nil {
		t.Fatalf("expected error for unparseable date")
	}
}
