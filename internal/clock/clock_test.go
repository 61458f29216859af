package clock

import (
	"testing"
	"time"
)

func TestBusinessDateBeforeCutoff(t *testing.T) {
	jst := time.FixedZone("JST", 9*60*60)
	p := New(11, jst)

	now := time.Date(2024, 6, 10, 10, 59, 0, 0, jst)
	if got := p.BusinessDate(now); got != "2024/06/09" {
		t.Fatalf("expected previous day before cutoff, got %s", got)
	}
}

func TestBusinessDateAfterCutoff(t *testing.T) {
	jst := time.FixedZone("JST", 9*60*60)
	p := New(11, jst)

	now := time.Date(2024, 6, 10, 11, 0, 0, 0, jst)
	if got := p.BusinessDate(now); got != "2024/06/10" {
		t.Fatalf("expected same day at cutoff, got %s", got)
	}
}

func TestBusinessDateConvertsZone(t *testing.T) {
	jst := time.FixedZone("JST", 9*60*60)
	p := New(11, jst)

	// 01:30 UTC is 10:30 JST, before the cutoff.
	now := time.Date(2024, 6, 10, 1, 30, 0, 0, time.UTC)
	if got := p.BusinessDate(now); got != "2024/06/09" {
		t.Fatalf("expected conversion to policy zone, got %s", got)
	}
}

func TestBusinessDateMonthRollover(t *testing.T) {
	jst := time.FixedZone("JST", 9*60*60)
	p := New(11, jst)

	now := time.Date(2024, 7, 1, 0, 5, 0, 0, jst)
	if got := p.BusinessDate(now); got != "2024/06/30" {
		t.Fatalf("expected previous month, got %s", got)
	}
}
