// Package clock implements the business-date policy: a conversation turn
// before the cutoff hour is attributed to the previous calendar day.
package clock

import "time"

// DateLayout is the canonical business date representation.
const DateLayout = "2006/01/02"

// Policy derives business dates from wall-clock time.
type Policy struct {
	cutoffHour int
	loc        *time.Location
}

// New returns a Policy using the given cutoff hour and location.
func New(cutoffHour int, loc *time.Location) *Policy {
	if loc == nil {
		loc = time.UTC
	}
	return &Policy{cutoffHour: cutoffHour, loc: loc}
}

// BusinessDate returns the business date string for now. The result must be
// captured once per turn and threaded through every decision in that turn.
func (p *Policy) BusinessDate(now time.Time) string {
	local := now.In(p.loc)
	if local.Hour() < p.cutoffHour {
		local = local.AddDate(0, 0, -1)
	}
	return local.Format(DateLayout)
}

// Timestamp formats now in the policy's location for audit records.
func (p *Policy) Timestamp(now time.Time) string {
	return now.In(p.loc).Format("2006-01-02 15:04:05")
}
