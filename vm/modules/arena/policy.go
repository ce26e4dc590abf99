package arena

import "github.com/tolelom/tolarena/fixedpoint"

// Overflow policy per accumulated field. Money-bearing round fields fail the
// operation; audit counters clamp.
const (
	ticketCountPolicy         = fixedpoint.Checked
	potPolicy                 = fixedpoint.Checked
	allocatedUnitsPolicy      = fixedpoint.Checked
	allocationsRecordedPolicy = fixedpoint.Saturating
	statsPolicy               = fixedpoint.Saturating
)
