package comfyui

import "math"

// maxReportedPercent is the highest percentage reported before the job's
// artifact has been handed off.
const maxReportedPercent = 99

// Tracker converts per-unit engine events into a job percentage.
//
// Each newly seen unit label counts as one finished unit; sub-progress of the
// current unit adds its fraction of one unit's share. Reported values never
// decrease: an event that would move the percentage backwards is not
// reported. Values are capped at 99.
type Tracker struct {
	total int
	seen  map[string]struct{}
	last  int
}

// NewTracker creates a Tracker for a graph of totalUnits units.
func NewTracker(totalUnits int) *Tracker {
	return &Tracker{
		total: totalUnits,
		seen:  make(map[string]struct{}),
	}
}

// Observe records an event for unit with optional sub-progress value/max.
// It returns the percentage to report and whether one is due.
func (t *Tracker) Observe(unit string, value, maximum *float64) (int, bool) {
	if unit == "" || t.total <= 0 {
		return 0, false
	}
	t.seen[unit] = struct{}{}

	pct := 100 * float64(len(t.seen)-1) / float64(t.total)
	if value != nil && maximum != nil && *maximum > 0 {
		pct += 100 / float64(t.total) * *value / *maximum
	}

	p := min(int(math.Ceil(pct)), maxReportedPercent)
	if p < t.last {
		return 0, false
	}
	t.last = p
	return p, true
}

// Complete marks the job finished on the engine side and returns the final
// pre-hand-off percentage.
func (t *Tracker) Complete() int {
	t.last = maxReportedPercent
	return t.last
}

// Last returns the most recently reported percentage.
func (t *Tracker) Last() int {
	return t.last
}
