package goals

import (
	"math"
	"time"
)

// Milestone completion weighs 60%, tracked section completion 40%.
const (
	milestoneWeight = 0.6
	sectionWeight   = 0.4
)

// DeriveStatus returns the status implied by progress. Paused and cancelled
// goals keep their status; "overdue" is never derived.
func DeriveStatus(g Goal) Status {
	if g.Status.Sticky() {
		return g.Status
	}
	if g.Progress >= 100 {
		return StatusCompleted
	}
	return StatusActive
}

// WeightedProgress combines milestone and section completion. ok is false
// when the goal has neither milestones nor sections, in which case progress
// is maintained by hand.
func WeightedProgress(g Goal) (progress int, ok bool) {
	if len(g.Milestones) == 0 && g.Metrics.TotalSections <= 0 {
		return 0, false
	}

	var ms float64
	if n := len(g.Milestones); n > 0 {
		done := 0
		for _, m := range g.Milestones {
			if m.Completed {
				done++
			}
		}
		ms = float64(done) / float64(n) * 100
	}

	var sec float64
	if g.Metrics.TotalSections > 0 {
		sec = float64(min(g.Metrics.SectionsCompleted, g.Metrics.TotalSections)) / float64(g.Metrics.TotalSections) * 100
	}

	return clampPercent(int(math.Round(ms*milestoneWeight + sec*sectionWeight))), true
}

// Recalculate refreshes progress and status. UpdatedAt moves to now only when
// something changed.
func Recalculate(g Goal, now time.Time) (Goal, bool) {
	before := g
	if p, ok := WeightedProgress(g); ok {
		g.Progress = p
	}
	g.Progress = clampPercent(g.Progress)
	g.Status = DeriveStatus(g)

	changed := g.Progress != before.Progress || g.Status != before.Status
	if changed {
		g.UpdatedAt = now.UTC()
	}
	return g, changed
}
