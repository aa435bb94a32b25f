package progress

import (
	"context"
	"slices"
	"time"

	"compliance-backend/internal/goals"
	"compliance-backend/internal/kv"
	"compliance-backend/internal/standards"
)

const SnapshotsKey = "progress-snapshots"

// SnapshotRetention bounds how many daily rows are kept per user.
const SnapshotRetention = 90

// Snapshot is one day of history. GoalsCompleted and SectionsCompleted are
// running totals at the time of the snapshot.
type Snapshot struct {
	Date              goals.Date `json:"date"`
	AverageProgress   int        `json:"average_progress"`
	TotalGoals        int        `json:"total_goals"`
	GoalsCompleted    int        `json:"goals_completed"`
	SectionsCompleted int        `json:"sections_completed"`
}

func SnapshotsSchema() kv.Schema {
	return kv.Schema{Key: SnapshotsKey, Version: 1}
}

func TakeSnapshot(gs []goals.Goal, tracked []standards.TrackedStandard, now time.Time) Snapshot {
	s := Snapshot{
		Date:              goals.DateOf(now),
		AverageProgress:   averageProgress(gs),
		TotalGoals:        len(gs),
		SectionsCompleted: standards.CompletedSections(tracked),
	}
	for _, g := range gs {
		if g.Status == goals.StatusCompleted {
			s.GoalsCompleted++
		}
	}
	return s
}

// mergeSnapshot returns snaps with s replacing any row for the same day,
// sorted by date and trimmed to SnapshotRetention rows.
func mergeSnapshot(snaps []Snapshot, s Snapshot) []Snapshot {
	out := slices.DeleteFunc(slices.Clone(snaps), func(x Snapshot) bool { return x.Date == s.Date })
	out = append(out, s)
	slices.SortFunc(out, func(a, b Snapshot) int {
		switch {
		case a.Date < b.Date:
			return -1
		case a.Date > b.Date:
			return 1
		}
		return 0
	})
	if len(out) > SnapshotRetention {
		out = out[len(out)-SnapshotRetention:]
	}
	return out
}

type Snapshots struct {
	c *kv.Collections
}

func NewSnapshots(c *kv.Collections) *Snapshots {
	return &Snapshots{c: c}
}

func (s *Snapshots) List(ctx context.Context, uid int) ([]Snapshot, error) {
	return kv.Read(ctx, s.c, uid, SnapshotsKey, []Snapshot{})
}

// Record stores today's row, overwriting an earlier one from the same day.
func (s *Snapshots) Record(ctx context.Context, uid int, snap Snapshot) ([]Snapshot, error) {
	return kv.Update(ctx, s.c, uid, SnapshotsKey, []Snapshot{}, func(cur []Snapshot) ([]Snapshot, error) {
		return mergeSnapshot(cur, snap), nil
	})
}
