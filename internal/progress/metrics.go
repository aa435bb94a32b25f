// Package progress derives dashboard metrics, alerts and the compliance score
// from a user's goals and tracked standards, and keeps them fresh on a timer.
package progress

import (
	"math"
	"time"

	"compliance-backend/internal/goals"
	"compliance-backend/internal/standards"
)

const DefaultTrendDays = 30

type TrendPoint struct {
	Date              goals.Date `json:"date"`
	Progress          int        `json:"progress"`
	GoalsCompleted    int        `json:"goals_completed"`
	SectionsCompleted int        `json:"sections_completed"`
}

type Metrics struct {
	TotalGoals                int          `json:"total_goals"`
	ActiveGoals               int          `json:"active_goals"`
	CompletedGoals            int          `json:"completed_goals"`
	OverdueGoals              int          `json:"overdue_goals"`
	AverageProgress           int          `json:"average_progress"`
	GoalsCompletedThisMonth   int          `json:"goals_completed_this_month"`
	SectionsCompletedThisWeek int          `json:"sections_completed_this_week"`
	Trends                    []TrendPoint `json:"trends"`
}

type Input struct {
	Goals     []goals.Goal
	Tracked   []standards.TrackedStandard
	Snapshots []Snapshot
	Now       time.Time
	TrendDays int
}

func startOfMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// startOfWeek is the preceding Sunday, 00:00 UTC.
func startOfWeek(t time.Time) time.Time {
	t = t.UTC()
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return d.AddDate(0, 0, -int(d.Weekday()))
}

func averageProgress(gs []goals.Goal) int {
	if len(gs) == 0 {
		return 0
	}
	sum := 0
	for _, g := range gs {
		sum += min(max(g.Progress, 0), 100)
	}
	return int(math.Round(float64(sum) / float64(len(gs))))
}

// ComputeMetrics aggregates the goal collection. Trends come from the stored
// daily snapshots with today's live values laid over them.
func ComputeMetrics(in Input) Metrics {
	now := in.Now
	m := Metrics{
		TotalGoals:      len(in.Goals),
		AverageProgress: averageProgress(in.Goals),
	}

	month := startOfMonth(now)
	for _, g := range in.Goals {
		switch g.Status {
		case goals.StatusActive:
			m.ActiveGoals++
			if g.Overdue(now) {
				m.OverdueGoals++
			}
		case goals.StatusCompleted:
			m.CompletedGoals++
			if !g.UpdatedAt.Before(month) {
				m.GoalsCompletedThisMonth++
			}
		}
	}

	week := startOfWeek(now)
	for _, s := range in.Tracked {
		for _, sec := range s.Sections {
			if !sec.Completed || sec.LastReviewed == "" {
				continue
			}
			if t, err := sec.LastReviewed.Time(); err == nil && !t.Before(week) {
				m.SectionsCompletedThisWeek++
			}
		}
	}

	days := in.TrendDays
	if days <= 0 {
		days = DefaultTrendDays
	}
	today := TakeSnapshot(in.Goals, in.Tracked, now)
	m.Trends = Trends(mergeSnapshot(in.Snapshots, today), now, days)
	return m
}

// Trends returns one point per day for the days ending today. A day without a
// snapshot carries the previous progress and completes nothing; days before
// the first snapshot are zero. Completion counts are day-over-day increases
// of the cumulative counters, never negative.
func Trends(snaps []Snapshot, now time.Time, days int) []TrendPoint {
	byDate := make(map[goals.Date]Snapshot, len(snaps))
	for _, s := range snaps {
		byDate[s.Date] = s
	}

	first := now.UTC().AddDate(0, 0, -(days - 1))

	// baseline: latest snapshot strictly before the window
	var prev *Snapshot
	firstDate := goals.DateOf(first)
	for i := range snaps {
		if snaps[i].Date < firstDate && (prev == nil || snaps[i].Date > prev.Date) {
			prev = &snaps[i]
		}
	}

	out := make([]TrendPoint, 0, days)
	for i := 0; i < days; i++ {
		d := goals.DateOf(first.AddDate(0, 0, i))
		p := TrendPoint{Date: d}

		s, ok := byDate[d]
		switch {
		case ok && prev != nil:
			p.Progress = s.AverageProgress
			p.GoalsCompleted = max(0, s.GoalsCompleted-prev.GoalsCompleted)
			p.SectionsCompleted = max(0, s.SectionsCompleted-prev.SectionsCompleted)
		case ok:
			p.Progress = s.AverageProgress
		case prev != nil:
			p.Progress = prev.AverageProgress
		}
		if ok {
			prev = &s
		}
		out = append(out, p)
	}
	return out
}
