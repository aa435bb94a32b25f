package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"compliance-backend/internal/goals"
	"compliance-backend/internal/kv"
)

const AlertsKey = "progress-alerts"

const (
	DefaultAlertCap       = 50
	DefaultScheduleWindow = 30 * 24 * time.Hour
)

var ErrAlertNotFound = errors.New("alert not found")

type AlertType string

const (
	AlertDeadlineApproaching AlertType = "deadline-approaching"
	AlertBehindSchedule      AlertType = "behind-schedule"
	AlertMilestoneMissed     AlertType = "milestone-missed"
	AlertGoalCompleted       AlertType = "goal-completed"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type Alert struct {
	ID           string    `json:"id"`
	Type         AlertType `json:"type"`
	GoalID       string    `json:"goal_id"`
	MilestoneID  string    `json:"milestone_id,omitempty"`
	Severity     Severity  `json:"severity"`
	Message      string    `json:"message"`
	CreatedAt    time.Time `json:"created_at"`
	Acknowledged bool      `json:"acknowledged"`
}

// Fired records an emitted alert id. It outlives the capped display list so
// an alert dropped by the cap is not raised again while its condition holds.
type Fired struct {
	ID          string `json:"id"`
	GoalID      string `json:"goal_id"`
	MilestoneID string `json:"milestone_id,omitempty"`
}

// alertState is the stored value: the capped history plus every id emitted
// for goals and milestones that still exist.
type alertState struct {
	Alerts []Alert `json:"alerts"`
	Fired  []Fired `json:"fired"`
}

func firedOf(as []Alert) []Fired {
	out := make([]Fired, 0, len(as))
	for _, a := range as {
		out = append(out, Fired{ID: a.ID, GoalID: a.GoalID, MilestoneID: a.MilestoneID})
	}
	return out
}

// FiredIDs lists the ids of as, for GenerateAlerts.
func FiredIDs(as []Alert) []string {
	out := make([]string, 0, len(as))
	for _, a := range as {
		out = append(out, a.ID)
	}
	return out
}

// v1 stored the bare alert list
func upgradeAlertsV1(raw json.RawMessage) (json.RawMessage, error) {
	var log []Alert
	if err := json.Unmarshal(raw, &log); err != nil {
		return nil, err
	}
	if log == nil {
		log = []Alert{}
	}
	return json.Marshal(alertState{Alerts: log, Fired: firedOf(log)})
}

func AlertsSchema() kv.Schema {
	return kv.Schema{Key: AlertsKey, Version: 2, Upgrades: map[int]kv.Upgrade{1: upgradeAlertsV1}}
}

// pruneFired keeps the entries whose goal (and milestone, if any) is still in gs.
func pruneFired(fired []Fired, gs []goals.Goal) []Fired {
	type key struct{ goal, milestone string }
	live := make(map[key]bool)
	for _, g := range gs {
		live[key{g.ID, ""}] = true
		for _, m := range g.Milestones {
			live[key{g.ID, m.ID}] = true
		}
	}
	out := make([]Fired, 0, len(fired))
	for _, f := range fired {
		if live[key{f.GoalID, f.MilestoneID}] {
			out = append(out, f)
		}
	}
	return out
}

// ExpectedProgress is where a goal "should" be with days left of a window:
// max(0, 100 - days/window*100).
func ExpectedProgress(days int, window time.Duration) float64 {
	w := window.Hours() / 24
	if w <= 0 {
		return 0
	}
	return math.Max(0, 100-float64(days)*100/w)
}

// GenerateAlerts returns the alerts the goals trigger now whose ids are not
// in fired. Calling it again with the new ids added yields nothing.
func GenerateAlerts(gs []goals.Goal, fired []string, now time.Time, window time.Duration) []Alert {
	if window <= 0 {
		window = DefaultScheduleWindow
	}
	seen := make(map[string]bool, len(fired))
	for _, id := range fired {
		seen[id] = true
	}

	var out []Alert
	emit := func(a Alert) {
		if seen[a.ID] {
			return
		}
		seen[a.ID] = true
		a.CreatedAt = now.UTC()
		out = append(out, a)
	}

	for _, g := range gs {
		switch g.Status {
		case goals.StatusActive:
			if days, ok := g.DaysUntilTarget(now); ok && days > 0 {
				if days <= 7 {
					sev := SeverityHigh
					if days <= 3 {
						sev = SeverityCritical
					}
					emit(Alert{
						ID:       fmt.Sprintf("deadline-%s-%d", g.ID, days),
						Type:     AlertDeadlineApproaching,
						GoalID:   g.ID,
						Severity: sev,
						Message:  fmt.Sprintf("Goal %q deadline in %d days (%d%% complete)", g.Title, days, g.Progress),
					})
				}

				expected := ExpectedProgress(days, window)
				if float64(g.Progress) < expected-20 {
					emit(Alert{
						ID:       fmt.Sprintf("behind-%s-%d", g.ID, int(math.Floor(expected))),
						Type:     AlertBehindSchedule,
						GoalID:   g.ID,
						Severity: SeverityMedium,
						Message:  fmt.Sprintf("Goal %q is behind schedule (%d%% vs expected %d%%)", g.Title, g.Progress, int(math.Round(expected))),
					})
				}
			}

			for _, m := range g.Milestones {
				if !m.Completed && m.TargetDate.Before(now) {
					emit(Alert{
						ID:          fmt.Sprintf("milestone-%s-%s", g.ID, m.ID),
						Type:        AlertMilestoneMissed,
						GoalID:      g.ID,
						MilestoneID: m.ID,
						Severity:    SeverityHigh,
						Message:     fmt.Sprintf("Milestone %q in goal %q is overdue", m.Title, g.Title),
					})
				}
			}

		case goals.StatusCompleted:
			emit(Alert{
				ID:       "completed-" + g.ID,
				Type:     AlertGoalCompleted,
				GoalID:   g.ID,
				Severity: SeverityLow,
				Message:  fmt.Sprintf("Congratulations! Goal %q has been completed", g.Title),
			})
		}
	}
	return out
}

// appendCapped appends and keeps the newest limit entries.
func appendCapped(log, add []Alert, limit int) []Alert {
	out := append(slices.Clone(log), add...)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// AlertFilter selects a view. Without All only unacknowledged alerts are
// returned.
type AlertFilter struct {
	Type     AlertType
	Severity Severity
	All      bool
}

func (f AlertFilter) match(a Alert) bool {
	if !f.All && a.Acknowledged {
		return false
	}
	if f.Type != "" && a.Type != f.Type {
		return false
	}
	if f.Severity != "" && a.Severity != f.Severity {
		return false
	}
	return true
}

func FilterAlerts(log []Alert, f AlertFilter) []Alert {
	out := []Alert{}
	for _, a := range log {
		if f.match(a) {
			out = append(out, a)
		}
	}
	return out
}

// AlertLog is the persisted, capped alert history of each user.
type AlertLog struct {
	c      *kv.Collections
	limit  int
	window time.Duration
}

func NewAlertLog(c *kv.Collections, limit int, window time.Duration) *AlertLog {
	if limit <= 0 {
		limit = DefaultAlertCap
	}
	if window <= 0 {
		window = DefaultScheduleWindow
	}
	return &AlertLog{c: c, limit: limit, window: window}
}

func (l *AlertLog) read(ctx context.Context, uid int) (alertState, error) {
	return kv.Read(ctx, l.c, uid, AlertsKey, alertState{Alerts: []Alert{}})
}

func (l *AlertLog) update(ctx context.Context, uid int, fn func(*alertState) error) error {
	_, err := kv.Update(ctx, l.c, uid, AlertsKey, alertState{}, func(st alertState) (alertState, error) {
		if st.Alerts == nil {
			st.Alerts = []Alert{}
		}
		if err := fn(&st); err != nil {
			return st, err
		}
		return st, nil
	})
	return err
}

func (l *AlertLog) List(ctx context.Context, uid int, f AlertFilter) ([]Alert, error) {
	st, err := l.read(ctx, uid)
	if err != nil {
		return nil, err
	}
	return FilterAlerts(st.Alerts, f), nil
}

// Evaluate generates alerts for gs and appends the new ones. gs must be every
// goal of the user: fired ids of goals and milestones not in gs are forgotten.
func (l *AlertLog) Evaluate(ctx context.Context, uid int, gs []goals.Goal, now time.Time) ([]Alert, error) {
	var added []Alert
	err := l.update(ctx, uid, func(st *alertState) error {
		st.Fired = pruneFired(st.Fired, gs)
		ids := make([]string, 0, len(st.Fired))
		for _, f := range st.Fired {
			ids = append(ids, f.ID)
		}
		added = GenerateAlerts(gs, ids, now, l.window)
		st.Fired = append(st.Fired, firedOf(added)...)
		st.Alerts = appendCapped(st.Alerts, added, l.limit)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

// Acknowledge flips one alert's flag; order and length are unchanged.
func (l *AlertLog) Acknowledge(ctx context.Context, uid int, id string) (Alert, error) {
	var out Alert
	err := l.update(ctx, uid, func(st *alertState) error {
		i := slices.IndexFunc(st.Alerts, func(a Alert) bool { return a.ID == id })
		if i < 0 {
			return ErrAlertNotFound
		}
		st.Alerts[i].Acknowledged = true
		out = st.Alerts[i]
		return nil
	})
	return out, err
}

// ClearAll acknowledges every alert; nothing is removed.
func (l *AlertLog) ClearAll(ctx context.Context, uid int) (int, error) {
	n := 0
	err := l.update(ctx, uid, func(st *alertState) error {
		n = 0
		for i := range st.Alerts {
			if !st.Alerts[i].Acknowledged {
				st.Alerts[i].Acknowledged = true
				n++
			}
		}
		return nil
	})
	return n, err
}
