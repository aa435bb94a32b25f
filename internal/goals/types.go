package goals

import (
	"fmt"
	"slices"
	"time"
)

type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

var priorities = []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}

type Category string

var categories = []Category{"certification", "audit-prep", "training", "documentation", "process-improvement"}

type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusOverdue   Status = "overdue"
	StatusPaused    Status = "paused"
	StatusCancelled Status = "cancelled"
)

// Sticky reports whether the status survives recomputation.
func (s Status) Sticky() bool {
	return s == StatusPaused || s == StatusCancelled
}

// Date is a calendar date "YYYY-MM-DD", read as UTC midnight.
type Date string

const dateLayout = "2006-01-02"

func DateOf(t time.Time) Date {
	return Date(t.UTC().Format(dateLayout))
}

func (d Date) Time() (time.Time, error) {
	return time.Parse(dateLayout, string(d))
}

func (d Date) Valid() bool {
	_, err := d.Time()
	return err == nil
}

// Before reports whether midnight of d is strictly before t. Invalid or empty
// dates are never before anything.
func (d Date) Before(t time.Time) bool {
	dt, err := d.Time()
	return err == nil && dt.Before(t)
}

type Goal struct {
	ID           string      `json:"id"`
	Title        string      `json:"title"`
	Description  string      `json:"description"`
	TargetDate   Date        `json:"target_date"`
	Priority     Priority    `json:"priority"`
	Category     Category    `json:"category"`
	StandardIDs  []string    `json:"standard_ids"`
	Progress     int         `json:"progress"`
	Status       Status      `json:"status"`
	Milestones   []Milestone `json:"milestones"`
	Metrics      Metrics     `json:"metrics"`
	Assignee     string      `json:"assignee,omitempty"`
	Dependencies []string    `json:"dependencies"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

type Milestone struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	TargetDate    Date   `json:"target_date"`
	Completed     bool   `json:"completed"`
	CompletedDate Date   `json:"completed_date,omitempty"`
	Progress      int    `json:"progress"`
}

type Metrics struct {
	SectionsCompleted int `json:"sections_completed"`
	TotalSections     int `json:"total_sections"`
	AuditsCompleted   int `json:"audits_completed"`
	DocumentsCreated  int `json:"documents_created"`
	TrainingSessions  int `json:"training_sessions"`
	TimeSpentMinutes  int `json:"time_spent_minutes"`
}

// Overdue is a view, not a stored status: active and past the target date.
func (g Goal) Overdue(now time.Time) bool {
	return g.Status == StatusActive && g.TargetDate.Before(now)
}

// DaysUntilTarget is ceil((target - now) / 24h). ok is false when the goal
// has no valid target date.
func (g Goal) DaysUntilTarget(now time.Time) (days int, ok bool) {
	t, err := g.TargetDate.Time()
	if err != nil {
		return 0, false
	}
	d := t.Sub(now)
	days = int(d / (24 * time.Hour))
	if d > 0 && d%(24*time.Hour) != 0 {
		days++
	}
	return days, true
}

type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string { return e.Msg }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

func validPriority(p Priority) bool { return slices.Contains(priorities, p) }
func validCategory(c Category) bool { return slices.Contains(categories, c) }

func clampPercent(v int) int {
	return min(max(v, 0), 100)
}
