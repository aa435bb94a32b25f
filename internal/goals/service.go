package goals

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"compliance-backend/internal/kv"
)

var (
	ErrNotFound          = errors.New("goal not found")
	ErrMilestoneNotFound = errors.New("milestone not found")
)

// CompletedFunc is called once per goal that moved into "completed".
type CompletedFunc func(ctx context.Context, uid int, g Goal)

// ChangedFunc is called after every successful write of a user's goals.
type ChangedFunc func(ctx context.Context, uid int)

type Options struct {
	Now         func() time.Time
	SeedSamples bool
}

type Service struct {
	c           *kv.Collections
	now         func() time.Time
	seed        bool
	onCompleted []CompletedFunc
	onChanged   []ChangedFunc
}

func NewService(c *kv.Collections, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{c: c, now: opts.Now, seed: opts.SeedSamples}
}

// OnCompleted registers fn for goal completions caused by any mutation,
// including RecomputeAll.
func (s *Service) OnCompleted(fn CompletedFunc) {
	s.onCompleted = append(s.onCompleted, fn)
}

// OnChanged registers fn for every successful mutation. fn runs after the
// collection is written and may read the goals again.
func (s *Service) OnChanged(fn ChangedFunc) {
	s.onChanged = append(s.onChanged, fn)
}

func (s *Service) initial(cur []Goal, now time.Time) []Goal {
	if cur != nil {
		return cur
	}
	if s.seed {
		return SampleGoals(now)
	}
	return []Goal{}
}

func (s *Service) load(ctx context.Context, uid int) ([]Goal, error) {
	cur, err := kv.Read[[]Goal](ctx, s.c, uid, Key, nil)
	if err != nil {
		return nil, err
	}
	if cur == nil && s.seed {
		// first use: persist the samples so ids stay stable
		return s.mutate(ctx, uid, func(gs []Goal, _ time.Time) ([]Goal, error) { return gs, nil })
	}
	return s.initial(cur, s.now()), nil
}

// mutate runs fn under the collection lock and fires completion hooks for
// goals whose status became completed.
func (s *Service) mutate(ctx context.Context, uid int, fn func([]Goal, time.Time) ([]Goal, error)) ([]Goal, error) {
	now := s.now()
	var completed []Goal

	out, err := kv.Update[[]Goal](ctx, s.c, uid, Key, nil, func(cur []Goal) ([]Goal, error) {
		cur = s.initial(cur, now)
		before := make(map[string]Status, len(cur))
		for _, g := range cur {
			before[g.ID] = g.Status
		}

		next, err := fn(slices.Clone(cur), now)
		if err != nil {
			return nil, err
		}

		completed = completed[:0]
		for _, g := range next {
			if g.Status == StatusCompleted && before[g.ID] != StatusCompleted {
				completed = append(completed, g)
			}
		}
		return next, nil
	})
	if err != nil {
		return nil, err
	}

	for _, g := range completed {
		for _, fn := range s.onCompleted {
			fn(ctx, uid, g)
		}
	}
	for _, fn := range s.onChanged {
		fn(ctx, uid)
	}
	return out, nil
}

// Filter narrows List. Status "overdue" selects the overdue view; empty or
// "all" fields match everything.
type Filter struct {
	Status   string
	Category string
}

func (s *Service) List(ctx context.Context, uid int, f Filter) ([]Goal, error) {
	all, err := s.load(ctx, uid)
	if err != nil {
		return nil, err
	}
	now := s.now()

	out := make([]Goal, 0, len(all))
	for _, g := range all {
		if f.Category != "" && f.Category != "all" && string(g.Category) != f.Category {
			continue
		}
		switch f.Status {
		case "", "all":
		case string(StatusOverdue):
			if !g.Overdue(now) {
				continue
			}
		default:
			if string(g.Status) != f.Status {
				continue
			}
		}
		out = append(out, g)
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, uid int, id string) (Goal, error) {
	all, err := s.load(ctx, uid)
	if err != nil {
		return Goal{}, err
	}
	for _, g := range all {
		if g.ID == id {
			return g, nil
		}
	}
	return Goal{}, ErrNotFound
}

type GoalInput struct {
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	TargetDate   Date     `json:"target_date"`
	Priority     Priority `json:"priority"`
	Category     Category `json:"category"`
	StandardIDs  []string `json:"standard_ids"`
	Assignee     string   `json:"assignee"`
	Dependencies []string `json:"dependencies"`
	Progress     *int     `json:"progress"`
	Metrics      *Metrics `json:"metrics"`
}

func (in *GoalInput) normalize() error {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return invalid("title", "title is required")
	}
	if in.TargetDate != "" && !in.TargetDate.Valid() {
		return invalid("target_date", "target_date must be YYYY-MM-DD")
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	if !validPriority(in.Priority) {
		return invalid("priority", "unknown priority %q", in.Priority)
	}
	if in.Category == "" {
		in.Category = "certification"
	}
	if !validCategory(in.Category) {
		return invalid("category", "unknown category %q", in.Category)
	}
	if in.StandardIDs == nil {
		in.StandardIDs = []string{}
	}
	if in.Dependencies == nil {
		in.Dependencies = []string{}
	}
	if in.Metrics != nil {
		m := in.Metrics
		if m.SectionsCompleted < 0 || m.TotalSections < 0 || m.AuditsCompleted < 0 ||
			m.DocumentsCreated < 0 || m.TrainingSessions < 0 || m.TimeSpentMinutes < 0 {
			return invalid("metrics", "metrics must not be negative")
		}
	}
	return nil
}

func checkDependencies(all []Goal, self string, deps []string) error {
	for _, d := range deps {
		if d == self {
			return invalid("dependencies", "goal cannot depend on itself")
		}
		if !slices.ContainsFunc(all, func(g Goal) bool { return g.ID == d }) {
			return invalid("dependencies", "unknown dependency %q", d)
		}
	}
	return nil
}

func (s *Service) Create(ctx context.Context, uid int, in GoalInput) (Goal, error) {
	if err := in.normalize(); err != nil {
		return Goal{}, err
	}

	var created Goal
	_, err := s.mutate(ctx, uid, func(all []Goal, now time.Time) ([]Goal, error) {
		if err := checkDependencies(all, "", in.Dependencies); err != nil {
			return nil, err
		}
		g := Goal{
			ID:           uuid.NewString(),
			Title:        in.Title,
			Description:  in.Description,
			TargetDate:   in.TargetDate,
			Priority:     in.Priority,
			Category:     in.Category,
			StandardIDs:  in.StandardIDs,
			Status:       StatusActive,
			Milestones:   []Milestone{},
			Assignee:     in.Assignee,
			Dependencies: in.Dependencies,
			CreatedAt:    now.UTC(),
			UpdatedAt:    now.UTC(),
		}
		if in.Progress != nil {
			g.Progress = *in.Progress
		}
		if in.Metrics != nil {
			g.Metrics = *in.Metrics
		}
		g, _ = Recalculate(g, now)
		created = g
		return append(all, g), nil
	})
	return created, err
}

func (s *Service) update(ctx context.Context, uid int, id string, fn func(*Goal, []Goal, time.Time) error) (Goal, error) {
	var updated Goal
	_, err := s.mutate(ctx, uid, func(all []Goal, now time.Time) ([]Goal, error) {
		i := slices.IndexFunc(all, func(g Goal) bool { return g.ID == id })
		if i < 0 {
			return nil, ErrNotFound
		}
		g := all[i]
		g.Milestones = slices.Clone(g.Milestones)
		if err := fn(&g, all, now); err != nil {
			return nil, err
		}
		g, _ = Recalculate(g, now)
		all[i] = g
		updated = g
		return all, nil
	})
	return updated, err
}

// Update replaces the editable fields of a goal.
func (s *Service) Update(ctx context.Context, uid int, id string, in GoalInput) (Goal, error) {
	if err := in.normalize(); err != nil {
		return Goal{}, err
	}
	return s.update(ctx, uid, id, func(g *Goal, all []Goal, now time.Time) error {
		if err := checkDependencies(all, g.ID, in.Dependencies); err != nil {
			return err
		}
		g.Title = in.Title
		g.Description = in.Description
		g.TargetDate = in.TargetDate
		g.Priority = in.Priority
		g.Category = in.Category
		g.StandardIDs = in.StandardIDs
		g.Assignee = in.Assignee
		g.Dependencies = in.Dependencies
		if in.Progress != nil {
			g.Progress = *in.Progress
		}
		if in.Metrics != nil {
			g.Metrics = *in.Metrics
		}
		g.UpdatedAt = now.UTC()
		return nil
	})
}

// Delete removes the goal and drops it from other goals' dependencies.
func (s *Service) Delete(ctx context.Context, uid int, id string) error {
	_, err := s.mutate(ctx, uid, func(all []Goal, _ time.Time) ([]Goal, error) {
		i := slices.IndexFunc(all, func(g Goal) bool { return g.ID == id })
		if i < 0 {
			return nil, ErrNotFound
		}
		all = slices.Delete(all, i, i+1)
		for j := range all {
			all[j].Dependencies = slices.DeleteFunc(slices.Clone(all[j].Dependencies), func(d string) bool { return d == id })
		}
		return all, nil
	})
	return err
}

// SetStatus sets an explicit status. Completing a goal sets its progress to
// 100; "active" clears a sticky status. "overdue" cannot be set. A goal whose
// progress is still 100 cannot be made active, since it would derive straight
// back to completed; lower its progress or reopen a milestone first.
func (s *Service) SetStatus(ctx context.Context, uid int, id string, st Status) (Goal, error) {
	switch st {
	case StatusActive, StatusCompleted, StatusPaused, StatusCancelled:
	case StatusOverdue:
		return Goal{}, invalid("status", "overdue is derived from the target date")
	default:
		return Goal{}, invalid("status", "unknown status %q", st)
	}

	return s.update(ctx, uid, id, func(g *Goal, _ []Goal, now time.Time) error {
		g.Status = st
		if st == StatusActive {
			if r, _ := Recalculate(*g, now); r.Status == StatusCompleted {
				return invalid("status", "progress is 100; lower it to reopen the goal")
			}
		}
		if st == StatusCompleted {
			g.Progress = 100
			// keep the weighted recompute from pulling it back
			for i := range g.Milestones {
				if !g.Milestones[i].Completed {
					g.Milestones[i].Completed = true
					g.Milestones[i].CompletedDate = DateOf(now)
					g.Milestones[i].Progress = 100
				}
			}
			g.Metrics.SectionsCompleted = g.Metrics.TotalSections
		}
		g.UpdatedAt = now.UTC()
		return nil
	})
}

type MilestoneInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	TargetDate  Date   `json:"target_date"`
	Progress    int    `json:"progress"`
}

func (s *Service) AddMilestone(ctx context.Context, uid int, id string, in MilestoneInput) (Goal, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return Goal{}, invalid("title", "title is required")
	}
	if in.TargetDate != "" && !in.TargetDate.Valid() {
		return Goal{}, invalid("target_date", "target_date must be YYYY-MM-DD")
	}

	return s.update(ctx, uid, id, func(g *Goal, _ []Goal, now time.Time) error {
		g.Milestones = append(g.Milestones, Milestone{
			ID:          uuid.NewString(),
			Title:       in.Title,
			Description: in.Description,
			TargetDate:  in.TargetDate,
			Progress:    clampPercent(in.Progress),
		})
		g.UpdatedAt = now.UTC()
		return nil
	})
}

func (s *Service) CompleteMilestone(ctx context.Context, uid int, id, milestoneID string) (Goal, error) {
	return s.update(ctx, uid, id, func(g *Goal, _ []Goal, now time.Time) error {
		i := slices.IndexFunc(g.Milestones, func(m Milestone) bool { return m.ID == milestoneID })
		if i < 0 {
			return ErrMilestoneNotFound
		}
		m := &g.Milestones[i]
		if !m.Completed {
			m.Completed = true
			m.CompletedDate = DateOf(now)
			m.Progress = 100
			g.UpdatedAt = now.UTC()
		}
		return nil
	})
}

// RecomputeAll refreshes progress and status of every goal. The periodic
// monitor calls it on each tick.
func (s *Service) RecomputeAll(ctx context.Context, uid int) ([]Goal, error) {
	return s.mutate(ctx, uid, func(all []Goal, now time.Time) ([]Goal, error) {
		for i := range all {
			all[i], _ = Recalculate(all[i], now)
		}
		return all, nil
	})
}
