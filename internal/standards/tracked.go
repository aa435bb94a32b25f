package standards

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"compliance-backend/internal/goals"
	"compliance-backend/internal/kv"
)

const TrackedKey = "user-tracked-standards"

var (
	ErrNotFound        = errors.New("standard not found")
	ErrNotTracked      = errors.New("standard not tracked")
	ErrAlreadyTracked  = errors.New("standard already tracked")
	ErrSectionNotFound = errors.New("section not found")
	ErrInvalidPatch    = errors.New("invalid tracked standard patch")
)

type TrackStatus string

const (
	TrackNotStarted  TrackStatus = "not-started"
	TrackInProgress  TrackStatus = "in-progress"
	TrackCompleted   TrackStatus = "completed"
	TrackNeedsReview TrackStatus = "needs-review"
)

type TrackedSection struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Completed    bool       `json:"completed"`
	LastReviewed goals.Date `json:"last_reviewed,omitempty"`
}

type TrackedStandard struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	Region       string           `json:"region"`
	Category     string           `json:"category"`
	Description  string           `json:"description"`
	Priority     goals.Priority   `json:"priority"`
	Status       TrackStatus      `json:"status"`
	Progress     int              `json:"progress"`
	NextDeadline goals.Date       `json:"next_deadline,omitempty"`
	Notes        string           `json:"notes"`
	LastActivity time.Time        `json:"last_activity"`
	Sections     []TrackedSection `json:"sections"`
}

func TrackedSchema() kv.Schema {
	return kv.Schema{Key: TrackedKey, Version: 1}
}

// recompute derives progress and status from the section checklist.
// needs-review is kept until a section changes.
func (t *TrackedStandard) recompute() {
	if len(t.Sections) == 0 {
		t.Progress = 0
		t.Status = TrackNotStarted
		return
	}
	done := 0
	for _, s := range t.Sections {
		if s.Completed {
			done++
		}
	}
	t.Progress = int(math.Round(float64(done) / float64(len(t.Sections)) * 100))
	switch {
	case t.Progress == 100:
		t.Status = TrackCompleted
	case t.Progress > 0:
		t.Status = TrackInProgress
	default:
		t.Status = TrackNotStarted
	}
}

func fromCatalog(s Standard, now time.Time) TrackedStandard {
	t := TrackedStandard{
		ID:           s.ID,
		Name:         s.Name,
		Region:       s.Region,
		Category:     s.Category,
		Description:  s.Description,
		Priority:     goals.PriorityMedium,
		Status:       TrackNotStarted,
		LastActivity: now.UTC(),
		Sections:     make([]TrackedSection, 0, len(s.Sections)),
	}
	for _, sec := range s.Sections {
		t.Sections = append(t.Sections, TrackedSection{ID: sec.ID, Name: sec.Title})
	}
	return t
}

// SampleTracked returns the two sample standards new users start with.
// Missing catalog entries are skipped.
func SampleTracked(cat *Catalog, now time.Time) []TrackedStandard {
	out := []TrackedStandard{}
	if s, ok := cat.Get("FDA_QSR"); ok {
		t := fromCatalog(s, now.Add(-48*time.Hour))
		t.Priority = goals.PriorityHigh
		t.NextDeadline = goals.DateOf(now.AddDate(0, 2, 0))
		t.Notes = "Focus on design controls section next"
		for i := range t.Sections {
			if i < 2 {
				t.Sections[i].Completed = true
				t.Sections[i].LastReviewed = goals.DateOf(now.AddDate(0, 0, -14))
			}
		}
		t.recompute()
		out = append(out, t)
	}
	if s, ok := cat.Get("ISO_13485"); ok {
		t := fromCatalog(s, now.AddDate(0, 0, -7))
		t.Notes = "Planning phase"
		out = append(out, t)
	}
	return out
}

type TrackerOptions struct {
	Now         func() time.Time
	SeedSamples bool
}

// Tracked manages the per-user list of tracked standards.
type Tracked struct {
	c         *kv.Collections
	cat       *Catalog
	now       func() time.Time
	seed      bool
	onChanged []func(ctx context.Context, uid int)
}

func NewTracked(c *kv.Collections, cat *Catalog, opts TrackerOptions) *Tracked {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Tracked{c: c, cat: cat, now: opts.Now, seed: opts.SeedSamples}
}

func (t *Tracked) initial(cur []TrackedStandard) []TrackedStandard {
	if cur != nil {
		return cur
	}
	if t.seed {
		return SampleTracked(t.cat, t.now())
	}
	return []TrackedStandard{}
}

// OnChanged registers fn for every successful write of a user's tracked
// standards. fn runs after the write.
func (t *Tracked) OnChanged(fn func(ctx context.Context, uid int)) {
	t.onChanged = append(t.onChanged, fn)
}

func (t *Tracked) update(ctx context.Context, uid int, fn func([]TrackedStandard) ([]TrackedStandard, error)) ([]TrackedStandard, error) {
	out, err := kv.Update[[]TrackedStandard](ctx, t.c, uid, TrackedKey, nil, func(cur []TrackedStandard) ([]TrackedStandard, error) {
		return fn(slices.Clone(t.initial(cur)))
	})
	if err != nil {
		return nil, err
	}
	for _, h := range t.onChanged {
		h(ctx, uid)
	}
	return out, nil
}

// List returns the tracked standards, optionally narrowed to one status.
func (t *Tracked) List(ctx context.Context, uid int, status string) ([]TrackedStandard, error) {
	cur, err := kv.Read[[]TrackedStandard](ctx, t.c, uid, TrackedKey, nil)
	if err != nil {
		return nil, err
	}
	if cur == nil && t.seed {
		if cur, err = t.update(ctx, uid, func(ts []TrackedStandard) ([]TrackedStandard, error) { return ts, nil }); err != nil {
			return nil, err
		}
	}
	cur = t.initial(cur)

	if status == "" || status == "all" {
		return cur, nil
	}
	out := []TrackedStandard{}
	for _, s := range cur {
		if string(s.Status) == status {
			out = append(out, s)
		}
	}
	return out, nil
}

// Add starts tracking a catalog standard.
func (t *Tracked) Add(ctx context.Context, uid int, standardID string) (TrackedStandard, []TrackedStandard, error) {
	s, ok := t.cat.Get(standardID)
	if !ok {
		return TrackedStandard{}, nil, ErrNotFound
	}

	added := fromCatalog(s, t.now())
	all, err := t.update(ctx, uid, func(cur []TrackedStandard) ([]TrackedStandard, error) {
		if slices.ContainsFunc(cur, func(x TrackedStandard) bool { return x.ID == standardID }) {
			return nil, ErrAlreadyTracked
		}
		return append(cur, added), nil
	})
	if err != nil {
		return TrackedStandard{}, nil, err
	}
	return added, all, nil
}

// Remove stops tracking and returns what is left.
func (t *Tracked) Remove(ctx context.Context, uid int, id string) ([]TrackedStandard, error) {
	return t.update(ctx, uid, func(cur []TrackedStandard) ([]TrackedStandard, error) {
		i := slices.IndexFunc(cur, func(x TrackedStandard) bool { return x.ID == id })
		if i < 0 {
			return nil, ErrNotTracked
		}
		return slices.Delete(cur, i, i+1), nil
	})
}

type Patch struct {
	Priority     *goals.Priority `json:"priority"`
	Status       *TrackStatus    `json:"status"`
	NextDeadline *goals.Date     `json:"next_deadline"`
	Notes        *string         `json:"notes"`
}

func (p Patch) validate() error {
	if p.Priority != nil {
		switch *p.Priority {
		case goals.PriorityCritical, goals.PriorityHigh, goals.PriorityMedium, goals.PriorityLow:
		default:
			return fmt.Errorf("%w: unknown priority %q", ErrInvalidPatch, *p.Priority)
		}
	}
	if p.Status != nil {
		switch *p.Status {
		case TrackNotStarted, TrackInProgress, TrackCompleted, TrackNeedsReview:
		default:
			return fmt.Errorf("%w: unknown status %q", ErrInvalidPatch, *p.Status)
		}
	}
	if p.NextDeadline != nil && *p.NextDeadline != "" && !p.NextDeadline.Valid() {
		return fmt.Errorf("%w: next_deadline must be YYYY-MM-DD", ErrInvalidPatch)
	}
	return nil
}

func (t *Tracked) Patch(ctx context.Context, uid int, id string, p Patch) (TrackedStandard, error) {
	if err := p.validate(); err != nil {
		return TrackedStandard{}, err
	}

	var out TrackedStandard
	_, err := t.update(ctx, uid, func(cur []TrackedStandard) ([]TrackedStandard, error) {
		i := slices.IndexFunc(cur, func(x TrackedStandard) bool { return x.ID == id })
		if i < 0 {
			return nil, ErrNotTracked
		}
		s := cur[i]
		if p.Priority != nil {
			s.Priority = *p.Priority
		}
		if p.Status != nil {
			s.Status = *p.Status
		}
		if p.NextDeadline != nil {
			s.NextDeadline = *p.NextDeadline
		}
		if p.Notes != nil {
			s.Notes = strings.TrimSpace(*p.Notes)
		}
		s.LastActivity = t.now().UTC()
		cur[i] = s
		out = s
		return cur, nil
	})
	return out, err
}

// ToggleSection sets one section's completion (flips it when completed is
// nil) and recomputes progress. changed is false when the state was already
// the requested one.
func (t *Tracked) ToggleSection(ctx context.Context, uid int, id, sectionID string, completed *bool) (ts TrackedStandard, sec TrackedSection, changed bool, err error) {
	now := t.now()
	_, err = t.update(ctx, uid, func(cur []TrackedStandard) ([]TrackedStandard, error) {
		i := slices.IndexFunc(cur, func(x TrackedStandard) bool { return x.ID == id })
		if i < 0 {
			return nil, ErrNotTracked
		}
		s := cur[i]
		s.Sections = slices.Clone(s.Sections)
		j := slices.IndexFunc(s.Sections, func(x TrackedSection) bool { return x.ID == sectionID })
		if j < 0 {
			return nil, ErrSectionNotFound
		}

		want := !s.Sections[j].Completed
		if completed != nil {
			want = *completed
		}
		changed = want != s.Sections[j].Completed

		s.Sections[j].Completed = want
		if want {
			s.Sections[j].LastReviewed = goals.DateOf(now)
		} else {
			s.Sections[j].LastReviewed = ""
		}
		s.recompute()
		s.LastActivity = now.UTC()

		cur[i] = s
		ts, sec = s, s.Sections[j]
		return cur, nil
	})
	return ts, sec, changed, err
}

// CompletedSections counts completed sections across every tracked standard.
func CompletedSections(all []TrackedStandard) int {
	n := 0
	for _, s := range all {
		for _, sec := range s.Sections {
			if sec.Completed {
				n++
			}
		}
	}
	return n
}
