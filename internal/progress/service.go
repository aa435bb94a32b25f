package progress

import (
	"context"
	"fmt"
	"time"

	"compliance-backend/internal/goals"
	"compliance-backend/internal/kv"
	"compliance-backend/internal/standards"
)

type Options struct {
	Now            func() time.Time
	TrendDays      int
	AlertCap       int
	ScheduleWindow time.Duration
}

// Service reads a user's goals and tracked standards and derives the
// dashboard from them.
type Service struct {
	goals     *goals.Service
	tracked   *standards.Tracked
	snaps     *Snapshots
	alerts    *AlertLog
	now       func() time.Time
	trendDays int
}

func NewService(c *kv.Collections, gs *goals.Service, tracked *standards.Tracked, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.TrendDays <= 0 {
		opts.TrendDays = DefaultTrendDays
	}
	return &Service{
		goals:     gs,
		tracked:   tracked,
		snaps:     NewSnapshots(c),
		alerts:    NewAlertLog(c, opts.AlertCap, opts.ScheduleWindow),
		now:       opts.Now,
		trendDays: opts.TrendDays,
	}
}

func (s *Service) Alerts() *AlertLog { return s.alerts }

// Schemas lists the collections the service owns.
func Schemas() []kv.Schema {
	return []kv.Schema{AlertsSchema(), SnapshotsSchema()}
}

func (s *Service) input(ctx context.Context, uid int, gs []goals.Goal) (Input, error) {
	tracked, err := s.tracked.List(ctx, uid, "")
	if err != nil {
		return Input{}, fmt.Errorf("loading tracked standards: %w", err)
	}
	snaps, err := s.snaps.List(ctx, uid)
	if err != nil {
		return Input{}, fmt.Errorf("loading snapshots: %w", err)
	}
	return Input{Goals: gs, Tracked: tracked, Snapshots: snaps, Now: s.now(), TrendDays: s.trendDays}, nil
}

func (s *Service) Metrics(ctx context.Context, uid int) (Metrics, error) {
	gs, err := s.goals.List(ctx, uid, goals.Filter{})
	if err != nil {
		return Metrics{}, fmt.Errorf("loading goals: %w", err)
	}
	in, err := s.input(ctx, uid, gs)
	if err != nil {
		return Metrics{}, err
	}
	return ComputeMetrics(in), nil
}

func (s *Service) Score(ctx context.Context, uid int) (Score, error) {
	m, err := s.Metrics(ctx, uid)
	if err != nil {
		return Score{}, err
	}
	return ComplianceScore(m), nil
}

// Refresh recomputes every goal, stores today's snapshot and appends any new
// alerts. The monitor runs it for each user on every tick.
func (s *Service) Refresh(ctx context.Context, uid int) (Metrics, []Alert, error) {
	gs, err := s.goals.RecomputeAll(ctx, uid)
	if err != nil {
		return Metrics{}, nil, fmt.Errorf("recomputing goals: %w", err)
	}
	in, err := s.input(ctx, uid, gs)
	if err != nil {
		return Metrics{}, nil, err
	}

	if in.Snapshots, err = s.snaps.Record(ctx, uid, TakeSnapshot(gs, in.Tracked, in.Now)); err != nil {
		return Metrics{}, nil, fmt.Errorf("recording snapshot: %w", err)
	}
	added, err := s.alerts.Evaluate(ctx, uid, gs, in.Now)
	if err != nil {
		return Metrics{}, nil, fmt.Errorf("evaluating alerts: %w", err)
	}
	return ComputeMetrics(in), added, nil
}

// Sync evaluates alerts and stores today's snapshot from the current goals
// without recomputing them. It runs after every goal or tracked standard
// change so alerts do not wait for the next monitor tick.
func (s *Service) Sync(ctx context.Context, uid int) ([]Alert, error) {
	gs, err := s.goals.List(ctx, uid, goals.Filter{})
	if err != nil {
		return nil, fmt.Errorf("loading goals: %w", err)
	}
	in, err := s.input(ctx, uid, gs)
	if err != nil {
		return nil, err
	}
	if _, err := s.snaps.Record(ctx, uid, TakeSnapshot(gs, in.Tracked, in.Now)); err != nil {
		return nil, fmt.Errorf("recording snapshot: %w", err)
	}
	added, err := s.alerts.Evaluate(ctx, uid, gs, in.Now)
	if err != nil {
		return nil, fmt.Errorf("evaluating alerts: %w", err)
	}
	return added, nil
}
