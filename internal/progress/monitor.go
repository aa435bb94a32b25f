package progress

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"compliance-backend/internal/goals"
	"compliance-backend/internal/kv"
)

const DefaultInterval = 30 * time.Second

// Monitor refreshes every user that has goals on a fixed interval.
type Monitor struct {
	svc      *Service
	c        *kv.Collections
	interval time.Duration
	log      *zap.Logger
}

func NewMonitor(svc *Service, c *kv.Collections, interval time.Duration, log *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{svc: svc, c: c, interval: interval, log: log}
}

// Run refreshes once right away, then on every tick until ctx is done. It
// returns nil on cancellation.
func (m *Monitor) Run(ctx context.Context) error {
	m.log.Info("progress monitor started", zap.Duration("interval", m.interval))

	if err := m.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		m.log.Error("progress monitor tick failed", zap.Error(err))
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.Info("progress monitor stopped")
			return nil
		case <-ticker.C:
			if err := m.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				m.log.Error("progress monitor tick failed", zap.Error(err))
			}
		}
	}
}

// RunOnce refreshes every owner of a goals collection. A failing owner is
// logged and skipped.
func (m *Monitor) RunOnce(ctx context.Context) error {
	owners, err := m.c.Owners(ctx, goals.Key)
	if err != nil {
		return err
	}

	for _, uid := range owners {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, added, err := m.svc.Refresh(ctx, uid)
		if err != nil {
			m.log.Warn("progress refresh failed", zap.Int("user_id", uid), zap.Error(err))
			continue
		}
		if len(added) > 0 {
			m.log.Debug("new progress alerts", zap.Int("user_id", uid), zap.Int("count", len(added)))
		}
	}
	return nil
}
