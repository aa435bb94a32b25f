package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"compliance-backend/internal/ai"
	"compliance-backend/internal/analytics"
	"compliance-backend/internal/assistant"
	"compliance-backend/internal/audit"
	"compliance-backend/internal/auth"
	"compliance-backend/internal/citations"
	"compliance-backend/internal/config"
	"compliance-backend/internal/db"
	"compliance-backend/internal/documents"
	"compliance-backend/internal/goals"
	"compliance-backend/internal/kv"
	"compliance-backend/internal/progress"
	"compliance-backend/internal/standards"
)

// app holds every service the HTTP API and the CLI commands share.
type app struct {
	cfg *config.Config
	log *zap.Logger
	db  *db.DB
	kv  *kv.Collections

	users     *auth.Users
	profiles  *auth.Profiles
	tracker   *analytics.Tracker
	goals     *goals.Service
	catalog   *standards.Catalog
	tracked   *standards.Tracked
	progress  *progress.Service
	monitor   *progress.Monitor
	citations *citations.Service
	suggester *citations.Suggester
	assistant *assistant.Service
	audits    *audit.Sessions
	documents *documents.Service
}

func collectionSchemas() []kv.Schema {
	schemas := []kv.Schema{
		goals.Schema(),
		standards.TrackedSchema(),
		citations.Schema(),
		audit.Schema(),
		documents.Schema(),
		assistant.Schema(),
		analytics.ActivitySchema(),
		auth.ProfileSchema(),
	}
	return append(schemas, progress.Schemas()...)
}

func newApp(cfg *config.Config, log *zap.Logger) (*app, error) {
	d, err := db.Connect(cfg.SQLDriver(), cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("connecting db: %w", err)
	}

	a, err := buildApp(cfg, log, d)
	if err != nil {
		d.Close()
		return nil, err
	}
	return a, nil
}

func buildApp(cfg *config.Config, log *zap.Logger, d *db.DB) (*app, error) {
	now := time.Now
	c := kv.NewCollections(kv.NewSQLStore(d), collectionSchemas()...)

	catalog, err := standards.LoadCatalog()
	if err != nil {
		return nil, err
	}
	lib, err := audit.LoadLibrary()
	if err != nil {
		return nil, err
	}

	// completer stays nil without an API key; analyzers then use built-in results
	var (
		completer ai.Completer
		responder ai.Responder
	)
	if cfg.AIEnabled() {
		client := ai.New(ai.Config{
			APIKey:  cfg.OpenAIKey,
			Model:   cfg.OpenAIModel,
			BaseURL: cfg.OpenAIBaseURL,
			Timeout: cfg.OpenAITimeout,
		})
		completer = client
		responder = ai.NewLLMResponder(client)
	} else {
		canned, err := ai.NewCannedResponder()
		if err != nil {
			return nil, err
		}
		responder = canned
		log.Info("no OpenAI key configured, using built-in responses")
	}

	users := auth.NewUsers(d)
	a := &app{
		cfg:       cfg,
		log:       log,
		db:        d,
		kv:        c,
		users:     users,
		profiles:  auth.NewProfiles(c, users),
		tracker:   analytics.NewTracker(d, c, log),
		goals:     goals.NewService(c, goals.Options{Now: now, SeedSamples: cfg.SeedSamples}),
		catalog:   catalog,
		tracked:   standards.NewTracked(c, catalog, standards.TrackerOptions{Now: now, SeedSamples: cfg.SeedSamples}),
		citations: citations.NewService(c, citations.Options{Now: now, SeedSamples: cfg.SeedSamples}),
		suggester: citations.NewSuggester(completer),
		assistant: assistant.NewService(c, responder, now),
		audits:    audit.NewSessions(c, lib, now),
		documents: documents.NewService(c, documents.NewAnalyzer(completer), documents.Options{Now: now, SeedSamples: cfg.SeedSamples}),
	}
	a.progress = progress.NewService(c, a.goals, a.tracked, progress.Options{
		Now:            now,
		TrendDays:      cfg.Monitor.TrendDays,
		AlertCap:       cfg.Monitor.AlertCap,
		ScheduleWindow: cfg.Monitor.ScheduleWindow,
	})
	a.monitor = progress.NewMonitor(a.progress, c, cfg.Monitor.Interval, log)
	a.goals.OnCompleted(a.goalCompleted)
	a.goals.OnChanged(a.syncProgress)
	a.tracked.OnChanged(a.syncProgress)

	return a, nil
}

// syncProgress raises alerts right after a change instead of on the next tick.
func (a *app) syncProgress(ctx context.Context, uid int) {
	if _, err := a.progress.Sync(ctx, uid); err != nil {
		a.log.Warn("progress sync failed", zap.Int("user_id", uid), zap.Error(err))
	}
}

func (a *app) goalCompleted(ctx context.Context, uid int, g goals.Goal) {
	if err := a.profiles.Increment(ctx, uid, auth.StatGoalsCompleted, 1); err != nil {
		a.log.Warn("profile stat update failed", zap.Int("user_id", uid), zap.Error(err))
	}
	if _, err := a.tracker.AddActivity(ctx, uid, analytics.ActivityItem{
		Type:        analytics.ActivityGoalCompleted,
		Title:       "Goal Completed",
		Description: fmt.Sprintf("Completed goal %q", g.Title),
	}); err != nil {
		a.log.Warn("activity append failed", zap.Int("user_id", uid), zap.Error(err))
	}
}

func (a *app) Close() error {
	return a.db.Close()
}
