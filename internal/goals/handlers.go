package goals

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"compliance-backend/internal/analytics"
	"compliance-backend/internal/auth"
)

const maxRequestBodySize = 1 << 20 // 1MB

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return false
	}
	return true
}

// writeErr maps service errors to status codes.
func writeErr(w http.ResponseWriter, log *zap.Logger, err error) {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		http.Error(w, ve.Msg, http.StatusBadRequest)
	case errors.Is(err, ErrNotFound):
		http.Error(w, "no goal", http.StatusNotFound)
	case errors.Is(err, ErrMilestoneNotFound):
		http.Error(w, "no milestone", http.StatusNotFound)
	default:
		log.Error("goals storage failed", zap.Error(err))
		http.Error(w, "db error", http.StatusInternalServerError)
	}
}

func ListGoalsHandler(svc *Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		q := r.URL.Query()
		goals, err := svc.List(r.Context(), uid, Filter{Status: q.Get("status"), Category: q.Get("category")})
		if err != nil {
			writeErr(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, goals)
	}
}

func GetGoalHandler(svc *Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		g, err := svc.Get(r.Context(), uid, chi.URLParam(r, "id"))
		if err != nil {
			writeErr(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, g)
	}
}

func CreateGoalHandler(svc *Service, tr *analytics.Tracker, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var body GoalInput
		if !decode(w, r, &body) {
			return
		}

		g, err := svc.Create(r.Context(), uid, body)
		if err != nil {
			writeErr(w, log, err)
			return
		}

		// analytics: goal_created (НЕ логируем сырой текст)
		{
			env := analytics.FromRequest(r)
			env.UserID = uid

			props := map[string]any{
				"goal_id":      g.ID,
				"text_len":     len(g.Title) + len(strings.TrimSpace(g.Description)),
				"category":     g.Category,
				"priority":     g.Priority,
				"standards":    len(g.StandardIDs),
				"has_deadline": g.TargetDate != "",
			}
			_ = tr.Log(r.Context(), env, "goal_created", props, analytics.SourceEventKeyFromRequest(r))
			if _, err := tr.AddActivity(r.Context(), uid, analytics.ActivityItem{
				Type:        analytics.ActivityGoalCreated,
				Title:       "New Goal Created",
				Description: fmt.Sprintf("Created goal: %s", g.Title),
			}); err != nil {
				log.Warn("activity append failed", zap.Int("user_id", uid), zap.Error(err))
			}
		}

		writeJSON(w, http.StatusCreated, g)
	}
}

func UpdateGoalHandler(svc *Service, tr *analytics.Tracker, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var body GoalInput
		if !decode(w, r, &body) {
			return
		}

		id := chi.URLParam(r, "id")
		prev, err := svc.Get(r.Context(), uid, id)
		if err != nil {
			writeErr(w, log, err)
			return
		}

		g, err := svc.Update(r.Context(), uid, id, body)
		if err != nil {
			writeErr(w, log, err)
			return
		}

		// analytics: goal_updated
		{
			env := analytics.FromRequest(r)
			env.UserID = uid

			props := map[string]any{
				"goal_id": g.ID,
				"changed": map[string]any{
					"title":       prev.Title != g.Title,
					"description": prev.Description != g.Description,
					"target_date": prev.TargetDate != g.TargetDate,
					"progress":    prev.Progress != g.Progress,
				},
			}
			_ = tr.Log(r.Context(), env, "goal_updated", props, analytics.SourceEventKeyFromRequest(r))
		}

		writeJSON(w, http.StatusOK, g)
	}
}

func DeleteGoalHandler(svc *Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		if err := svc.Delete(r.Context(), uid, chi.URLParam(r, "id")); err != nil {
			writeErr(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

func SetStatusHandler(svc *Service, tr *analytics.Tracker, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var body struct {
			Status Status `json:"status"`
		}
		if !decode(w, r, &body) {
			return
		}

		g, err := svc.SetStatus(r.Context(), uid, chi.URLParam(r, "id"), body.Status)
		if err != nil {
			writeErr(w, log, err)
			return
		}

		env := analytics.FromRequest(r)
		env.UserID = uid
		_ = tr.Log(r.Context(), env, "goal_status_changed", map[string]any{
			"goal_id": g.ID,
			"status":  g.Status,
		}, analytics.SourceEventKeyFromRequest(r))

		writeJSON(w, http.StatusOK, g)
	}
}

func AddMilestoneHandler(svc *Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var body MilestoneInput
		if !decode(w, r, &body) {
			return
		}

		g, err := svc.AddMilestone(r.Context(), uid, chi.URLParam(r, "id"), body)
		if err != nil {
			writeErr(w, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, g)
	}
}

func CompleteMilestoneHandler(svc *Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		g, err := svc.CompleteMilestone(r.Context(), uid, chi.URLParam(r, "id"), chi.URLParam(r, "mid"))
		if err != nil {
			writeErr(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, g)
	}
}

func RecomputeHandler(svc *Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		goals, err := svc.RecomputeAll(r.Context(), uid)
		if err != nil {
			writeErr(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, goals)
	}
}
