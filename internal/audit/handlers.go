package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

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

func writeErr(w http.ResponseWriter, log *zap.Logger, err error) {
	switch {
	case errors.Is(err, ErrInvalidAnswer):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrScenarioNotFound):
		http.Error(w, "no scenario", http.StatusNotFound)
	case errors.Is(err, ErrNotFound):
		http.Error(w, "no session", http.StatusNotFound)
	case errors.Is(err, ErrCompleted):
		http.Error(w, "session already completed", http.StatusConflict)
	default:
		log.Error("audit sessions storage failed", zap.Error(err))
		http.Error(w, "db error", http.StatusInternalServerError)
	}
}

func ScenariosHandler(lib *Library) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, lib.All())
	}
}

func ScenarioHandler(lib *Library) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, err := lib.Get(chi.URLParam(r, "id"))
		if err != nil {
			http.Error(w, "no scenario", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, sc.Public())
	}
}

func ListSessionsHandler(s *Sessions, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		list, err := s.List(r.Context(), uid)
		if err != nil {
			writeErr(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func GetSessionHandler(s *Sessions, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		ss, err := s.Get(r.Context(), uid, chi.URLParam(r, "id"))
		if err != nil {
			writeErr(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, ss)
	}
}

func StartSessionHandler(s *Sessions, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var body struct {
			ScenarioID string `json:"scenario_id"`
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if body.ScenarioID == "" {
			http.Error(w, "scenario_id is required", http.StatusBadRequest)
			return
		}

		ss, err := s.Start(r.Context(), uid, body.ScenarioID)
		if err != nil {
			writeErr(w, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, ss)
	}
}

func AnswerHandler(s *Sessions, profiles *auth.Profiles, tr *analytics.Tracker, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var body struct {
			QuestionID string `json:"question_id"`
			Answer     string `json:"answer"`
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		ss, completed, err := s.Answer(r.Context(), uid, chi.URLParam(r, "id"), body.QuestionID, body.Answer)
		if err != nil {
			writeErr(w, log, err)
			return
		}

		if completed {
			if err := profiles.Increment(r.Context(), uid, auth.StatAuditSimulations, 1); err != nil {
				log.Warn("profile stat update failed", zap.Int("user_id", uid), zap.Error(err))
			}
			if _, err := tr.AddActivity(r.Context(), uid, analytics.ActivityItem{
				Type:        analytics.ActivityAuditCompleted,
				Title:       "Audit Simulation Completed",
				Description: fmt.Sprintf("Completed %s with a score of %d%%", ss.ScenarioTitle, *ss.Score),
			}); err != nil {
				log.Warn("activity append failed", zap.Int("user_id", uid), zap.Error(err))
			}
		}
		writeJSON(w, http.StatusOK, ss)
	}
}
