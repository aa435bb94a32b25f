package assistant

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"compliance-backend/internal/ai"
	"compliance-backend/internal/auth"
)

const maxRequestBodySize = 1 << 20 // 1MB

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TopicsHandler() http.HandlerFunc {
	topics := Topics()
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, topics)
	}
}

func MessagesHandler(s *Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		msgs, err := s.Messages(r.Context(), uid)
		if err != nil {
			log.Error("chat history read failed", zap.Int("user_id", uid), zap.Error(err))
			http.Error(w, "db error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

func SendHandler(s *Service, profiles *auth.Profiles, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var body struct {
			Message string `json:"message"`
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		ex, err := s.Send(r.Context(), uid, body.Message)
		switch {
		case errors.Is(err, ErrEmptyMessage):
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		case errors.Is(err, ai.ErrFailed):
			log.Warn("AI respond failed", zap.Int("user_id", uid), zap.Error(err))
			http.Error(w, ai.ErrFailed.Error(), http.StatusBadGateway)
			return
		case err != nil:
			log.Error("chat history write failed", zap.Int("user_id", uid), zap.Error(err))
			http.Error(w, "db error", http.StatusInternalServerError)
			return
		}

		if ex.NewConversation {
			if err := profiles.Increment(r.Context(), uid, auth.StatAIConversations, 1); err != nil {
				log.Warn("profile stat update failed", zap.Int("user_id", uid), zap.Error(err))
			}
		}
		writeJSON(w, http.StatusCreated, ex)
	}
}

func FeedbackHandler(s *Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var body struct {
			Helpful *bool `json:"helpful"`
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if body.Helpful == nil {
			http.Error(w, "helpful is required", http.StatusBadRequest)
			return
		}

		m, err := s.Feedback(r.Context(), uid, chi.URLParam(r, "id"), *body.Helpful)
		switch {
		case errors.Is(err, ErrNotFound):
			http.Error(w, "no message", http.StatusNotFound)
			return
		case errors.Is(err, ErrNotAssistant):
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		case err != nil:
			log.Error("chat feedback failed", zap.Int("user_id", uid), zap.Error(err))
			http.Error(w, "db error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}

func ClearHandler(s *Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		if err := s.Clear(r.Context(), uid); err != nil {
			log.Error("chat clear failed", zap.Int("user_id", uid), zap.Error(err))
			http.Error(w, "db error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}
