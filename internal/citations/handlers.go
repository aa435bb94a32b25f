package citations

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"compliance-backend/internal/analytics"
	"compliance-backend/internal/auth"
)

const maxRequestBodySize = 1 << 20 // 1MB

// View is a citation with its derived validation status.
type View struct {
	Citation
	ValidationStatus Status `json:"validation_status"`
}

func views(cs []Citation, now time.Time) []View {
	out := make([]View, 0, len(cs))
	for _, c := range cs {
		out = append(out, View{Citation: c, ValidationStatus: c.Status(now)})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, log *zap.Logger, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		http.Error(w, verr.Msg, http.StatusBadRequest)
	case errors.Is(err, ErrNotFound):
		http.Error(w, "no citation", http.StatusNotFound)
	default:
		log.Error("citations storage failed", zap.Error(err))
		http.Error(w, "db error", http.StatusInternalServerError)
	}
}

func logEvent(r *http.Request, tr *analytics.Tracker, uid int, name string, props map[string]any) {
	env := analytics.FromRequest(r)
	env.UserID = uid
	_ = tr.Log(r.Context(), env, name, props, analytics.SourceEventKeyFromRequest(r))
}

func ListHandler(s *Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		q := r.URL.Query()
		list, err := s.List(r.Context(), uid, Filter{Query: q.Get("q"), Type: q.Get("type"), Status: q.Get("status")})
		if err != nil {
			writeErr(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, views(list, s.now()))
	}
}

func CreateHandler(s *Service, profiles *auth.Profiles, tr *analytics.Tracker, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var in Input
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		c, total, err := s.Create(r.Context(), uid, in)
		if err != nil {
			writeErr(w, log, err)
			return
		}

		if err := profiles.SetStat(r.Context(), uid, auth.StatCitations, total); err != nil {
			log.Warn("profile stat update failed", zap.Int("user_id", uid), zap.Error(err))
		}
		if _, err := tr.AddActivity(r.Context(), uid, analytics.ActivityItem{
			Type:        analytics.ActivityCitationAdded,
			Title:       "Citation Added",
			Description: fmt.Sprintf("Added citation %s %s", c.Standard, c.Section),
		}); err != nil {
			log.Warn("activity append failed", zap.Int("user_id", uid), zap.Error(err))
		}

		writeJSON(w, http.StatusCreated, View{Citation: c, ValidationStatus: c.Status(s.now())})
	}
}

func DeleteHandler(s *Service, profiles *auth.Profiles, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		left, err := s.Delete(r.Context(), uid, chi.URLParam(r, "id"))
		if err != nil {
			writeErr(w, log, err)
			return
		}
		if err := profiles.SetStat(r.Context(), uid, auth.StatCitations, left); err != nil {
			log.Warn("profile stat update failed", zap.Int("user_id", uid), zap.Error(err))
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

func ValidateHandler(s *Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		c, err := s.Validate(r.Context(), uid, chi.URLParam(r, "id"))
		if err != nil {
			writeErr(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, View{Citation: c, ValidationStatus: c.Status(s.now())})
	}
}

func FormattedHandler(s *Service, tr *analytics.Tracker, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		c, err := s.Get(r.Context(), uid, chi.URLParam(r, "id"))
		if err != nil {
			writeErr(w, log, err)
			return
		}
		logEvent(r, tr, uid, "citation_copied", map[string]any{"citation_id": c.ID})
		writeJSON(w, http.StatusOK, map[string]string{"text": c.Formatted()})
	}
}

func ExportHandler(s *Service, tr *analytics.Tracker, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		all, err := s.All(r.Context(), uid)
		if err != nil {
			writeErr(w, log, err)
			return
		}

		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="regulatory-citations.csv"`)
		if err := WriteCSV(w, all); err != nil {
			log.Error("citations export failed", zap.Int("user_id", uid), zap.Error(err))
			return
		}
		logEvent(r, tr, uid, "csv_exported", map[string]any{"count": len(all)})
	}
}

func SuggestHandler(sg *Suggester, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var body struct {
			Text string `json:"text"`
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		out, err := sg.Suggest(r.Context(), body.Text)
		if errors.Is(err, ErrEmptyText) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err != nil {
			log.Warn("AI citation suggest failed", zap.Int("user_id", uid), zap.Error(err))
			http.Error(w, "failed to analyze document", http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}
