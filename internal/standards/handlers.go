package standards

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

func writeErr(w http.ResponseWriter, log *zap.Logger, err error) {
	switch {
	case errors.Is(err, ErrInvalidPatch):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrNotFound):
		http.Error(w, "no standard", http.StatusNotFound)
	case errors.Is(err, ErrNotTracked):
		http.Error(w, "standard not tracked", http.StatusNotFound)
	case errors.Is(err, ErrSectionNotFound):
		http.Error(w, "no section", http.StatusNotFound)
	case errors.Is(err, ErrAlreadyTracked):
		http.Error(w, "already tracked", http.StatusConflict)
	default:
		log.Error("tracked standards storage failed", zap.Error(err))
		http.Error(w, "db error", http.StatusInternalServerError)
	}
}

// Catalog handlers are public lookups over static data.

func SearchHandler(cat *Catalog, tr *analytics.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		query := Query{
			Text:     q.Get("q"),
			Category: q.Get("category"),
			Region:   q.Get("region"),
		}
		for _, t := range q["tag"] {
			query.Tags = append(query.Tags, strings.Split(t, ",")...)
		}
		res := cat.Search(query)

		if query.Text != "" {
			if uid, ok := auth.UserIDFromContext(r.Context()); ok {
				env := analytics.FromRequest(r)
				env.UserID = uid
				_ = tr.Log(r.Context(), env, "standards_searched", map[string]any{
					"query_len": len(query.Text),
					"category":  query.Category,
					"region":    query.Region,
					"results":   len(res),
				}, analytics.SourceEventKeyFromRequest(r))
			}
		}

		writeJSON(w, http.StatusOK, res)
	}
}

func CategoriesHandler(cat *Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, cat.Categories())
	}
}

func RegionsHandler(cat *Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, cat.Regions())
	}
}

func TagsHandler(cat *Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, cat.Tags())
	}
}

func GetStandardHandler(cat *Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := cat.Get(chi.URLParam(r, "id"))
		if !ok {
			http.Error(w, "no standard", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

func RelatedHandler(cat *Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, ok := cat.Get(id); !ok {
			http.Error(w, "no standard", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, cat.Related(id))
	}
}

func SectionHandler(cat *Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sec, ok := cat.Section(chi.URLParam(r, "id"), chi.URLParam(r, "sid"))
		if !ok {
			http.Error(w, "no section", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, sec)
	}
}

// Tracked standards.

func ListTrackedHandler(t *Tracked, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		list, err := t.List(r.Context(), uid, r.URL.Query().Get("status"))
		if err != nil {
			writeErr(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func AddTrackedHandler(t *Tracked, profiles *auth.Profiles, tr *analytics.Tracker, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var body struct {
			StandardID string `json:"standard_id"`
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(body.StandardID) == "" {
			http.Error(w, "standard_id is required", http.StatusBadRequest)
			return
		}

		added, all, err := t.Add(r.Context(), uid, body.StandardID)
		if err != nil {
			writeErr(w, log, err)
			return
		}

		if err := profiles.SetStat(r.Context(), uid, auth.StatStandardsTracked, len(all)); err != nil {
			log.Warn("profile stat update failed", zap.Int("user_id", uid), zap.Error(err))
		}
		if _, err := tr.AddActivity(r.Context(), uid, analytics.ActivityItem{
			Type:        analytics.ActivityStandardAdded,
			Title:       "Standard Added",
			Description: fmt.Sprintf("Started tracking %s", added.Name),
			StandardID:  added.ID,
		}); err != nil {
			log.Warn("activity append failed", zap.Int("user_id", uid), zap.Error(err))
		}

		writeJSON(w, http.StatusCreated, added)
	}
}

func RemoveTrackedHandler(t *Tracked, profiles *auth.Profiles, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		left, err := t.Remove(r.Context(), uid, chi.URLParam(r, "id"))
		if err != nil {
			writeErr(w, log, err)
			return
		}
		if err := profiles.SetStat(r.Context(), uid, auth.StatStandardsTracked, len(left)); err != nil {
			log.Warn("profile stat update failed", zap.Int("user_id", uid), zap.Error(err))
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

func PatchTrackedHandler(t *Tracked, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var p Patch
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		ts, err := t.Patch(r.Context(), uid, chi.URLParam(r, "id"), p)
		if err != nil {
			writeErr(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, ts)
	}
}

// ToggleSectionHandler accepts an optional {"completed": bool}; an empty body
// flips the section.
func ToggleSectionHandler(t *Tracked, profiles *auth.Profiles, tr *analytics.Tracker, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var body struct {
			Completed *bool `json:"completed"`
		}
		if r.ContentLength != 0 {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				http.Error(w, "invalid json", http.StatusBadRequest)
				return
			}
		}

		sid := chi.URLParam(r, "sid")
		ts, sec, changed, err := t.ToggleSection(r.Context(), uid, chi.URLParam(r, "id"), sid, body.Completed)
		if err != nil {
			writeErr(w, log, err)
			return
		}

		if changed {
			delta := -1
			if sec.Completed {
				delta = 1
				if _, err := tr.AddActivity(r.Context(), uid, analytics.ActivityItem{
					Type:        analytics.ActivitySectionCompleted,
					Title:       "Section Completed",
					Description: fmt.Sprintf("Completed %s in %s", sid, ts.Name),
					StandardID:  ts.ID,
				}); err != nil {
					log.Warn("activity append failed", zap.Int("user_id", uid), zap.Error(err))
				}
			}
			if err := profiles.Increment(r.Context(), uid, auth.StatSectionsCompleted, delta); err != nil {
				log.Warn("profile stat update failed", zap.Int("user_id", uid), zap.Error(err))
			}
		}

		writeJSON(w, http.StatusOK, ts)
	}
}
