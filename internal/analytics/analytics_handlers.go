package analytics

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
)

// client events accepted by POST /analytics/events
var clientEvents = map[string]bool{
	"app_opened":         true,
	"standard_viewed":    true,
	"standards_searched": true,
	"citation_copied":    true,
	"csv_exported":       true,
	"tab_opened":         true,
}

// EventHandler stores one client-reported event.
func EventHandler(t *Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var body struct {
			EventName  string         `json:"event_name"`
			Properties map[string]any `json:"properties"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		name := strings.TrimSpace(body.EventName)
		if !clientEvents[name] {
			http.Error(w, "unknown event", http.StatusBadRequest)
			return
		}
		if body.Properties == nil {
			body.Properties = map[string]any{}
		}

		env := FromRequest(r)
		env.UserID = uid

		if err := t.Log(r.Context(), env, name, body.Properties, SourceEventKeyFromRequest(r)); err != nil {
			http.Error(w, "db error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}
}

// ActivityHandler returns the recent activity feed (?limit=N, default 10).
func ActivityHandler(t *Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		limit := 10
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = n
		}

		feed, err := t.Activity(r.Context(), uid, limit)
		if err != nil {
			http.Error(w, "db error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(feed)
	}
}
