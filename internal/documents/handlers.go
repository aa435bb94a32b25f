package documents

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

// uploads carry the document text inline
const maxUploadBodySize = MaxFileSize + 2<<20

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
		http.Error(w, "no document", http.StatusNotFound)
	default:
		log.Error("documents storage failed", zap.Error(err))
		http.Error(w, "db error", http.StatusInternalServerError)
	}
}

func StandardsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, AvailableStandards())
	}
}

func ListHandler(s *Service, log *zap.Logger) http.HandlerFunc {
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

// GetHandler narrows the gap list with optional type and severity params;
// the summary always covers every gap.
func GetHandler(s *Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		doc, err := s.Get(r.Context(), uid, chi.URLParam(r, "id"))
		if err != nil {
			writeErr(w, log, err)
			return
		}
		q := r.URL.Query()
		doc.Gaps = FilterGaps(doc.Gaps, GapFilter{Type: q.Get("type"), Severity: q.Get("severity")})
		writeJSON(w, http.StatusOK, doc)
	}
}

func AnalyzeHandler(s *Service, tr *analytics.Tracker, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var up Upload
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodySize)
		if err := json.NewDecoder(r.Body).Decode(&up); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		doc, err := s.Analyze(r.Context(), uid, up)
		if errors.Is(err, ErrAnalysisFailed) {
			log.Warn("AI document analysis failed", zap.Int("user_id", uid), zap.String("document_id", doc.ID), zap.Error(err))
			writeJSON(w, http.StatusCreated, doc)
			return
		}
		if err != nil {
			writeErr(w, log, err)
			return
		}

		if _, err := tr.AddActivity(r.Context(), uid, analytics.ActivityItem{
			Type:        analytics.ActivityDocumentAnalyzed,
			Title:       "Document Analyzed",
			Description: fmt.Sprintf("Analyzed %s (%d gaps found)", doc.FileName, doc.Summary.TotalGaps),
		}); err != nil {
			log.Warn("activity append failed", zap.Int("user_id", uid), zap.Error(err))
		}
		writeJSON(w, http.StatusCreated, doc)
	}
}

func DeleteHandler(s *Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		if err := s.Delete(r.Context(), uid, chi.URLParam(r, "id")); err != nil {
			writeErr(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}
