package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"compliance-backend/internal/analytics"
	"compliance-backend/internal/auth"
	"compliance-backend/internal/db"
	"compliance-backend/internal/kv"
)

var now = time.Date(2025, 3, 12, 15, 0, 0, 0, time.UTC)

func library(t *testing.T) *Library {
	t.Helper()
	lib, err := LoadLibrary()
	require.NoError(t, err)
	return lib
}

func TestLoadLibrary(t *testing.T) {
	lib := library(t)
	all := lib.All()
	require.Len(t, all, 3)
	for _, s := range all {
		for _, q := range s.Questions {
			assert.Empty(t, q.CorrectAnswer, "%s/%s", s.ID, q.ID)
		}
	}

	full, err := lib.Get("fda-design-controls")
	require.NoError(t, err)
	assert.Equal(t, 25, full.EstimatedMinutes)
	assert.NotEmpty(t, full.Questions[0].CorrectAnswer)

	_, err = lib.Get("nope")
	assert.ErrorIs(t, err, ErrScenarioNotFound)
}

func TestParseLibraryRejectsBadAnswer(t *testing.T) {
	_, err := ParseLibrary([]byte(`
scenarios:
  - id: a
    questions:
      - id: q1
        type: multiple-choice
        options: [x, y]
        correct_answer: z
`))
	assert.ErrorContains(t, err, "correct answer is not an option")

	_, err = ParseLibrary([]byte("scenarios:\n  - id: a\n"))
	assert.ErrorContains(t, err, "no questions")
}

func TestScoreAndFeedback(t *testing.T) {
	sc, err := library(t).Get("fda-design-controls")
	require.NoError(t, err)

	tests := []struct {
		name    string
		answers map[string]string
		score   int
		missed  int
		tier    string
	}{
		{"all right", map[string]string{"dc1": sc.Questions[0].CorrectAnswer, "dc2": "anything", "dc3": sc.Questions[2].CorrectAnswer}, 100, 0, "Excellent performance!"},
		{"half", map[string]string{"dc1": sc.Questions[0].CorrectAnswer, "dc3": "They are the same process with different names"}, 50, 1, "Consider additional training"},
		{"none", map[string]string{}, 0, 2, "Consider additional training"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, missed := Score(sc, tt.answers)
			assert.Equal(t, tt.score, score)
			assert.Len(t, missed, tt.missed)
			fb := Feedback(score, missed)
			assert.Contains(t, fb, tt.tier)
			assert.True(t, strings.HasPrefix(fb, "Audit simulation completed with a score of "))
		})
	}

	fb := Feedback(67, []Question{{Text: "What is the primary difference between design verification and design validation?"}})
	assert.Equal(t, "Audit simulation completed with a score of 67%.\n\n"+
		"Good performance with room for improvement. Review the areas where you missed questions.\n\n"+
		"Key Areas for Review:\n"+
		"• What is the primary difference between design veri...\n", fb)

	score, missed := Score(Scenario{Questions: []Question{{ID: "o", Type: OpenEnded}}}, nil)
	assert.Equal(t, 0, score)
	assert.Empty(t, missed)
}

func TestSessionFlow(t *testing.T) {
	c := kv.NewCollections(kv.NewMemoryStore(), Schema())
	s := NewSessions(c, library(t), func() time.Time { return now })
	ctx := context.Background()

	_, err := s.Start(ctx, 1, "nope")
	assert.ErrorIs(t, err, ErrScenarioNotFound)

	ss, err := s.Start(ctx, 1, "iso13485-management-review")
	require.NoError(t, err)
	assert.Equal(t, "mr1", ss.NextQuestion)

	_, _, err = s.Answer(ctx, 1, ss.ID, "mr1", "Weekly")
	assert.ErrorIs(t, err, ErrInvalidAnswer)
	_, _, err = s.Answer(ctx, 1, ss.ID, "mr9", "x")
	assert.ErrorIs(t, err, ErrInvalidAnswer)
	_, _, err = s.Answer(ctx, 1, ss.ID, "mr2", "  ")
	assert.ErrorIs(t, err, ErrInvalidAnswer)
	_, _, err = s.Answer(ctx, 1, "missing", "mr1", "Monthly")
	assert.ErrorIs(t, err, ErrNotFound)

	ss, done, err := s.Answer(ctx, 1, ss.ID, "mr1", "At planned intervals, at least annually")
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, "mr2", ss.NextQuestion)

	ss, done, err = s.Answer(ctx, 1, ss.ID, "mr2", "audit results, customer feedback, CAPA")
	require.NoError(t, err)
	assert.True(t, done)
	assert.True(t, ss.Completed)
	require.NotNil(t, ss.Score)
	assert.Equal(t, 100, *ss.Score)
	assert.Empty(t, ss.MissedQuestions)
	assert.Equal(t, now, *ss.CompletedAt)

	_, _, err = s.Answer(ctx, 1, ss.ID, "mr2", "again")
	assert.ErrorIs(t, err, ErrCompleted)

	got, err := s.Get(ctx, 1, ss.ID)
	require.NoError(t, err)
	assert.Equal(t, ss.Feedback, got.Feedback)

	list, err := s.List(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestHandlers(t *testing.T) {
	d, err := db.Connect("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	ctx := context.Background()
	users := auth.NewUsers(d)
	uid, err := users.Create(ctx, "qa@example.com", "password123")
	require.NoError(t, err)

	c := kv.NewCollections(kv.NewSQLStore(d), Schema(), auth.ProfileSchema(), analytics.ActivitySchema())
	lib := library(t)
	s := NewSessions(c, lib, func() time.Time { return now })
	profiles := auth.NewProfiles(c, users)
	tr := analytics.NewTracker(d, c, zap.NewNop())
	log := zap.NewNop()

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(auth.WithUserID(r.Context(), uid)))
		})
	})
	r.Get("/audits/scenarios", ScenariosHandler(lib))
	r.Get("/audits/scenarios/{id}", ScenarioHandler(lib))
	r.Get("/audits/sessions", ListSessionsHandler(s, log))
	r.Post("/audits/sessions", StartSessionHandler(s, log))
	r.Get("/audits/sessions/{id}", GetSessionHandler(s, log))
	r.Post("/audits/sessions/{id}/answers", AnswerHandler(s, profiles, tr, log))

	do := func(method, path, body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(method, path, strings.NewReader(body)))
		return w
	}

	w := do(http.MethodGet, "/audits/scenarios/risk-management-audit", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "correct_answer")
	assert.Equal(t, http.StatusNotFound, do(http.MethodGet, "/audits/scenarios/nope", "").Code)

	assert.Equal(t, http.StatusBadRequest, do(http.MethodPost, "/audits/sessions", `{}`).Code)
	assert.Equal(t, http.StatusNotFound, do(http.MethodPost, "/audits/sessions", `{"scenario_id":"nope"}`).Code)
	w = do(http.MethodPost, "/audits/sessions", `{"scenario_id":"risk-management-audit"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var ss Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ss))

	path := "/audits/sessions/" + ss.ID + "/answers"
	assert.Equal(t, http.StatusBadRequest, do(http.MethodPost, path, `{"question_id":"rm2","answer":"no"}`).Code)
	require.Equal(t, http.StatusOK, do(http.MethodPost, path, `{"question_id":"rm1","answer":"plan, analyse, evaluate, control, monitor"}`).Code)
	w = do(http.MethodPost, path, `{"question_id":"rm2","answer":"By conducting risk analysis again"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ss))
	require.True(t, ss.Completed)
	assert.Equal(t, 0, *ss.Score)
	assert.Equal(t, []string{"rm2"}, ss.MissedQuestions)
	assert.Equal(t, http.StatusConflict, do(http.MethodPost, path, `{"question_id":"rm2","answer":"By conducting risk analysis again"}`).Code)

	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/audits/sessions/"+ss.ID, "").Code)
	assert.Equal(t, http.StatusNotFound, do(http.MethodGet, "/audits/sessions/nope", "").Code)

	p, err := profiles.Get(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Stats.AuditSimulationsCompleted)

	feed, err := tr.Activity(ctx, uid, 0)
	require.NoError(t, err)
	require.Len(t, feed, 1)
	assert.Equal(t, "Completed ISO 14971 Risk Management Audit with a score of 0%", feed[0].Description)
}
