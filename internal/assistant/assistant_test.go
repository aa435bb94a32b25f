package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"compliance-backend/internal/ai"
	"compliance-backend/internal/auth"
	"compliance-backend/internal/db"
	"compliance-backend/internal/kv"
)

var now = time.Date(2025, 3, 12, 15, 0, 0, 0, time.UTC)

type echoResponder struct {
	history [][]ai.Turn
	err     error
}

func (e *echoResponder) Respond(_ context.Context, history []ai.Turn, message string) (ai.Reply, error) {
	e.history = append(e.history, history)
	if e.err != nil {
		return ai.Reply{}, e.err
	}
	return ai.Reply{Content: "re: " + message, Sources: []ai.Source{{Title: "ISO 13485", Section: "7.3"}}}, nil
}

func newService(r ai.Responder) *Service {
	c := kv.NewCollections(kv.NewMemoryStore(), Schema())
	return NewService(c, r, func() time.Time { return now })
}

func TestTopics(t *testing.T) {
	topics := Topics()
	require.Len(t, topics, 6)
	assert.Equal(t, "design-controls", topics[0].ID)
	assert.Equal(t, "Tell me about fda design controls", topics[0].Prompt)
	assert.Equal(t, "Tell me about technical documentation", topics[5].Prompt)
}

func TestSend(t *testing.T) {
	r := &echoResponder{}
	s := newService(r)
	ctx := context.Background()

	_, err := s.Send(ctx, 1, "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	ex, err := s.Send(ctx, 1, " what is a DHF? ")
	require.NoError(t, err)
	assert.True(t, ex.NewConversation)
	assert.Equal(t, "what is a DHF?", ex.Question.Content)
	require.NotNil(t, ex.Answer)
	assert.Equal(t, "re: what is a DHF?", ex.Answer.Content)
	assert.Equal(t, RoleAssistant, ex.Answer.Role)

	ex, err = s.Send(ctx, 1, "and a DMR?")
	require.NoError(t, err)
	assert.False(t, ex.NewConversation)

	require.Len(t, r.history, 2)
	assert.Empty(t, r.history[0])
	assert.Equal(t, []ai.Turn{
		{Role: "user", Content: "what is a DHF?"},
		{Role: "assistant", Content: "re: what is a DHF?"},
	}, r.history[1])

	msgs, err := s.Messages(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, msgs, 4)

	other, err := s.Messages(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestSendHistoryIsBounded(t *testing.T) {
	r := &echoResponder{}
	s := newService(r)
	ctx := context.Background()

	for i := range HistoryTurns {
		_, err := s.Send(ctx, 1, fmt.Sprintf("q%d", i))
		require.NoError(t, err)
	}
	// from the 11th question on the history is full
	assert.Len(t, r.history[10], HistoryTurns)
	last := r.history[len(r.history)-1]
	require.Len(t, last, HistoryTurns)
	assert.Equal(t, "q9", last[0].Content)
	assert.Equal(t, "re: q18", last[len(last)-1].Content)
}

func TestSendResponderFails(t *testing.T) {
	s := newService(&echoResponder{err: errors.New("upstream 500")})
	ctx := context.Background()

	ex, err := s.Send(ctx, 1, "hello")
	assert.ErrorIs(t, err, ai.ErrFailed)
	assert.Nil(t, ex.Answer)

	msgs, err := s.Messages(ctx, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, RoleUser, msgs[0].Role)
}

func TestFeedbackAndClear(t *testing.T) {
	s := newService(&echoResponder{})
	ctx := context.Background()

	ex, err := s.Send(ctx, 1, "hi")
	require.NoError(t, err)

	_, err = s.Feedback(ctx, 1, ex.Question.ID, true)
	assert.ErrorIs(t, err, ErrNotAssistant)
	_, err = s.Feedback(ctx, 1, "missing", true)
	assert.ErrorIs(t, err, ErrNotFound)

	m, err := s.Feedback(ctx, 1, ex.Answer.ID, false)
	require.NoError(t, err)
	require.NotNil(t, m.Helpful)
	assert.False(t, *m.Helpful)

	require.NoError(t, s.Clear(ctx, 1))
	msgs, err := s.Messages(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestCannedConversation(t *testing.T) {
	canned, err := ai.NewCannedResponder()
	require.NoError(t, err)
	s := newService(canned)

	ex, err := s.Send(context.Background(), 1, Topics()[1].Prompt)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ex.Answer.Content, "ISO 14971:2019"))
	assert.NotEmpty(t, ex.Answer.Sources)
}

func TestHandlers(t *testing.T) {
	d, err := db.Connect("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	ctx := context.Background()
	users := auth.NewUsers(d)
	uid, err := users.Create(ctx, "qa@example.com", "password123")
	require.NoError(t, err)

	c := kv.NewCollections(kv.NewSQLStore(d), Schema(), auth.ProfileSchema())
	resp := &echoResponder{}
	s := NewService(c, resp, func() time.Time { return now })
	profiles := auth.NewProfiles(c, users)
	log := zap.NewNop()

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(auth.WithUserID(r.Context(), uid)))
		})
	})
	r.Get("/assistant/topics", TopicsHandler())
	r.Get("/assistant/messages", MessagesHandler(s, log))
	r.Post("/assistant/messages", SendHandler(s, profiles, log))
	r.Delete("/assistant/messages", ClearHandler(s, log))
	r.Post("/assistant/messages/{id}/feedback", FeedbackHandler(s, log))

	do := func(method, path, body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(method, path, strings.NewReader(body)))
		return w
	}

	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/assistant/topics", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(http.MethodPost, "/assistant/messages", `{"message":" "}`).Code)

	w := do(http.MethodPost, "/assistant/messages", `{"message":"design controls?"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var ex Exchange
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ex))
	require.NotNil(t, ex.Answer)
	require.Equal(t, http.StatusCreated, do(http.MethodPost, "/assistant/messages", `{"message":"more"}`).Code)

	assert.Equal(t, http.StatusBadRequest, do(http.MethodPost, "/assistant/messages/"+ex.Answer.ID+"/feedback", `{}`).Code)
	assert.Equal(t, http.StatusOK, do(http.MethodPost, "/assistant/messages/"+ex.Answer.ID+"/feedback", `{"helpful":true}`).Code)
	assert.Equal(t, http.StatusNotFound, do(http.MethodPost, "/assistant/messages/nope/feedback", `{"helpful":true}`).Code)

	resp.err = errors.New("timeout")
	w = do(http.MethodPost, "/assistant/messages", `{"message":"again"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "failed to get AI response, please try again\n", w.Body.String())

	w = do(http.MethodGet, "/assistant/messages", "")
	var msgs []Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msgs))
	assert.Len(t, msgs, 5)

	assert.Equal(t, http.StatusOK, do(http.MethodDelete, "/assistant/messages", "").Code)
	resp.err = nil
	require.Equal(t, http.StatusCreated, do(http.MethodPost, "/assistant/messages", `{"message":"fresh start"}`).Code)

	p, err := profiles.Get(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Stats.AIConversations)
}
