package documents

import (
	"context"
	"encoding/json"
	"errors"
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
	"compliance-backend/internal/analytics"
	"compliance-backend/internal/auth"
	"compliance-backend/internal/db"
	"compliance-backend/internal/kv"
)

var now = time.Date(2025, 3, 12, 15, 0, 0, 0, time.UTC)

type stubCompleter struct {
	text string
	err  error
	req  ai.Request
}

func (s *stubCompleter) Complete(_ context.Context, req ai.Request) (string, error) {
	s.req = req
	return s.text, s.err
}

func newService(c ai.Completer, seed bool) *Service {
	kc := kv.NewCollections(kv.NewMemoryStore(), Schema())
	return NewService(kc, NewAnalyzer(c), Options{Now: func() time.Time { return now }, SeedSamples: seed})
}

func TestFormatFileSize(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 Bytes"},
		{512, "512 Bytes"},
		{1536, "1.5 KB"},
		{2516582, "2.4 MB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatFileSize(tt.n), tt.n)
	}
}

func TestAnalyzer(t *testing.T) {
	ctx := context.Background()

	res, err := NewAnalyzer(nil).Analyze(ctx, "a.txt", []string{"FDA_QSR"}, "text")
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Len(t, res.Gaps, 3)
	assert.Equal(t, 73, res.ComplianceScore)

	stub := &stubCompleter{text: `{
		"gaps": [
			{"type":"missing","severity":"critical","section":"4.2","requirement":"ISO 13485 4.2.4","description":"no records control","recommendation":"add one","standard":"ISO_13485","page_reference":"3"},
			{"type":"typo","severity":"critical","section":"x"},
			{"type":"outdated","severity":"low","section":"8.5","requirement":"ISO 13485 8.5.2","description":"old CAPA form","recommendation":"update","standard":"ISO_13485"}
		],
		"compliance_score": 140
	}`}
	res, err = NewAnalyzer(stub).Analyze(ctx, "qm.pdf", []string{"ISO_13485"}, "content")
	require.NoError(t, err)
	assert.False(t, res.Fallback)
	require.Len(t, res.Gaps, 2)
	assert.Equal(t, "1", res.Gaps[0].ID)
	assert.Equal(t, "2", res.Gaps[1].ID)
	assert.Equal(t, "3", res.Gaps[0].PageReference)
	assert.Equal(t, 100, res.ComplianceScore)
	assert.Equal(t, defaultRecommendations(), res.Recommendations)
	assert.True(t, stub.req.JSON)
	assert.Contains(t, stub.req.Prompt, "file_name: qm.pdf\n")

	res, err = NewAnalyzer(&stubCompleter{text: "I could not read the file."}).Analyze(ctx, "a.txt", nil, "")
	require.NoError(t, err)
	assert.True(t, res.Fallback)

	_, err = NewAnalyzer(&stubCompleter{err: errors.New("503")}).Analyze(ctx, "a.txt", nil, "")
	assert.ErrorIs(t, err, ErrAnalysisFailed)
}

func TestSample(t *testing.T) {
	s := newService(nil, true)
	list, err := s.List(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	doc := list[0]
	assert.Equal(t, "sample-1", doc.ID)
	assert.Equal(t, now.Add(-48*time.Hour), doc.UploadDate)
	assert.Equal(t, Summary{
		TotalGaps:            3,
		CriticalGaps:         1,
		CompliancePercentage: 73,
		Recommendations:      defaultRecommendations(),
	}, doc.Summary)
}

func TestAnalyzeValidation(t *testing.T) {
	s := newService(nil, false)
	ctx := context.Background()

	tests := []struct {
		name string
		up   Upload
		msg  string
	}{
		{"no name", Upload{}, "file_name is required"},
		{"bad type", Upload{FileName: "photo.png"}, "please upload a PDF, Word document, or text file"},
		{"too big", Upload{FileName: "big.pdf", Size: MaxFileSize + 1}, "file size must be less than 10MB"},
		{"unknown standard", Upload{FileName: "a.txt", Standards: []string{"ISO_9999"}}, `unknown standard "ISO_9999"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Analyze(ctx, 1, tt.up)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.msg, verr.Msg)
		})
	}
}

func TestAnalyzeStoresNewestFirst(t *testing.T) {
	s := newService(nil, true)
	ctx := context.Background()

	doc, err := s.Analyze(ctx, 1, Upload{FileName: "SOP-001.DOCX", Content: "Document Control"})
	require.NoError(t, err)
	assert.Equal(t, ".docx", doc.FileType)
	assert.Equal(t, "16 Bytes", doc.FileSize)
	assert.Equal(t, []string{"FDA_QSR"}, doc.StandardsAnalyzed)
	assert.Equal(t, StatusCompleted, doc.Status)
	assert.Equal(t, 100, doc.Progress)
	assert.True(t, doc.FallbackAnalysis)

	list, err := s.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, doc.ID, list[0].ID)
	assert.Equal(t, "sample-1", list[1].ID)

	require.NoError(t, s.Delete(ctx, 1, "sample-1"))
	assert.ErrorIs(t, s.Delete(ctx, 1, "sample-1"), ErrNotFound)
	_, err = s.Get(ctx, 1, "sample-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAnalyzeTransportFailure(t *testing.T) {
	s := newService(&stubCompleter{err: errors.New("connection refused")}, false)
	ctx := context.Background()

	doc, err := s.Analyze(ctx, 1, Upload{FileName: "a.txt", Content: "x"})
	assert.ErrorIs(t, err, ErrAnalysisFailed)
	assert.Equal(t, StatusError, doc.Status)
	assert.Nil(t, doc.AnalysisDate)

	got, err := s.Get(ctx, 1, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, got.Status)
}

func TestFilterGaps(t *testing.T) {
	gaps := defaultGaps()
	assert.Len(t, FilterGaps(gaps, GapFilter{}), 3)
	assert.Len(t, FilterGaps(gaps, GapFilter{Type: "all", Severity: "all"}), 3)
	got := FilterGaps(gaps, GapFilter{Type: "missing"})
	require.Len(t, got, 1)
	assert.Equal(t, SeverityCritical, got[0].Severity)
	assert.Len(t, FilterGaps(gaps, GapFilter{Severity: "low"}), 0)
	assert.Len(t, FilterGaps(gaps, GapFilter{Type: "outdated", Severity: "medium"}), 1)
}

func TestHandlers(t *testing.T) {
	d, err := db.Connect("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	ctx := context.Background()
	users := auth.NewUsers(d)
	uid, err := users.Create(ctx, "qa@example.com", "password123")
	require.NoError(t, err)

	c := kv.NewCollections(kv.NewSQLStore(d), Schema(), analytics.ActivitySchema())
	stub := &stubCompleter{text: `{"gaps":[],"compliance_score":95,"recommendations":["keep it up"]}`}
	s := NewService(c, NewAnalyzer(stub), Options{Now: func() time.Time { return now }, SeedSamples: true})
	tr := analytics.NewTracker(d, c, zap.NewNop())
	log := zap.NewNop()

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(auth.WithUserID(r.Context(), uid)))
		})
	})
	r.Get("/documents", ListHandler(s, log))
	r.Post("/documents", AnalyzeHandler(s, tr, log))
	r.Get("/documents/{id}", GetHandler(s, log))
	r.Delete("/documents/{id}", DeleteHandler(s, log))

	do := func(method, path, body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(method, path, strings.NewReader(body)))
		return w
	}

	w := do(http.MethodGet, "/documents/sample-1?severity=high", "")
	require.Equal(t, http.StatusOK, w.Code)
	var doc Analysis
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	require.Len(t, doc.Gaps, 1)
	assert.Equal(t, "2", doc.Gaps[0].ID)
	assert.Equal(t, 3, doc.Summary.TotalGaps)

	assert.Equal(t, http.StatusBadRequest, do(http.MethodPost, "/documents", `{"file_name":"x.exe"}`).Code)

	w = do(http.MethodPost, "/documents", `{"file_name":"SOP.txt","content":"Design Controls","standards":["FDA_QSR","ISO_14971"]}`)
	require.Equal(t, http.StatusCreated, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	assert.Equal(t, 95, doc.ComplianceScore)
	assert.Empty(t, doc.Gaps)
	assert.Equal(t, []string{"keep it up"}, doc.Summary.Recommendations)

	stub.text, stub.err = "", errors.New("timeout")
	w = do(http.MethodPost, "/documents", `{"file_name":"WI.pdf","content":"x"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"error"`)

	w = do(http.MethodGet, "/documents", "")
	var list []Analysis
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 3)

	assert.Equal(t, http.StatusOK, do(http.MethodDelete, "/documents/sample-1", "").Code)
	assert.Equal(t, http.StatusNotFound, do(http.MethodGet, "/documents/sample-1", "").Code)

	feed, err := tr.Activity(ctx, uid, 0)
	require.NoError(t, err)
	require.Len(t, feed, 1)
	assert.Equal(t, "Analyzed SOP.txt (0 gaps found)", feed[0].Description)
}
