package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"compliance-backend/internal/auth"
	"compliance-backend/internal/goals"
	"compliance-backend/internal/kv"
	"compliance-backend/internal/standards"
)

// Wednesday; the week started on Sunday 2025-03-09.
var now = time.Date(2025, 3, 12, 15, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return now }

func sampleGoals() []goals.Goal {
	return []goals.Goal{
		{ID: "g1", Title: "Overdue CAPA", Status: goals.StatusActive, TargetDate: "2025-03-01", Progress: 10},
		{ID: "g2", Title: "Design history file", Status: goals.StatusActive, TargetDate: "2025-04-30", Progress: 40},
		{ID: "g3", Title: "Supplier audit", Status: goals.StatusCompleted, Progress: 100, UpdatedAt: time.Date(2025, 3, 5, 9, 0, 0, 0, time.UTC)},
		{ID: "g4", Title: "Training matrix", Status: goals.StatusCompleted, Progress: 100, UpdatedAt: time.Date(2025, 2, 20, 9, 0, 0, 0, time.UTC)},
		{ID: "g5", Title: "Process validation", Status: goals.StatusPaused, Progress: 30},
	}
}

func sampleTracked() []standards.TrackedStandard {
	return []standards.TrackedStandard{{
		ID: "ISO_13485",
		Sections: []standards.TrackedSection{
			{ID: "4.1", Completed: true, LastReviewed: "2025-03-10"},
			{ID: "7.3", Completed: true, LastReviewed: "2025-03-08"},
			{ID: "8.2"},
		},
	}}
}

func TestComputeMetrics(t *testing.T) {
	m := ComputeMetrics(Input{Goals: sampleGoals(), Tracked: sampleTracked(), Now: now, TrendDays: 3})

	assert.Equal(t, 5, m.TotalGoals)
	assert.Equal(t, 2, m.ActiveGoals) // overdue goals stay in the active count
	assert.Equal(t, 2, m.CompletedGoals)
	assert.Equal(t, 1, m.OverdueGoals)
	assert.Equal(t, 56, m.AverageProgress)
	assert.Equal(t, 1, m.GoalsCompletedThisMonth)
	assert.Equal(t, 1, m.SectionsCompletedThisWeek)
	require.Len(t, m.Trends, 3)
	assert.Equal(t, goals.Date("2025-03-12"), m.Trends[2].Date)
	assert.Equal(t, 56, m.Trends[2].Progress)
}

func TestAverageProgressBounds(t *testing.T) {
	assert.Equal(t, 0, ComputeMetrics(Input{Now: now}).AverageProgress)

	cases := [][]int{{0}, {100}, {150, -10}, {33, 33, 34}, {1, 2}}
	for _, ps := range cases {
		var gs []goals.Goal
		for i, p := range ps {
			gs = append(gs, goals.Goal{ID: fmt.Sprint(i), Status: goals.StatusActive, Progress: p})
		}
		avg := ComputeMetrics(Input{Goals: gs, Now: now}).AverageProgress
		assert.GreaterOrEqual(t, avg, 0, "%v", ps)
		assert.LessOrEqual(t, avg, 100, "%v", ps)
	}
	assert.Equal(t, 2, averageProgress([]goals.Goal{{Progress: 1}, {Progress: 2}}))
}

func TestOverdueIsStrictlyBeforeNow(t *testing.T) {
	gs := []goals.Goal{
		{ID: "a", Status: goals.StatusActive, TargetDate: "2025-03-12"},    // midnight today, already past
		{ID: "b", Status: goals.StatusActive, TargetDate: "2025-03-13"},    // tomorrow
		{ID: "c", Status: goals.StatusCancelled, TargetDate: "2025-01-01"}, // not active
	}
	m := ComputeMetrics(Input{Goals: gs, Now: now})
	assert.Equal(t, 1, m.OverdueGoals)
	assert.Equal(t, 2, m.ActiveGoals)
}

func TestTrends(t *testing.T) {
	snaps := []Snapshot{
		{Date: "2025-03-08", AverageProgress: 20, GoalsCompleted: 0, SectionsCompleted: 2},
		{Date: "2025-03-10", AverageProgress: 30, GoalsCompleted: 1, SectionsCompleted: 5},
		{Date: "2025-03-12", AverageProgress: 56, GoalsCompleted: 2, SectionsCompleted: 2},
	}
	want := []TrendPoint{
		{Date: "2025-03-06"},
		{Date: "2025-03-07"},
		{Date: "2025-03-08", Progress: 20},
		{Date: "2025-03-09", Progress: 20},
		{Date: "2025-03-10", Progress: 30, GoalsCompleted: 1, SectionsCompleted: 3},
		{Date: "2025-03-11", Progress: 30},
		{Date: "2025-03-12", Progress: 56, GoalsCompleted: 1},
	}
	if diff := cmp.Diff(want, Trends(snaps, now, 7)); diff != "" {
		t.Errorf("Trends mismatch (-want +got):\n%s", diff)
	}
}

func TestTrendsBaselineBeforeWindow(t *testing.T) {
	snaps := []Snapshot{
		{Date: "2025-03-01", AverageProgress: 10},
		{Date: "2025-03-11", AverageProgress: 15, GoalsCompleted: 2},
	}
	got := Trends(snaps, now, 3)
	want := []TrendPoint{
		{Date: "2025-03-10", Progress: 10},
		{Date: "2025-03-11", Progress: 15, GoalsCompleted: 2},
		{Date: "2025-03-12", Progress: 15},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Trends mismatch (-want +got):\n%s", diff)
	}

	assert.Len(t, ComputeMetrics(Input{Now: now}).Trends, DefaultTrendDays)
}

func TestMergeSnapshot(t *testing.T) {
	var snaps []Snapshot
	start := now.AddDate(0, 0, -(SnapshotRetention + 9))
	for i := 0; i < SnapshotRetention+10; i++ {
		snaps = mergeSnapshot(snaps, Snapshot{Date: goals.DateOf(start.AddDate(0, 0, i)), AverageProgress: i})
	}
	require.Len(t, snaps, SnapshotRetention)
	assert.Equal(t, goals.DateOf(now), snaps[len(snaps)-1].Date)

	snaps = mergeSnapshot(snaps, Snapshot{Date: goals.DateOf(now), AverageProgress: 999})
	require.Len(t, snaps, SnapshotRetention)
	assert.Equal(t, 999, snaps[len(snaps)-1].AverageProgress)
}

func TestScenarioDeadlineAndBehind(t *testing.T) {
	g := goals.Goal{ID: "g1", Title: "MDR gap closure", Status: goals.StatusActive, TargetDate: "2025-03-15", Progress: 50}

	got := GenerateAlerts([]goals.Goal{g}, nil, now, 30*24*time.Hour)
	require.Len(t, got, 2)

	assert.Equal(t, "deadline-g1-3", got[0].ID)
	assert.Equal(t, AlertDeadlineApproaching, got[0].Type)
	assert.Equal(t, SeverityCritical, got[0].Severity)
	assert.Equal(t, `Goal "MDR gap closure" deadline in 3 days (50% complete)`, got[0].Message)

	assert.Equal(t, "behind-g1-90", got[1].ID)
	assert.Equal(t, AlertBehindSchedule, got[1].Type)
	assert.Equal(t, SeverityMedium, got[1].Severity)
	assert.Equal(t, `Goal "MDR gap closure" is behind schedule (50% vs expected 90%)`, got[1].Message)
}

func TestGenerateAlerts(t *testing.T) {
	gs := []goals.Goal{
		// 6 days out, on track: high deadline only
		{ID: "a", Title: "A", Status: goals.StatusActive, TargetDate: "2025-03-18", Progress: 90},
		// far out: nothing
		{ID: "b", Title: "B", Status: goals.StatusActive, TargetDate: "2025-06-01", Progress: 0},
		// missed milestone
		{ID: "c", Title: "C", Status: goals.StatusActive, TargetDate: "2025-06-01", Milestones: []goals.Milestone{
			{ID: "m1", Title: "Kickoff", TargetDate: "2025-03-01"},
			{ID: "m2", Title: "Done already", TargetDate: "2025-03-01", Completed: true},
		}},
		{ID: "d", Title: "D", Status: goals.StatusCompleted, Progress: 100},
		// paused goals raise nothing
		{ID: "e", Title: "E", Status: goals.StatusPaused, TargetDate: "2025-03-13"},
		// past due
		{ID: "f", Title: "F", Status: goals.StatusActive, TargetDate: "2025-03-01"},
	}

	got := GenerateAlerts(gs, nil, now, 0)
	byID := map[string]Alert{}
	for _, a := range got {
		byID[a.ID] = a
		assert.Equal(t, now, a.CreatedAt)
		assert.False(t, a.Acknowledged)
	}
	assert.Len(t, got, 3)
	assert.Equal(t, SeverityHigh, byID["deadline-a-6"].Severity)
	assert.Equal(t, SeverityHigh, byID["milestone-c-m1"].Severity)
	assert.Equal(t, `Milestone "Kickoff" in goal "C" is overdue`, byID["milestone-c-m1"].Message)
	assert.Equal(t, SeverityLow, byID["completed-d"].Severity)
}

func TestGenerateAlertsIdempotent(t *testing.T) {
	gs := append(sampleGoals(), goals.Goal{ID: "g6", Status: goals.StatusActive, TargetDate: "2025-03-15", Progress: 50})

	first := GenerateAlerts(gs, nil, now, 0)
	require.NotEmpty(t, first)
	assert.Empty(t, GenerateAlerts(gs, FiredIDs(first), now, 0))
	assert.Empty(t, GenerateAlerts(gs, FiredIDs(first), now.Add(time.Hour), 0))
}

func TestExpectedProgress(t *testing.T) {
	assert.Equal(t, 90.0, ExpectedProgress(3, 30*24*time.Hour))
	assert.Equal(t, 0.0, ExpectedProgress(45, 30*24*time.Hour))
	assert.Equal(t, 95.0, ExpectedProgress(3, 60*24*time.Hour))
}

func newAlertLog(t *testing.T) *AlertLog {
	t.Helper()
	return NewAlertLog(kv.NewCollections(kv.NewMemoryStore(), AlertsSchema()), 0, 0)
}

func TestAlertLogCap(t *testing.T) {
	l := newAlertLog(t)
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		g := goals.Goal{ID: fmt.Sprintf("g%02d", i), Status: goals.StatusCompleted}
		added, err := l.Evaluate(ctx, 1, []goals.Goal{g}, now.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		require.Len(t, added, 1)
	}

	all, err := l.List(ctx, 1, AlertFilter{All: true})
	require.NoError(t, err)
	require.Len(t, all, DefaultAlertCap)
	assert.Equal(t, "completed-g10", all[0].ID)
	assert.Equal(t, "completed-g59", all[len(all)-1].ID)
}

func TestAlertLogCapKeepsFiredIDs(t *testing.T) {
	l := newAlertLog(t)
	ctx := context.Background()

	var gs []goals.Goal
	for i := 0; i < DefaultAlertCap+1; i++ {
		gs = append(gs, goals.Goal{ID: fmt.Sprintf("g%02d", i), Status: goals.StatusCompleted})
	}

	added, err := l.Evaluate(ctx, 1, gs, now)
	require.NoError(t, err)
	require.Len(t, added, DefaultAlertCap+1)

	for i := 0; i < 3; i++ {
		added, err = l.Evaluate(ctx, 1, gs, now.Add(time.Duration(i+1)*time.Minute))
		require.NoError(t, err)
		assert.Empty(t, added, "evaluation %d", i+1)
	}

	all, err := l.List(ctx, 1, AlertFilter{All: true})
	require.NoError(t, err)
	require.Len(t, all, DefaultAlertCap)
	assert.Equal(t, "completed-g01", all[0].ID)

	// a deleted goal is forgotten; its id may fire again if it comes back
	_, err = l.Evaluate(ctx, 1, gs[1:], now)
	require.NoError(t, err)
	added, err = l.Evaluate(ctx, 1, gs, now)
	require.NoError(t, err)
	require.Len(t, added, 1)
	assert.Equal(t, "completed-g00", added[0].ID)
}

func TestAlertsUpgradeFromBareList(t *testing.T) {
	store := kv.NewMemoryStore()
	ctx := context.Background()
	v1 := `[{"id":"completed-g1","type":"goal-completed","goal_id":"g1","severity":"low","acknowledged":true}]`
	require.NoError(t, store.Put(ctx, 1, AlertsKey, kv.Entry{Version: 1, Value: []byte(v1)}))

	l := NewAlertLog(kv.NewCollections(store, AlertsSchema()), 0, 0)
	all, err := l.List(ctx, 1, AlertFilter{All: true})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].Acknowledged)

	added, err := l.Evaluate(ctx, 1, []goals.Goal{{ID: "g1", Status: goals.StatusCompleted}}, now)
	require.NoError(t, err)
	assert.Empty(t, added)
}

func TestAcknowledgeAndClear(t *testing.T) {
	l := newAlertLog(t)
	ctx := context.Background()

	gs := []goals.Goal{
		{ID: "a", Status: goals.StatusActive, TargetDate: "2025-03-15", Progress: 50},
		{ID: "d", Status: goals.StatusCompleted},
	}
	_, err := l.Evaluate(ctx, 1, gs, now)
	require.NoError(t, err)
	before, err := l.List(ctx, 1, AlertFilter{All: true})
	require.NoError(t, err)
	require.Len(t, before, 3)

	a, err := l.Acknowledge(ctx, 1, "behind-a-90")
	require.NoError(t, err)
	assert.True(t, a.Acknowledged)

	after, err := l.List(ctx, 1, AlertFilter{All: true})
	require.NoError(t, err)
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].ID, after[i].ID)
		assert.Equal(t, before[i].ID == "behind-a-90", after[i].Acknowledged)
	}

	active, err := l.List(ctx, 1, AlertFilter{})
	require.NoError(t, err)
	assert.Len(t, active, 2)
	crit, err := l.List(ctx, 1, AlertFilter{Severity: SeverityCritical})
	require.NoError(t, err)
	assert.Len(t, crit, 1)
	behind, err := l.List(ctx, 1, AlertFilter{Type: AlertBehindSchedule})
	require.NoError(t, err)
	assert.Empty(t, behind)

	_, err = l.Acknowledge(ctx, 1, "nope")
	assert.ErrorIs(t, err, ErrAlertNotFound)

	n, err := l.ClearAll(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	all, err := l.List(ctx, 1, AlertFilter{All: true})
	require.NoError(t, err)
	assert.Len(t, all, 3)
	active, err = l.List(ctx, 1, AlertFilter{})
	require.NoError(t, err)
	assert.Empty(t, active)

	// acknowledged alerts are not raised again
	added, err := l.Evaluate(ctx, 1, gs, now)
	require.NoError(t, err)
	assert.Empty(t, added)
}

func TestComplianceScore(t *testing.T) {
	assert.Equal(t, Score{}, ComplianceScore(Metrics{}))

	m := ComputeMetrics(Input{Goals: sampleGoals(), Now: now})
	s := ComplianceScore(m)
	assert.Equal(t, Score{Score: 58, Progress: 56, Timeliness: 80, Completion: 40}, s)

	// deterministic
	assert.Equal(t, s, ComplianceScore(ComputeMetrics(Input{Goals: sampleGoals(), Now: now})))

	all := ComplianceScore(Metrics{TotalGoals: 2, CompletedGoals: 2, AverageProgress: 100})
	assert.Equal(t, 100, all.Score)
}

type env struct {
	c       *kv.Collections
	goals   *goals.Service
	tracked *standards.Tracked
	svc     *Service
}

func newEnv(t *testing.T) *env {
	t.Helper()
	cat, err := standards.LoadCatalog()
	require.NoError(t, err)

	c := kv.NewCollections(kv.NewMemoryStore(), append(Schemas(), goals.Schema(), standards.TrackedSchema())...)
	gs := goals.NewService(c, goals.Options{Now: fixedNow})
	tracked := standards.NewTracked(c, cat, standards.TrackerOptions{Now: fixedNow})
	return &env{
		c:       c,
		goals:   gs,
		tracked: tracked,
		svc:     NewService(c, gs, tracked, Options{Now: fixedNow, TrendDays: 7}),
	}
}

func TestRefresh(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.goals.Create(ctx, 1, goals.GoalInput{Title: "MDR gap closure", TargetDate: "2025-03-15", Progress: intp(50)})
	require.NoError(t, err)
	_, _, err = e.tracked.Add(ctx, 1, "ISO_14971")
	require.NoError(t, err)
	_, _, _, err = e.tracked.ToggleSection(ctx, 1, "ISO_14971", "4", nil)
	require.NoError(t, err)

	m, added, err := e.svc.Refresh(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, added, 2)
	assert.Equal(t, 1, m.SectionsCompletedThisWeek)
	require.Len(t, m.Trends, 7)
	assert.Equal(t, 50, m.Trends[6].Progress)

	snaps, err := e.svc.snaps.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, Snapshot{Date: "2025-03-12", AverageProgress: 50, TotalGoals: 1, SectionsCompleted: 1}, snaps[0])

	// same data, same day: no new alerts, one snapshot row
	_, added, err = e.svc.Refresh(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, added)
	snaps, err = e.svc.snaps.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, snaps, 1)

	score, err := e.svc.Score(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 50, score.Score) // 0.4*50 + 0.3*100 + 0
}

func intp(v int) *int { return &v }

func TestMonitor(t *testing.T) {
	defer goleak.VerifyNone(t)

	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := e.goals.Create(ctx, 7, goals.GoalInput{Title: "Notified body audit", TargetDate: "2025-03-14"})
	require.NoError(t, err)

	mon := NewMonitor(e.svc, e.c, 5*time.Millisecond, zap.NewNop())
	done := make(chan error, 1)
	go func() { done <- mon.Run(ctx) }()

	assert.Eventually(t, func() bool {
		alerts, err := e.svc.Alerts().List(context.Background(), 7, AlertFilter{})
		return err == nil && len(alerts) == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestMonitorRefreshesBeforeFirstTick(t *testing.T) {
	defer goleak.VerifyNone(t)

	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := e.goals.Create(ctx, 7, goals.GoalInput{Title: "Notified body audit", TargetDate: "2025-03-14"})
	require.NoError(t, err)

	mon := NewMonitor(e.svc, e.c, time.Hour, zap.NewNop())
	done := make(chan error, 1)
	go func() { done <- mon.Run(ctx) }()

	assert.Eventually(t, func() bool {
		alerts, err := e.svc.Alerts().List(context.Background(), 7, AlertFilter{})
		return err == nil && len(alerts) == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestSyncOnGoalChange(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.goals.OnChanged(func(ctx context.Context, uid int) {
		_, err := e.svc.Sync(ctx, uid)
		assert.NoError(t, err)
	})

	g, err := e.goals.Create(ctx, 4, goals.GoalInput{Title: "QMS rollout", TargetDate: "2025-03-15", Progress: intp(50)})
	require.NoError(t, err)

	alerts, err := e.svc.Alerts().List(ctx, 4, AlertFilter{})
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	for _, a := range alerts {
		assert.Equal(t, g.ID, a.GoalID)
	}

	snaps, err := NewSnapshots(e.c).List(ctx, 4)
	require.NoError(t, err)
	assert.Len(t, snaps, 1)

	// finishing the goal raises the completion alert without a refresh
	_, err = e.goals.SetStatus(ctx, 4, g.ID, goals.StatusCompleted)
	require.NoError(t, err)
	alerts, err = e.svc.Alerts().List(ctx, 4, AlertFilter{Type: AlertGoalCompleted})
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestRunOnceSkipsNothingWithoutGoals(t *testing.T) {
	e := newEnv(t)
	mon := NewMonitor(e.svc, e.c, 0, zap.NewNop())
	require.NoError(t, mon.RunOnce(context.Background()))

	alerts, err := e.svc.Alerts().List(context.Background(), 1, AlertFilter{All: true})
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestHandlers(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.goals.Create(ctx, 3, goals.GoalInput{Title: "QMS rollout", TargetDate: "2025-03-15", Progress: intp(50)})
	require.NoError(t, err)
	_, _, err = e.svc.Refresh(ctx, 3)
	require.NoError(t, err)

	log := zap.NewNop()
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(auth.WithUserID(r.Context(), 3)))
		})
	})
	r.Get("/progress/metrics", MetricsHandler(e.svc, log))
	r.Get("/progress/score", ScoreHandler(e.svc, log))
	r.Get("/progress/alerts", ListAlertsHandler(e.svc, log))
	r.Post("/progress/alerts/{id}/ack", AcknowledgeAlertHandler(e.svc, log))
	r.Post("/progress/alerts/clear", ClearAlertsHandler(e.svc, log))

	do := func(method, path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
		return w
	}

	w := do(http.MethodGet, "/progress/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	var m Metrics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	assert.Equal(t, 1, m.TotalGoals)
	assert.Len(t, m.Trends, 7)

	w = do(http.MethodGet, "/progress/score")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"score":50,"progress":50,"timeliness":100,"completion":0}`, w.Body.String())

	var alerts []Alert
	w = do(http.MethodGet, "/progress/alerts?severity=critical")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &alerts))
	require.Len(t, alerts, 1)

	assert.Equal(t, http.StatusOK, do(http.MethodPost, "/progress/alerts/"+alerts[0].ID+"/ack").Code)
	assert.Equal(t, http.StatusNotFound, do(http.MethodPost, "/progress/alerts/nope/ack").Code)

	w = do(http.MethodPost, "/progress/alerts/clear")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true,"acknowledged":1}`, w.Body.String())

	w = do(http.MethodGet, "/progress/alerts?all=true")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &alerts))
	assert.Len(t, alerts, 2)
}
