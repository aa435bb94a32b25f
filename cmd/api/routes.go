package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"compliance-backend/internal/analytics"
	"compliance-backend/internal/assistant"
	"compliance-backend/internal/audit"
	"compliance-backend/internal/auth"
	"compliance-backend/internal/citations"
	"compliance-backend/internal/documents"
	"compliance-backend/internal/goals"
	"compliance-backend/internal/logging"
	"compliance-backend/internal/progress"
	"compliance-backend/internal/standards"
)

func (a *app) routes() http.Handler {
	secret := []byte(a.cfg.JWTSecret)
	log := a.log

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(logging.Middleware(log))

	// Health endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	// ----- AUTH (public) -----
	r.Post("/auth/register", auth.RegisterHandler(a.users, secret, log))
	r.Post("/auth/login", auth.LoginHandler(a.users, secret, log))

	r.Group(func(r chi.Router) {
		r.Use(auth.New(secret).Handler)

		r.Post("/auth/logout", auth.LogoutHandler())
		r.Get("/auth/me", auth.MeHandler(a.users))
		r.Delete("/auth/account", auth.DeleteAccountHandler(a.users, a.kv.Store(), log, a.tracker.DeleteUser))

		r.Get("/me/profile", auth.GetProfileHandler(a.profiles))
		r.Patch("/me/profile", auth.UpdateProfileHandler(a.profiles))
		r.Get("/me/recommendations", auth.RecommendationsHandler(a.profiles))

		// ----- GOALS -----
		r.Route("/goals", func(r chi.Router) {
			r.Get("/", goals.ListGoalsHandler(a.goals, log))
			r.Post("/", goals.CreateGoalHandler(a.goals, a.tracker, log))
			r.Post("/recompute", goals.RecomputeHandler(a.goals, log))
			r.Get("/{id}", goals.GetGoalHandler(a.goals, log))
			r.Put("/{id}", goals.UpdateGoalHandler(a.goals, a.tracker, log))
			r.Delete("/{id}", goals.DeleteGoalHandler(a.goals, log))
			r.Post("/{id}/status", goals.SetStatusHandler(a.goals, a.tracker, log))
			r.Post("/{id}/milestones", goals.AddMilestoneHandler(a.goals, log))
			r.Post("/{id}/milestones/{mid}/complete", goals.CompleteMilestoneHandler(a.goals, log))
		})

		// ----- STANDARDS -----
		r.Route("/standards", func(r chi.Router) {
			r.Get("/", standards.SearchHandler(a.catalog, a.tracker))
			r.Get("/categories", standards.CategoriesHandler(a.catalog))
			r.Get("/regions", standards.RegionsHandler(a.catalog))
			r.Get("/tags", standards.TagsHandler(a.catalog))
			r.Get("/{id}", standards.GetStandardHandler(a.catalog))
			r.Get("/{id}/related", standards.RelatedHandler(a.catalog))
			r.Get("/{id}/sections/{sid}", standards.SectionHandler(a.catalog))
		})
		r.Route("/tracked-standards", func(r chi.Router) {
			r.Get("/", standards.ListTrackedHandler(a.tracked, log))
			r.Post("/", standards.AddTrackedHandler(a.tracked, a.profiles, a.tracker, log))
			r.Delete("/{id}", standards.RemoveTrackedHandler(a.tracked, a.profiles, log))
			r.Patch("/{id}", standards.PatchTrackedHandler(a.tracked, log))
			r.Post("/{id}/sections/{sid}/toggle", standards.ToggleSectionHandler(a.tracked, a.profiles, a.tracker, log))
		})

		// ----- PROGRESS -----
		r.Route("/progress", func(r chi.Router) {
			r.Get("/metrics", progress.MetricsHandler(a.progress, log))
			r.Get("/score", progress.ScoreHandler(a.progress, log))
			r.Get("/alerts", progress.ListAlertsHandler(a.progress, log))
			r.Post("/alerts/clear", progress.ClearAlertsHandler(a.progress, log))
			r.Post("/alerts/{id}/ack", progress.AcknowledgeAlertHandler(a.progress, log))
		})

		// ----- CITATIONS -----
		r.Route("/citations", func(r chi.Router) {
			r.Get("/", citations.ListHandler(a.citations, log))
			r.Post("/", citations.CreateHandler(a.citations, a.profiles, a.tracker, log))
			r.Get("/export.csv", citations.ExportHandler(a.citations, a.tracker, log))
			r.Post("/suggest", citations.SuggestHandler(a.suggester, log))
			r.Delete("/{id}", citations.DeleteHandler(a.citations, a.profiles, log))
			r.Post("/{id}/validate", citations.ValidateHandler(a.citations, log))
			r.Get("/{id}/formatted", citations.FormattedHandler(a.citations, a.tracker, log))
		})

		// ----- ASSISTANT -----
		r.Route("/assistant", func(r chi.Router) {
			r.Get("/topics", assistant.TopicsHandler())
			r.Get("/messages", assistant.MessagesHandler(a.assistant, log))
			r.Post("/messages", assistant.SendHandler(a.assistant, a.profiles, log))
			r.Delete("/messages", assistant.ClearHandler(a.assistant, log))
			r.Post("/messages/{id}/feedback", assistant.FeedbackHandler(a.assistant, log))
		})

		// ----- AUDITS -----
		r.Route("/audits", func(r chi.Router) {
			lib := a.audits.Library()
			r.Get("/scenarios", audit.ScenariosHandler(lib))
			r.Get("/scenarios/{id}", audit.ScenarioHandler(lib))
			r.Get("/sessions", audit.ListSessionsHandler(a.audits, log))
			r.Post("/sessions", audit.StartSessionHandler(a.audits, log))
			r.Get("/sessions/{id}", audit.GetSessionHandler(a.audits, log))
			r.Post("/sessions/{id}/answers", audit.AnswerHandler(a.audits, a.profiles, a.tracker, log))
		})

		// ----- DOCUMENTS -----
		r.Route("/documents", func(r chi.Router) {
			r.Get("/", documents.ListHandler(a.documents, log))
			r.Post("/", documents.AnalyzeHandler(a.documents, a.tracker, log))
			r.Get("/standards", documents.StandardsHandler())
			r.Get("/{id}", documents.GetHandler(a.documents, log))
			r.Delete("/{id}", documents.DeleteHandler(a.documents, log))
		})

		// ----- ANALYTICS -----
		r.Get("/activity", analytics.ActivityHandler(a.tracker))
		r.Post("/analytics/events", analytics.EventHandler(a.tracker))
	})

	// CORS
	c := cors.New(cors.Options{
		AllowedOrigins:   a.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "Idempotency-Key", "X-Source-Event-Key"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}
