package server

import (
	"github.com/go-chi/chi/v5"

	"github.com/carrotsystems/carrot/internal/server/handlers"
)

// registerRoutes wires the full REST CRUD surface (spec §6) under
// /api/v1, grounded on the teacher's routes.go r.Route("/api", ...)
// registration shape.
func registerRoutes(r chi.Router, h *handlers.Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.Health)

		// Pipelines
		r.Get("/pipelines", h.ListPipelines)
		r.Post("/pipelines", h.RegisterPipeline)
		r.Get("/pipelines/{pipelineID}", h.GetPipeline)
		r.Get("/pipelines/{pipelineID}/templates", h.ListTemplatesByPipeline)

		// Templates
		r.Post("/templates", h.RegisterTemplate)
		r.Get("/templates/{templateID}", h.GetTemplate)
		r.Get("/templates/{templateID}/tests", h.ListTestsByTemplate)
		r.Post("/templates/{templateID}/results", h.MapTemplateResult)
		r.Get("/templates/{templateID}/results", h.ListTemplateResults)
		r.Post("/templates/{templateID}/reports", h.MapTemplateReport)

		// Tests
		r.Post("/tests", h.RegisterTest)
		r.Get("/tests/{testID}", h.GetTest)
		r.Post("/tests/{testID}/runs", h.RunTest)

		// Results
		r.Post("/results", h.RegisterResult)
		r.Get("/results/{resultID}", h.GetResult)

		// Reports & sections
		r.Post("/reports", h.RegisterReport)
		r.Get("/reports/{reportID}", h.GetReport)
		r.Post("/reports/{reportID}/sections", h.MapReportSection)
		r.Get("/reports/{reportID}/sections", h.ListReportSections)
		r.Post("/sections", h.RegisterSection)

		// Software
		r.Post("/software", h.RegisterSoftware)
		r.Get("/software/{softwareID}", h.GetSoftware)
		r.Get("/software/{softwareID}/versions/{commit}", h.GetSoftwareVersion)
		r.Get("/builds/{buildID}", h.GetBuild)

		// Subscriptions
		r.Post("/subscriptions", h.RegisterSubscription)
		r.Get("/subscriptions", h.ListSubscriptions)
		r.Delete("/subscriptions/{subscriptionID}", h.DeleteSubscription)

		// Runs
		r.Get("/runs", h.ListRuns)
		r.Get("/runs/{runID}", h.GetRun)
		r.Post("/runs/{runID}/abort", h.AbortRun)
		r.Get("/runs/{runID}/errors", h.ListRunErrors)
		r.Get("/runs/{runID}/results", h.ListRunResults)

		// Run groups
		r.Get("/run_groups/{runGroupID}", h.GetRunGroup)
		r.Get("/run_groups/{runGroupID}/runs", h.ListRunsInGroup)
	})
}
