package server

import (
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/swaggest/swgui/v5emb"
)

func addRoutes(r chi.Router, deps Deps, registry *Registry, broker *Broker) {
	logger := deps.Logger

	r.Get("/openapi.json", handleOpenAPI())
	r.Mount("/docs", v5emb.New("SurveysGeo companion API", "/openapi.json", "/docs"))
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/api/session/login", handleLogin(deps.Sessions, logger))
	r.Post("/api/session/logout", handleLogout(deps.Sessions, logger))

	// Device feed needs no session: permission and fixes come from the phone.
	r.Post("/api/device/permission", handlePermission(deps.Feed))
	r.Post("/api/device/position", handlePosition(deps.Feed))

	r.Group(func(r chi.Router) {
		r.Use(requireSession(deps.Sessions))

		r.Get("/api/session", handleSession())
		r.Get("/api/gestor/me", handleGestorMe(deps.API, logger))
		r.Get("/api/leaders", handleLeaders(deps.API, logger))

		r.Post("/api/surveys", handleOpenSurvey(deps, registry))
		r.Get("/api/surveys/history", handleHistory(deps.Store, logger))

		r.Route("/api/surveys/{id}", func(r chi.Router) {
			r.Use(workflowMiddleware(registry))
			r.Get("/", handleGetSurvey())
			r.Delete("/", handleCloseSurvey(registry))
			r.Post("/proximity", handleEvaluate())
			r.Put("/answers", handleAnswers(broker, logger))
			r.Post("/submit", handleSubmit(broker, logger))
			r.Get("/events", handleEvents(broker, registry))
			r.Get("/ws", handleStream(broker, registry, logger))
		})
	})

	if deps.WebDir != "" {
		if info, err := os.Stat(deps.WebDir); err == nil && info.IsDir() {
			logger.Info("serving web app", "dir", deps.WebDir)
			r.NotFound(handleWebApp(deps.WebDir))
		}
	}
}
