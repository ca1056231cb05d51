package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/presence/internal/web/handlers"
	"github.com/kozaktomas/presence/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	// Create handlers
	healthHandler := handlers.NewHealthHandler(s.deps.DB)
	biometricHandler := handlers.NewBiometricHandler(s.deps.Verifier, s.deps.Messages, s.deps.Logger)
	profilesHandler := handlers.NewProfilesHandler(s.deps.Profiles, s.deps.Verifier, s.deps.Logger)

	// Health and metrics (no auth required)
	s.router.Get("/health", healthHandler.Check)
	s.router.Get("/api/v1/health", healthHandler.Check)
	s.router.Handle("/metrics", s.deps.Metrics.Handler())

	// API routes
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireAPIKey(s.config.Web.APIKey))

		// Biometric decisions
		r.Post("/biometric/login", biometricHandler.Login)
		r.Post("/biometric/enroll", biometricHandler.Enroll)

		// Profile administration
		r.Get("/profiles", profilesHandler.List)
		r.Get("/profiles/{id}", profilesHandler.Get)
		r.Put("/profiles/{id}/active", profilesHandler.SetActive)
		r.Delete("/profiles/{id}", profilesHandler.Delete)
		r.Get("/profiles/{id}/similar", profilesHandler.Similar)

		// Audit trail
		if s.deps.Audit != nil {
			auditHandler := handlers.NewAuditHandler(s.deps.Audit, s.deps.Logger)
			r.Get("/audit", auditHandler.List)
		}
	})
}
