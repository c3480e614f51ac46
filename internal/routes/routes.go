package routes

import (
	"github.com/go-chi/chi/v5"
	"github.com/jcalloway/bastion/internal/auth"
	"github.com/jcalloway/bastion/internal/handlers"
	"github.com/jcalloway/bastion/internal/middleware"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	mfaHandler *handlers.MFAHandler,
	sessionHandler *handlers.SessionHandler,
	auditHandler *handlers.AuditHandler,
	tokenManager *auth.TokenManager,
) {
	loginLimit := middleware.DefaultLoginRateLimit()
	refreshLimit := middleware.DefaultRefreshRateLimit()

	// Public routes. Login and MFA verification share one limit bucket since
	// both accept credential guesses.
	router.With(middleware.RateLimitByIP(loginLimit)).Post("/auth/login", authHandler.Login)
	router.With(middleware.RateLimitByIP(loginLimit)).Post("/auth/mfa/verify", authHandler.VerifyMFA)
	router.With(middleware.RateLimitByIP(refreshLimit)).Post("/auth/refresh", authHandler.Refresh)
	router.With(middleware.RateLimitByIP(refreshLimit)).Post("/auth/logout", authHandler.Logout)

	// Protected routes - valid access token required
	router.Group(func(r chi.Router) {
		r.Use(auth.Middleware(tokenManager))

		r.Post("/mfa/enroll", mfaHandler.StartEnrollment)
		r.Post("/mfa/enroll/verify", mfaHandler.VerifyEnrollment)
		r.Post("/mfa/disable", mfaHandler.Disable)
		r.Post("/mfa/backup-codes/regenerate", mfaHandler.RegenerateBackupCodes)
		r.Get("/mfa/backup-codes", mfaHandler.BackupCodeStatus)

		r.Get("/sessions", sessionHandler.List)
		r.Delete("/sessions/{id}", sessionHandler.Revoke)
		r.Delete("/sessions", sessionHandler.RevokeAll)

		r.Get("/audit/events", auditHandler.ListEvents)
		r.Get("/audit/summary", auditHandler.GetDailySummary)
		r.Get("/audit/alerts", auditHandler.ListAlerts)
		r.Patch("/audit/alerts/{id}", auditHandler.UpdateAlertStatus)
	})
}
