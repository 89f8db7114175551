package rest

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"

	"github.com/samitochi04/cameroon-marketplace-sub000/internal/payment"
	"github.com/samitochi04/cameroon-marketplace-sub000/internal/transport/middleware"
	"github.com/samitochi04/cameroon-marketplace-sub000/internal/transport/swagger"
)

func RegisterAllRoutes(router *chi.Mux, db *sql.DB, staging Pinger, paymentHandler *payment.Handler, logger *slog.Logger) {
	healthHandler := NewHealthHandler(db, staging)

	// Apply global middleware
	router.Use(middleware.CORS)
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))

	// Serve OpenAPI spec at root (outside API prefix)
	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./api/openapi.yml")
	})
	// Swagger UI route at root
	router.Handle("/swagger/*", swagger.Handler())

	// Mount API under /api/v1 to match OpenAPI basePath
	router.Route("/api/v1", func(r chi.Router) {
		// Health check routes
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		if paymentHandler != nil {
			// The gateway authenticates callbacks with its own secret, not a
			// user token
			r.Post("/payments/callback", paymentHandler.Callback)

			// Customer-facing payment routes require authentication
			r.Group(func(pr chi.Router) {
				pr.Use(middleware.UserContext(logger))

				pr.Route("/payments", func(pmr chi.Router) {
					pmr.Post("/initiate", paymentHandler.InitiatePayment)
					pmr.Get("/sessions/{sessionID}", paymentHandler.GetSession)
					pmr.Post("/sessions/{sessionID}/check", paymentHandler.CheckSession)
					pmr.Post("/sessions/{sessionID}/cancel", paymentHandler.CancelSession)
				})
			})
		}
	})
}
