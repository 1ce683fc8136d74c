package rest

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"

	"github.com/guidy/payments/internal/admin"
	"github.com/guidy/payments/internal/auth"
	"github.com/guidy/payments/internal/checkout"
	"github.com/guidy/payments/internal/reconciliation"
	"github.com/guidy/payments/internal/transport/middleware"
	"github.com/guidy/payments/internal/transport/swagger"
	"github.com/guidy/payments/internal/wallet"
)

// Handlers bundles everything RegisterAllRoutes mounts. Nil entries are
// skipped so partial wiring (worker processes, tests) stays possible.
type Handlers struct {
	Webhook  *reconciliation.WebhookHandler
	Return   *reconciliation.ReturnHandler
	Checkout *checkout.Handler
	Wallet   *wallet.Handler
	Auth     *auth.Handler
	Admin    *admin.Handler
}

func RegisterAllRoutes(router *chi.Mux, db *sql.DB, handlers Handlers, logger *slog.Logger) {
	healthHandler := NewHealthHandler(db)

	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))

	// Serve OpenAPI spec at root (outside API prefix)
	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./api/openapi.yml")
	})
	router.Handle("/swagger/*", swagger.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		// Gateway-facing endpoints. Providers send GETs as availability
		// probes, so both verbs are accepted on the notify route.
		if handlers.Webhook != nil {
			handlers.Webhook.RegisterRoutes(r)
		}
		if handlers.Return != nil {
			handlers.Return.RegisterRoutes(r)
		}

		if handlers.Checkout != nil {
			handlers.Checkout.RegisterRoutes(r)
		}
		if handlers.Wallet != nil {
			handlers.Wallet.RegisterRoutes(r)
		}

		if handlers.Auth != nil {
			handlers.Auth.RegisterRoutes(r)

			if handlers.Admin != nil {
				r.Group(func(ar chi.Router) {
					ar.Use(handlers.Auth.Middleware)
					handlers.Admin.RegisterRoutes(ar)
				})
			}
		}
	})
}
