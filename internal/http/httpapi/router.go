// Package httpapi assembles the chi router over the handler set.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"stagehand/internal/http/handlers"
	"stagehand/internal/middleware"
)

func NewRouter(app *handlers.App) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(app.Logger),
		middleware.CORS(app.Config.AllowedOrigins),
		middleware.I18N(app.Config.DefaultLocale),
		middleware.RateLimit(app.Config.RateLimitPerMin, time.Minute),
	)

	r.Get("/v1/healthz", app.Health)

	// The webhook authenticates by contract, not by user token.
	r.Post("/v1/billing/webhook", app.BillingWebhook)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(app.Config.JWTSecret))

		r.Route("/v1/generations", func(r chi.Router) {
			r.Post("/", app.Generate)
			r.Get("/", app.List)
			r.Get("/export", app.Export)
			r.Post("/batch", app.GenerateBatch)
			r.Get("/{id}", app.Status)
			r.Post("/{id}/refine", app.Refine)
		})

		r.Route("/v1/batches", func(r chi.Router) {
			r.Get("/{batch_id}", app.BatchStatus)
			r.Delete("/{batch_id}", app.BatchClear)
		})

		r.Get("/v1/me", app.Me)
		r.Get("/v1/notifications", app.Notifications)
		r.Post("/v1/billing/checkout", app.CheckoutCreate)
	})

	return r
}
