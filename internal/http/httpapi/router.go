package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"server/internal/http/handlers"
	"server/internal/middleware"
)

// NewRouter assembles the HTTP surface. Webhook receivers stay outside the
// auth group: providers and Midtrans cannot carry a user token, and each
// receiver verifies its caller by its own means (shared-secret header for AI
// providers, payload signature for Midtrans).
func NewRouter(app *handlers.App) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(app.Logger),
	)
	if len(app.Cfg.CORSOrigins) > 0 {
		r.Use(middleware.CORS(app.Cfg.CORSOrigins))
	}

	r.Get("/v1/healthz", app.Health)
	r.Handle("/metrics", promhttp.Handler())

	if app.Cfg.StorageBackend == "filesystem" {
		fs := http.StripPrefix("/static/", http.FileServer(http.Dir(app.Cfg.StoragePath)))
		r.Get("/static/*", fs.ServeHTTP)
	}

	r.Route("/v1/webhooks", func(r chi.Router) {
		r.Post("/kie", app.ProviderWebhook("kie"))
		r.Post("/replicate", app.ProviderWebhook("replicate"))
		r.Post("/fashn", app.ProviderWebhook("fashn"))
		r.Post("/midtrans", app.MidtransWebhook)
	})

	r.Group(func(r chi.Router) {
		r.Use(
			middleware.AuthJWT(app.Cfg.JWTSecret),
			middleware.RateLimit(app.Cfg.RateLimitPerMin, time.Minute),
		)

		r.Post("/v1/tryon", app.TryOnSubmit)
		r.Post("/v1/model-swap", app.ModelSwapSubmit)
		r.Post("/v1/photo-edit", app.PhotoEditSubmit)
		r.Post("/v1/product-marketing", app.ProductMarketingSubmit)

		r.Get("/v1/status/{taskID}", app.JobStatus)
		r.Get("/v1/jobs", app.JobsList)
		r.Delete("/v1/jobs/{jobID}", app.JobsDelete)

		r.Post("/v1/credits", app.CreditsAction)
		r.Post("/v1/payments/orders", app.PaymentsCreateOrder)
	})

	return r
}
