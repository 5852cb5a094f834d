// Package httpapi assembles the chi router for the API surface.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"lorekeeper/internal/http/handlers"
	"lorekeeper/internal/middleware"
)

// NewRouter builds the route tree. Worker endpoints sit behind the shared
// bearer token; everything else is open to the application tier.
func NewRouter(app *handlers.App, workerToken string) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(app.Log),
	)

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/worlds/{worldID}", func(r chi.Router) {
		r.With(middleware.RateLimit(60, time.Minute)).Post("/jobs", app.SubmitJob)
		r.Get("/jobs", app.ListJobs)
		r.Get("/assets", app.ListAssets)
	})

	r.Route("/v1/jobs/{jobID}", func(r chi.Router) {
		r.Get("/", app.GetJob)
		r.Post("/cancel", app.CancelJob)
	})

	r.Route("/v1/assets/{assetID}", func(r chi.Router) {
		r.Get("/", app.GetAsset)
		r.Get("/download", app.DownloadAsset)
		r.Delete("/", app.DeleteAsset)
		r.Get("/derivations", app.ListDerivationsByAsset)
	})

	r.Get("/v1/claims/{claimID}/derivations", app.ListDerivationsByClaim)
	r.Get("/v1/entities/{entityID}/derivations", app.ListDerivationsByEntity)
	r.Get("/v1/sources/{sourceID}/derivations", app.ListDerivationsBySource)

	r.Route("/v1/worker/jobs/{jobID}", func(r chi.Router) {
		r.Use(middleware.WorkerAuth(workerToken))
		r.Post("/claim", app.WorkerClaimJob)
		r.Post("/complete", app.WorkerCompleteJob)
		r.Post("/fail", app.WorkerFailJob)
	})

	return r
}
