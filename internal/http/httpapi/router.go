package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"videoswap/internal/http/handlers"
	"videoswap/internal/infra"
	"videoswap/internal/middleware"
)

// Options configures the public router.
type Options struct {
	JWTSecret      string
	AllowedOrigins []string
	RateLimit      int
	RatePer        time.Duration
}

// NewRouter builds the public job API.
func NewRouter(app *handlers.App, logger infra.Logger, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(logger),
	)
	if len(opts.AllowedOrigins) > 0 {
		r.Use(middleware.CORS(opts.AllowedOrigins))
	}

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(opts.JWTSecret))
		if opts.RateLimit > 0 {
			r.Use(middleware.RateLimit(opts.RateLimit, opts.RatePer))
		}

		r.Route("/v1/jobs", func(r chi.Router) {
			r.Post("/", app.JobsCreate)
			r.Get("/", app.JobsList)
			r.Get("/stats", app.StatsSummary)
			r.Get("/{job_id}", app.JobGet)
			r.Post("/{job_id}/submit", app.JobSubmit)
			r.Post("/{job_id}/cancel", app.JobCancel)
			r.Post("/{job_id}/retry", app.JobRetry)
		})
		r.Get("/v1/workflows/{workflow_ref}/estimate", app.WorkflowEstimate)
	})

	return r
}

// NewOpsRouter serves the worker's unauthenticated health and stats.
// Bind it to an internal port only.
func NewOpsRouter(app *handlers.App) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/jobs/stats", app.StatsAll)
	return r
}
