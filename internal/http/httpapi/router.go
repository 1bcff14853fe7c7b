package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/seobohdanov/maxagainst-sub001/internal/http/handlers"
	"github.com/seobohdanov/maxagainst-sub001/internal/infra"
	"github.com/seobohdanov/maxagainst-sub001/internal/middleware"
)

// NewRouter assembles the HTTP surface of the service.
func NewRouter(app *handlers.App, logger infra.Logger, rateLimitPerMin int, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(logger),
		middleware.CORS(allowedOrigins),
	)

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/songs", func(r chi.Router) {
		r.With(middleware.RateLimit(rateLimitPerMin, time.Minute)).Post("/", app.SongsCreate)
		r.Get("/{job_id}", app.SongStatus)
		r.Get("/{job_id}/stream", app.SongStream)
	})

	// Out-of-band completion reports from the generation provider.
	r.Post("/v1/callbacks/songgen", app.ProviderCallback)

	return r
}
