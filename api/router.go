package api

import (
	"fmt"
	"net/http"
	"time"

	"devgate/api/docs"
	"devgate/api/router/handlers"
	"devgate/logger"
	"devgate/models"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
)

// Options wires the admin API to the running proxy.
type Options struct {
	Rules handlers.RuleSource
	// OnExclusionsChanged is called after record exclusion rules are saved.
	OnExclusionsChanged func([]models.RecordExclusionRule)
	// RateLimit is the number of requests per minute per client IP. Zero disables it.
	RateLimit int
	// Host is advertised in the OpenAPI document.
	Host string
}

// NewRouter creates the admin API router. All registered paths are relative to the
// admin API base path.
func NewRouter(opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if opts.RateLimit > 0 {
		r.Use(rateLimit(opts.RateLimit, time.Minute))
	}

	handlers.RegisterHealthRoutes(r)
	handlers.RegisterVersionRoutes(r)
	handlers.RegisterRouteRoutes(r, opts.Rules)
	handlers.RegisterTrafficRoutes(r)
	handlers.RegisterSettingsRoutes(r, opts.OnExclusionsChanged)

	if opts.Host != "" {
		docs.SwaggerInfo.Host = opts.Host
	}
	r.Get("/swagger.json", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(docs.SwaggerInfo.ReadDoc()))
	})

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		logger.Error("API SUB-ROUTER CATCH-ALL: Unhandled route relative to the admin API: %s %s", req.Method, req.URL.Path)
		http.NotFound(w, req)
	})
	return r
}

func rateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		limit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(window.Seconds())))
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"message":"Too many requests. Please try again later."}`))
		}),
	)
}
