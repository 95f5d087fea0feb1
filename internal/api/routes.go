package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"reportsync/internal/observability"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	Handler *Handler
	Metrics *observability.Metrics
	APIKey  string
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	h := cfg.Handler
	r := chi.NewRouter()

	// Middleware chain (order matters: outermost first)
	r.Use(RecoveryMiddleware())
	r.Use(middleware.RequestID)
	r.Use(LoggingMiddleware())
	if cfg.Metrics != nil {
		r.Use(MetricsMiddleware(cfg.Metrics))
	}
	r.Use(CORSMiddleware())
	r.Use(ContentTypeMiddleware())

	// Health check endpoints (liveness/readiness probes) - no auth required
	r.Get("/livez", h.Livez)
	r.Get("/readyz", h.Readyz)

	r.Route("/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.APIKey))

		r.Route("/downloads", func(r chi.Router) {
			r.Get("/", h.ListDownloads)
			r.Get("/stream", h.StreamDownloads)
			r.Post("/prepare-all", h.PrepareAll)
			r.Get("/{artifact}", h.GetDownload)
			r.Delete("/{artifact}", h.CancelDownload)
			r.Post("/{artifact}/prepare", h.PrepareDownload)
			r.Post("/{artifact}/metadata", h.FetchMetadata)
			r.Post("/{artifact}/reset", h.ResetDownload)
			r.Get("/{artifact}/result", h.DownloadResult)
		})

		r.Route("/archive/datasets/{datasetId}", func(r chi.Router) {
			r.Get("/resources", h.ListResources)
			r.Post("/uploads", h.StartUpload)
		})

		r.Get("/uploads/{sessionId}", h.GetUpload)
		r.Delete("/uploads/{sessionId}", h.CancelUpload)
	})

	return r
}
