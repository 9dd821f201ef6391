package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router assembles the full HTTP surface: the versioned API, health probe
// and Prometheus metrics.
func Router(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/uploads", func(r chi.Router) {
			r.Post("/", h.startUpload)
			r.Get("/", h.listUploads)
			r.Get("/{id}", h.getUpload)
			r.Delete("/{id}", h.cancelUpload)
		})
		r.Route("/triggers", func(r chi.Router) {
			r.Post("/", h.startTrigger)
			r.Get("/", h.listTriggers)
			r.Get("/{id}", h.getTrigger)
			r.Get("/{id}/upload", h.getTriggerUpload)
			r.Delete("/{id}/upload", h.cancelTriggerUpload)
		})
	})

	r.Get("/healthz", h.healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}
