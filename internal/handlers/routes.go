package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires the API routes and middleware.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(h.recoverer)
	r.Use(enableCORS(h.cfg.HTTP.AllowedOrigins))
	if h.cfg.HTTP.Timeout > 0 {
		r.Use(middleware.Timeout(h.cfg.HTTP.Timeout))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.With(middleware.RequestSize(1<<20)).Post("/predict", h.Predict)
		// multipart overhead on top of the file itself
		r.With(middleware.RequestSize(h.cfg.MaxUploadBytes()+1<<20)).Post("/upload-predict", h.UploadPredict)

		if h.results != nil {
			r.Get("/results", h.Results)
		}
		if h.cfg.SecretKey != "" {
			r.With(bearerAuth(h.cfg.SecretKey)).Post("/model/reload", h.Reload)
		}
	})

	return r
}
