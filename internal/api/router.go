package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

func Router(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(loggingMiddleware(h.logger))

	r.Get("/v1/health", h.Health)

	r.Route("/v1/scheduler", func(r chi.Router) {
		r.Get("/status", h.SchedulerStatus)
		r.Post("/start", h.SchedulerStart)
		r.Post("/stop", h.SchedulerStop)
	})

	r.Route("/v1/queue", func(r chi.Router) {
		r.Get("/", h.ListQueue)
		r.Post("/", h.AddToQueue)
		r.Delete("/", h.ClearQueue)
		r.Delete("/{id}", h.RemoveItem)
		r.Post("/{id}/retry", h.RetryItem)
	})

	r.Route("/v1/batch", func(r chi.Router) {
		r.Get("/", h.BatchStatus)
		r.Post("/", h.StartBatch)
		r.Post("/cancel", h.CancelBatch)
	})

	r.Get("/v1/allowance", h.Allowance)

	r.Get("/v1/sync", h.LastSync)
	r.Post("/v1/sync", h.ForceSync)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("outreach-engine"))
	})

	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}
