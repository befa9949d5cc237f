// Package handler implements the JSON API over the job service.
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chronoshq/chronos/internal/service"
)

// principalHeader carries the caller identity recorded as createdBy.
const principalHeader = "X-Chronos-Principal"

// Server holds the handler dependencies.
type Server struct {
	jobs   *service.JobService
	logger *slog.Logger
}

// New creates an API handler server backed by the given job service.
func New(jobs *service.JobService, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{jobs: jobs, logger: logger}
}

// Routes returns the /v1 API router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Route("/v1", func(r chi.Router) {
		r.Get("/stats", s.Stats)

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.CreateJob)
			r.Get("/", s.ListJobs)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.GetJob)
				r.Patch("/", s.UpdateJob)
				r.Delete("/", s.DeleteJob)
				r.Post("/cancel", s.CancelJob)
				r.Post("/pause", s.PauseJob)
				r.Post("/resume", s.ResumeJob)
				r.Get("/logs", s.ListLogs)
			})
		})
	})

	return r
}
