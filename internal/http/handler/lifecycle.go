package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chronoshq/chronos/internal/http/response"
)

// CancelJob implements POST /v1/jobs/{id}/cancel. A running job finishes its
// current attempt but never runs again.
func (s *Server) CancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, MapJobToDTO(job))
}

// PauseJob implements POST /v1/jobs/{id}/pause.
func (s *Server) PauseJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Pause(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, MapJobToDTO(job))
}

// ResumeJob implements POST /v1/jobs/{id}/resume.
func (s *Server) ResumeJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Resume(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, MapJobToDTO(job))
}
