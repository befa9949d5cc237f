package handler

import (
	"net/http"
	"time"

	"github.com/chronoshq/chronos/internal/http/response"
	"github.com/chronoshq/chronos/internal/service"
)

// StatsResponse is the GET /v1/stats payload.
type StatsResponse struct {
	ByStatus    map[string]int64 `json:"byStatus"`
	ByTaskType  map[string]int64 `json:"byTaskType"`
	Hourly      []HourBucketDTO  `json:"hourly"`
	DueJobs     int64            `json:"dueJobs"`
	GeneratedAt time.Time        `json:"generatedAt"`
}

// HourBucketDTO is one bucket of the hourly execution histogram.
type HourBucketDTO struct {
	Hour  time.Time `json:"hour"`
	Count int64     `json:"count"`
}

// Stats implements GET /v1/stats.
func (s *Server) Stats(w http.ResponseWriter, r *http.Request) {
	overview, err := s.jobs.Stats(r.Context())
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, mapOverviewToDTO(overview))
}

func mapOverviewToDTO(overview *service.Overview) StatsResponse {
	resp := StatsResponse{
		ByStatus:    make(map[string]int64, len(overview.ByStatus)),
		ByTaskType:  make(map[string]int64, len(overview.ByTaskType)),
		Hourly:      make([]HourBucketDTO, len(overview.Hourly)),
		DueJobs:     overview.DueJobs,
		GeneratedAt: overview.GeneratedAt,
	}
	for _, c := range overview.ByStatus {
		resp.ByStatus[string(c.Status)] = c.Count
	}
	for _, c := range overview.ByTaskType {
		resp.ByTaskType[c.TaskType] = c.Count
	}
	for i, b := range overview.Hourly {
		resp.Hourly[i] = HourBucketDTO{Hour: b.Hour, Count: b.Count}
	}
	return resp
}
