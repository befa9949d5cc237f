package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/chronoshq/chronos/internal/domain"
	"github.com/chronoshq/chronos/internal/http/response"
	"github.com/chronoshq/chronos/internal/storage"
)

// CreateJobRequest is the POST /v1/jobs body. Durations are Go duration
// strings; timestamps are RFC 3339.
type CreateJobRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Timezone    string   `json:"timezone"`

	Kind           string     `json:"kind"`
	ScheduleTime   *time.Time `json:"scheduleTime"`
	CronExpression string     `json:"cronExpression"`
	Interval       string     `json:"interval"`
	StartTime      *time.Time `json:"startTime"`
	EndTime        *time.Time `json:"endTime"`

	TaskType string         `json:"taskType"`
	Payload  map[string]any `json:"payload"`
	Priority *int           `json:"priority"`

	LockTimeout    string              `json:"lockTimeout"`
	DependsOnJobID *string             `json:"dependsOnJobId"`
	Metadata       map[string]any      `json:"metadata"`
	RetryPolicy    *RetryPolicyRequest `json:"retryPolicy"`
}

// RetryPolicyRequest overrides retry defaults on creation.
type RetryPolicyRequest struct {
	MaxRetries    *int     `json:"maxRetries"`
	RetryDelay    string   `json:"retryDelay"`
	MaxRetryDelay string   `json:"maxRetryDelay"`
	Strategy      string   `json:"strategy"`
	JitterEnabled *bool    `json:"jitterEnabled"`
	JitterFactor  *float64 `json:"jitterFactor"`
}

// UpdateJobRequest is the PATCH /v1/jobs/{id} body; nil fields are unchanged.
type UpdateJobRequest struct {
	Name        *string         `json:"name"`
	Description *string         `json:"description"`
	Tags        *[]string       `json:"tags"`
	Payload     *map[string]any `json:"payload"`
	Priority    *int            `json:"priority"`
	Timezone    *string         `json:"timezone"`
	MaxRetries  *int            `json:"maxRetries"`
	RetryDelay  *string         `json:"retryDelay"`
}

// CreateJob implements POST /v1/jobs.
func (s *Server) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON")
		return
	}

	job, err := req.toDomain(s.jobs.RetryDefaults())
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}
	job.CreatedBy = r.Header.Get(principalHeader)

	created, err := s.jobs.Create(r.Context(), job)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.Created(w, MapJobToDTO(created))
}

// toDomain builds the job from the request, starting the retry policy at
// the engine defaults and overlaying only the fields the caller actually
// sent. Explicit values survive verbatim, zero included.
func (req *CreateJobRequest) toDomain(retryDefaults domain.RetryPolicy) (*domain.Job, error) {
	interval, err := parseDuration("interval", req.Interval)
	if err != nil {
		return nil, err
	}
	lockTimeout, err := parseDuration("lockTimeout", req.LockTimeout)
	if err != nil {
		return nil, err
	}

	job := &domain.Job{
		Name:        req.Name,
		Description: req.Description,
		Tags:        req.Tags,
		Timezone:    req.Timezone,

		Kind:           domain.JobKind(req.Kind),
		ScheduleTime:   req.ScheduleTime,
		CronExpression: req.CronExpression,
		Interval:       interval,
		StartTime:      req.StartTime,
		EndTime:        req.EndTime,

		TaskType: req.TaskType,
		Payload:  req.Payload,

		LockTimeout:    lockTimeout,
		DependsOnJobID: req.DependsOnJobID,
		Metadata:       req.Metadata,
	}
	if req.Priority != nil {
		job.Priority = *req.Priority
	}

	job.Retry = retryDefaults
	if rp := req.RetryPolicy; rp != nil {
		if rp.MaxRetries != nil {
			job.Retry.MaxRetries = *rp.MaxRetries
		}
		if rp.RetryDelay != "" {
			if job.Retry.RetryDelay, err = parseDuration("retryPolicy.retryDelay", rp.RetryDelay); err != nil {
				return nil, err
			}
		}
		if rp.MaxRetryDelay != "" {
			if job.Retry.MaxRetryDelay, err = parseDuration("retryPolicy.maxRetryDelay", rp.MaxRetryDelay); err != nil {
				return nil, err
			}
		}
		if rp.Strategy != "" {
			job.Retry.Strategy = domain.RetryStrategy(rp.Strategy)
		}
		if rp.JitterEnabled != nil {
			job.Retry.JitterEnabled = *rp.JitterEnabled
		}
		if rp.JitterFactor != nil {
			job.Retry.JitterFactor = *rp.JitterFactor
		}
	}
	return job, nil
}

// GetJob implements GET /v1/jobs/{id}. The id may be the surrogate uuid or
// the sequential job id.
func (s *Server) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, MapJobToDTO(job))
}

// ListJobsResponse is the GET /v1/jobs payload.
type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	TotalCount int      `json:"totalCount"`
	HasMore    bool     `json:"hasMore"`
}

// ListJobs implements GET /v1/jobs.
func (s *Server) ListJobs(w http.ResponseWriter, r *http.Request) {
	params, err := parseListParams(r)
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	page, err := s.jobs.List(r.Context(), params)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, ListJobsResponse{
		Jobs:       mapJobsToDTO(page.Jobs),
		TotalCount: page.TotalCount,
		HasMore:    page.HasMore,
	})
}

// UpdateJob implements PATCH /v1/jobs/{id}.
func (s *Server) UpdateJob(w http.ResponseWriter, r *http.Request) {
	var req UpdateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON")
		return
	}

	upd := storage.JobUpdate{
		Name:        req.Name,
		Description: req.Description,
		Tags:        req.Tags,
		Payload:     req.Payload,
		Priority:    req.Priority,
		Timezone:    req.Timezone,
		MaxRetries:  req.MaxRetries,
	}
	if req.RetryDelay != nil {
		delay, err := parseDuration("retryDelay", *req.RetryDelay)
		if err != nil {
			response.BadRequest(w, err.Error())
			return
		}
		upd.RetryDelay = &delay
	}

	job, err := s.jobs.Update(r.Context(), chi.URLParam(r, "id"), upd)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, MapJobToDTO(job))
}

// DeleteJob implements DELETE /v1/jobs/{id} as a soft delete.
func (s *Server) DeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := s.jobs.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.NoContent(w)
}

// ListLogsResponse is the GET /v1/jobs/{id}/logs payload.
type ListLogsResponse struct {
	Logs []ExecutionLogDTO `json:"logs"`
}

// ListLogs implements GET /v1/jobs/{id}/logs, newest first.
func (s *Server) ListLogs(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultLogLimit, maxLogLimit)
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	logs, err := s.jobs.Logs(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, ListLogsResponse{Logs: mapLogsToDTO(logs)})
}
