package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/chronoshq/chronos/internal/domain"
)

const (
	defaultLogLimit = 50
	maxLogLimit     = 500
)

// parseLimit reads an optional limit query parameter, clamped to max.
func parseLimit(r *http.Request, def, max int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("limit: must be a positive integer")
	}
	if limit > max {
		limit = max
	}
	return limit, nil
}

// parseListParams reads the GET /v1/jobs filter, sort and pagination query
// parameters.
func parseListParams(r *http.Request) (domain.ListJobsParams, error) {
	q := r.URL.Query()
	var params domain.ListJobsParams

	if v := q.Get("status"); v != "" {
		status := domain.JobStatus(v)
		params.Status = &status
	}
	if v := q.Get("kind"); v != "" {
		kind := domain.JobKind(v)
		params.Kind = &kind
	}
	if v := q.Get("taskType"); v != "" {
		params.TaskType = &v
	}
	if v := q.Get("tag"); v != "" {
		params.Tag = &v
	}
	if v := q.Get("createdBy"); v != "" {
		params.CreatedBy = &v
	}
	if v := q.Get("dueBefore"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return params, fmt.Errorf("dueBefore: must be an RFC 3339 timestamp")
		}
		params.DueBefore = &t
	}
	params.Search = q.Get("search")
	params.IncludeInactive = q.Get("includeInactive") == "true"

	switch v := q.Get("orderBy"); v {
	case "", "created_at", "updated_at", "next_run_at", "priority":
		params.OrderBy = v
	default:
		return params, fmt.Errorf("orderBy: unknown field %q", v)
	}
	switch v := q.Get("orderDir"); v {
	case "", "asc", "desc":
		params.OrderDir = v
	default:
		return params, fmt.Errorf("orderDir: must be asc or desc")
	}

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			return params, fmt.Errorf("limit: must be a positive integer")
		}
		params.Limit = limit
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			return params, fmt.Errorf("offset: must be a non-negative integer")
		}
		params.Offset = offset
	}

	return params, nil
}
