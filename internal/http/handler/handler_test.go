package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronoshq/chronos/internal/service"
	"github.com/chronoshq/chronos/internal/storage/memory"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	store := memory.New()
	t.Cleanup(func() { store.Close() })
	return New(service.NewJobService(store, nil), nil).Routes()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, out))
}

func createJobRequest(name string) map[string]any {
	return map[string]any{
		"name":         name,
		"kind":         "ONE_TIME",
		"taskType":     "email",
		"scheduleTime": time.Now().UTC().Add(time.Hour).Format(time.RFC3339),
	}
}

func TestCreateJob(t *testing.T) {
	h := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewBufferString(
		`{"name":"welcome mail","kind":"ONE_TIME","taskType":"email","scheduleTime":"2099-01-01T00:00:00Z"}`))
	req.Header.Set("X-Chronos-Principal", "alice")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var job JobDTO
	decodeData(t, rec, &job)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, "1", job.JobID)
	assert.Equal(t, "welcome mail", job.Name)
	assert.Equal(t, "SCHEDULED", job.Status)
	assert.Equal(t, "alice", job.CreatedBy)
	assert.NotNil(t, job.NextRunAt)
	assert.Equal(t, 3, job.RetryPolicy.MaxRetries)
}

func TestCreateJobInvalidJSON(t *testing.T) {
	h := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_REQUEST")
}

func TestCreateJobValidation(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/v1/jobs", map[string]any{
		"name":     "no schedule",
		"kind":     "ONE_TIME",
		"taskType": "email",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "VALIDATION_ERROR")
}

func TestCreateJobBadDuration(t *testing.T) {
	h := newTestServer(t)

	body := createJobRequest("bad duration")
	body["lockTimeout"] = "five minutes"
	rec := doJSON(t, h, http.MethodPost, "/v1/jobs", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "lockTimeout")
}

func TestCreateRecurringJob(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/v1/jobs", map[string]any{
		"name":     "nightly report",
		"kind":     "RECURRING",
		"taskType": "report",
		"interval": "30m",
		"retryPolicy": map[string]any{
			"maxRetries": 5,
			"strategy":   "linear",
			"retryDelay": "2m",
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var job JobDTO
	decodeData(t, rec, &job)
	assert.Equal(t, "30m0s", job.Interval)
	assert.Equal(t, 5, job.RetryPolicy.MaxRetries)
	assert.Equal(t, "linear", job.RetryPolicy.Strategy)
	assert.Equal(t, "2m0s", job.RetryPolicy.RetryDelay)
}

func TestGetJobBothIDForms(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/v1/jobs", createJobRequest("lookup me"))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created JobDTO
	decodeData(t, rec, &created)

	for _, id := range []string{created.ID, created.JobID} {
		rec := doJSON(t, h, http.MethodGet, "/v1/jobs/"+id, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var got JobDTO
		decodeData(t, rec, &got)
		assert.Equal(t, created.ID, got.ID)
	}
}

func TestGetJobNotFound(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodGet, "/v1/jobs/999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "NOT_FOUND")
}

func TestListJobsFilter(t *testing.T) {
	h := newTestServer(t)

	for i := range 3 {
		body := createJobRequest(fmt.Sprintf("email job %d", i))
		rec := doJSON(t, h, http.MethodPost, "/v1/jobs", body)
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	body := createJobRequest("cleanup job")
	body["taskType"] = "cleanup"
	rec := doJSON(t, h, http.MethodPost, "/v1/jobs", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/v1/jobs?taskType=email&limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page ListJobsResponse
	decodeData(t, rec, &page)
	assert.Len(t, page.Jobs, 2)
	assert.Equal(t, 3, page.TotalCount)
	assert.True(t, page.HasMore)

	rec = doJSON(t, h, http.MethodGet, "/v1/jobs?orderBy=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateJob(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/v1/jobs", createJobRequest("original name"))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created JobDTO
	decodeData(t, rec, &created)

	rec = doJSON(t, h, http.MethodPatch, "/v1/jobs/"+created.ID, map[string]any{
		"name":     "renamed job",
		"priority": 2,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated JobDTO
	decodeData(t, rec, &updated)
	assert.Equal(t, "renamed job", updated.Name)
	assert.Equal(t, 2, updated.Priority)
}

func TestDeleteJob(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/v1/jobs", createJobRequest("doomed job"))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created JobDTO
	decodeData(t, rec, &created)

	rec = doJSON(t, h, http.MethodDelete, "/v1/jobs/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/v1/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page ListJobsResponse
	decodeData(t, rec, &page)
	assert.Empty(t, page.Jobs)
}

func TestLifecycleEndpoints(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/v1/jobs", createJobRequest("lifecycle job"))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created JobDTO
	decodeData(t, rec, &created)

	rec = doJSON(t, h, http.MethodPost, "/v1/jobs/"+created.ID+"/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var job JobDTO
	decodeData(t, rec, &job)
	assert.Equal(t, "PAUSED", job.Status)

	rec = doJSON(t, h, http.MethodPost, "/v1/jobs/"+created.ID+"/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeData(t, rec, &job)
	assert.Equal(t, "SCHEDULED", job.Status)

	rec = doJSON(t, h, http.MethodPost, "/v1/jobs/"+created.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeData(t, rec, &job)
	assert.Equal(t, "CANCELLED", job.Status)

	// Terminal jobs cannot be cancelled again.
	rec = doJSON(t, h, http.MethodPost, "/v1/jobs/"+created.ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "CONFLICT")
}

func TestListLogsEmpty(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/v1/jobs", createJobRequest("quiet job"))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created JobDTO
	decodeData(t, rec, &created)

	rec = doJSON(t, h, http.MethodGet, "/v1/jobs/"+created.ID+"/logs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var logs ListLogsResponse
	decodeData(t, rec, &logs)
	assert.Empty(t, logs.Logs)

	rec = doJSON(t, h, http.MethodGet, "/v1/jobs/"+created.ID+"/logs?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStats(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/v1/jobs", createJobRequest("stats job"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats StatsResponse
	decodeData(t, rec, &stats)
	assert.EqualValues(t, 1, stats.ByStatus["SCHEDULED"])
	assert.EqualValues(t, 1, stats.ByTaskType["email"])
	assert.Zero(t, stats.DueJobs)
	assert.False(t, stats.GeneratedAt.IsZero())
}

func TestCreateJobExplicitZeroRetries(t *testing.T) {
	h := newTestServer(t)

	body := createJobRequest("no retries")
	body["retryPolicy"] = map[string]any{
		"maxRetries":    0,
		"jitterEnabled": false,
	}
	rec := doJSON(t, h, http.MethodPost, "/v1/jobs", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var job JobDTO
	decodeData(t, rec, &job)
	assert.Zero(t, job.RetryPolicy.MaxRetries, "an explicit zero budget is not a request for the default")
	assert.False(t, job.RetryPolicy.JitterEnabled)
	assert.Equal(t, "exponential", job.RetryPolicy.Strategy, "unset fields still take the engine defaults")
}

func TestUpdateTerminalJobConflict(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/v1/jobs", createJobRequest("soon cancelled"))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created JobDTO
	decodeData(t, rec, &created)

	rec = doJSON(t, h, http.MethodPost, "/v1/jobs/"+created.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodPatch, "/v1/jobs/"+created.ID, map[string]any{"name": "renamed too late"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "CONFLICT")
}
