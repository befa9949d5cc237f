package tasks

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronoshq/chronos/internal/domain"
	"github.com/chronoshq/chronos/internal/worker"
)

func TestRegisterBuiltins(t *testing.T) {
	reg := worker.NewRegistry()
	require.NoError(t, RegisterBuiltins(reg))
	assert.ElementsMatch(t, []string{TypeEcho, TypeSleep, TypeWebhook}, reg.TaskTypes())
}

func TestEcho(t *testing.T) {
	payload := map[string]any{"greeting": "hello"}
	result, err := Echo(context.Background(), &domain.Job{Payload: payload})
	require.NoError(t, err)
	assert.Equal(t, payload, result)
}

func TestSleep(t *testing.T) {
	result, err := Sleep(context.Background(), &domain.Job{
		Payload: map[string]any{"duration": "1ms"},
	})
	require.NoError(t, err)
	assert.Equal(t, "1ms", result["slept"])
}

func TestSleepInvalidDuration(t *testing.T) {
	_, err := Sleep(context.Background(), &domain.Job{
		Payload: map[string]any{"duration": "a while"},
	})
	require.Error(t, err)
	assert.True(t, domain.IsNonRetryableError(err))
}

func TestSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Sleep(ctx, &domain.Job{
		Payload: map[string]any{"duration": "10s"},
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestWebhookSuccess(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 256)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"delivered":true}`))
	}))
	defer srv.Close()

	handler := Webhook(srv.Client())
	result, err := handler(context.Background(), &domain.Job{
		Payload: map[string]any{
			"url":  srv.URL,
			"body": map[string]any{"event": "job.done"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, result["statusCode"])
	assert.JSONEq(t, `{"event":"job.done"}`, gotBody)
}

func TestWebhookClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	handler := Webhook(srv.Client())
	_, err := handler(context.Background(), &domain.Job{
		Payload: map[string]any{"url": srv.URL},
	})
	require.Error(t, err)
	assert.True(t, domain.IsNonRetryableError(err))
}

func TestWebhookServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	handler := Webhook(srv.Client())
	_, err := handler(context.Background(), &domain.Job{
		Payload: map[string]any{"url": srv.URL},
	})
	require.Error(t, err)
	assert.False(t, domain.IsNonRetryableError(err))
}

func TestWebhookMissingURL(t *testing.T) {
	handler := Webhook(&http.Client{Timeout: time.Second})
	_, err := handler(context.Background(), &domain.Job{Payload: map[string]any{}})
	require.Error(t, err)
	assert.True(t, domain.IsNonRetryableError(err))
}
