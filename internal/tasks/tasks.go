// Package tasks provides the builtin task handlers shipped with the worker
// binaries. Applications embedding the engine register their own handlers on
// the same registry.
package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/chronoshq/chronos/internal/domain"
	"github.com/chronoshq/chronos/internal/worker"
)

// Builtin task type names.
const (
	TypeEcho    = "echo"
	TypeSleep   = "sleep"
	TypeWebhook = "webhook"
)

const (
	webhookTimeout     = 30 * time.Second
	maxWebhookResponse = 64 * 1024
)

// RegisterBuiltins registers the builtin handlers on the registry.
func RegisterBuiltins(reg *worker.Registry) error {
	client := &http.Client{Timeout: webhookTimeout}
	for taskType, handler := range map[string]worker.Handler{
		TypeEcho:    Echo,
		TypeSleep:   Sleep,
		TypeWebhook: Webhook(client),
	} {
		if err := reg.Register(taskType, handler); err != nil {
			return err
		}
	}
	return nil
}

// Echo returns the job payload unchanged. Useful for smoke tests.
func Echo(_ context.Context, job *domain.Job) (map[string]any, error) {
	return job.Payload, nil
}

// Sleep blocks for the duration in payload.duration, honouring cancellation.
func Sleep(ctx context.Context, job *domain.Job) (map[string]any, error) {
	raw, _ := job.Payload["duration"].(string)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return nil, domain.NonRetryable(fmt.Errorf("payload.duration: invalid duration %q", raw))
	}
	select {
	case <-time.After(d):
		return map[string]any{"slept": d.String()}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Webhook returns a handler that POSTs the payload.body to payload.url as
// JSON. Responses outside 2xx fail the attempt; 4xx failures are permanent.
func Webhook(client *http.Client) worker.Handler {
	return func(ctx context.Context, job *domain.Job) (map[string]any, error) {
		url, _ := job.Payload["url"].(string)
		if url == "" {
			return nil, domain.NonRetryable(fmt.Errorf("payload.url is required"))
		}

		var body io.Reader
		if raw, ok := job.Payload["body"]; ok {
			encoded, err := json.Marshal(raw)
			if err != nil {
				return nil, domain.NonRetryable(fmt.Errorf("payload.body: %w", err))
			}
			body = bytes.NewReader(encoded)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
		if err != nil {
			return nil, domain.NonRetryable(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("webhook request failed: %w", err)
		}
		defer resp.Body.Close()

		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxWebhookResponse))
		result := map[string]any{
			"statusCode": resp.StatusCode,
			"body":       string(snippet),
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return result, nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return result, domain.NonRetryable(fmt.Errorf("webhook returned %d", resp.StatusCode))
		default:
			return result, fmt.Errorf("webhook returned %d", resp.StatusCode)
		}
	}
}
