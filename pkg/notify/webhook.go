package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/taskmill/taskmill/pkg/core"
)

// WebhookPayload is the body POSTed to a task's webhookUrl when it reaches
// a terminal state.
type WebhookPayload struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Task      WebhookTask `json:"task"`
}

// WebhookTask is the projection of a task carried in webhook payloads.
type WebhookTask struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Platform   string          `json:"platform,omitempty"`
	Status     core.Status     `json:"status"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMs int64           `json:"durationMs,omitempty"`
	CallbackID string          `json:"callbackId,omitempty"`
}

// WebhookNotifier POSTs task events to caller-supplied URLs. Delivery is
// best-effort: failures and timeouts are logged and swallowed, never
// escalated or retried. Outbound requests share a rate limiter so a burst
// of completions cannot hammer a webhook endpoint.
type WebhookNotifier struct {
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewWebhookNotifier creates a notifier with a 10s request timeout and a
// 10 req/s (burst 20) outbound ceiling.
func NewWebhookNotifier(logger *slog.Logger) *WebhookNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookNotifier{
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(10), 20),
		logger:  logger,
	}
}

// Notify delivers one event for the task to url. It blocks until the
// delivery attempt finishes; callers that must not wait run it in a
// goroutine.
func (n *WebhookNotifier) Notify(ctx context.Context, url, event string, task *core.Task) {
	if url == "" {
		return
	}

	payload := WebhookPayload{
		Event:     event,
		Timestamp: time.Now().UTC(),
		Task: WebhookTask{
			ID:         task.ID,
			Type:       task.Type,
			Platform:   task.Platform,
			Status:     task.Status,
			Result:     task.Result,
			Error:      task.Error,
			DurationMs: task.DurationMs,
			CallbackID: task.CallbackID,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Warn("webhook payload marshal failed", "task_id", task.ID, "error", err)
		return
	}

	if err := n.limiter.Wait(ctx); err != nil {
		n.logger.Debug("webhook delivery abandoned", "task_id", task.ID, "url", url, "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		n.logger.Warn("webhook request build failed", "task_id", task.ID, "url", url, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Debug("webhook delivery failed", "task_id", task.ID, "url", url, "error", err)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 300 {
		n.logger.Debug("webhook delivery rejected", "task_id", task.ID, "url", url,
			"status", fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode)))
	}
}
