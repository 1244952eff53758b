// Package notifications pushes run lifecycle events to an ntfy topic.
// Without a configured topic the service is a silent noop.
package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"recap/internal/config"
)

const userAgent = "Recap-Go/0.1.0"

// Service defines the notification surface exposed to the dispatcher.
type Service interface {
	NotifyRunCompleted(ctx context.Context, workflow, runID string) error
	NotifyRunFailed(ctx context.Context, workflow, runID string, cause error) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:     topic,
		client:       &http.Client{Timeout: timeout},
		runCompleted: cfg.Notifications.RunCompleted,
		runFailed:    cfg.Notifications.RunFailed,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint     string
	client       *http.Client
	runCompleted bool
	runFailed    bool
}

func (n *ntfyService) NotifyRunCompleted(ctx context.Context, workflow, runID string) error {
	if !n.runCompleted {
		return nil
	}
	data := payload{
		title:   "Recap - Run Complete",
		message: fmt.Sprintf("Workflow %s finished (run %s)", workflow, runID),
		tags:    []string{"recap", "run", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRunFailed(ctx context.Context, workflow, runID string, cause error) error {
	if !n.runFailed {
		return nil
	}
	var builder strings.Builder
	fmt.Fprintf(&builder, "Workflow %s failed (run %s)", workflow, runID)
	if cause != nil {
		builder.WriteString(": ")
		builder.WriteString(strings.TrimSpace(cause.Error()))
	}
	data := payload{
		title:    "Recap - Run Failed",
		message:  builder.String(),
		tags:     []string{"recap", "run", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Recap - Test",
		message:  "Notification system test",
		tags:     []string{"recap", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// NewNop returns a notifier that drops everything. Useful for tests and
// for callers that have not wired notifications.
func NewNop() Service {
	return noopService{}
}

type noopService struct{}

func (noopService) NotifyRunCompleted(context.Context, string, string) error     { return nil }
func (noopService) NotifyRunFailed(context.Context, string, string, error) error { return nil }
func (noopService) TestNotification(context.Context) error                       { return nil }
