// Package openai wraps the OpenAI chat completion API. The client performs a
// single request per call; retry decisions belong to the workflow retry
// policy, not this layer.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"recap/internal/services"
)

const (
	defaultHTTPTimeout = 60 * time.Second
	defaultBaseURL     = "https://api.openai.com/v1/chat/completions"
	defaultModel       = "gpt-4o-mini"
)

// ErrNoContent reports a completion whose choices carried no usable text.
// Callers that can treat an empty reply as a no-op should check for it.
var ErrNoContent = errors.New("completion contained no content")

// Config captures the runtime settings required to talk to the model.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	TimeoutSeconds int
}

// Message is one turn of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client issues chat completion requests.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs a chat completion client from the supplied configuration.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg: Config{
			APIKey:         strings.TrimSpace(cfg.APIKey),
			BaseURL:        strings.TrimSpace(cfg.BaseURL),
			Model:          strings.TrimSpace(cfg.Model),
			TimeoutSeconds: cfg.TimeoutSeconds,
		},
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.cfg.BaseURL == "" {
		client.cfg.BaseURL = defaultBaseURL
	}
	if client.cfg.Model == "" {
		client.cfg.Model = defaultModel
	}
	return client
}

type chatCompletionRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends the conversation and returns the first choice's text.
// An empty completion returns ErrNoContent so callers can distinguish a
// deliberate non-answer from a transport failure.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return "", services.Wrap(services.ErrConfiguration, "openai", "complete", "api key required", nil)
	}
	if len(messages) == 0 {
		return "", services.Wrap(services.ErrValidation, "openai", "complete", "at least one message required", nil)
	}

	encoded, err := json.Marshal(chatCompletionRequest{Model: c.cfg.Model, Messages: messages})
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "openai", "complete", "encode body", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(encoded))
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "openai", "complete", "build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", services.Wrap(services.ErrTimeout, "openai", "complete", "request timed out", err)
		}
		return "", services.Wrap(services.ErrTransient, "openai", "complete", "http error", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "openai", "complete", "read body", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus(resp, body)
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return "", services.Wrap(services.ErrTransient, "openai", "complete", "decode response", err)
	}
	if completion.Error != nil {
		return "", services.Wrap(services.ErrTransient, "openai", "complete",
			fmt.Sprintf("api error: %s", strings.TrimSpace(completion.Error.Message)), nil)
	}
	for _, choice := range completion.Choices {
		if content := strings.TrimSpace(choice.Message.Content); content != "" {
			return content, nil
		}
	}
	return "", ErrNoContent
}

// classifyStatus maps HTTP failures onto the error taxonomy. Rate limits and
// server errors are transient; auth failures are configuration problems.
func classifyStatus(resp *http.Response, body []byte) error {
	detail := fmt.Sprintf("http %d: %s", resp.StatusCode, snippet(body))
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return services.Wrap(services.ErrConfiguration, "openai", "complete", detail, nil)
	case resp.StatusCode == http.StatusRequestTimeout:
		return services.Wrap(services.ErrTimeout, "openai", "complete", detail, nil)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		if after, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
			detail = fmt.Sprintf("%s (retry after %s)", detail, after)
		}
		return services.Wrap(services.ErrTransient, "openai", "complete", detail, nil)
	default:
		return services.Wrap(services.ErrValidation, "openai", "complete", detail, nil)
	}
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		if delay := time.Until(when); delay > 0 {
			return delay, true
		}
	}
	return 0, false
}

func snippet(body []byte) string {
	clean := strings.Join(strings.Fields(string(body)), " ")
	const limit = 160
	runes := []rune(clean)
	if len(runes) > limit {
		return string(runes[:limit]) + "..."
	}
	if clean == "" {
		return "<empty>"
	}
	return clean
}
