// Package streamchat is a minimal server-side client for the Stream Chat
// REST API: querying channel history, upserting users, and posting messages.
package streamchat

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"recap/internal/services"
)

const (
	defaultHTTPTimeout = 15 * time.Second
	defaultBaseURL     = "https://chat.stream-io-api.com"
	channelType        = "messaging"
)

// Config captures the credentials and endpoint for the chat API.
type Config struct {
	APIKey         string
	APISecret      string
	BaseURL        string
	TimeoutSeconds int
}

// Message is a chat message as stored in a channel.
type Message struct {
	ID        string    `json:"id,omitempty"`
	Text      string    `json:"text"`
	UserID    string    `json:"user_id,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// User is a chat user profile.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Image string `json:"image,omitempty"`
}

// Client talks to the chat API with a server-side auth token.
type Client struct {
	cfg        Config
	httpClient *http.Client
	token      string
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

// NewClient constructs a chat client. The API secret signs a server token
// once up front; an empty secret surfaces as a configuration error on use.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg: Config{
			APIKey:         strings.TrimSpace(cfg.APIKey),
			APISecret:      strings.TrimSpace(cfg.APISecret),
			BaseURL:        strings.TrimSpace(cfg.BaseURL),
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
	if client.cfg.APISecret != "" {
		client.token = serverToken(client.cfg.APISecret)
	}
	return client
}

// QueryMessages returns up to limit recent messages from the channel,
// oldest first.
func (c *Client) QueryMessages(ctx context.Context, channelID string, limit int) ([]Message, error) {
	if err := c.checkCredentials("query messages"); err != nil {
		return nil, err
	}
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return nil, services.Wrap(services.ErrValidation, "streamchat", "query messages", "channel id required", nil)
	}
	if limit <= 0 {
		limit = 25
	}

	body := map[string]any{
		"state":    true,
		"messages": map[string]int{"limit": limit},
	}
	path := fmt.Sprintf("/channels/%s/%s/query", channelType, url.PathEscape(channelID))

	var decoded struct {
		Messages []Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodPost, path, body, &decoded, "query messages"); err != nil {
		return nil, err
	}
	return decoded.Messages, nil
}

// UpsertUser creates or updates a chat user profile.
func (c *Client) UpsertUser(ctx context.Context, user User) error {
	if err := c.checkCredentials("upsert user"); err != nil {
		return err
	}
	if strings.TrimSpace(user.ID) == "" {
		return services.Wrap(services.ErrValidation, "streamchat", "upsert user", "user id required", nil)
	}
	body := map[string]any{
		"users": map[string]User{user.ID: user},
	}
	return c.do(ctx, http.MethodPost, "/users", body, nil, "upsert user")
}

// SendMessage posts a message to the channel on behalf of message.UserID.
func (c *Client) SendMessage(ctx context.Context, channelID string, message Message) error {
	if err := c.checkCredentials("send message"); err != nil {
		return err
	}
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return services.Wrap(services.ErrValidation, "streamchat", "send message", "channel id required", nil)
	}
	if strings.TrimSpace(message.Text) == "" {
		return services.Wrap(services.ErrValidation, "streamchat", "send message", "message text required", nil)
	}
	body := map[string]any{
		"message": map[string]any{
			"text":    message.Text,
			"user_id": message.UserID,
		},
	}
	path := fmt.Sprintf("/channels/%s/%s/message", channelType, url.PathEscape(channelID))
	return c.do(ctx, http.MethodPost, path, body, nil, "send message")
}

func (c *Client) checkCredentials(op string) error {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return services.Wrap(services.ErrConfiguration, "streamchat", op, "api key and secret required", nil)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, op string) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return services.Wrap(services.ErrValidation, "streamchat", op, "encode body", err)
	}
	endpoint := c.cfg.BaseURL + path + "?api_key=" + url.QueryEscape(c.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return services.Wrap(services.ErrValidation, "streamchat", op, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.token)
	req.Header.Set("Stream-Auth-Type", "jwt")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return services.Wrap(services.ErrTimeout, "streamchat", op, "request timed out", err)
		}
		return services.Wrap(services.ErrTransient, "streamchat", op, "http error", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return services.Wrap(services.ErrTransient, "streamchat", op, "read body", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		marker := services.ErrTransient
		if resp.StatusCode >= http.StatusBadRequest && resp.StatusCode < http.StatusInternalServerError &&
			resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusRequestTimeout {
			marker = services.ErrValidation
		}
		return services.Wrap(marker, "streamchat", op,
			fmt.Sprintf("http %d: %s", resp.StatusCode, trimBody(payload)), nil)
	}
	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return services.Wrap(services.ErrTransient, "streamchat", op, "decode response", err)
		}
	}
	return nil
}

// serverToken builds the HS256 JWT the chat API expects from server-side
// integrations: a fixed {"server": true} claim signed with the API secret.
func serverToken(secret string) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	claims := base64.RawURLEncoding.EncodeToString([]byte(`{"server":true}`))
	signing := header + "." + claims
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signing))
	return signing + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func trimBody(body []byte) string {
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
