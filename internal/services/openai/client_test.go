package openai_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"recap/internal/services"
	"recap/internal/services/openai"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*openai.Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := openai.NewClient(openai.Config{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Model:   "gpt-4o-mini",
	}, openai.WithHTTPClient(server.Client()))
	return client, server
}

func completionBody(content string) string {
	payload := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"content": content}, "finish_reason": "stop"},
		},
	}
	encoded, _ := json.Marshal(payload)
	return string(encoded)
}

func TestCompleteReturnsFirstChoice(t *testing.T) {
	var gotAuth string
	var gotReq struct {
		Model    string           `json:"model"`
		Messages []openai.Message `json:"messages"`
	}
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_, _ = w.Write([]byte(completionBody("### Overview\nA meeting happened.")))
	})

	content, err := client.Complete(context.Background(), []openai.Message{
		{Role: "system", Content: "You are a summarizer."},
		{Role: "user", Content: "Summarize this."},
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if content != "### Overview\nA meeting happened." {
		t.Fatalf("unexpected content %q", content)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if gotReq.Model != "gpt-4o-mini" || len(gotReq.Messages) != 2 {
		t.Fatalf("unexpected request: %+v", gotReq)
	}
}

func TestCompleteEmptyContentIsNoContent(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(completionBody("   ")))
	})
	_, err := client.Complete(context.Background(), []openai.Message{{Role: "user", Content: "hi"}})
	if !errors.Is(err, openai.ErrNoContent) {
		t.Fatalf("expected ErrNoContent, got %v", err)
	}
}

func TestCompleteRateLimitIsTransient(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	_, err := client.Complete(context.Background(), []openai.Message{{Role: "user", Content: "hi"}})
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestCompleteServerErrorIsTransient(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, err := client.Complete(context.Background(), []openai.Message{{Role: "user", Content: "hi"}})
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestCompleteUnauthorizedIsConfiguration(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	_, err := client.Complete(context.Background(), []openai.Message{{Role: "user", Content: "hi"}})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestCompleteBadRequestIsValidation(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	_, err := client.Complete(context.Background(), []openai.Message{{Role: "user", Content: "hi"}})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCompleteMissingKeyIsConfiguration(t *testing.T) {
	client := openai.NewClient(openai.Config{})
	_, err := client.Complete(context.Background(), []openai.Message{{Role: "user", Content: "hi"}})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
