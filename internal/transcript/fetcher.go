package transcript

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"recap/internal/services"
)

const defaultFetchTimeout = 30 * time.Second

// maxTranscriptBytes bounds how much transcript content is read into memory.
const maxTranscriptBytes = 32 << 20

// Fetcher downloads raw transcript content over HTTP.
type Fetcher struct {
	client *http.Client
}

// NewFetcher constructs a transcript fetcher with the given request timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &Fetcher{client: &http.Client{Timeout: timeout}}
}

// NewFetcherWithClient constructs a fetcher over a caller-provided client.
func NewFetcherWithClient(client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}
	return &Fetcher{client: client}
}

// Fetch downloads the document at url. Network failures and non-2xx statuses
// are transient; retrying is the caller's decision.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, services.Wrap(services.ErrValidation, "transcript", "fetch", "url is required", nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "transcript", "fetch", "build request", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "transcript", "fetch", "http error", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, services.Wrap(services.ErrTransient, "transcript", "fetch",
			fmt.Sprintf("http %d from %s", resp.StatusCode, url), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTranscriptBytes))
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "transcript", "fetch", "read body", err)
	}
	return body, nil
}
