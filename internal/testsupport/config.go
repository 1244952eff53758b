package testsupport

import (
	"path/filepath"
	"testing"

	"recap/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// Retry delays are zeroed so executor tests never sleep.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Workflow.RetryBaseSeconds = 0
	cfg.Workflow.RetryMaxSeconds = 0

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithRetryAttempts overrides the step retry budget on the test config.
func WithRetryAttempts(attempts int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Workflow.StepRetryAttempts = attempts
	}
}

// WithHistoryLimit overrides the chat history bound on the test config.
func WithHistoryLimit(limit int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.StreamChat.HistoryLimit = limit
	}
}
