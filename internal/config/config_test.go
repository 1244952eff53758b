package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"recap/internal/config"
)

func TestDefaultValidates(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.StreamChat.HistoryLimit != 5 {
		t.Fatalf("expected history limit 5, got %d", cfg.StreamChat.HistoryLimit)
	}
	if cfg.Workflow.StepRetryAttempts != 4 {
		t.Fatalf("expected 4 retry attempts, got %d", cfg.Workflow.StepRetryAttempts)
	}
}

func TestLoadLayersFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[paths]
data_dir = "` + dir + `"
log_dir = "` + filepath.Join(dir, "logs") + `"

[workflow]
step_retry_attempts = 2

[openai]
base_url = "http://127.0.0.1:9999/v1/chat/completions/"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if resolved != path {
		t.Fatalf("expected resolved path %s, got %s", path, resolved)
	}
	if cfg.Workflow.StepRetryAttempts != 2 {
		t.Fatalf("expected override to apply, got %d", cfg.Workflow.StepRetryAttempts)
	}
	if cfg.Workflow.RetryMaxSeconds != 30 {
		t.Fatalf("expected default retry_max_seconds, got %d", cfg.Workflow.RetryMaxSeconds)
	}
	if strings.HasSuffix(cfg.OpenAI.BaseURL, "/") {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.OpenAI.BaseURL)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, _, err := config.Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected error for missing explicit config path")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := config.Default()
	cfg.Workflow.StepRetryAttempts = 0
	cfg.Logging.Format = "yaml"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation failure")
	}
	if !strings.Contains(err.Error(), "step_retry_attempts") || !strings.Contains(err.Error(), "logging.format") {
		t.Fatalf("expected both problems reported, got %v", err)
	}
}

func TestWriteSampleRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := config.WriteSample(path); err != nil {
		t.Fatalf("WriteSample failed: %v", err)
	}
	if err := config.WriteSample(path); err == nil {
		t.Fatal("expected error when file exists")
	}

	cfg, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("sample config should load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("sample config should validate: %v", err)
	}
}
