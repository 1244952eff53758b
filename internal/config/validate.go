package config

import (
	"fmt"
	"strings"
)

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Paths.DataDir) == "" {
		problems = append(problems, "paths.data_dir must not be empty")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		problems = append(problems, "paths.log_dir must not be empty")
	}
	if c.OpenAI.TimeoutSeconds <= 0 {
		problems = append(problems, "openai.timeout_seconds must be positive")
	}
	if c.StreamChat.TimeoutSeconds <= 0 {
		problems = append(problems, "streamchat.timeout_seconds must be positive")
	}
	if c.StreamChat.HistoryLimit <= 0 {
		problems = append(problems, "streamchat.history_limit must be positive")
	}
	if c.Transcript.FetchTimeoutSeconds <= 0 {
		problems = append(problems, "transcript.fetch_timeout_seconds must be positive")
	}
	if c.Workflow.StepRetryAttempts <= 0 {
		problems = append(problems, "workflow.step_retry_attempts must be positive")
	}
	if c.Workflow.RetryBaseSeconds < 0 {
		problems = append(problems, "workflow.retry_base_seconds must not be negative")
	}
	if c.Workflow.RetryMaxSeconds < c.Workflow.RetryBaseSeconds {
		problems = append(problems, "workflow.retry_max_seconds must be at least retry_base_seconds")
	}
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q is not supported (use console or json)", c.Logging.Format))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}
