package main

import (
	"log/slog"
	"time"

	"recap/internal/config"
	"recap/internal/dispatch"
	"recap/internal/meetings"
	"recap/internal/notifications"
	"recap/internal/retry"
	"recap/internal/runs"
	"recap/internal/services/openai"
	"recap/internal/services/streamchat"
	"recap/internal/transcript"
	"recap/internal/workflows/chatreply"
	"recap/internal/workflows/summarize"
)

// buildDispatcher wires the two workflows to their external services. The
// summarization workflow keeps its step log in SQLite so it can resume
// after a crash; chat replies are latency-bound and log steps in memory.
func buildDispatcher(cfg *config.Config, runStore *runs.Store, meetingStore *meetings.Store, logger *slog.Logger) (*dispatch.Dispatcher, error) {
	policy := retryPolicy(cfg)
	notifier := notifications.NewService(cfg)
	dispatcher := dispatch.New(runStore, notifier, policy, logger)

	completer := openai.NewClient(openai.Config{
		APIKey:         cfg.OpenAI.APIKey,
		BaseURL:        cfg.OpenAI.BaseURL,
		Model:          cfg.OpenAI.Model,
		TimeoutSeconds: cfg.OpenAI.TimeoutSeconds,
	})
	chat := streamchat.NewClient(streamchat.Config{
		APIKey:         cfg.StreamChat.APIKey,
		APISecret:      cfg.StreamChat.APISecret,
		BaseURL:        cfg.StreamChat.BaseURL,
		TimeoutSeconds: cfg.StreamChat.TimeoutSeconds,
	})
	fetcher := transcript.NewFetcher(time.Duration(cfg.Transcript.FetchTimeoutSeconds) * time.Second)

	summarizeWF := summarize.New(fetcher, completer, meetingStore)
	if err := dispatcher.Register(dispatch.Registration{
		Definition: summarizeWF.Definition(),
		Log:        runStore,
		Resumable:  true,
	}); err != nil {
		return nil, err
	}

	replyWF := chatreply.New(chat, completer, meetingStore, cfg.StreamChat.HistoryLimit)
	if err := dispatcher.Register(dispatch.Registration{
		Definition: replyWF.Definition(),
		Log:        runs.NewMemoryLog(),
	}); err != nil {
		return nil, err
	}

	return dispatcher, nil
}

func retryPolicy(cfg *config.Config) retry.Policy {
	policy := retry.DefaultPolicy()
	if cfg.Workflow.StepRetryAttempts > 0 {
		policy.MaxAttempts = cfg.Workflow.StepRetryAttempts
	}
	if cfg.Workflow.RetryBaseSeconds > 0 {
		policy.BaseDelay = time.Duration(cfg.Workflow.RetryBaseSeconds) * time.Second
	}
	if cfg.Workflow.RetryMaxSeconds > 0 {
		policy.MaxDelay = time.Duration(cfg.Workflow.RetryMaxSeconds) * time.Second
	}
	return policy
}
