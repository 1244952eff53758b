package config

const (
	defaultDataDir             = "~/.local/share/recap"
	defaultLogDir              = "~/.local/share/recap/logs"
	defaultAPIBind             = "127.0.0.1:7519"
	defaultOpenAIBaseURL       = "https://api.openai.com/v1/chat/completions"
	defaultOpenAIModel         = "gpt-4o-mini"
	defaultOpenAITimeout       = 60
	defaultStreamChatBaseURL   = "https://chat.stream-io-api.com"
	defaultStreamChatTimeout   = 10
	defaultHistoryLimit        = 5
	defaultFetchTimeoutSeconds = 30
	defaultStepRetryAttempts   = 4
	defaultRetryBaseSeconds    = 1
	defaultRetryMaxSeconds     = 30
	defaultNotifyTimeout       = 10
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: expandHome(defaultDataDir),
			LogDir:  expandHome(defaultLogDir),
			APIBind: defaultAPIBind,
		},
		OpenAI: OpenAI{
			BaseURL:        defaultOpenAIBaseURL,
			Model:          defaultOpenAIModel,
			TimeoutSeconds: defaultOpenAITimeout,
		},
		StreamChat: StreamChat{
			BaseURL:        defaultStreamChatBaseURL,
			TimeoutSeconds: defaultStreamChatTimeout,
			HistoryLimit:   defaultHistoryLimit,
		},
		Transcript: Transcript{
			FetchTimeoutSeconds: defaultFetchTimeoutSeconds,
		},
		Workflow: Workflow{
			StepRetryAttempts: defaultStepRetryAttempts,
			RetryBaseSeconds:  defaultRetryBaseSeconds,
			RetryMaxSeconds:   defaultRetryMaxSeconds,
			ResumeOnStart:     true,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			RunCompleted:   true,
			RunFailed:      true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
