package logging

import (
	"log/slog"
	"path/filepath"

	"recap/internal/config"
)

// NewFromConfig builds the daemon logger: console or JSON on stdout plus a
// rolling file under the configured log directory.
func NewFromConfig(cfg *config.Config) (*slog.Logger, error) {
	opts := Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		OutputPaths: []string{
			"stdout",
			filepath.Join(cfg.Paths.LogDir, "recapd.log"),
		},
	}
	return New(opts)
}
