// Package daemon coordinates the long-running process: single-instance
// locking, crash recovery, the event intake server, and orderly shutdown.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"

	"log/slog"

	"github.com/gofrs/flock"

	"recap/internal/api"
	"recap/internal/config"
	"recap/internal/dispatch"
	"recap/internal/logging"
	"recap/internal/meetings"
	"recap/internal/notifications"
	"recap/internal/runs"
)

// Daemon owns the background services and enforces single-instance execution.
type Daemon struct {
	cfg          *config.Config
	logger       *slog.Logger
	runStore     *runs.Store
	meetingStore *meetings.Store
	dispatcher   *dispatch.Dispatcher
	apiServer    *api.Server

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// New constructs a daemon from initialized dependencies.
func New(cfg *config.Config, logger *slog.Logger, runStore *runs.Store, meetingStore *meetings.Store, dispatcher *dispatch.Dispatcher, apiServer *api.Server) (*Daemon, error) {
	if cfg == nil || logger == nil || runStore == nil || dispatcher == nil {
		return nil, errors.New("daemon requires config, logger, run store, and dispatcher")
	}
	lockPath := filepath.Join(cfg.Paths.DataDir, "recapd.lock")
	return &Daemon{
		cfg:          cfg,
		logger:       logger.With(logging.String(logging.FieldComponent, "daemon")),
		runStore:     runStore,
		meetingStore: meetingStore,
		dispatcher:   dispatcher,
		apiServer:    apiServer,
		lockPath:     lockPath,
		lock:         flock.New(lockPath),
	}, nil
}

// Start acquires the instance lock, resumes interrupted runs when
// configured, and brings up the intake server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another recap daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)

	if d.cfg.Workflow.ResumeOnStart {
		resumed, err := d.dispatcher.ResumeRunning(d.ctx)
		if err != nil {
			d.logger.Error("resume interrupted runs", logging.Error(err))
		} else if resumed > 0 {
			d.logger.Info("resumed interrupted runs", logging.Int("count", resumed))
		}
	}

	if d.apiServer != nil {
		if err := d.apiServer.Start(d.ctx); err != nil {
			_ = d.lock.Unlock()
			d.cancel()
			d.ctx = nil
			d.cancel = nil
			return fmt.Errorf("start api server: %w", err)
		}
	}

	d.running.Store(true)
	d.logger.Info("recap daemon started", logging.String("lock", d.lockPath))
	d.logStartupSnapshot(d.ctx)
	return nil
}

func (d *Daemon) logStartupSnapshot(ctx context.Context) {
	stats, err := d.runStore.Stats(ctx)
	if err != nil {
		d.logger.Warn("read run stats", logging.Error(err))
		return
	}
	d.logger.Info("run store snapshot",
		logging.Int("running", stats[runs.RunRunning]),
		logging.Int("completed", stats[runs.RunCompleted]),
		logging.Int("failed", stats[runs.RunFailed]),
	)
}

// Stop halts intake, drains in-flight runs, and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.apiServer != nil {
		d.apiServer.Stop()
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.dispatcher.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("recap daemon stopped")
}

// Close stops the daemon and releases its stores.
func (d *Daemon) Close() error {
	d.Stop()
	var errs []error
	if d.runStore != nil {
		errs = append(errs, d.runStore.Close())
	}
	if d.meetingStore != nil {
		errs = append(errs, d.meetingStore.Close())
	}
	return errors.Join(errs...)
}

// Running reports whether the daemon has been started.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// LockPath returns the path of the single-instance lock file.
func (d *Daemon) LockPath() string {
	return d.lockPath
}

// TestNotification sends a probe through the configured notifier.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	notifier := notifications.NewService(d.cfg)
	if err := notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}
