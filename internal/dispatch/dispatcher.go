// Package dispatch turns incoming events into workflow runs. Each accepted
// event creates exactly one run row; execution happens on a background
// goroutine and the run reaches a terminal status exactly once.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"recap/internal/engine"
	"recap/internal/logging"
	"recap/internal/notifications"
	"recap/internal/retry"
	"recap/internal/runs"
	"recap/internal/services"
)

// Registration binds a workflow definition to the step log backing it.
// Resumable workflows are re-executed after a restart; the rest are failed
// because their step memoization did not survive the process.
type Registration struct {
	Definition engine.Definition
	Log        runs.StepLog
	Resumable  bool
}

// Dispatcher owns run creation and background execution.
type Dispatcher struct {
	store    *runs.Store
	notifier notifications.Service
	logger   *slog.Logger
	policy   retry.Policy

	mu        sync.Mutex
	workflows map[string]*registered

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type registered struct {
	definition engine.Definition
	executor   *engine.Executor
	resumable  bool
}

// New constructs a dispatcher. The policy governs per-step retries for
// every registered workflow.
func New(store *runs.Store, notifier notifications.Service, policy retry.Policy, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	if notifier == nil {
		notifier = notifications.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		store:     store,
		notifier:  notifier,
		logger:    logger.With(logging.String(logging.FieldComponent, "dispatch")),
		policy:    policy,
		workflows: make(map[string]*registered),
		baseCtx:   ctx,
		cancel:    cancel,
	}
}

// Register adds a workflow. Registering the same kind twice or an invalid
// definition is a programming error surfaced as a configuration failure.
func (d *Dispatcher) Register(reg Registration) error {
	if err := reg.Definition.Validate(); err != nil {
		return services.Wrap(services.ErrConfiguration, "dispatch", "register", "invalid definition", err)
	}
	if reg.Log == nil {
		return services.Wrap(services.ErrConfiguration, "dispatch", "register",
			fmt.Sprintf("workflow %s has no step log", reg.Definition.Kind), nil)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	kind := reg.Definition.Kind
	if _, dup := d.workflows[kind]; dup {
		return services.Wrap(services.ErrConfiguration, "dispatch", "register",
			fmt.Sprintf("workflow %s registered twice", kind), nil)
	}
	d.workflows[kind] = &registered{
		definition: reg.Definition,
		executor:   engine.NewExecutor(reg.Log, d.policy, d.logger),
		resumable:  reg.Resumable,
	}
	return nil
}

// Dispatch accepts an event for the named workflow kind. The run row is
// created synchronously so the caller gets a run ID; execution continues in
// the background even if the caller's context ends.
func (d *Dispatcher) Dispatch(ctx context.Context, kind string, payload json.RawMessage) (*runs.Run, error) {
	reg, err := d.lookup(kind)
	if err != nil {
		return nil, err
	}
	run, err := d.store.CreateRun(ctx, kind, payload)
	if err != nil {
		return nil, err
	}
	d.logger.Info("run accepted",
		logging.String(logging.FieldWorkflow, kind),
		logging.String(logging.FieldRunID, run.ID))

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.execute(reg, run.ID, payload)
	}()
	return run, nil
}

// ResumeRunning picks up runs left in the running state by a previous
// process. Resumable workflows continue from their step log; the others are
// failed because re-running them could repeat delivered side effects.
func (d *Dispatcher) ResumeRunning(ctx context.Context) (int, error) {
	stale, err := d.store.ListRuns(ctx, runs.RunRunning)
	if err != nil {
		return 0, err
	}
	resumed := 0
	for _, run := range stale {
		reg, err := d.lookup(run.Workflow)
		if err != nil || !reg.resumable {
			d.logger.Warn("failing interrupted run",
				logging.String(logging.FieldWorkflow, run.Workflow),
				logging.String(logging.FieldRunID, run.ID))
			if _, ferr := d.store.FailRun(ctx, run.ID, "interrupted by restart"); ferr != nil {
				d.logger.Error("mark interrupted run failed", logging.Error(ferr))
			}
			continue
		}
		// The crashed process may have died mid-step, leaving a pending claim
		// that would deny re-execution until the stale window lapses. No
		// executor from that process is alive (the daemon holds an instance
		// lock), so its claims are released before resuming.
		if released, rerr := d.store.ReleasePendingClaims(ctx, run.ID); rerr != nil {
			d.logger.Error("release orphaned step claims",
				logging.String(logging.FieldRunID, run.ID),
				logging.Error(rerr))
		} else if released > 0 {
			d.logger.Info("released orphaned step claims",
				logging.String(logging.FieldRunID, run.ID),
				logging.Int("count", released))
		}
		d.logger.Info("resuming run",
			logging.String(logging.FieldWorkflow, run.Workflow),
			logging.String(logging.FieldRunID, run.ID))
		resumed++
		payload := run.Payload
		runID := run.ID
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.execute(reg, runID, payload)
		}()
	}
	return resumed, nil
}

// Stop cancels in-flight runs and waits for their goroutines to settle.
// Interrupted durable runs are recovered by ResumeRunning on next start.
func (d *Dispatcher) Stop() {
	d.cancel()
	d.wg.Wait()
}

func (d *Dispatcher) lookup(kind string) (*registered, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	reg, ok := d.workflows[kind]
	if !ok {
		return nil, services.Wrap(services.ErrValidation, "dispatch", "dispatch",
			fmt.Sprintf("unknown workflow kind %q", kind), nil)
	}
	return reg, nil
}

func (d *Dispatcher) execute(reg *registered, runID string, payload json.RawMessage) {
	ctx := services.WithRunID(d.baseCtx, runID)
	ctx = services.WithWorkflow(ctx, reg.definition.Kind)
	logger := d.logger.With(
		logging.String(logging.FieldWorkflow, reg.definition.Kind),
		logging.String(logging.FieldRunID, runID))

	_, err := reg.executor.Execute(ctx, runID, reg.definition, payload)
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown, not failure. The run stays running and is picked up
			// or failed by the next ResumeRunning.
			logger.Info("run interrupted by shutdown")
			return
		}
		logger.Error("run failed", logging.Error(err))
		if _, ferr := d.store.FailRun(context.Background(), runID, err.Error()); ferr != nil {
			logger.Error("record run failure", logging.Error(ferr))
		}
		if nerr := d.notifier.NotifyRunFailed(context.Background(), reg.definition.Kind, runID, err); nerr != nil {
			logger.Warn("run failure notification", logging.Error(nerr))
		}
		return
	}

	logger.Info("run completed")
	if _, cerr := d.store.CompleteRun(context.Background(), runID); cerr != nil {
		logger.Error("record run completion", logging.Error(cerr))
	}
	if nerr := d.notifier.NotifyRunCompleted(context.Background(), reg.definition.Kind, runID); nerr != nil {
		logger.Warn("run completion notification", logging.Error(nerr))
	}
}
