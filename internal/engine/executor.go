package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"recap/internal/logging"
	"recap/internal/retry"
	"recap/internal/runs"
	"recap/internal/services"
)

// ErrStepContention is returned when another live executor holds the claim
// for a step of the same run.
var ErrStepContention = errors.New("step is claimed by another executor")

// Executor runs workflow definitions against a step log. Steps of one run
// execute strictly in order; separate runs may use the same Executor
// concurrently because all shared state lives in the step log.
type Executor struct {
	log    runs.StepLog
	policy retry.Policy
	logger *slog.Logger
	sleep  func(ctx context.Context, delay time.Duration) error
}

// Option customizes the executor.
type Option func(*Executor)

// WithSleeper overrides how retry waits are performed (useful for tests).
func WithSleeper(sleep func(ctx context.Context, delay time.Duration) error) Option {
	return func(e *Executor) {
		if sleep != nil {
			e.sleep = sleep
		}
	}
}

// NewExecutor constructs a step executor over the provided step log.
func NewExecutor(log runs.StepLog, policy retry.Policy, logger *slog.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = logging.NewNop()
	}
	executor := &Executor{
		log:    log,
		policy: policy,
		logger: logging.NewComponentLogger(logger, "engine"),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(executor)
	}
	return executor
}

// Execute runs every step of def for the given run in definition order and
// returns the final step's stored result. Succeeded records are skipped and
// their results fed forward; a step that exhausts its retry budget or fails
// fatally stops the run, and no further steps execute.
func (e *Executor) Execute(ctx context.Context, runID string, def Definition, payload json.RawMessage) (json.RawMessage, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	runCtx := services.WithRunID(ctx, runID)
	runCtx = services.WithWorkflow(runCtx, def.Kind)

	sc := &StepContext{RunID: runID, Payload: payload}
	var final json.RawMessage

	for _, step := range def.Steps {
		stepCtx := services.WithStep(runCtx, step.Name)
		result, err := e.runStep(stepCtx, runID, step, sc)
		if err != nil {
			return nil, err
		}
		sc.setOutput(step.Name, result)
		final = result
	}
	return final, nil
}

func (e *Executor) runStep(ctx context.Context, runID string, step Step, sc *StepContext) (json.RawMessage, error) {
	stepLogger := logging.WithContext(ctx, e.logger)

	record, err := e.log.GetStep(ctx, runID, step.Name)
	if err != nil {
		return nil, fmt.Errorf("read step record: %w", err)
	}
	if record != nil && record.Status == runs.StepSucceeded {
		stepLogger.Debug("step memoized, skipping execution",
			logging.String(logging.FieldEventType, "step_memoized"),
			logging.Int("attempts", record.Attempts),
		)
		return record.Result, nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		attempt, ok, err := e.log.ClaimStep(ctx, runID, step.Name)
		if err != nil {
			return nil, fmt.Errorf("claim step: %w", err)
		}
		if !ok {
			// Lost the claim race. If the winner already finished, adopt its
			// result; otherwise this executor must stand down.
			record, err := e.log.GetStep(ctx, runID, step.Name)
			if err != nil {
				return nil, fmt.Errorf("read contested step record: %w", err)
			}
			if record != nil && record.Status == runs.StepSucceeded {
				return record.Result, nil
			}
			return nil, fmt.Errorf("%w: run %s step %s", ErrStepContention, runID, step.Name)
		}

		stepLogger.Info("step started",
			logging.String(logging.FieldEventType, "step_start"),
			logging.Int("attempt", attempt),
		)
		started := time.Now()

		value, stepErr := step.Fn(ctx, sc)
		if stepErr == nil {
			encoded, err := marshalResult(value)
			if err != nil {
				return nil, fmt.Errorf("encode result of step %s: %w", step.Name, err)
			}
			if err := e.log.MarkStepSucceeded(ctx, runID, step.Name, encoded); err != nil {
				if errors.Is(err, runs.ErrStepAlreadySucceeded) {
					record, readErr := e.log.GetStep(ctx, runID, step.Name)
					if readErr != nil {
						return nil, fmt.Errorf("read accepted step record: %w", readErr)
					}
					return record.Result, nil
				}
				return nil, fmt.Errorf("persist step result: %w", err)
			}
			stepLogger.Info("step completed",
				logging.String(logging.FieldEventType, "step_complete"),
				logging.Int("attempt", attempt),
				logging.Duration("step_duration", time.Since(started)),
			)
			return encoded, nil
		}

		if markErr := e.log.MarkStepFailed(ctx, runID, step.Name, stepErr.Error()); markErr != nil && !errors.Is(markErr, runs.ErrStepAlreadySucceeded) {
			stepLogger.Error("failed to persist step failure", logging.Error(markErr))
		}

		decision := e.policy.Decide(stepErr, attempt)
		if !decision.Retry {
			stepLogger.Error("step failed",
				logging.String(logging.FieldEventType, "step_failure"),
				logging.Int("attempt", attempt),
				logging.Error(stepErr),
			)
			return nil, fmt.Errorf("step %s: %w", step.Name, stepErr)
		}

		stepLogger.Warn("step failed, retrying",
			logging.String(logging.FieldEventType, "step_retry"),
			logging.Int("attempt", attempt),
			logging.Duration("retry_delay", decision.Delay),
			logging.Error(stepErr),
			logging.String(logging.FieldErrorHint, "transient failure, will re-attempt"),
		)
		if err := e.sleep(ctx, decision.Delay); err != nil {
			return nil, err
		}
	}
}

func marshalResult(value any) (json.RawMessage, error) {
	if value == nil {
		return json.RawMessage("null"), nil
	}
	if raw, ok := value.(json.RawMessage); ok {
		return raw, nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return encoded, nil
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
