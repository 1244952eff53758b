package runs

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// RunStatus represents the lifecycle of a workflow run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// StepStatus represents the lifecycle of a step record within a run.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
)

// Run is one execution instance of a workflow definition, triggered by a
// single event.
type Run struct {
	ID           string
	Workflow     string
	Status       RunStatus
	Payload      json.RawMessage
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsTerminal reports whether the run has reached a final status.
func (r *Run) IsTerminal() bool {
	return r.Status == RunCompleted || r.Status == RunFailed
}

// StepRecord is the memoized outcome of one named step of a run. Identity key
// is (RunID, Step).
type StepRecord struct {
	RunID     string
	Step      string
	Status    StepStatus
	Attempts  int
	Result    json.RawMessage
	LastError string
	ClaimedAt time.Time
	UpdatedAt time.Time
}

// StepLog is the memoization surface the step executor depends on. It is
// implemented durably by Store and ephemerally by MemoryLog.
type StepLog interface {
	// GetStep returns the record for (runID, step), or nil when absent.
	GetStep(ctx context.Context, runID, step string) (*StepRecord, error)

	// ClaimStep acquires the right to execute (runID, step) and returns the
	// 1-based attempt number. The claim fails (ok=false) when the record has
	// already succeeded or when another live executor holds a fresh claim.
	ClaimStep(ctx context.Context, runID, step string) (attempt int, ok bool, err error)

	// MarkStepSucceeded records the step result. A record that already
	// succeeded is immutable; ErrStepAlreadySucceeded is returned so the
	// caller can adopt the stored result instead.
	MarkStepSucceeded(ctx context.Context, runID, step string, result json.RawMessage) error

	// MarkStepFailed records the failure message for the current attempt.
	MarkStepFailed(ctx context.Context, runID, step, message string) error
}

// ParseRunStatus converts a string into a known RunStatus.
func ParseRunStatus(value string) (RunStatus, bool) {
	normalized := RunStatus(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case RunRunning, RunCompleted, RunFailed:
		return normalized, true
	default:
		return "", false
	}
}
