package runs

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MemoryLog is an in-memory StepLog for workflows with no resumption
// requirement, such as the low-latency chat reply pipeline. It honors the
// same claim and acceptance semantics as the durable store.
type MemoryLog struct {
	mu      sync.Mutex
	records map[memoryKey]*StepRecord
}

type memoryKey struct {
	runID string
	step  string
}

// NewMemoryLog constructs an empty in-memory step log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{records: make(map[memoryKey]*StepRecord)}
}

// GetStep implements StepLog.
func (m *MemoryLog) GetStep(_ context.Context, runID, step string) (*StepRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[memoryKey{runID, step}]
	if !ok {
		return nil, nil
	}
	clone := *record
	return &clone, nil
}

// ClaimStep implements StepLog.
func (m *MemoryLog) ClaimStep(_ context.Context, runID, step string) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memoryKey{runID, step}
	now := time.Now().UTC()
	record, ok := m.records[key]
	if !ok {
		m.records[key] = &StepRecord{
			RunID:     runID,
			Step:      step,
			Status:    StepPending,
			Attempts:  1,
			ClaimedAt: now,
			UpdatedAt: now,
		}
		return 1, true, nil
	}
	switch record.Status {
	case StepSucceeded, StepPending:
		return 0, false, nil
	default:
		record.Status = StepPending
		record.Attempts++
		record.ClaimedAt = now
		record.UpdatedAt = now
		return record.Attempts, true, nil
	}
}

// MarkStepSucceeded implements StepLog.
func (m *MemoryLog) MarkStepSucceeded(_ context.Context, runID, step string, result json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[memoryKey{runID, step}]
	if !ok || record.Status == StepSucceeded {
		return ErrStepAlreadySucceeded
	}
	record.Status = StepSucceeded
	record.Result = append(json.RawMessage(nil), result...)
	record.LastError = ""
	record.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkStepFailed implements StepLog.
func (m *MemoryLog) MarkStepFailed(_ context.Context, runID, step, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[memoryKey{runID, step}]
	if !ok || record.Status == StepSucceeded {
		return ErrStepAlreadySucceeded
	}
	record.Status = StepFailed
	record.LastError = message
	record.UpdatedAt = time.Now().UTC()
	return nil
}
