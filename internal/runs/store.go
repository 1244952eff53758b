package runs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"recap/internal/config"
)

// ErrStepAlreadySucceeded is returned when a write would overwrite a
// succeeded step record. Succeeded records are immutable.
var ErrStepAlreadySucceeded = errors.New("step record already succeeded")

// staleClaimAfter is how long a pending claim may go untouched before a
// crash-recovery executor is allowed to take it over.
const staleClaimAfter = 5 * time.Minute

// Store manages run and step-record persistence backed by SQLite.
type Store struct {
	db         *sql.DB
	path       string
	staleClaim time.Duration
}

// Open initializes or connects to the runs database and verifies the schema.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.RunsDatabasePath())
}

// OpenPath opens the runs database at an explicit file path.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath, staleClaim: staleClaimAfter}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CreateRun inserts a new run in running state and returns it.
func (s *Store) CreateRun(ctx context.Context, workflow string, payload json.RawMessage) (*Run, error) {
	if workflow == "" {
		return nil, errors.New("workflow kind is required")
	}
	id := uuid.NewString()
	timestamp := formatTimestamp(time.Now())

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO workflow_runs (id, workflow, status, payload_json, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		id,
		workflow,
		RunRunning,
		nullableString(string(payload)),
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return s.GetRun(ctx, id)
}

// GetRun fetches a run by identifier, or nil when absent.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM workflow_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs filtered by status set (or all runs when no status is
// provided), newest first.
func (s *Store) ListRuns(ctx context.Context, statuses ...RunStatus) ([]*Run, error) {
	baseQuery := `SELECT ` + runColumns + ` FROM workflow_runs`
	orderClause := ` ORDER BY created_at DESC`

	var (
		rows *sql.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var result []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, run)
	}
	return result, rows.Err()
}

// CompleteRun transitions a run from running to completed. Returns false when
// the run was already terminal; terminal status is set exactly once.
func (s *Store) CompleteRun(ctx context.Context, id string) (bool, error) {
	return s.finalizeRun(ctx, id, RunCompleted, "")
}

// FailRun transitions a run from running to failed with a reason. Returns
// false when the run was already terminal.
func (s *Store) FailRun(ctx context.Context, id, message string) (bool, error) {
	return s.finalizeRun(ctx, id, RunFailed, message)
}

func (s *Store) finalizeRun(ctx context.Context, id string, status RunStatus, message string) (bool, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE workflow_runs SET status = ?, error_message = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		status,
		nullableString(message),
		formatTimestamp(time.Now()),
		id,
		RunRunning,
	)
	if err != nil {
		return false, fmt.Errorf("finalize run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// GetStep implements StepLog.
func (s *Store) GetStep(ctx context.Context, runID, step string) (*StepRecord, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+stepColumns+` FROM step_records WHERE run_id = ? AND step = ?`,
		runID, step,
	)
	record, err := scanStep(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get step record: %w", err)
	}
	return record, nil
}

// ClaimStep implements StepLog with a compare-and-set write. The insert takes
// the claim for an absent record; the conflict clause re-claims a failed
// record or a pending record whose claim has gone stale. A succeeded record
// or a fresh pending claim denies the attempt, so two live executors cannot
// both run the same step body.
func (s *Store) ClaimStep(ctx context.Context, runID, step string) (int, bool, error) {
	now := time.Now()
	timestamp := formatTimestamp(now)
	staleCutoff := formatTimestamp(now.Add(-s.staleClaim))

	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO step_records (run_id, step, status, attempts, claimed_at, updated_at)
         VALUES (?, ?, ?, 1, ?, ?)
         ON CONFLICT (run_id, step) DO UPDATE SET
             status = excluded.status,
             attempts = step_records.attempts + 1,
             claimed_at = excluded.claimed_at,
             updated_at = excluded.updated_at
         WHERE step_records.status = ?
            OR (step_records.status = ? AND step_records.claimed_at < ?)`,
		runID,
		step,
		StepPending,
		timestamp,
		timestamp,
		StepFailed,
		StepPending,
		staleCutoff,
	)
	if err != nil {
		return 0, false, fmt.Errorf("claim step record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return 0, false, nil
	}

	record, err := s.GetStep(ctx, runID, step)
	if err != nil {
		return 0, false, err
	}
	if record == nil {
		return 0, false, errors.New("claimed step record missing")
	}
	return record.Attempts, true, nil
}

// MarkStepSucceeded implements StepLog. The status guard makes acceptance
// at-most-once: a racing executor that lost gets ErrStepAlreadySucceeded.
func (s *Store) MarkStepSucceeded(ctx context.Context, runID, step string, result json.RawMessage) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE step_records
         SET status = ?, result_json = ?, last_error = NULL, claimed_at = NULL, updated_at = ?
         WHERE run_id = ? AND step = ? AND status != ?`,
		StepSucceeded,
		nullableString(string(result)),
		formatTimestamp(time.Now()),
		runID,
		step,
		StepSucceeded,
	)
	if err != nil {
		return fmt.Errorf("mark step succeeded: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrStepAlreadySucceeded
	}
	return nil
}

// MarkStepFailed implements StepLog.
func (s *Store) MarkStepFailed(ctx context.Context, runID, step, message string) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE step_records
         SET status = ?, last_error = ?, claimed_at = NULL, updated_at = ?
         WHERE run_id = ? AND step = ? AND status != ?`,
		StepFailed,
		nullableString(message),
		formatTimestamp(time.Now()),
		runID,
		step,
		StepSucceeded,
	)
	if err != nil {
		return fmt.Errorf("mark step failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrStepAlreadySucceeded
	}
	return nil
}

// ReleasePendingClaims converts a run's pending claims into failed records so
// the next executor can re-claim them immediately instead of waiting out the
// stale-claim window. Only safe when no executor for the run is alive; the
// single-instance daemon lock guarantees that at startup.
func (s *Store) ReleasePendingClaims(ctx context.Context, runID string) (int, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE step_records
         SET status = ?, last_error = ?, claimed_at = NULL, updated_at = ?
         WHERE run_id = ? AND status = ?`,
		StepFailed,
		"executor did not finish before restart",
		formatTimestamp(time.Now()),
		runID,
		StepPending,
	)
	if err != nil {
		return 0, fmt.Errorf("release pending claims: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(affected), nil
}

// StepsForRun returns every step record for a run in claim order.
func (s *Store) StepsForRun(ctx context.Context, runID string) ([]*StepRecord, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+stepColumns+` FROM step_records WHERE run_id = ? ORDER BY updated_at, step`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list step records: %w", err)
	}
	defer rows.Close()

	var records []*StepRecord
	for rows.Next() {
		record, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Stats returns a count of runs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[RunStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM workflow_runs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("run stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[RunStatus]int)
	for rows.Next() {
		var status RunStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

const runColumns = "id, workflow, status, payload_json, error_message, created_at, updated_at"

const stepColumns = "run_id, step, status, attempts, result_json, last_error, claimed_at, updated_at"

func scanRun(scanner interface{ Scan(dest ...any) error }) (*Run, error) {
	var (
		id           string
		workflow     string
		statusStr    string
		payload      sql.NullString
		errorMessage sql.NullString
		createdRaw   string
		updatedRaw   string
	)
	if err := scanner.Scan(&id, &workflow, &statusStr, &payload, &errorMessage, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}

	run := &Run{
		ID:           id,
		Workflow:     workflow,
		Status:       RunStatus(statusStr),
		ErrorMessage: errorMessage.String,
	}
	if payload.Valid {
		run.Payload = json.RawMessage(payload.String)
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		run.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		run.UpdatedAt = updated
	}
	return run, nil
}

func scanStep(scanner interface{ Scan(dest ...any) error }) (*StepRecord, error) {
	var (
		runID      string
		step       string
		statusStr  string
		attempts   int
		result     sql.NullString
		lastError  sql.NullString
		claimedRaw sql.NullString
		updatedRaw string
	)
	if err := scanner.Scan(&runID, &step, &statusStr, &attempts, &result, &lastError, &claimedRaw, &updatedRaw); err != nil {
		return nil, err
	}

	record := &StepRecord{
		RunID:     runID,
		Step:      step,
		Status:    StepStatus(statusStr),
		Attempts:  attempts,
		LastError: lastError.String,
	}
	if result.Valid {
		record.Result = json.RawMessage(result.String)
	}
	if claimedRaw.Valid {
		if claimed, err := parseTimeString(claimedRaw.String); err == nil {
			record.ClaimedAt = claimed
		}
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		record.UpdatedAt = updated
	}
	return record, nil
}

// timestampLayout is RFC 3339 with fixed-width nanoseconds. RFC3339Nano trims
// trailing zeros, which breaks lexicographic comparison of stored timestamps
// at sub-second precision; a fixed width keeps string order chronological.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
