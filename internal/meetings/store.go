package meetings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"recap/internal/config"
	"recap/internal/services"
)

// Store provides the narrow read/write surface the workflows need over the
// meetings database. It deliberately exposes nothing else; the schema is
// owned by the meetings application.
type Store struct {
	db   *sql.DB
	path string
}

// Open connects to the meetings database and ensures the tables exist.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.MeetingsDatabasePath())
}

// OpenPath opens the meetings database at an explicit file path.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.ensureTables(context.Background()); err != nil {
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

func (s *Store) ensureTables(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS meetings (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            agent_id TEXT NOT NULL,
            status TEXT NOT NULL,
            summary TEXT,
            created_at TEXT NOT NULL,
            updated_at TEXT NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS agents (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            instructions TEXT NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS users (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL
        )`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure meetings tables: %w", err)
		}
	}
	return nil
}

// GetMeeting fetches a meeting by identifier. A missing row is a referential
// integrity failure for the pipelines, so it is tagged not-found (fatal).
func (s *Store) GetMeeting(ctx context.Context, id string) (*Meeting, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, name, agent_id, status, summary, created_at, updated_at FROM meetings WHERE id = ?`,
		id,
	)
	var (
		meeting    Meeting
		summary    sql.NullString
		createdRaw string
		updatedRaw string
	)
	err := row.Scan(&meeting.ID, &meeting.Name, &meeting.AgentID, &meeting.Status, &summary, &createdRaw, &updatedRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "meetings", "get meeting", id, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get meeting: %w", err)
	}
	meeting.Summary = summary.String
	meeting.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdRaw)
	meeting.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedRaw)
	return &meeting, nil
}

// GetAgent fetches an agent by identifier, tagging a missing row not-found.
func (s *Store) GetAgent(ctx context.Context, id string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, instructions FROM agents WHERE id = ?`, id)
	var agent Agent
	err := row.Scan(&agent.ID, &agent.Name, &agent.Instructions)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "meetings", "get agent", id, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return &agent, nil
}

// UsersByIDs returns the user rows whose identifiers appear in ids.
// Unmatched identifiers are simply absent from the result.
func (s *Store) UsersByIDs(ctx context.Context, ids []string) ([]User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := makePlaceholders(len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM users WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("users by ids: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.Name); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// AgentsByIDs returns the agent rows whose identifiers appear in ids.
func (s *Store) AgentsByIDs(ctx context.Context, ids []string) ([]Agent, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := makePlaceholders(len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, instructions FROM agents WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("agents by ids: %w", err)
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		var agent Agent
		if err := rows.Scan(&agent.ID, &agent.Name, &agent.Instructions); err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

// SetMeetingSummary writes the generated summary and marks the meeting
// completed in a single keyed update. A missing meeting is not-found (fatal,
// no retry); SQLite serializes concurrent writes to the same row.
func (s *Store) SetMeetingSummary(ctx context.Context, id, summary string) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE meetings SET summary = ?, status = ?, updated_at = ? WHERE id = ?`,
		summary,
		StatusCompleted,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("update meeting summary: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return services.Wrap(services.ErrNotFound, "meetings", "update summary", id, nil)
	}
	return nil
}

// SeedMeeting inserts or replaces a meeting row. Used by tests and the
// operator CLI; the row is normally owned by the meetings application.
func (s *Store) SeedMeeting(ctx context.Context, meeting Meeting) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(
		ctx,
		`INSERT OR REPLACE INTO meetings (id, name, agent_id, status, summary, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		meeting.ID, meeting.Name, meeting.AgentID, defaultStatus(meeting.Status), nullableString(meeting.Summary), now, now,
	)
	if err != nil {
		return fmt.Errorf("seed meeting: %w", err)
	}
	return nil
}

// SeedAgent inserts or replaces an agent row.
func (s *Store) SeedAgent(ctx context.Context, agent Agent) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT OR REPLACE INTO agents (id, name, instructions) VALUES (?, ?, ?)`,
		agent.ID, agent.Name, agent.Instructions,
	)
	if err != nil {
		return fmt.Errorf("seed agent: %w", err)
	}
	return nil
}

// SeedUser inserts or replaces a user row.
func (s *Store) SeedUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO users (id, name) VALUES (?, ?)`, user.ID, user.Name)
	if err != nil {
		return fmt.Errorf("seed user: %w", err)
	}
	return nil
}

func defaultStatus(status string) string {
	if status == "" {
		return StatusProcessing
	}
	return status
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
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
