package meetings

import "time"

// MeetingStatus mirrors the status values owned by the meetings application.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
)

// Meeting is an externally owned record. The summarization workflow writes
// Summary and Status exactly once; everything else is read-only here.
type Meeting struct {
	ID        string
	Name      string
	AgentID   string
	Status    string
	Summary   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Agent holds the behavioral instructions and display name of an AI agent.
// Read-only to the pipelines.
type Agent struct {
	ID           string
	Name         string
	Instructions string
}

// User is a human participant. Read-only to the pipelines.
type User struct {
	ID   string
	Name string
}
