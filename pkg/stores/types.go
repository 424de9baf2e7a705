package stores

import (
	"context"
	"time"
)

// RunStatus represents the status of an upgrade run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// EventLevel represents the severity level of a step event.
type EventLevel string

const (
	EventLevelInfo  EventLevel = "info"
	EventLevelError EventLevel = "error"
)

// Run is one recorded upgrade run.
type Run struct {
	ID          string     `json:"id"`
	Template    string     `json:"template"`
	FinalName   string     `json:"final_name"`
	Family      string     `json:"family"`
	FromVersion string     `json:"from_version"`
	ToVersion   string     `json:"to_version"`
	Cloned      bool       `json:"cloned"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Event is one recorded procedure step outcome.
type Event struct {
	ID        int64      `json:"id"`
	RunID     string     `json:"run_id"`
	Step      string     `json:"step"`
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`
	CreatedAt time.Time  `json:"created_at"`
}

// Store persists upgrade run history.
type Store interface {
	// Init opens the database connection.
	Init(ctx context.Context) error

	// Migrate applies pending schema migrations.
	Migrate(ctx context.Context) error

	// Close closes the database connection.
	Close() error

	// CreateRun records the start of an upgrade run.
	CreateRun(ctx context.Context, run *Run) error

	// FinishRun records the terminal status of a run. An empty message
	// clears the error column.
	FinishRun(ctx context.Context, runID string, status RunStatus, message string) error

	// GetRun retrieves a run by ID.
	GetRun(ctx context.Context, runID string) (*Run, error)

	// ListRuns lists the most recent runs, newest first. A non-empty
	// template filters by source template name.
	ListRuns(ctx context.Context, template string, limit int) ([]Run, error)

	// AppendEvent appends a step event to a run.
	AppendEvent(ctx context.Context, event *Event) error

	// ListEvents lists the events of a run in insertion order.
	ListEvents(ctx context.Context, runID string) ([]Event, error)
}
