package domain

import "time"

// PipelineStatus represents the lifecycle state of a pipeline.
type PipelineStatus string

// Pipeline lifecycle statuses. Transitions are monotonic:
// CREATED → RUNNING → {SUCCEEDED | FAILED | CANCELLED}.
const (
	PipelineStatusCreated   PipelineStatus = "CREATED"
	PipelineStatusRunning   PipelineStatus = "RUNNING"
	PipelineStatusSucceeded PipelineStatus = "SUCCEEDED"
	PipelineStatusFailed    PipelineStatus = "FAILED"
	PipelineStatusCancelled PipelineStatus = "CANCELLED"
)

// IsTerminal reports whether the status is a terminal pipeline state.
func (s PipelineStatus) IsTerminal() bool {
	return s == PipelineStatusSucceeded || s == PipelineStatusFailed || s == PipelineStatusCancelled
}

// Pipeline is a named, persisted instance of a declared multi-job workflow.
// It exclusively owns its job runs and dependency edges for bookkeeping, but
// a job run's execution identity is independent of its pipeline.
type Pipeline struct {
	ID              string
	Name            string
	Description     string
	Status          PipelineStatus
	CorrelationID   string
	CreatedBy       string
	SoftwareVersion string
	Metadata        map[string]any
	CreatedAt       time.Time
	StartedAt       *time.Time
	FinishedAt      *time.Time
}

// DurationSeconds returns the pipeline wall-clock duration, or nil while the
// pipeline has not both started and finished.
func (p *Pipeline) DurationSeconds() *int64 {
	if p.StartedAt == nil || p.FinishedAt == nil {
		return nil
	}
	d := int64(p.FinishedAt.Sub(*p.StartedAt).Seconds())
	return &d
}
