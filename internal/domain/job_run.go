package domain

import "time"

// JobStatus represents the lifecycle state of a job run.
type JobStatus string

// Job run lifecycle statuses. PENDING → QUEUED → RUNNING →
// {SUCCEEDED | FAILED | CANCELLED}, with RETRYING looping back to QUEUED
// while retry_count < max_retries.
const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusQueued    JobStatus = "QUEUED"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusRetrying  JobStatus = "RETRYING"
	JobStatusSucceeded JobStatus = "SUCCEEDED"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusCancelled JobStatus = "CANCELLED"
)

// IsTerminal reports whether the status is a terminal job state.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed || s == JobStatusCancelled
}

// DependencyType classifies how an upstream job gates a dependent one.
type DependencyType string

// SUCCESS_REQUIRED is the only defined dependency type: the dependent may run
// only once the upstream job run has SUCCEEDED. Other types are rejected at
// registry construction.
const DependencySuccessRequired DependencyType = "SUCCESS_REQUIRED"

// FailureCategory classifies job failures for reporting and triage.
type FailureCategory string

// Failure categories recorded on failed job runs.
const (
	FailureSystemError        FailureCategory = "system_error"
	FailureTimeout            FailureCategory = "timeout"
	FailureValidationError    FailureCategory = "validation_error"
	FailureDataError          FailureCategory = "data_error"
	FailureNetworkError       FailureCategory = "network_error"
	FailureServiceUnavailable FailureCategory = "service_unavailable"
	FailureDependency         FailureCategory = "dependency_failure"
	FailureUnknown            FailureCategory = "unknown"
)

// Job types used by this subsystem. Domain jobs declare their own types in
// the definition registry.
const (
	JobTypePipelineManagement = "pipeline_management"
	JobFunctionStartPipeline  = "start_pipeline"
)

// JobRun is one persisted, individually retryable unit of work, optionally
// belonging to a pipeline.
type JobRun struct {
	ID                string
	JobType           string
	JobFunction       string
	Params            map[string]any
	Status            JobStatus
	PipelineID        *string
	Priority          int
	MaxRetries        int
	RetryCount        int
	RetryDelaySeconds int
	ScheduledAt       time.Time
	StartedAt         *time.Time
	FinishedAt        *time.Time
	CreatedAt         time.Time
	ErrorMessage      *string
	ErrorDetail       *string
	FailureCategory   *FailureCategory
	ProgressCurrent   *int
	ProgressTotal     *int
	ProgressMessage   *string
	CorrelationID     string
	Metadata          map[string]any
	SoftwareVersion   string
}

// JobDependency is a directed edge recording that one job run must reach a
// given terminal condition before another may start. Created atomically with
// the runs it connects; read-only thereafter.
type JobDependency struct {
	JobRunID       string
	DependsOnJobID string
	DependencyType DependencyType
	CreatedAt      time.Time
}

// JobResult is the outcome a worker reports for one job invocation.
type JobResult struct {
	Status           string         `json:"status"` // "ok" or "failed"
	Data             map[string]any `json:"data"`
	ExceptionDetails map[string]any `json:"exception_details,omitempty"`
}

// OKResult builds a successful job result.
func OKResult(data map[string]any) JobResult {
	if data == nil {
		data = map[string]any{}
	}
	return JobResult{Status: "ok", Data: data}
}

// FailedResult builds a failed job result carrying exception details.
func FailedResult(err error) JobResult {
	return JobResult{
		Status: "failed",
		Data:   map[string]any{},
		ExceptionDetails: map[string]any{
			"message": err.Error(),
		},
	}
}
