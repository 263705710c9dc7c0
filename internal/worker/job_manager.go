package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/VariantEffect/mavedb-api-sub004/internal/db/repository"
	"github.com/VariantEffect/mavedb-api-sub004/internal/domain"
	"github.com/VariantEffect/mavedb-api-sub004/internal/queue"
)

// JobManager drives the job run state machine. Every transition goes through
// a compare-and-swap in the repository, so concurrent managers acting on the
// same run converge on exactly one winner.
type JobManager struct {
	jobs   *repository.JobRunRepo
	queue  queue.Queue
	logger *slog.Logger
}

// NewJobManager creates a JobManager.
func NewJobManager(jobs *repository.JobRunRepo, q queue.Queue, logger *slog.Logger) *JobManager {
	return &JobManager{jobs: jobs, queue: q, logger: logger}
}

// Load fetches a job run by id.
func (m *JobManager) Load(ctx context.Context, id string) (*domain.JobRun, error) {
	return m.jobs.GetByID(ctx, id)
}

// Enqueue claims a PENDING or RETRYING job run and publishes it to the work
// queue, optionally deferred. The claim is the QUEUED transition itself: if
// another coordinator already claimed the run, Enqueue reports false and
// publishes nothing, so concurrent coordination never double-enqueues.
func (m *JobManager) Enqueue(ctx context.Context, jr *domain.JobRun, delay time.Duration) (bool, error) {
	applied, err := m.jobs.MarkQueued(ctx, jr.ID)
	if err != nil {
		return false, err
	}
	if !applied {
		return false, nil
	}
	if err := m.queue.Enqueue(ctx, jr.JobFunction, jr.ID, delay); err != nil {
		return true, fmt.Errorf("publish job %s: %w", jr.ID, err)
	}
	m.logger.Info("job enqueued",
		"job_run_id", jr.ID,
		"job_function", jr.JobFunction,
		"correlation_id", jr.CorrelationID,
		"delay", delay.String(),
	)
	return true, nil
}

// Start claims a delivered job run for execution. Returns false when the run
// was already claimed or finished, which is how duplicate at-least-once
// deliveries are discarded.
func (m *JobManager) Start(ctx context.Context, jr *domain.JobRun) (bool, error) {
	return m.jobs.MarkRunning(ctx, jr.ID)
}

// Succeed records a successful handler result on the run.
func (m *JobManager) Succeed(ctx context.Context, jr *domain.JobRun, result domain.JobResult) error {
	applied, err := m.jobs.MarkSucceeded(ctx, jr.ID, result)
	if err != nil {
		return err
	}
	if !applied {
		return domain.ErrConflict("job %s cannot succeed from its current status", jr.ID)
	}
	return nil
}

// Fail records a handler failure. Retryable failures with budget remaining
// move the run to RETRYING and re-enqueue it after its retry delay; the
// retry bound is enforced by the RETRYING transition itself, so a run at its
// limit falls through to terminal FAILED.
func (m *JobManager) Fail(ctx context.Context, jr *domain.JobRun, execErr error,
	errDetail string) error {

	category, retryable := classify(execErr)
	logger := m.logger.With(
		"job_run_id", jr.ID,
		"job_function", jr.JobFunction,
		"correlation_id", jr.CorrelationID,
		"failure_category", string(category),
	)

	if retryable {
		applied, err := m.jobs.MarkRetrying(ctx, jr.ID, execErr.Error(), category)
		if err != nil {
			return err
		}
		if applied {
			delay := time.Duration(jr.RetryDelaySeconds) * time.Second
			logger.Warn("job failed, retry scheduled",
				"attempt", jr.RetryCount+1,
				"max_retries", jr.MaxRetries,
				"delay", delay.String(),
				"error", execErr,
			)
			queued, err := m.jobs.MarkQueued(ctx, jr.ID)
			if err != nil {
				return err
			}
			if queued {
				return m.queue.Enqueue(ctx, jr.JobFunction, jr.ID, delay)
			}
			return nil
		}
	}

	applied, err := m.jobs.MarkFailed(ctx, jr.ID, execErr.Error(), errDetail, category)
	if err != nil {
		return err
	}
	if !applied {
		return domain.ErrConflict("job %s cannot fail from its current status", jr.ID)
	}
	logger.Error("job failed", "error", execErr)
	return nil
}

// Cancel moves a non-terminal job run to CANCELLED.
func (m *JobManager) Cancel(ctx context.Context, id, reason string) (bool, error) {
	applied, err := m.jobs.MarkCancelled(ctx, id, reason)
	if err != nil {
		return false, err
	}
	if applied {
		m.logger.Info("job cancelled", "job_run_id", id, "reason", reason)
	}
	return applied, nil
}

// Progress records partial completion on a job run.
func (m *JobManager) Progress(ctx context.Context, id string, current, total int, message string) error {
	return m.jobs.UpdateProgress(ctx, id, current, total, message)
}
