package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/VariantEffect/mavedb-api-sub004/internal/db/repository"
	"github.com/VariantEffect/mavedb-api-sub004/internal/domain"
	"github.com/VariantEffect/mavedb-api-sub004/internal/queue"
)

// Executor processes one queue delivery end to end. The layers mirror the
// lifecycle guarantees:
//
//   - the job-record guarantee: a delivery that references no persisted run
//     gets a minimal record created before anything else happens, so every
//     execution leaves an audit trail;
//   - job management: claim the run, invoke the handler with panic recovery,
//     and record the outcome through the retry/failure machinery;
//   - pipeline management: after the handler finishes, successfully or not,
//     coordinate the owning pipeline so downstream runs advance. A broken
//     coordination pass records the failure on the invoking run and retries
//     once; only a second broken pass fails the whole pipeline.
type Executor struct {
	registry *Registry
	jobs     *repository.JobRunRepo
	jm       *JobManager
	pm       pipelineCoordinator
	logger   *slog.Logger
}

// pipelineCoordinator is the slice of pipeline management the executor needs
// once a handler has finished.
type pipelineCoordinator interface {
	Coordinate(ctx context.Context, pipelineID string) error
	Fail(ctx context.Context, pipelineID string) error
}

// NewExecutor creates an Executor.
func NewExecutor(registry *Registry, jobs *repository.JobRunRepo, jm *JobManager,
	pm pipelineCoordinator, logger *slog.Logger) *Executor {
	return &Executor{registry: registry, jobs: jobs, jm: jm, pm: pm, logger: logger}
}

// Execute handles one dequeued message. Handler failures are absorbed into
// the job run record; infrastructure errors (store failures, escalation
// failures) are returned so the transport can redeliver the message.
func (e *Executor) Execute(ctx context.Context, msg queue.Message) error {
	jr, err := e.guaranteeJobRecord(ctx, msg)
	if err != nil {
		return err
	}

	logger := e.logger.With(
		"job_run_id", jr.ID,
		"job_function", jr.JobFunction,
		"correlation_id", jr.CorrelationID,
	)
	if jr.PipelineID != nil {
		logger = logger.With("pipeline_id", *jr.PipelineID)
	}

	execErr := e.runJob(ctx, jr, logger)
	if execErr != nil {
		logger.Error("job execution hit an infrastructure error", "error", execErr)
	}

	// Coordination happens even when the handler failed: the failure has to
	// propagate to dependents and into the pipeline rollup.
	if jr.PipelineID != nil {
		if coordErr := e.coordinatePipeline(ctx, jr, logger); coordErr != nil && execErr == nil {
			execErr = coordErr
		}
	}
	return execErr
}

// coordinatePipeline advances the run's pipeline. A failed coordination pass
// is recorded on the invoking run and retried once; the pipeline is only
// force-failed when the retry breaks too, since a terminal pipeline can no
// longer be recovered by the sweeper.
func (e *Executor) coordinatePipeline(ctx context.Context, jr *domain.JobRun, logger *slog.Logger) error {
	coordErr := e.pm.Coordinate(ctx, *jr.PipelineID)
	if coordErr == nil {
		return nil
	}
	logger.Error("pipeline coordination failed", "error", coordErr)

	// Record the breakage on the invoking run. No-ops when the run already
	// finished terminally.
	msg := fmt.Sprintf("pipeline coordination failed: %v", coordErr)
	if _, err := e.jobs.MarkFailed(ctx, jr.ID, msg, "", domain.FailureSystemError); err != nil {
		logger.Error("could not record coordination failure on job", "error", err)
	}

	retryErr := e.pm.Coordinate(ctx, *jr.PipelineID)
	if retryErr == nil {
		logger.Info("pipeline coordination recovered on retry")
		return nil
	}
	logger.Error("pipeline coordination retry failed, failing pipeline", "error", retryErr)
	if failErr := e.pm.Fail(ctx, *jr.PipelineID); failErr != nil {
		logger.Error("pipeline escalation failed", "error", failErr)
		return failErr
	}
	return nil
}

// guaranteeJobRecord resolves the message's job run, creating a minimal
// record when none exists so direct enqueues still produce an auditable row.
func (e *Executor) guaranteeJobRecord(ctx context.Context, msg queue.Message) (*domain.JobRun, error) {
	jr, err := e.jobs.GetByID(ctx, msg.JobRunID)
	if err == nil {
		return jr, nil
	}
	var nf *domain.NotFoundError
	if !errors.As(err, &nf) {
		return nil, err
	}

	e.logger.Warn("no job record for delivery, creating one",
		"job_run_id", msg.JobRunID,
		"job_function", msg.Function,
	)
	return e.jobs.Create(ctx, &domain.JobRun{
		ID:            msg.JobRunID,
		JobType:       "ad_hoc",
		JobFunction:   msg.Function,
		Params:        map[string]any{},
		Status:        domain.JobStatusQueued,
		MaxRetries:    0,
		CorrelationID: domain.NewCorrelationID(),
	})
}

// runJob claims the run, executes its handler, and records the outcome.
func (e *Executor) runJob(ctx context.Context, jr *domain.JobRun, logger *slog.Logger) error {
	handler, err := e.registry.Resolve(jr.JobFunction)
	if err != nil {
		// Unknown functions can never succeed on retry.
		return e.jm.Fail(ctx, jr, NonRetryable(err, domain.FailureValidationError), "")
	}

	applied, err := e.jm.Start(ctx, jr)
	if err != nil {
		return err
	}
	if !applied {
		logger.Info("job not claimable, skipping duplicate delivery")
		return nil
	}
	logger.Info("job started", "attempt", jr.RetryCount+1)

	inv := &Invocation{
		Job:    jr,
		Logger: logger,
		progress: func(ctx context.Context, current, total int, message string) error {
			return e.jm.Progress(ctx, jr.ID, current, total, message)
		},
	}

	result, stack, handlerErr := invoke(ctx, handler, inv)
	if handlerErr != nil {
		return e.jm.Fail(ctx, jr, handlerErr, stack)
	}

	if err := e.jm.Succeed(ctx, jr, result); err != nil {
		return err
	}
	logger.Info("job succeeded")
	return nil
}

// invoke runs a handler with panic recovery. A panic is reported as a
// system error carrying the stack text.
func invoke(ctx context.Context, handler HandlerFunc, inv *Invocation) (result domain.JobResult, stack string, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack = string(debug.Stack())
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	result, err = handler(ctx, inv)
	return result, "", err
}
