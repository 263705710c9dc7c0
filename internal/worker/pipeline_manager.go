package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/VariantEffect/mavedb-api-sub004/internal/db/repository"
	"github.com/VariantEffect/mavedb-api-sub004/internal/domain"
)

// PipelineManager advances pipeline graphs: starting pipelines, propagating
// upstream failures, enqueueing runs whose dependencies are satisfied, and
// rolling the pipeline up to a terminal status once every run is done.
//
// Coordinate is safe to call from any number of workers and sweepers at
// once; every side effect it takes is gated on a status compare-and-swap.
type PipelineManager struct {
	pipelines *repository.PipelineRepo
	jobs      *repository.JobRunRepo
	jm        *JobManager
	logger    *slog.Logger
}

// NewPipelineManager creates a PipelineManager.
func NewPipelineManager(pipelines *repository.PipelineRepo, jobs *repository.JobRunRepo,
	jm *JobManager, logger *slog.Logger) *PipelineManager {
	return &PipelineManager{pipelines: pipelines, jobs: jobs, jm: jm, logger: logger}
}

// Start moves a CREATED pipeline to RUNNING. Reports false when the pipeline
// already left CREATED.
func (m *PipelineManager) Start(ctx context.Context, pipelineID string) (bool, error) {
	applied, err := m.pipelines.Start(ctx, pipelineID)
	if err != nil {
		return false, err
	}
	if applied {
		m.logger.Info("pipeline started", "pipeline_id", pipelineID)
	}
	return applied, nil
}

// Coordinate runs one pass of graph advancement over the pipeline:
//
//  1. cancel every run waiting on a FAILED or CANCELLED upstream, cascading
//     through the graph until no more runs are affected;
//  2. enqueue every PENDING or RETRYING run whose upstreams have all
//     SUCCEEDED, highest priority first, deferring retries by the run's
//     retry delay;
//  3. once every run is terminal, finish the pipeline: FAILED if any run
//     failed, else CANCELLED if any run was cancelled, else SUCCEEDED.
func (m *PipelineManager) Coordinate(ctx context.Context, pipelineID string) error {
	pipeline, err := m.pipelines.GetByID(ctx, pipelineID)
	if err != nil {
		return fmt.Errorf("load pipeline %s: %w", pipelineID, err)
	}
	if pipeline.Status.IsTerminal() {
		return nil
	}

	runs, err := m.jobs.ListByPipeline(ctx, pipelineID)
	if err != nil {
		return fmt.Errorf("list job runs for pipeline %s: %w", pipelineID, err)
	}
	deps, err := m.jobs.ListDependenciesByPipeline(ctx, pipelineID)
	if err != nil {
		return fmt.Errorf("list dependencies for pipeline %s: %w", pipelineID, err)
	}

	statusByID := make(map[string]domain.JobStatus, len(runs))
	for i := range runs {
		statusByID[runs[i].ID] = runs[i].Status
	}
	upstreams := make(map[string][]string, len(runs))
	for _, d := range deps {
		upstreams[d.JobRunID] = append(upstreams[d.JobRunID], d.DependsOnJobID)
	}

	if err := m.cancelBlockedRuns(ctx, runs, upstreams, statusByID); err != nil {
		return err
	}
	if err := m.enqueueReadyRuns(ctx, runs, upstreams, statusByID); err != nil {
		return err
	}
	return m.finishIfDone(ctx, pipeline, statusByID)
}

// cancelBlockedRuns cancels every non-terminal run with a FAILED or
// CANCELLED upstream, iterating to a fixpoint so cancellations cascade down
// the graph. statusByID is updated in place with the transitions that
// applied.
func (m *PipelineManager) cancelBlockedRuns(ctx context.Context, runs []domain.JobRun,
	upstreams map[string][]string, statusByID map[string]domain.JobStatus) error {

	for changed := true; changed; {
		changed = false
		for i := range runs {
			jr := &runs[i]
			status := statusByID[jr.ID]
			if status.IsTerminal() {
				continue
			}
			blocker := ""
			for _, upID := range upstreams[jr.ID] {
				if up := statusByID[upID]; up == domain.JobStatusFailed || up == domain.JobStatusCancelled {
					blocker = fmt.Sprintf("upstream job %s is %s", upID, up)
					break
				}
			}
			if blocker == "" {
				continue
			}
			applied, err := m.jm.Cancel(ctx, jr.ID, blocker)
			if err != nil {
				return err
			}
			if applied {
				statusByID[jr.ID] = domain.JobStatusCancelled
				changed = true
			}
		}
	}
	return nil
}

// enqueueReadyRuns claims and publishes every waiting run whose upstreams
// have all SUCCEEDED. runs arrive ordered by priority desc then creation
// time, and the queue is fed in that order.
func (m *PipelineManager) enqueueReadyRuns(ctx context.Context, runs []domain.JobRun,
	upstreams map[string][]string, statusByID map[string]domain.JobStatus) error {

	for i := range runs {
		jr := &runs[i]
		status := statusByID[jr.ID]
		if status != domain.JobStatusPending && status != domain.JobStatusRetrying {
			continue
		}
		ready := true
		for _, upID := range upstreams[jr.ID] {
			if statusByID[upID] != domain.JobStatusSucceeded {
				ready = false
				break
			}
		}
		if !ready {
			continue
		}
		var delay time.Duration
		if status == domain.JobStatusRetrying {
			delay = time.Duration(jr.RetryDelaySeconds) * time.Second
		}
		if until := time.Until(jr.ScheduledAt); until > delay {
			delay = until
		}
		applied, err := m.jm.Enqueue(ctx, jr, delay)
		if err != nil {
			return err
		}
		if applied {
			statusByID[jr.ID] = domain.JobStatusQueued
		}
	}
	return nil
}

// finishIfDone rolls the pipeline up to a terminal status once every job run
// is terminal. Failure outranks cancellation outranks success.
func (m *PipelineManager) finishIfDone(ctx context.Context, pipeline *domain.Pipeline,
	statusByID map[string]domain.JobStatus) error {

	final := domain.PipelineStatusSucceeded
	for _, status := range statusByID {
		if !status.IsTerminal() {
			return nil
		}
		switch status {
		case domain.JobStatusFailed:
			final = domain.PipelineStatusFailed
		case domain.JobStatusCancelled:
			if final != domain.PipelineStatusFailed {
				final = domain.PipelineStatusCancelled
			}
		}
	}

	applied, err := m.pipelines.Finish(ctx, pipeline.ID, final)
	if err != nil {
		return err
	}
	if applied {
		m.logger.Info("pipeline finished",
			"pipeline_id", pipeline.ID,
			"pipeline", pipeline.Name,
			"status", string(final),
		)
	}
	return nil
}

// Cancel aborts a pipeline: every non-terminal run is cancelled and the
// pipeline itself is finished as CANCELLED.
func (m *PipelineManager) Cancel(ctx context.Context, pipelineID, reason string) error {
	runs, err := m.jobs.ListByPipeline(ctx, pipelineID)
	if err != nil {
		return err
	}
	for i := range runs {
		if runs[i].Status.IsTerminal() {
			continue
		}
		if _, err := m.jm.Cancel(ctx, runs[i].ID, reason); err != nil {
			return err
		}
	}
	if _, err := m.pipelines.Finish(ctx, pipelineID, domain.PipelineStatusCancelled); err != nil {
		return err
	}
	m.logger.Info("pipeline cancelled", "pipeline_id", pipelineID, "reason", reason)
	return nil
}

// Fail force-finishes a pipeline as FAILED. Used when coordination itself
// breaks and the graph can no longer be advanced safely.
func (m *PipelineManager) Fail(ctx context.Context, pipelineID string) error {
	_, err := m.pipelines.Finish(ctx, pipelineID, domain.PipelineStatusFailed)
	return err
}
