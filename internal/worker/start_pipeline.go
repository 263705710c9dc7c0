package worker

import (
	"context"

	"github.com/VariantEffect/mavedb-api-sub004/internal/domain"
)

// StartPipelineHandler is the bootstrap job at the entry of every pipeline
// graph. It depends on nothing, so it is always the first run the queue
// delivers, and its only work is moving the pipeline from CREATED to
// RUNNING; the coordination pass that follows every job then enqueues the
// first layer of ready domain jobs.
func StartPipelineHandler(pm *PipelineManager) HandlerFunc {
	return func(ctx context.Context, inv *Invocation) (domain.JobResult, error) {
		if inv.Job.PipelineID == nil {
			return domain.JobResult{}, NonRetryable(
				domain.ErrValidation("start_pipeline job %s has no pipeline", inv.Job.ID),
				domain.FailureValidationError)
		}
		pipelineID := *inv.Job.PipelineID
		applied, err := pm.Start(ctx, pipelineID)
		if err != nil {
			return domain.JobResult{}, err
		}
		if !applied {
			inv.Logger.Info("pipeline already started")
		}
		return domain.OKResult(map[string]any{"pipeline_id": pipelineID}), nil
	}
}
