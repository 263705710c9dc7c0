package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/VariantEffect/mavedb-api-sub004/internal/domain"
	"github.com/VariantEffect/mavedb-api-sub004/internal/db/repository"
)

// Bootstrap jobs sort ahead of every domain job so coordination order stays
// stable when a whole graph is ready at once.
const bootstrapPriority = 100

// PipelineFactory expands a registered pipeline definition into a persisted
// graph of job runs and dependency edges, plus the dependency-free bootstrap
// job that is the pipeline's unconditional entry point.
type PipelineFactory struct {
	registry        *Registry
	pipelines       *repository.PipelineRepo
	softwareVersion string
	logger          *slog.Logger
}

// NewPipelineFactory creates a PipelineFactory.
func NewPipelineFactory(registry *Registry, pipelines *repository.PipelineRepo,
	softwareVersion string, logger *slog.Logger) *PipelineFactory {
	return &PipelineFactory{
		registry:        registry,
		pipelines:       pipelines,
		softwareVersion: softwareVersion,
		logger:          logger,
	}
}

// CreatePipeline resolves name against the registry, materializes every job
// template with the caller's parameter bag, and persists the pipeline, its
// bootstrap job run, all job runs, and all dependency edges in one atomic
// transaction. It returns the pipeline and the bootstrap job run; enqueuing
// the bootstrap job is the caller's responsibility — creation never touches
// the work queue.
func (f *PipelineFactory) CreatePipeline(ctx context.Context, name, createdBy string,
	pipelineParams map[string]any) (*domain.Pipeline, *domain.JobRun, error) {

	def, err := f.registry.Lookup(name)
	if err != nil {
		return nil, nil, err
	}

	if pipelineParams == nil {
		pipelineParams = map[string]any{}
	}

	correlationID := domain.NewCorrelationID()
	if supplied, ok := pipelineParams["correlation_id"].(string); ok && supplied != "" {
		correlationID = supplied
	}

	pipeline := &domain.Pipeline{
		ID:              domain.NewID(),
		Name:            name,
		Description:     def.Description,
		Status:          domain.PipelineStatusCreated,
		CorrelationID:   correlationID,
		CreatedBy:       createdBy,
		SoftwareVersion: f.softwareVersion,
	}

	bootstrap := &domain.JobRun{
		ID:              domain.NewID(),
		JobType:         domain.JobTypePipelineManagement,
		JobFunction:     domain.JobFunctionStartPipeline,
		Params:          map[string]any{},
		Status:          domain.JobStatusPending,
		PipelineID:      &pipeline.ID,
		Priority:        bootstrapPriority,
		MaxRetries:      3,
		CorrelationID:   correlationID,
		SoftwareVersion: f.softwareVersion,
	}

	jobFactory := NewJobFactory(f.softwareVersion)
	runs := []*domain.JobRun{bootstrap}
	runByKey := make(map[string]*domain.JobRun, len(def.Jobs))
	for _, tmpl := range def.Jobs {
		jr, err := jobFactory.NewJobRun(tmpl, correlationID, pipelineParams, &pipeline.ID)
		if err != nil {
			return nil, nil, err
		}
		runs = append(runs, jr)
		runByKey[tmpl.Key] = jr
	}

	var deps []domain.JobDependency
	for _, tmpl := range def.Jobs {
		for _, dep := range tmpl.Dependencies {
			deps = append(deps, domain.JobDependency{
				JobRunID:       runByKey[tmpl.Key].ID,
				DependsOnJobID: runByKey[dep.Key].ID,
				DependencyType: dep.Type,
			})
		}
	}

	if err := f.pipelines.CreateGraph(ctx, pipeline, runs, deps); err != nil {
		return nil, nil, fmt.Errorf("persist pipeline graph: %w", err)
	}

	f.logger.Info("pipeline created",
		"pipeline_id", pipeline.ID,
		"pipeline", name,
		"correlation_id", correlationID,
		"job_runs", len(runs),
		"dependencies", len(deps),
	)

	return pipeline, bootstrap, nil
}
