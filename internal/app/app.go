// Package app provides application-level wiring and dependency injection
// for the orchestration worker.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/VariantEffect/mavedb-api-sub004/internal/config"
	"github.com/VariantEffect/mavedb-api-sub004/internal/db/repository"
	"github.com/VariantEffect/mavedb-api-sub004/internal/domain"
	"github.com/VariantEffect/mavedb-api-sub004/internal/queue"
	"github.com/VariantEffect/mavedb-api-sub004/internal/scheduler"
	"github.com/VariantEffect/mavedb-api-sub004/internal/worker"
	"github.com/VariantEffect/mavedb-api-sub004/internal/workflow"
)

// Deps holds the external dependencies that main() must provide: database
// handles, config, and the logger.
type Deps struct {
	Cfg             *config.Config
	WriteDB         *sql.DB
	ReadDB          *sql.DB
	Logger          *slog.Logger
	SoftwareVersion string

	// Definitions defaults to the built-in pipeline catalog when nil.
	Definitions *workflow.Registry

	// Handlers lets callers register domain job handlers on top of the
	// built-in pipeline management ones. May be nil.
	Handlers map[string]worker.HandlerFunc
}

// App holds the fully-wired worker: repositories, managers, the handler
// registry, the pool, and the coordination sweeper.
type App struct {
	Pipelines *repository.PipelineRepo
	Jobs      *repository.JobRunRepo
	Status    *repository.StatusRepo

	Factory         *workflow.PipelineFactory
	Queue           queue.Queue
	JobManager      *worker.JobManager
	PipelineManager *worker.PipelineManager
	Registry        *worker.Registry
	Executor        *worker.Executor
	Pool            *worker.Pool
	Sweeper         *scheduler.Sweeper
}

// New wires repositories, managers, the handler registry, worker pool, and
// sweeper from the provided deps.
func New(deps Deps) (*App, error) {
	cfg := deps.Cfg
	logger := deps.Logger

	definitions := deps.Definitions
	if definitions == nil {
		var err error
		definitions, err = workflow.NewRegistry(workflow.DefaultDefinitions())
		if err != nil {
			return nil, fmt.Errorf("build definition registry: %w", err)
		}
	}

	// Mutations go through the single-writer pool; reporting reads through
	// the read pool.
	pipelineRepo := repository.NewPipelineRepo(deps.WriteDB)
	jobRepo := repository.NewJobRunRepo(deps.WriteDB)
	statusRepo := repository.NewStatusRepo(deps.ReadDB)

	q := queue.NewMemoryQueue(cfg.QueueSize)

	jm := worker.NewJobManager(jobRepo, q, logger.With("component", "job-manager"))
	pm := worker.NewPipelineManager(pipelineRepo, jobRepo, jm,
		logger.With("component", "pipeline-manager"))

	factory := workflow.NewPipelineFactory(definitions, pipelineRepo,
		deps.SoftwareVersion, logger.With("component", "pipeline-factory"))

	registry := worker.NewRegistry()
	registry.MustRegister(domain.JobFunctionStartPipeline, worker.StartPipelineHandler(pm))
	for name, h := range deps.Handlers {
		if err := registry.Register(name, h); err != nil {
			return nil, fmt.Errorf("register handler %q: %w", name, err)
		}
	}

	executor := worker.NewExecutor(registry, jobRepo, jm, pm,
		logger.With("component", "executor"))
	pool := worker.NewPool(q, executor, cfg.WorkerCount,
		logger.With("component", "pool"))
	sweeper := scheduler.NewSweeper(pipelineRepo, pm, cfg.SweepSchedule,
		logger.With("component", "sweeper"))

	return &App{
		Pipelines:       pipelineRepo,
		Jobs:            jobRepo,
		Status:          statusRepo,
		Factory:         factory,
		Queue:           q,
		JobManager:      jm,
		PipelineManager: pm,
		Registry:        registry,
		Executor:        executor,
		Pool:            pool,
		Sweeper:         sweeper,
	}, nil
}

// Trigger creates a pipeline and enqueues its bootstrap job. This is the
// single entry point callers use to launch a run.
func (a *App) Trigger(ctx context.Context, name, createdBy string,
	params map[string]any) (*domain.Pipeline, error) {

	pipeline, bootstrap, err := a.Factory.CreatePipeline(ctx, name, createdBy, params)
	if err != nil {
		return nil, err
	}
	if _, err := a.JobManager.Enqueue(ctx, bootstrap, 0); err != nil {
		return nil, fmt.Errorf("enqueue bootstrap job for pipeline %s: %w", pipeline.ID, err)
	}
	return pipeline, nil
}
