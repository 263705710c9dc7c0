package worker

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"

	internaldb "github.com/VariantEffect/mavedb-api-sub004/internal/db"
	"github.com/VariantEffect/mavedb-api-sub004/internal/db/repository"
	"github.com/VariantEffect/mavedb-api-sub004/internal/domain"
	"github.com/VariantEffect/mavedb-api-sub004/internal/queue"
)

// testEnv wires repositories, managers, and an executor against a fresh
// SQLite database and in-process queue.
type testEnv struct {
	pipelines *repository.PipelineRepo
	jobs      *repository.JobRunRepo
	queue     *queue.MemoryQueue
	jm        *JobManager
	pm        *PipelineManager
	registry  *Registry
	executor  *Executor
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	writeDB, _ := internaldb.OpenTestSQLite(t)

	logger := testLogger()
	pipelines := repository.NewPipelineRepo(writeDB)
	jobs := repository.NewJobRunRepo(writeDB)
	q := queue.NewMemoryQueue(64)
	t.Cleanup(q.Close)

	jm := NewJobManager(jobs, q, logger)
	pm := NewPipelineManager(pipelines, jobs, jm, logger)
	registry := NewRegistry()
	registry.MustRegister(domain.JobFunctionStartPipeline, StartPipelineHandler(pm))
	executor := NewExecutor(registry, jobs, jm, pm, logger)

	return &testEnv{
		pipelines: pipelines,
		jobs:      jobs,
		queue:     q,
		jm:        jm,
		pm:        pm,
		registry:  registry,
		executor:  executor,
	}
}

// newGraph persists a pipeline with the given job runs and edges. Runs get
// ids assigned in place.
func (e *testEnv) newGraph(t *testing.T, runs []*domain.JobRun, deps []domain.JobDependency) *domain.Pipeline {
	t.Helper()
	p := &domain.Pipeline{
		ID:        domain.NewID(),
		Name:      "test_pipeline",
		Status:    domain.PipelineStatusRunning,
		CreatedBy: "test",
	}
	for _, jr := range runs {
		jr.PipelineID = &p.ID
		if jr.Status == "" {
			jr.Status = domain.JobStatusPending
		}
	}
	require.NoError(t, e.pipelines.CreateGraph(context.Background(), p, runs, deps))
	return p
}

func newRun(function string) *domain.JobRun {
	return &domain.JobRun{
		ID:          domain.NewID(),
		JobType:     "test",
		JobFunction: function,
		MaxRetries:  3,
	}
}

func successEdge(dependent, upstream *domain.JobRun) domain.JobDependency {
	return domain.JobDependency{
		JobRunID:       dependent.ID,
		DependsOnJobID: upstream.ID,
		DependencyType: domain.DependencySuccessRequired,
	}
}

// drainQueue collects every message currently deliverable, waiting briefly
// for armed timers.
func (e *testEnv) drainQueue(t *testing.T, wait time.Duration) []queue.Message {
	t.Helper()
	var msgs []queue.Message
	for {
		ctx, cancel := context.WithTimeout(context.Background(), wait)
		msg, err := e.queue.Dequeue(ctx)
		cancel()
		if err != nil {
			return msgs
		}
		msgs = append(msgs, msg)
	}
}

// runToCompletion drives queued messages through the executor until the
// pipeline reaches a terminal status or no message arrives within wait.
func (e *testEnv) runToCompletion(t *testing.T, pipelineID string, wait time.Duration) *domain.Pipeline {
	t.Helper()
	ctx := context.Background()
	for {
		p, err := e.pipelines.GetByID(ctx, pipelineID)
		require.NoError(t, err)
		if p.Status.IsTerminal() {
			return p
		}

		msgCtx, cancel := context.WithTimeout(ctx, wait)
		msg, err := e.queue.Dequeue(msgCtx)
		cancel()
		require.NoError(t, err, "pipeline %s stalled in %s", pipelineID, p.Status)

		require.NoError(t, e.executor.Execute(ctx, msg))
	}
}

func (e *testEnv) jobStatus(t *testing.T, id string) domain.JobStatus {
	t.Helper()
	jr, err := e.jobs.GetByID(context.Background(), id)
	require.NoError(t, err)
	return jr.Status
}

// forceJobState drives a run through QUEUED and RUNNING into the given
// terminal status, bypassing the executor.
func (e *testEnv) forceJobState(t *testing.T, id string, status domain.JobStatus) {
	t.Helper()
	ctx := context.Background()

	applied, err := e.jobs.MarkQueued(ctx, id)
	require.NoError(t, err)
	require.True(t, applied)
	applied, err = e.jobs.MarkRunning(ctx, id)
	require.NoError(t, err)
	require.True(t, applied)

	switch status {
	case domain.JobStatusSucceeded:
		applied, err = e.jobs.MarkSucceeded(ctx, id, domain.OKResult(nil))
	case domain.JobStatusFailed:
		applied, err = e.jobs.MarkFailed(ctx, id, "forced failure", "", domain.FailureSystemError)
	case domain.JobStatusRunning:
		return
	default:
		t.Fatalf("unsupported forced status %s", status)
	}
	require.NoError(t, err)
	require.True(t, applied)
}
