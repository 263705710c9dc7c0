package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VariantEffect/mavedb-api-sub004/internal/domain"
)

func TestCoordinate_ReadinessGating(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	first := newRun("step_one")
	second := newRun("step_two")
	p := env.newGraph(t, []*domain.JobRun{first, second}, []domain.JobDependency{
		successEdge(second, first),
	})

	require.NoError(t, env.pm.Coordinate(ctx, p.ID))

	assert.Equal(t, domain.JobStatusQueued, env.jobStatus(t, first.ID))
	assert.Equal(t, domain.JobStatusPending, env.jobStatus(t, second.ID),
		"dependent must not move before its upstream succeeds")

	msgs := env.drainQueue(t, 50*time.Millisecond)
	require.Len(t, msgs, 1)
	assert.Equal(t, first.ID, msgs[0].JobRunID)

	// upstream succeeds: the dependent becomes ready
	applied, err := env.jobs.MarkRunning(ctx, first.ID)
	require.NoError(t, err)
	require.True(t, applied)
	applied, err = env.jobs.MarkSucceeded(ctx, first.ID, domain.OKResult(nil))
	require.NoError(t, err)
	require.True(t, applied)

	require.NoError(t, env.pm.Coordinate(ctx, p.ID))
	assert.Equal(t, domain.JobStatusQueued, env.jobStatus(t, second.ID))
}

func TestCoordinate_EnqueuesByPriority(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	low := newRun("low_priority")
	low.Priority = 1
	high := newRun("high_priority")
	high.Priority = 9
	p := env.newGraph(t, []*domain.JobRun{low, high}, nil)

	require.NoError(t, env.pm.Coordinate(ctx, p.ID))

	msgs := env.drainQueue(t, 50*time.Millisecond)
	require.Len(t, msgs, 2)
	assert.Equal(t, high.ID, msgs[0].JobRunID)
	assert.Equal(t, low.ID, msgs[1].JobRunID)
}

func TestCoordinate_FailurePropagationCascades(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	first := newRun("step_one")
	second := newRun("step_two")
	third := newRun("step_three")
	p := env.newGraph(t, []*domain.JobRun{first, second, third}, []domain.JobDependency{
		successEdge(second, first),
		successEdge(third, second),
	})

	env.forceJobState(t, first.ID, domain.JobStatusFailed)

	require.NoError(t, env.pm.Coordinate(ctx, p.ID))

	assert.Equal(t, domain.JobStatusCancelled, env.jobStatus(t, second.ID))
	assert.Equal(t, domain.JobStatusCancelled, env.jobStatus(t, third.ID),
		"cancellation cascades through the whole downstream chain in one pass")

	got, err := env.pipelines.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PipelineStatusFailed, got.Status)

	second2, err := env.jobs.GetByID(ctx, second.ID)
	require.NoError(t, err)
	require.NotNil(t, second2.ErrorMessage)
	assert.Contains(t, *second2.ErrorMessage, first.ID)
}

func TestCoordinate_IsIdempotent(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	only := newRun("solo")
	p := env.newGraph(t, []*domain.JobRun{only}, nil)

	require.NoError(t, env.pm.Coordinate(ctx, p.ID))
	require.NoError(t, env.pm.Coordinate(ctx, p.ID))
	require.NoError(t, env.pm.Coordinate(ctx, p.ID))

	msgs := env.drainQueue(t, 50*time.Millisecond)
	assert.Len(t, msgs, 1, "repeat coordination must not re-enqueue a claimed job")
}

func TestCoordinate_ConcurrentCoordinators(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	only := newRun("solo")
	p := env.newGraph(t, []*domain.JobRun{only}, nil)

	const coordinators = 8
	var wg sync.WaitGroup
	for i := 0; i < coordinators; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, env.pm.Coordinate(ctx, p.ID))
		}()
	}
	wg.Wait()

	msgs := env.drainQueue(t, 50*time.Millisecond)
	assert.Len(t, msgs, 1, "racing coordinators must enqueue the job exactly once")
}

func TestCoordinate_Rollup(t *testing.T) {
	t.Run("all_succeeded", func(t *testing.T) {
		env := setupEnv(t)
		ctx := context.Background()

		first := newRun("a")
		second := newRun("b")
		p := env.newGraph(t, []*domain.JobRun{first, second}, nil)

		env.forceJobState(t, first.ID, domain.JobStatusSucceeded)
		env.forceJobState(t, second.ID, domain.JobStatusSucceeded)

		require.NoError(t, env.pm.Coordinate(ctx, p.ID))
		got, err := env.pipelines.GetByID(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PipelineStatusSucceeded, got.Status)
		require.NotNil(t, got.FinishedAt)
	})

	t.Run("failure_outranks_cancellation", func(t *testing.T) {
		env := setupEnv(t)
		ctx := context.Background()

		failed := newRun("a")
		dependent := newRun("b")
		p := env.newGraph(t, []*domain.JobRun{failed, dependent}, []domain.JobDependency{
			successEdge(dependent, failed),
		})

		env.forceJobState(t, failed.ID, domain.JobStatusFailed)
		require.NoError(t, env.pm.Coordinate(ctx, p.ID))

		got, err := env.pipelines.GetByID(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PipelineStatusFailed, got.Status)
	})

	t.Run("not_done_no_rollup", func(t *testing.T) {
		env := setupEnv(t)
		ctx := context.Background()

		done := newRun("a")
		pending := newRun("b")
		p := env.newGraph(t, []*domain.JobRun{done, pending}, []domain.JobDependency{
			successEdge(pending, done),
		})

		env.forceJobState(t, done.ID, domain.JobStatusSucceeded)
		require.NoError(t, env.pm.Coordinate(ctx, p.ID))

		got, err := env.pipelines.GetByID(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PipelineStatusRunning, got.Status)
	})
}

func TestCoordinate_TerminalPipelineIsNoop(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	only := newRun("solo")
	p := env.newGraph(t, []*domain.JobRun{only}, nil)

	applied, err := env.pipelines.Finish(ctx, p.ID, domain.PipelineStatusCancelled)
	require.NoError(t, err)
	require.True(t, applied)

	require.NoError(t, env.pm.Coordinate(ctx, p.ID))
	msgs := env.drainQueue(t, 50*time.Millisecond)
	assert.Empty(t, msgs, "terminal pipelines never enqueue work")
}

func TestPipelineManager_Cancel(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	first := newRun("a")
	second := newRun("b")
	p := env.newGraph(t, []*domain.JobRun{first, second}, []domain.JobDependency{
		successEdge(second, first),
	})
	env.forceJobState(t, first.ID, domain.JobStatusSucceeded)

	require.NoError(t, env.pm.Cancel(ctx, p.ID, "operator request"))

	assert.Equal(t, domain.JobStatusSucceeded, env.jobStatus(t, first.ID),
		"finished jobs keep their status")
	assert.Equal(t, domain.JobStatusCancelled, env.jobStatus(t, second.ID))

	got, err := env.pipelines.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PipelineStatusCancelled, got.Status)
}
