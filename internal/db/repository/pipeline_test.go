package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"

	internaldb "github.com/VariantEffect/mavedb-api-sub004/internal/db"
	"github.com/VariantEffect/mavedb-api-sub004/internal/domain"
)

func setupPipelineRepo(t *testing.T) *PipelineRepo {
	t.Helper()
	writeDB, _ := internaldb.OpenTestSQLite(t)
	return NewPipelineRepo(writeDB)
}

func TestPipeline_CreateAndGet(t *testing.T) {
	repo := setupPipelineRepo(t)
	ctx := context.Background()

	p := &domain.Pipeline{
		Name:            "validate_map_annotate_score_set",
		Description:     "Validate, map, and annotate variants",
		CorrelationID:   "corr-123",
		CreatedBy:       "someone@example.org",
		SoftwareVersion: "1.2.3",
	}

	created, err := repo.Create(ctx, p)
	require.NoError(t, err)
	require.NotNil(t, created)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "validate_map_annotate_score_set", created.Name)
	assert.Equal(t, domain.PipelineStatusCreated, created.Status)
	assert.Equal(t, "corr-123", created.CorrelationID)
	assert.Equal(t, "someone@example.org", created.CreatedBy)
	assert.Equal(t, "1.2.3", created.SoftwareVersion)
	assert.False(t, created.CreatedAt.IsZero())
	assert.Nil(t, created.StartedAt)
	assert.Nil(t, created.FinishedAt)

	t.Run("get_by_id", func(t *testing.T) {
		got, err := repo.GetByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, created.ID, got.ID)
		assert.Equal(t, domain.PipelineStatusCreated, got.Status)
	})

	t.Run("get_nonexistent", func(t *testing.T) {
		_, err := repo.GetByID(ctx, "nonexistent")
		require.Error(t, err)
		var notFound *domain.NotFoundError
		assert.ErrorAs(t, err, &notFound)
	})
}

func TestPipeline_StartIsSingleShot(t *testing.T) {
	repo := setupPipelineRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, &domain.Pipeline{Name: "p", CreatedBy: "t"})
	require.NoError(t, err)

	applied, err := repo.Start(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, applied)

	// second start is a no-op
	applied, err = repo.Start(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PipelineStatusRunning, got.Status)
	require.NotNil(t, got.StartedAt)
}

func TestPipeline_FinishGating(t *testing.T) {
	repo := setupPipelineRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, &domain.Pipeline{Name: "p", CreatedBy: "t"})
	require.NoError(t, err)

	t.Run("rejects_non_terminal_status", func(t *testing.T) {
		_, err := repo.Finish(ctx, created.ID, domain.PipelineStatusRunning)
		require.Error(t, err)
		var validation *domain.ValidationError
		assert.ErrorAs(t, err, &validation)
	})

	applied, err := repo.Finish(ctx, created.ID, domain.PipelineStatusSucceeded)
	require.NoError(t, err)
	assert.True(t, applied)

	t.Run("terminal_status_is_final", func(t *testing.T) {
		applied, err := repo.Finish(ctx, created.ID, domain.PipelineStatusFailed)
		require.NoError(t, err)
		assert.False(t, applied)

		got, err := repo.GetByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PipelineStatusSucceeded, got.Status)
		require.NotNil(t, got.FinishedAt)
	})
}

func TestPipeline_CreateGraphAtomic(t *testing.T) {
	writeDB, _ := internaldb.OpenTestSQLite(t)
	repo := NewPipelineRepo(writeDB)
	jobs := NewJobRunRepo(writeDB)
	ctx := context.Background()

	pipelineID := domain.NewID()
	p := &domain.Pipeline{ID: pipelineID, Name: "graph", CreatedBy: "t", Status: domain.PipelineStatusCreated}

	first := &domain.JobRun{
		ID: domain.NewID(), JobType: "a", JobFunction: "step_one",
		Status: domain.JobStatusPending, PipelineID: &pipelineID,
	}
	second := &domain.JobRun{
		ID: domain.NewID(), JobType: "a", JobFunction: "step_two",
		Status: domain.JobStatusPending, PipelineID: &pipelineID,
	}
	edge := domain.JobDependency{
		JobRunID:       second.ID,
		DependsOnJobID: first.ID,
		DependencyType: domain.DependencySuccessRequired,
	}

	require.NoError(t, repo.CreateGraph(ctx, p, []*domain.JobRun{first, second}, []domain.JobDependency{edge}))

	runs, err := jobs.ListByPipeline(ctx, pipelineID)
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	edges, err := jobs.ListDependenciesByPipeline(ctx, pipelineID)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, second.ID, edges[0].JobRunID)
	assert.Equal(t, first.ID, edges[0].DependsOnJobID)

	t.Run("rollback_on_failure", func(t *testing.T) {
		badPipelineID := domain.NewID()
		bad := &domain.Pipeline{ID: badPipelineID, Name: "bad", CreatedBy: "t", Status: domain.PipelineStatusCreated}
		dup := &domain.JobRun{
			ID:          first.ID, // collides with an existing run
			JobType:     "a",
			JobFunction: "step_dup",
			Status:      domain.JobStatusPending,
			PipelineID:  &badPipelineID,
		}
		err := repo.CreateGraph(ctx, bad, []*domain.JobRun{dup}, nil)
		require.Error(t, err)

		// nothing from the failed graph is visible
		_, err = repo.GetByID(ctx, badPipelineID)
		var notFound *domain.NotFoundError
		assert.ErrorAs(t, err, &notFound)
	})
}
