package repository

import (
	"context"
	"database/sql"

	"github.com/VariantEffect/mavedb-api-sub004/internal/domain"
)

// PipelineOverview is a pipeline with its job runs aggregated by status.
type PipelineOverview struct {
	Pipeline  domain.Pipeline
	JobCounts map[domain.JobStatus]int
	TotalJobs int
}

// StatusRepo answers read-only reporting queries on the read pool, keeping
// status inspection off the single-writer connection.
type StatusRepo struct {
	db *sql.DB
}

// NewStatusRepo creates a StatusRepo on the read pool.
func NewStatusRepo(db *sql.DB) *StatusRepo {
	return &StatusRepo{db: db}
}

// PipelineOverview returns a pipeline and its job run counts by status.
func (r *StatusRepo) PipelineOverview(ctx context.Context, pipelineID string) (*PipelineOverview, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+pipelineColumns+`
		FROM pipelines WHERE id = ?
	`, pipelineID)
	p, err := scanPipeline(row)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM job_runs
		WHERE pipeline_id = ?
		GROUP BY status
	`, pipelineID)
	if err != nil {
		return nil, mapDBError(err)
	}
	defer rows.Close()

	overview := &PipelineOverview{
		Pipeline:  *p,
		JobCounts: make(map[domain.JobStatus]int),
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, mapDBError(err)
		}
		overview.JobCounts[domain.JobStatus(status)] = count
		overview.TotalJobs += count
	}
	return overview, rows.Err()
}

// ListRecentPipelines returns the most recently created pipelines.
func (r *StatusRepo) ListRecentPipelines(ctx context.Context, limit int) ([]domain.Pipeline, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+pipelineColumns+`
		FROM pipelines
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, mapDBError(err)
	}
	defer rows.Close()

	var pipelines []domain.Pipeline
	for rows.Next() {
		p, err := scanPipeline(rows)
		if err != nil {
			return nil, err
		}
		pipelines = append(pipelines, *p)
	}
	return pipelines, rows.Err()
}

// ListJobRuns returns a pipeline's job runs from the read pool, in
// coordination order.
func (r *StatusRepo) ListJobRuns(ctx context.Context, pipelineID string) ([]domain.JobRun, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobRunColumns+`
		FROM job_runs
		WHERE pipeline_id = ?
		ORDER BY priority DESC, created_at, id
	`, pipelineID)
	if err != nil {
		return nil, mapDBError(err)
	}
	defer rows.Close()

	var runs []domain.JobRun
	for rows.Next() {
		jr, err := scanJobRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *jr)
	}
	return runs, rows.Err()
}
