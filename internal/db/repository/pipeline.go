package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/VariantEffect/mavedb-api-sub004/internal/domain"
)

const pipelineColumns = `id, name, description, status, correlation_id, created_by,
       software_version, metadata, created_at, started_at, finished_at`

// PipelineRepo stores pipeline rows and the atomic pipeline-graph creation
// primitive in SQLite.
type PipelineRepo struct {
	db *sql.DB
}

// NewPipelineRepo creates a new PipelineRepo on the write pool.
func NewPipelineRepo(db *sql.DB) *PipelineRepo {
	return &PipelineRepo{db: db}
}

// Create inserts a new pipeline row.
func (r *PipelineRepo) Create(ctx context.Context, p *domain.Pipeline) (*domain.Pipeline, error) {
	if p.ID == "" {
		p.ID = domain.NewID()
	}
	if p.Status == "" {
		p.Status = domain.PipelineStatusCreated
	}

	if err := insertPipeline(ctx, r.db, p); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, p.ID)
}

// GetByID returns a pipeline by its id.
func (r *PipelineRepo) GetByID(ctx context.Context, id string) (*domain.Pipeline, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+pipelineColumns+`
		FROM pipelines WHERE id = ?
	`, id)
	return scanPipeline(row)
}

// ListByStatus returns all pipelines currently in the given status, ordered
// by creation time. Used by the coordination sweeper.
func (r *PipelineRepo) ListByStatus(ctx context.Context, status domain.PipelineStatus) ([]domain.Pipeline, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+pipelineColumns+`
		FROM pipelines WHERE status = ?
		ORDER BY created_at
	`, string(status))
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

// Start transitions a pipeline from CREATED to RUNNING, recording the start
// timestamp. Returns false when the pipeline was not in CREATED state.
func (r *PipelineRepo) Start(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE pipelines
		SET status = ?, started_at = ?
		WHERE id = ? AND status = ?
	`, string(domain.PipelineStatusRunning), nowString(), id, string(domain.PipelineStatusCreated))
	if err != nil {
		return false, mapDBError(err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Finish transitions a pipeline to a terminal status, recording the finish
// timestamp. The update is gated on the pipeline not already being terminal,
// so repeated rollups cannot overwrite a final status.
func (r *PipelineRepo) Finish(ctx context.Context, id string, status domain.PipelineStatus) (bool, error) {
	if !status.IsTerminal() {
		return false, domain.ErrValidation("pipeline status %s is not terminal", status)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE pipelines
		SET status = ?, finished_at = ?
		WHERE id = ? AND status NOT IN (?, ?, ?)
	`, string(status), nowString(), id,
		string(domain.PipelineStatusSucceeded),
		string(domain.PipelineStatusFailed),
		string(domain.PipelineStatusCancelled))
	if err != nil {
		return false, mapDBError(err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CreateGraph persists a pipeline together with its bootstrap job run, all of
// its job runs, and all dependency edges in a single transaction. If any
// insert fails, nothing from the attempt is visible to other readers.
func (r *PipelineRepo) CreateGraph(ctx context.Context, p *domain.Pipeline,
	runs []*domain.JobRun, deps []domain.JobDependency) error {

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin pipeline graph tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertPipeline(ctx, tx, p); err != nil {
		return err
	}
	for _, jr := range runs {
		if err := insertJobRun(ctx, tx, jr); err != nil {
			return err
		}
	}
	for _, dep := range deps {
		if err := insertDependency(ctx, tx, dep); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit pipeline graph tx: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertPipeline(ctx context.Context, e execer, p *domain.Pipeline) error {
	metadata := p.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal pipeline metadata: %w", err)
	}

	_, err = e.ExecContext(ctx, `
		INSERT INTO pipelines (id, name, description, status, correlation_id,
		                       created_by, software_version, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Name, p.Description, string(p.Status), p.CorrelationID,
		p.CreatedBy, p.SoftwareVersion, string(metadataJSON))
	return mapDBError(err)
}

func insertDependency(ctx context.Context, e execer, d domain.JobDependency) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO job_dependencies (job_run_id, depends_on_job_id, dependency_type)
		VALUES (?, ?, ?)
	`, d.JobRunID, d.DependsOnJobID, string(d.DependencyType))
	return mapDBError(err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPipeline(row rowScanner) (*domain.Pipeline, error) {
	var (
		p            domain.Pipeline
		status       string
		metadataJSON string
		createdAt    string
		startedAt    sql.NullString
		finishedAt   sql.NullString
	)
	err := row.Scan(&p.ID, &p.Name, &p.Description, &status, &p.CorrelationID,
		&p.CreatedBy, &p.SoftwareVersion, &metadataJSON, &createdAt, &startedAt, &finishedAt)
	if err != nil {
		return nil, mapDBError(err)
	}

	p.Status = domain.PipelineStatus(status)
	p.CreatedAt = parseTime(createdAt)
	p.StartedAt = timePtrFromNull(startedAt)
	p.FinishedAt = timePtrFromNull(finishedAt)

	_ = json.Unmarshal([]byte(metadataJSON), &p.Metadata)
	if p.Metadata == nil {
		p.Metadata = map[string]any{}
	}
	return &p, nil
}
