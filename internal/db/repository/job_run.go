package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/VariantEffect/mavedb-api-sub004/internal/domain"
)

const jobRunColumns = `id, job_type, job_function, job_params, status, pipeline_id,
       priority, max_retries, retry_count, retry_delay_seconds,
       scheduled_at, started_at, finished_at, created_at,
       error_message, error_detail, failure_category,
       progress_current, progress_total, progress_message,
       correlation_id, metadata, software_version`

var terminalJobStatuses = []any{
	string(domain.JobStatusSucceeded),
	string(domain.JobStatusFailed),
	string(domain.JobStatusCancelled),
}

// JobRunRepo stores job run rows and dependency edges in SQLite. All status
// transitions are compare-and-swap updates gated on the current persisted
// status, which is what keeps concurrent coordination idempotent.
type JobRunRepo struct {
	db *sql.DB
}

// NewJobRunRepo creates a new JobRunRepo on the write pool.
func NewJobRunRepo(db *sql.DB) *JobRunRepo {
	return &JobRunRepo{db: db}
}

// Create inserts a new job run row outside of any pipeline graph transaction.
// Used for standalone jobs and for the job-record guarantee on bare
// invocations.
func (r *JobRunRepo) Create(ctx context.Context, jr *domain.JobRun) (*domain.JobRun, error) {
	if jr.ID == "" {
		jr.ID = domain.NewID()
	}
	if jr.Status == "" {
		jr.Status = domain.JobStatusPending
	}
	if err := insertJobRun(ctx, r.db, jr); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, jr.ID)
}

// GetByID returns a job run by its id.
func (r *JobRunRepo) GetByID(ctx context.Context, id string) (*domain.JobRun, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+jobRunColumns+`
		FROM job_runs WHERE id = ?
	`, id)
	return scanJobRun(row)
}

// ListByPipeline returns every job run belonging to a pipeline in one query,
// ordered by priority descending then creation order.
func (r *JobRunRepo) ListByPipeline(ctx context.Context, pipelineID string) ([]domain.JobRun, error) {
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

// ListDependenciesByPipeline returns every dependency edge among a pipeline's
// job runs in one query.
func (r *JobRunRepo) ListDependenciesByPipeline(ctx context.Context, pipelineID string) ([]domain.JobDependency, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT d.job_run_id, d.depends_on_job_id, d.dependency_type, d.created_at
		FROM job_dependencies d
		JOIN job_runs j ON j.id = d.job_run_id
		WHERE j.pipeline_id = ?
	`, pipelineID)
	if err != nil {
		return nil, mapDBError(err)
	}
	defer rows.Close()

	var deps []domain.JobDependency
	for rows.Next() {
		var (
			d         domain.JobDependency
			depType   string
			createdAt string
		)
		if err := rows.Scan(&d.JobRunID, &d.DependsOnJobID, &depType, &createdAt); err != nil {
			return nil, mapDBError(err)
		}
		d.DependencyType = domain.DependencyType(depType)
		d.CreatedAt = parseTime(createdAt)
		deps = append(deps, d)
	}
	return deps, rows.Err()
}

// MarkQueued transitions a job run to QUEUED. The update applies only when
// the persisted status is PENDING or RETRYING, so two coordinators racing on
// the same ready job enqueue it exactly once.
func (r *JobRunRepo) MarkQueued(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE job_runs
		SET status = ?, progress_message = 'Job queued for execution'
		WHERE id = ? AND status IN (?, ?)
	`, string(domain.JobStatusQueued), id,
		string(domain.JobStatusPending), string(domain.JobStatusRetrying))
	if err != nil {
		return false, mapDBError(err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkRunning transitions a job run to RUNNING and records the start
// timestamp. Applies from QUEUED, and from PENDING for directly-invoked
// standalone jobs that never pass through a coordinator.
func (r *JobRunRepo) MarkRunning(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE job_runs
		SET status = ?, started_at = ?,
		    progress_current = 0,
		    progress_total = COALESCE(progress_total, 100),
		    progress_message = 'Job began execution'
		WHERE id = ? AND status IN (?, ?)
	`, string(domain.JobStatusRunning), nowString(), id,
		string(domain.JobStatusQueued), string(domain.JobStatusPending))
	if err != nil {
		return false, mapDBError(err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkSucceeded transitions a RUNNING job run to SUCCEEDED, records the
// finish timestamp, completes the progress triple, and stores the result
// summary in the job metadata.
func (r *JobRunRepo) MarkSucceeded(ctx context.Context, id string, result domain.JobResult) (bool, error) {
	return r.finishWithResult(ctx, id, domain.JobStatusSucceeded, result, nil, nil, nil)
}

// MarkFailed transitions a job run to terminal FAILED, recording the error
// message, error detail (stack text), and failure category. Applies from any
// non-terminal status so coordination failures can fail jobs that never
// started.
func (r *JobRunRepo) MarkFailed(ctx context.Context, id string, errMsg, errDetail string,
	category domain.FailureCategory) (bool, error) {
	result := domain.JobResult{
		Status:           "failed",
		Data:             map[string]any{},
		ExceptionDetails: map[string]any{"message": errMsg, "category": string(category)},
	}
	return r.finishWithResult(ctx, id, domain.JobStatusFailed, result, &errMsg, &errDetail, &category)
}

// MarkCancelled transitions a job run to terminal CANCELLED from any
// non-terminal status, recording the reason.
func (r *JobRunRepo) MarkCancelled(ctx context.Context, id string, reason string) (bool, error) {
	args := []any{string(domain.JobStatusCancelled), nowString(), reason, id}
	args = append(args, terminalJobStatuses...)
	res, err := r.db.ExecContext(ctx, `
		UPDATE job_runs
		SET status = ?, finished_at = ?, error_message = ?,
		    progress_message = 'Job cancelled'
		WHERE id = ? AND status NOT IN (?, ?, ?)
	`, args...)
	if err != nil {
		return false, mapDBError(err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkRetrying prepares a RUNNING job run for another attempt: increments the
// retry count, records the failure that triggered the retry, and clears the
// execution timestamps. The retry bound is enforced in the gate itself — a
// job at max_retries cannot transition to RETRYING.
func (r *JobRunRepo) MarkRetrying(ctx context.Context, id string, errMsg string,
	category domain.FailureCategory) (bool, error) {

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin retry tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var metadataJSON string
	var retryCount int
	err = tx.QueryRowContext(ctx,
		`SELECT metadata, retry_count FROM job_runs WHERE id = ?`, id).
		Scan(&metadataJSON, &retryCount)
	if err != nil {
		return false, mapDBError(err)
	}

	metadata := map[string]any{}
	_ = json.Unmarshal([]byte(metadataJSON), &metadata)
	history, _ := metadata["retry_history"].([]any)
	history = append(history, map[string]any{
		"attempt":   retryCount + 1,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"reason":    errMsg,
		"category":  string(category),
	})
	metadata["retry_history"] = history
	delete(metadata, "result")

	merged, err := json.Marshal(metadata)
	if err != nil {
		return false, fmt.Errorf("marshal retry metadata: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE job_runs
		SET status = ?, retry_count = retry_count + 1,
		    started_at = NULL, finished_at = NULL,
		    error_message = NULL, error_detail = NULL, failure_category = NULL,
		    progress_message = 'Job retry prepared', metadata = ?
		WHERE id = ? AND status = ? AND retry_count < max_retries
	`, string(domain.JobStatusRetrying), string(merged), id, string(domain.JobStatusRunning))
	if err != nil {
		return false, mapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit retry tx: %w", err)
	}
	return n > 0, nil
}

// UpdateProgress records partial completion. Idempotent and monotonically
// non-decreasing in current; stale updates from out-of-order writes cannot
// move progress backwards, and the persisted total is raised to at least the
// clamped current so current never exceeds total.
func (r *JobRunRepo) UpdateProgress(ctx context.Context, id string, current, total int, message string) error {
	msg := sql.NullString{String: message, Valid: message != ""}
	_, err := r.db.ExecContext(ctx, `
		UPDATE job_runs
		SET progress_current = MAX(COALESCE(progress_current, 0), ?),
		    progress_total = MAX(?, MAX(COALESCE(progress_current, 0), ?)),
		    progress_message = COALESCE(?, progress_message)
		WHERE id = ?
	`, current, total, current, msg, id)
	return mapDBError(err)
}

// finishWithResult moves a job run into a terminal state and merges the
// result summary into its metadata inside one transaction.
func (r *JobRunRepo) finishWithResult(ctx context.Context, id string, status domain.JobStatus,
	result domain.JobResult, errMsg, errDetail *string, category *domain.FailureCategory) (bool, error) {

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin finish tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var metadataJSON string
	err = tx.QueryRowContext(ctx, `SELECT metadata FROM job_runs WHERE id = ?`, id).Scan(&metadataJSON)
	if err != nil {
		return false, mapDBError(err)
	}
	metadata := map[string]any{}
	_ = json.Unmarshal([]byte(metadataJSON), &metadata)
	metadata["result"] = result
	merged, err := json.Marshal(metadata)
	if err != nil {
		return false, fmt.Errorf("marshal result metadata: %w", err)
	}

	var categoryStr sql.NullString
	if category != nil {
		categoryStr = sql.NullString{String: string(*category), Valid: true}
	}

	var res sql.Result
	if status == domain.JobStatusSucceeded {
		res, err = tx.ExecContext(ctx, `
			UPDATE job_runs
			SET status = ?, finished_at = ?,
			    progress_total = COALESCE(progress_total, 100),
			    progress_current = COALESCE(progress_total, 100),
			    progress_message = 'Job completed', metadata = ?
			WHERE id = ? AND status = ?
		`, string(status), nowString(), string(merged), id, string(domain.JobStatusRunning))
	} else {
		res, err = tx.ExecContext(ctx, `
			UPDATE job_runs
			SET status = ?, finished_at = ?, error_message = ?, error_detail = ?,
			    failure_category = ?, metadata = ?
			WHERE id = ? AND status NOT IN (?, ?, ?)
		`, string(status), nowString(), nullStrFromPtr(errMsg), nullStrFromPtr(errDetail),
			categoryStr, string(merged), id,
			string(domain.JobStatusSucceeded), string(domain.JobStatusFailed), string(domain.JobStatusCancelled))
	}
	if err != nil {
		return false, mapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit finish tx: %w", err)
	}
	return n > 0, nil
}

func insertJobRun(ctx context.Context, e execer, jr *domain.JobRun) error {
	params := jr.Params
	if params == nil {
		params = map[string]any{}
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal job params: %w", err)
	}

	metadata := jr.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal job metadata: %w", err)
	}

	var pipelineID sql.NullString
	if jr.PipelineID != nil {
		pipelineID = sql.NullString{String: *jr.PipelineID, Valid: true}
	}

	_, err = e.ExecContext(ctx, `
		INSERT INTO job_runs (id, job_type, job_function, job_params, status,
		                      pipeline_id, priority, max_retries, retry_delay_seconds,
		                      correlation_id, metadata, software_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, jr.ID, jr.JobType, jr.JobFunction, string(paramsJSON), string(jr.Status),
		pipelineID, jr.Priority, jr.MaxRetries, jr.RetryDelaySeconds,
		jr.CorrelationID, string(metadataJSON), jr.SoftwareVersion)
	return mapDBError(err)
}

func scanJobRun(row rowScanner) (*domain.JobRun, error) {
	var (
		jr              domain.JobRun
		paramsJSON      string
		status          string
		pipelineID      sql.NullString
		scheduledAt     string
		startedAt       sql.NullString
		finishedAt      sql.NullString
		createdAt       string
		errorMessage    sql.NullString
		errorDetail     sql.NullString
		failureCategory sql.NullString
		progressCurrent sql.NullInt64
		progressTotal   sql.NullInt64
		progressMessage sql.NullString
		metadataJSON    string
	)
	err := row.Scan(&jr.ID, &jr.JobType, &jr.JobFunction, &paramsJSON, &status, &pipelineID,
		&jr.Priority, &jr.MaxRetries, &jr.RetryCount, &jr.RetryDelaySeconds,
		&scheduledAt, &startedAt, &finishedAt, &createdAt,
		&errorMessage, &errorDetail, &failureCategory,
		&progressCurrent, &progressTotal, &progressMessage,
		&jr.CorrelationID, &metadataJSON, &jr.SoftwareVersion)
	if err != nil {
		return nil, mapDBError(err)
	}

	jr.Status = domain.JobStatus(status)
	jr.PipelineID = strPtrFromNull(pipelineID)
	jr.ScheduledAt = parseTime(scheduledAt)
	jr.StartedAt = timePtrFromNull(startedAt)
	jr.FinishedAt = timePtrFromNull(finishedAt)
	jr.CreatedAt = parseTime(createdAt)
	jr.ErrorMessage = strPtrFromNull(errorMessage)
	jr.ErrorDetail = strPtrFromNull(errorDetail)
	jr.ProgressCurrent = intPtrFromNull(progressCurrent)
	jr.ProgressTotal = intPtrFromNull(progressTotal)
	jr.ProgressMessage = strPtrFromNull(progressMessage)

	if failureCategory.Valid {
		fc := domain.FailureCategory(failureCategory.String)
		jr.FailureCategory = &fc
	}

	_ = json.Unmarshal([]byte(paramsJSON), &jr.Params)
	if jr.Params == nil {
		jr.Params = map[string]any{}
	}
	_ = json.Unmarshal([]byte(metadataJSON), &jr.Metadata)
	if jr.Metadata == nil {
		jr.Metadata = map[string]any{}
	}
	return &jr, nil
}
