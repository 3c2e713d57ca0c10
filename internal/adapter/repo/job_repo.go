package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"videoswap/internal/domain"
	"videoswap/internal/infra"
	"videoswap/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobRepository on the render_jobs table.
type JobRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewJobRepository creates a job repository backed by PostgreSQL.
func NewJobRepository(sql infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{sql: sql}
}

// Migrate creates the render_jobs table and its indexes when missing.
func (r *JobRepositoryPG) Migrate(ctx context.Context) error {
	if _, err := r.sql.Exec(ctx, sqlinline.QEnsureRenderJobsSchema); err != nil {
		return fmt.Errorf("migrate render_jobs: %w", err)
	}
	return nil
}

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	_, err := r.sql.Exec(ctx, sqlinline.QInsertRenderJob,
		job.ID,
		job.UserID,
		job.OrderID,
		job.TemplateID,
		job.WorkflowRef,
		string(job.Type),
		string(job.Status),
		job.Progress,
		job.InputResourceURL,
		job.RemoteStatus,
		job.RetryCount,
		job.MaxRetries,
		job.Timeout.Milliseconds(),
		job.Version,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert render job: %w", err)
	}
	return nil
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QSelectRenderJob, jobID)
	job, err := scanJob(row)
	if err != nil {
		if infra.IsNoRows(err) || isMalformedID(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("select render job: %w", err)
	}
	return job, nil
}

// CompareAndSwap persists next when the stored row still has expectedStatus
// and the version preceding next.Version.
func (r *JobRepositoryPG) CompareAndSwap(ctx context.Context, next *domain.Job, expectedStatus domain.JobStatus) (bool, error) {
	var (
		outputURL, outputKind, outputNode *string
		outputCost                        *int
		errMessage, errCode               *string
	)
	if next.Output != nil {
		outputURL = &next.Output.URL
		outputKind = &next.Output.Kind
		outputCost = &next.Output.CostSeconds
		outputNode = &next.Output.NodeID
	}
	if next.Failure != nil {
		errMessage = &next.Failure.Message
		errCode = &next.Failure.Code
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QCompareAndSwapRenderJob,
		next.ID,
		string(next.Status),
		next.Progress,
		next.RemoteResourceHandle,
		next.RemoteJobID,
		next.RemoteStatus,
		outputURL,
		outputKind,
		outputCost,
		outputNode,
		errMessage,
		errCode,
		next.RetryCount,
		next.StartedAt,
		next.CompletedAt,
		next.UpdatedAt,
		next.Version,
		string(expectedStatus),
	)
	if err != nil {
		if isMalformedID(err) {
			return false, domain.ErrNotFound
		}
		return false, fmt.Errorf("update render job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListByUser returns one page of a user's jobs plus the total match count.
func (r *JobRepositoryPG) ListByUser(ctx context.Context, filter domain.JobListFilter) ([]domain.Job, int, error) {
	var status *string
	if filter.Status != nil {
		s := string(*filter.Status)
		status = &s
	}
	var total int
	if err := r.sql.QueryRow(ctx, sqlinline.QCountRenderJobsByUser, filter.UserID, status).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count render jobs: %w", err)
	}
	rows, err := r.sql.Query(ctx, sqlinline.QListRenderJobsByUser, filter.UserID, status, filter.Limit, filter.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list render jobs: %w", err)
	}
	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

// ListByStatus returns up to limit jobs in any of statuses, oldest first.
func (r *JobRepositoryPG) ListByStatus(ctx context.Context, statuses []domain.JobStatus, limit int) ([]domain.Job, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QListRenderJobsByStatus, statusStrings(statuses), limit)
	if err != nil {
		return nil, fmt.Errorf("list render jobs by status: %w", err)
	}
	return collectJobs(rows)
}

// ListTimedOut returns active jobs whose started_at+timeout_ms is before now.
func (r *JobRepositoryPG) ListTimedOut(ctx context.Context, now time.Time) ([]domain.Job, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QListTimedOutRenderJobs, statusStrings(domain.ActiveStatuses), now)
	if err != nil {
		return nil, fmt.Errorf("list timed out render jobs: %w", err)
	}
	return collectJobs(rows)
}

// CountByStatus aggregates job counts per status. An empty userID counts all jobs.
func (r *JobRepositoryPG) CountByStatus(ctx context.Context, userID string) (map[domain.JobStatus]int, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QRenderJobStats, userID)
	if err != nil {
		return nil, fmt.Errorf("render job stats: %w", err)
	}
	defer rows.Close()
	counts := make(map[domain.JobStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan render job stats: %w", err)
		}
		counts[domain.JobStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("render job stats: %w", err)
	}
	return counts, nil
}

// AverageCostSeconds averages output_cost_seconds over the workflow's completed jobs.
func (r *JobRepositoryPG) AverageCostSeconds(ctx context.Context, workflowRef string) (float64, int, error) {
	var avg float64
	var n int
	if err := r.sql.QueryRow(ctx, sqlinline.QRenderWorkflowAverageCost, workflowRef).Scan(&avg, &n); err != nil {
		return 0, 0, fmt.Errorf("average render cost: %w", err)
	}
	return avg, n, nil
}

// codeInvalidText is Postgres' invalid_text_representation, raised when a
// job id is not a uuid. No such job can exist.
const codeInvalidText = "22P02"

func isMalformedID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeInvalidText
}

func collectJobs(rows pgx.Rows) ([]domain.Job, error) {
	defer rows.Close()
	jobs := make([]domain.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan render job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate render jobs: %w", err)
	}
	return jobs, nil
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job                               domain.Job
		jobType, status                   string
		outputURL, outputKind, outputNode *string
		outputCost                        *int
		errMessage, errCode               *string
		timeoutMS                         int64
	)
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.OrderID,
		&job.TemplateID,
		&job.WorkflowRef,
		&jobType,
		&status,
		&job.Progress,
		&job.InputResourceURL,
		&job.RemoteResourceHandle,
		&job.RemoteJobID,
		&job.RemoteStatus,
		&outputURL,
		&outputKind,
		&outputCost,
		&outputNode,
		&errMessage,
		&errCode,
		&job.RetryCount,
		&job.MaxRetries,
		&timeoutMS,
		&job.Version,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.StartedAt,
		&job.CompletedAt,
	); err != nil {
		return nil, err
	}
	job.Type = domain.JobType(jobType)
	job.Status = domain.JobStatus(status)
	job.Timeout = time.Duration(timeoutMS) * time.Millisecond
	if outputURL != nil {
		job.Output = &domain.JobOutput{URL: *outputURL}
		if outputKind != nil {
			job.Output.Kind = *outputKind
		}
		if outputCost != nil {
			job.Output.CostSeconds = *outputCost
		}
		if outputNode != nil {
			job.Output.NodeID = *outputNode
		}
	}
	if errMessage != nil || errCode != nil {
		job.Failure = &domain.JobFailure{}
		if errMessage != nil {
			job.Failure.Message = *errMessage
		}
		if errCode != nil {
			job.Failure.Code = *errCode
		}
	}
	return &job, nil
}

func statusStrings(statuses []domain.JobStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
