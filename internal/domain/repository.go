package domain

import (
	"context"
	"time"
)

// JobRepository defines persistence for render jobs.
//
// CompareAndSwap is the only write path after Create: it persists next only
// when the stored row still has expectedStatus and next.Version-1 as its
// version, and reports false otherwise.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	CompareAndSwap(ctx context.Context, next *Job, expectedStatus JobStatus) (bool, error)
	ListByUser(ctx context.Context, filter JobListFilter) ([]Job, int, error)
	ListByStatus(ctx context.Context, statuses []JobStatus, limit int) ([]Job, error)
	// ListTimedOut returns active jobs whose StartedAt+Timeout is before now.
	ListTimedOut(ctx context.Context, now time.Time) ([]Job, error)
	CountByStatus(ctx context.Context, userID string) (map[JobStatus]int, error)
	AverageCostSeconds(ctx context.Context, workflowRef string) (float64, int, error)
}
