// Package memstore is an in-process domain.JobRepository used by tests and by
// the worker when STORE_DRIVER=memory.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"videoswap/internal/domain"
)

// entry guards a single job. Writers lock only the entry they touch.
type entry struct {
	mu  sync.Mutex
	job *domain.Job
}

// Store keeps jobs in memory. Safe for concurrent access.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// New returns an empty Store.
func New() *Store {
	return &Store{entries: make(map[string]*entry)}
}

func (s *Store) lookup(id string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return e, ok
}

// snapshot copies every job under its own entry lock.
func (s *Store) snapshot() []domain.Job {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	jobs := make([]domain.Job, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		jobs = append(jobs, *e.job.Clone())
		e.mu.Unlock()
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs
}

// Create inserts a new job record.
func (s *Store) Create(ctx context.Context, job *domain.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[job.ID]; exists {
		return fmt.Errorf("memstore: job %s already exists", job.ID)
	}
	s.entries[job.ID] = &entry{job: job.Clone()}
	return nil
}

// GetByID fetches a job by its identifier.
func (s *Store) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, ok := s.lookup(jobID)
	if !ok {
		return nil, domain.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job.Clone(), nil
}

// CompareAndSwap replaces the stored job when status and version still match.
func (s *Store) CompareAndSwap(ctx context.Context, next *domain.Job, expectedStatus domain.JobStatus) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	e, ok := s.lookup(next.ID)
	if !ok {
		return false, domain.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.job.Status != expectedStatus || e.job.Version != next.Version-1 {
		return false, nil
	}
	e.job = next.Clone()
	return true, nil
}

// ListByUser returns one page of a user's jobs, newest first, plus the total count.
func (s *Store) ListByUser(ctx context.Context, filter domain.JobListFilter) ([]domain.Job, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	all := s.snapshot()
	matched := make([]domain.Job, 0)
	for i := len(all) - 1; i >= 0; i-- {
		j := all[i]
		if j.UserID != filter.UserID {
			continue
		}
		if filter.Status != nil && j.Status != *filter.Status {
			continue
		}
		matched = append(matched, j)
	}
	total := len(matched)
	if filter.Offset >= total {
		return []domain.Job{}, total, nil
	}
	end := total
	if filter.Limit > 0 && filter.Offset+filter.Limit < end {
		end = filter.Offset + filter.Limit
	}
	return matched[filter.Offset:end], total, nil
}

// ListByStatus returns up to limit jobs in any of statuses, oldest first.
func (s *Store) ListByStatus(ctx context.Context, statuses []domain.JobStatus, limit int) ([]domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	wanted := make(map[domain.JobStatus]struct{}, len(statuses))
	for _, st := range statuses {
		wanted[st] = struct{}{}
	}
	out := make([]domain.Job, 0)
	for _, j := range s.snapshot() {
		if _, ok := wanted[j.Status]; !ok {
			continue
		}
		out = append(out, j)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ListTimedOut returns active jobs whose StartedAt+Timeout is before now.
func (s *Store) ListTimedOut(ctx context.Context, now time.Time) ([]domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]domain.Job, 0)
	for _, j := range s.snapshot() {
		if j.TimedOut(now) {
			out = append(out, j)
		}
	}
	return out, nil
}

// CountByStatus aggregates job counts per status. An empty userID counts all jobs.
func (s *Store) CountByStatus(ctx context.Context, userID string) (map[domain.JobStatus]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	counts := make(map[domain.JobStatus]int)
	for _, j := range s.snapshot() {
		if userID != "" && j.UserID != userID {
			continue
		}
		counts[j.Status]++
	}
	return counts, nil
}

// AverageCostSeconds averages Output.CostSeconds over the workflow's completed jobs.
func (s *Store) AverageCostSeconds(ctx context.Context, workflowRef string) (float64, int, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	var sum, n int
	for _, j := range s.snapshot() {
		if j.WorkflowRef != workflowRef || j.Status != domain.JobStatusCompleted || j.Output == nil {
			continue
		}
		sum += j.Output.CostSeconds
		n++
	}
	if n == 0 {
		return 0, 0, nil
	}
	return float64(sum) / float64(n), n, nil
}

var _ domain.JobRepository = (*Store)(nil)
