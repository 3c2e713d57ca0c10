package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"videoswap/internal/domain"
)

const (
	FailureCodeRemote   = "REMOTE_FAILED"
	FailureCodeTimeout  = "TIMEOUT"
	FailureCodeNoOutput = "NO_OUTPUT"
	FailureCodeInvalid  = "INVALID_JOB"

	timeoutMessage      = "job exceeded its time budget"
	remoteFailedMessage = "rendering provider reported failure"
)

// mutation edits a private copy of the stored job. Returning false without an
// error means the stored state already reflects the update.
type mutation func(job *domain.Job, now time.Time) (bool, error)

// transition re-reads the job, applies fn, and commits with compare-and-set.
// A lost race re-reads and re-checks so preconditions always run against the
// latest committed state.
func (m *Manager) transition(ctx context.Context, jobID, op string, fn mutation) (*domain.Job, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		current, err := m.repo.GetByID(ctx, jobID)
		if err != nil {
			return nil, err
		}
		next := current.Clone()
		now := m.now()
		changed, err := fn(next, now)
		if err != nil {
			return current, err
		}
		if !changed {
			return current, nil
		}
		next.Version = current.Version + 1
		next.UpdatedAt = now

		ok, err := m.repo.CompareAndSwap(ctx, next, current.Status)
		if err != nil {
			return nil, fmt.Errorf("jobs: %s: %w", op, err)
		}
		if ok {
			m.logger.Info().
				Str("job_id", jobID).
				Str("op", op).
				Str("from", string(current.Status)).
				Str("to", string(next.Status)).
				Int("progress", next.Progress).
				Msg("jobs: transition")
			return next, nil
		}
		m.logger.Debug().Str("job_id", jobID).Str("op", op).Int("attempt", attempt+1).Msg("jobs: compare-and-set lost, reloading")
	}
	return nil, fmt.Errorf("%w: %s on job %s kept losing concurrent writes", domain.ErrStaleUpdate, op, jobID)
}

func staleTerminal(job *domain.Job, op string) error {
	return fmt.Errorf("%w: %s ignored, job %s is %s", domain.ErrStaleUpdate, op, job.ID, job.Status)
}

func invalidFrom(job *domain.Job, op string) error {
	return fmt.Errorf("%w: %s not allowed from %s", domain.ErrInvalidState, op, job.Status)
}

func applyFailure(job *domain.Job, status domain.JobStatus, failure domain.JobFailure, now time.Time, countRetry bool) {
	job.Status = status
	job.Progress = progressReset
	job.Failure = &failure
	job.Output = nil
	job.CompletedAt = &now
	if countRetry && job.RetryCount < job.MaxRetries {
		job.RetryCount++
	}
}

// MarkStarted moves a PENDING job to UPLOADING and starts its timeout clock.
func (m *Manager) MarkStarted(ctx context.Context, jobID string) (*domain.Job, error) {
	return m.transition(ctx, jobID, "mark_started", func(job *domain.Job, now time.Time) (bool, error) {
		if job.Status != domain.JobStatusPending {
			return false, invalidFrom(job, "mark_started")
		}
		job.Status = domain.JobStatusUploading
		job.Progress = progressUploading
		job.StartedAt = &now
		return true, nil
	})
}

// MarkSubmitted records the provider's ids and moves UPLOADING to PROCESSING.
// Replaying the same remote id is a no-op.
func (m *Manager) MarkSubmitted(ctx context.Context, jobID, remoteJobID, remoteHandle, remoteStatus string) (*domain.Job, error) {
	remoteJobID = strings.TrimSpace(remoteJobID)
	if remoteJobID == "" {
		return nil, fmt.Errorf("%w: remote job id is required", domain.ErrValidation)
	}
	return m.transition(ctx, jobID, "mark_submitted", func(job *domain.Job, _ time.Time) (bool, error) {
		if job.RemoteID() == remoteJobID && job.Status != domain.JobStatusUploading {
			return false, nil
		}
		if job.Status.Terminal() {
			return false, staleTerminal(job, "mark_submitted")
		}
		if job.Status != domain.JobStatusUploading {
			return false, invalidFrom(job, "mark_submitted")
		}
		job.Status = domain.JobStatusProcessing
		job.Progress = progressQueued
		job.RemoteJobID = &remoteJobID
		if handle := strings.TrimSpace(remoteHandle); handle != "" {
			job.RemoteResourceHandle = &handle
		}
		job.RemoteStatus = NormalizeRemoteStatus(remoteStatus)
		return true, nil
	})
}

// ObserveRemoteStatus applies a provider status poll result. Updates that
// would move the job backwards, or that target a different remote job, are
// rejected with domain.ErrStaleUpdate. Re-applying the current status is a no-op.
func (m *Manager) ObserveRemoteStatus(ctx context.Context, jobID, remoteJobID, raw string) (*domain.Job, error) {
	normalized := NormalizeRemoteStatus(raw)
	return m.transition(ctx, jobID, "observe_remote_status", func(job *domain.Job, now time.Time) (bool, error) {
		if job.Status.Terminal() {
			return false, staleTerminal(job, "observe "+normalized)
		}
		if job.Status != domain.JobStatusProcessing && job.Status != domain.JobStatusDownloading {
			return false, invalidFrom(job, "observe_remote_status")
		}
		if remoteJobID != "" && remoteJobID != job.RemoteID() {
			return false, fmt.Errorf("%w: remote job %s no longer belongs to job %s", domain.ErrStaleUpdate, remoteJobID, job.ID)
		}

		target, progress := MapRemoteStatus(normalized, job.Progress)
		if target == domain.JobStatusFailed {
			job.RemoteStatus = normalized
			applyFailure(job, domain.JobStatusFailed, domain.JobFailure{
				Message: remoteFailedMessage,
				Code:    FailureCodeRemote,
			}, now, true)
			return true, nil
		}

		switch {
		case statusRank(target) < statusRank(job.Status):
			return false, fmt.Errorf("%w: %s would regress job %s from %s", domain.ErrStaleUpdate, normalized, job.ID, job.Status)
		case target == job.Status && progress < job.Progress:
			return false, fmt.Errorf("%w: %s would lower progress of job %s", domain.ErrStaleUpdate, normalized, job.ID)
		case target == job.Status && progress == job.Progress && normalized == job.RemoteStatus:
			return false, nil
		}
		job.Status = target
		job.Progress = progress
		job.RemoteStatus = normalized
		return true, nil
	})
}

// MarkCompleted stores the delivered output. Replaying the same output on a
// completed job is a no-op.
func (m *Manager) MarkCompleted(ctx context.Context, jobID string, output domain.JobOutput) (*domain.Job, error) {
	if strings.TrimSpace(output.URL) == "" {
		return nil, fmt.Errorf("%w: output url is required", domain.ErrValidation)
	}
	return m.transition(ctx, jobID, "mark_completed", func(job *domain.Job, now time.Time) (bool, error) {
		if job.Status == domain.JobStatusCompleted && job.Output != nil && *job.Output == output {
			return false, nil
		}
		if job.Status.Terminal() {
			return false, staleTerminal(job, "mark_completed")
		}
		out := output
		job.Status = domain.JobStatusCompleted
		job.Progress = progressCompleted
		job.Output = &out
		job.Failure = nil
		job.CompletedAt = &now
		return true, nil
	})
}

// MarkFailed ends an active job as FAILED and counts one retry attempt.
// Replaying the same failure is a no-op.
func (m *Manager) MarkFailed(ctx context.Context, jobID, message, code string) (*domain.Job, error) {
	failure := domain.JobFailure{Message: strings.TrimSpace(message), Code: strings.TrimSpace(code)}
	if failure.Message == "" {
		failure.Message = "job failed"
	}
	return m.transition(ctx, jobID, "mark_failed", func(job *domain.Job, now time.Time) (bool, error) {
		if job.Status == domain.JobStatusFailed && job.Failure != nil && *job.Failure == failure {
			return false, nil
		}
		if job.Status.Terminal() {
			return false, staleTerminal(job, "mark_failed")
		}
		applyFailure(job, domain.JobStatusFailed, failure, now, true)
		return true, nil
	})
}

// MarkTimedOut moves an active job whose budget has elapsed to TIMEOUT.
// The deadline is re-checked against the stored job, so a job that finished
// since it was listed is left alone.
func (m *Manager) MarkTimedOut(ctx context.Context, jobID string) (*domain.Job, error) {
	return m.transition(ctx, jobID, "mark_timed_out", func(job *domain.Job, now time.Time) (bool, error) {
		if job.Status == domain.JobStatusTimeout {
			return false, nil
		}
		if job.Status.Terminal() {
			return false, staleTerminal(job, "mark_timed_out")
		}
		if !job.TimedOut(now) {
			return false, fmt.Errorf("%w: job %s is within its time budget", domain.ErrStaleUpdate, job.ID)
		}
		applyFailure(job, domain.JobStatusTimeout, domain.JobFailure{
			Message: timeoutMessage,
			Code:    FailureCodeTimeout,
		}, now, false)
		return true, nil
	})
}

// CancelJob cancels a non-terminal job on behalf of its owner and asks the
// provider to stop the remote job when one exists.
func (m *Manager) CancelJob(ctx context.Context, jobID, userID string) error {
	job, err := m.transition(ctx, jobID, "cancel", func(job *domain.Job, now time.Time) (bool, error) {
		if job.UserID != userID {
			return false, fmt.Errorf("%w: job %s belongs to another user", domain.ErrForbidden, job.ID)
		}
		if job.Status.Terminal() {
			return false, invalidFrom(job, "cancel")
		}
		job.Status = domain.JobStatusCancelled
		job.CompletedAt = &now
		return true, nil
	})
	if err != nil {
		return err
	}
	m.cancelRemote(ctx, job)
	return nil
}

// RetryJob returns a FAILED job with retries left to PENDING.
func (m *Manager) RetryJob(ctx context.Context, jobID string) error {
	_, err := m.transition(ctx, jobID, "retry", func(job *domain.Job, _ time.Time) (bool, error) {
		if job.Status != domain.JobStatusFailed {
			return false, fmt.Errorf("%w: job %s is %s", domain.ErrNotRetryable, job.ID, job.Status)
		}
		if job.RetryCount >= job.MaxRetries {
			return false, fmt.Errorf("%w: job %s used %d of %d retries", domain.ErrNotRetryable, job.ID, job.RetryCount, job.MaxRetries)
		}
		job.Status = domain.JobStatusPending
		job.Progress = progressPending
		job.Failure = nil
		job.Output = nil
		job.StartedAt = nil
		job.CompletedAt = nil
		job.RemoteJobID = nil
		job.RemoteResourceHandle = nil
		job.RemoteStatus = ""
		return true, nil
	})
	return err
}

// cancelRemote is best effort; the local state is already final.
func (m *Manager) cancelRemote(ctx context.Context, job *domain.Job) {
	remoteID := job.RemoteID()
	if m.client == nil || remoteID == "" {
		return
	}
	ok, err := m.client.CancelRemoteJob(ctx, remoteID)
	if err != nil || !ok {
		m.logger.Warn().Err(err).Str("job_id", job.ID).Str("remote_job_id", remoteID).Msg("jobs: remote cancel failed")
	}
}

// IsStale reports whether err is a discarded out-of-date update.
func IsStale(err error) bool {
	return errors.Is(err, domain.ErrStaleUpdate)
}
