package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"videoswap/internal/domain"
	"videoswap/internal/infra"
	"videoswap/internal/providers/render"
)

const (
	defaultSweepBatch       = 100
	defaultSweepConcurrency = 4
	defaultLockTTL          = time.Minute
)

// SweeperOptions configures a Sweeper.
type SweeperOptions struct {
	Manager     *Manager
	Client      RenderClient
	Locker      Locker
	Logger      *infra.Logger
	BatchSize   int
	Concurrency int
	LockTTL     time.Duration
	// SubmitPending makes each tick run Submit for PENDING jobs.
	SubmitPending bool
}

// Sweeper reconciles active jobs with the provider. It keeps no state
// between ticks; everything is recomputed from the store.
type Sweeper struct {
	manager       *Manager
	client        RenderClient
	locker        Locker
	logger        *infra.Logger
	batchSize     int
	concurrency   int
	lockTTL       time.Duration
	submitPending bool
}

// TickReport summarizes one reconciliation pass.
type TickReport struct {
	Skipped   bool
	Scanned   int
	Observed  int
	Submitted int
	Completed int
	Failed    int
	TimedOut  int
	Errors    int
}

// NewSweeper validates opts and applies defaults. Manager and Client are required.
func NewSweeper(opts SweeperOptions) (*Sweeper, error) {
	if opts.Manager == nil {
		return nil, fmt.Errorf("jobs: sweeper needs a manager")
	}
	if opts.Client == nil {
		return nil, fmt.Errorf("jobs: sweeper needs a render client")
	}
	s := &Sweeper{
		manager:       opts.Manager,
		client:        opts.Client,
		locker:        opts.Locker,
		logger:        infra.LoggerOrDiscard(opts.Logger),
		batchSize:     opts.BatchSize,
		concurrency:   opts.Concurrency,
		lockTTL:       opts.LockTTL,
		submitPending: opts.SubmitPending,
	}
	if s.batchSize <= 0 {
		s.batchSize = defaultSweepBatch
	}
	if s.concurrency <= 0 {
		s.concurrency = defaultSweepConcurrency
	}
	if s.lockTTL <= 0 {
		s.lockTTL = defaultLockTTL
	}
	return s, nil
}

type tickCounters struct {
	observed, submitted, completed, failed, timedOut, errors atomic.Int64
}

func (c *tickCounters) report(scanned int) TickReport {
	return TickReport{
		Scanned:   scanned,
		Observed:  int(c.observed.Load()),
		Submitted: int(c.submitted.Load()),
		Completed: int(c.completed.Load()),
		Failed:    int(c.failed.Load()),
		TimedOut:  int(c.timedOut.Load()),
		Errors:    int(c.errors.Load()),
	}
}

// Tick runs one reconciliation pass: poll every in-flight job, submit
// PENDING jobs when enabled, then time out jobs past their budget. Polling and
// submission use separate batches so jobs that cannot be submitted never
// crowd out jobs the provider is working on. Per-job failures are logged and
// counted, never returned.
func (s *Sweeper) Tick(ctx context.Context) TickReport {
	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, s.lockTTL)
		if err != nil {
			if !errors.Is(err, ErrLockHeld) {
				s.logger.Warn().Err(err).Msg("sweeper: lock unavailable, skipping tick")
			}
			return TickReport{Skipped: true}
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn().Err(err).Msg("sweeper: lock release failed")
			}
		}()
	}

	var counters tickCounters
	inFlight, err := s.manager.ListInFlightJobs(ctx, s.batchSize)
	if err != nil {
		s.logger.Error().Err(err).Msg("sweeper: list in-flight jobs failed")
		counters.errors.Add(1)
	}
	s.each(ctx, inFlight, &counters, s.reconcile)

	var pending []domain.Job
	if s.submitPending {
		pending, err = s.manager.ListPendingJobs(ctx, s.batchSize)
		if err != nil {
			s.logger.Error().Err(err).Msg("sweeper: list pending jobs failed")
			counters.errors.Add(1)
		}
		s.each(ctx, pending, &counters, s.submit)
	}

	s.sweepTimeouts(ctx, &counters)

	report := counters.report(len(inFlight) + len(pending))
	s.logger.Info().
		Int("scanned", report.Scanned).
		Int("observed", report.Observed).
		Int("submitted", report.Submitted).
		Int("completed", report.Completed).
		Int("failed", report.Failed).
		Int("timed_out", report.TimedOut).
		Int("errors", report.Errors).
		Msg("sweeper: tick done")
	return report
}

// each runs fn for every job with at most s.concurrency in flight.
func (s *Sweeper) each(ctx context.Context, batch []domain.Job, c *tickCounters, fn func(context.Context, *domain.Job, *tickCounters)) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := range batch {
		job := batch[i]
		g.Go(func() error {
			fn(gctx, &job, c)
			return nil
		})
	}
	_ = g.Wait()
}

// submit runs the upload and submit path for a PENDING job. A job rejected
// before it starts would stay PENDING forever, so it is failed instead.
func (s *Sweeper) submit(ctx context.Context, job *domain.Job, c *tickCounters) {
	log := s.logger.With().Str("job_id", job.ID).Str("status", string(job.Status)).Logger()
	if _, err := s.manager.Submit(ctx, job.ID, SubmitInput{}); err != nil {
		if errors.Is(err, domain.ErrValidation) {
			if _, ferr := s.manager.MarkFailed(ctx, job.ID, err.Error(), FailureCodeInvalid); ferr != nil {
				s.recordErr(&log, c, ferr, "mark invalid job failed")
				return
			}
			log.Warn().Err(err).Msg("sweeper: job cannot be submitted, marked failed")
			c.failed.Add(1)
			return
		}
		s.recordErr(&log, c, err, "submit failed")
		return
	}
	c.submitted.Add(1)
}

func (s *Sweeper) reconcile(ctx context.Context, job *domain.Job, c *tickCounters) {
	log := s.logger.With().Str("job_id", job.ID).Str("status", string(job.Status)).Logger()

	remoteID := job.RemoteID()
	if remoteID == "" {
		s.recordErr(&log, c, fmt.Errorf("%w: in-flight job has no remote id", domain.ErrInvalidState), "poll skipped")
		return
	}

	raw, err := s.client.QueryStatus(ctx, remoteID)
	if err != nil {
		// Unknown, not failed. Try again next tick.
		s.recordErr(&log, c, err, "status query failed")
		return
	}
	updated, err := s.manager.ObserveRemoteStatus(ctx, job.ID, remoteID, raw)
	if err != nil {
		s.recordErr(&log, c, err, "observe failed")
		return
	}
	c.observed.Add(1)

	switch updated.Status {
	case domain.JobStatusFailed:
		c.failed.Add(1)
	case domain.JobStatusDownloading:
		s.complete(ctx, &log, updated, c)
	}
}

// complete fetches outputs for a job the provider reported done.
func (s *Sweeper) complete(ctx context.Context, log *infra.Logger, job *domain.Job, c *tickCounters) {
	outputs, err := s.client.FetchOutputs(ctx, job.RemoteID())
	if err != nil {
		s.recordErr(log, c, err, "fetch outputs failed")
		return
	}
	out, ok := pickOutput(outputs)
	if !ok {
		if _, err := s.manager.MarkFailed(ctx, job.ID, "provider returned no outputs", FailureCodeNoOutput); err != nil {
			s.recordErr(log, c, err, "mark failed")
			return
		}
		c.failed.Add(1)
		return
	}
	if _, err := s.manager.MarkCompleted(ctx, job.ID, out); err != nil {
		s.recordErr(log, c, err, "mark completed failed")
		return
	}
	c.completed.Add(1)
}

func (s *Sweeper) sweepTimeouts(ctx context.Context, c *tickCounters) {
	expired, err := s.manager.ListTimedOutJobs(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("sweeper: list timed out jobs failed")
		c.errors.Add(1)
		return
	}
	for i := range expired {
		log := s.logger.With().Str("job_id", expired[i].ID).Logger()
		job, err := s.manager.MarkTimedOut(ctx, expired[i].ID)
		if err != nil {
			s.recordErr(&log, c, err, "mark timed out failed")
			continue
		}
		if job.Status == domain.JobStatusTimeout {
			c.timedOut.Add(1)
			s.manager.cancelRemote(ctx, job)
		}
	}
}

// recordErr logs a per-job error. Stale updates are expected under races
// and only logged at debug.
func (s *Sweeper) recordErr(log *infra.Logger, c *tickCounters, err error, msg string) {
	if IsStale(err) {
		log.Debug().Err(err).Msg("sweeper: " + msg)
		return
	}
	c.errors.Add(1)
	log.Warn().Err(err).Msg("sweeper: " + msg)
}

// pickOutput prefers a video output and falls back to the first one.
func pickOutput(outputs []render.Output) (domain.JobOutput, bool) {
	if len(outputs) == 0 {
		return domain.JobOutput{}, false
	}
	chosen := outputs[0]
	for _, o := range outputs {
		if render.IsVideo(o.Kind) && o.URL != "" {
			chosen = o
			break
		}
	}
	if chosen.URL == "" {
		return domain.JobOutput{}, false
	}
	return domain.JobOutput{
		URL:         chosen.URL,
		Kind:        chosen.Kind,
		CostSeconds: chosen.CostSeconds,
		NodeID:      chosen.NodeID,
	}, true
}
