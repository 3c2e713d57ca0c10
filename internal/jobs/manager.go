// Package jobs owns the render job state machine and the reconciliation
// sweep that drives in-flight jobs against the rendering provider.
package jobs

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"videoswap/internal/domain"
	"videoswap/internal/infra"
	"videoswap/internal/providers/render"
)

const (
	// DefaultEstimateSeconds is returned when a workflow has no completed history.
	DefaultEstimateSeconds = 180

	defaultPageSize    = 20
	maxPageSize        = 100
	defaultActiveLimit = 100
	maxCASAttempts     = 5
)

// RenderClient is the subset of the rendering provider the manager and sweeper drive.
type RenderClient interface {
	UploadResource(ctx context.Context, data []byte, fileName string) (*render.UploadResult, error)
	SubmitJob(ctx context.Context, workflowRef string, overrides []render.NodeOverride) (*render.SubmitResult, error)
	QueryStatus(ctx context.Context, remoteJobID string) (string, error)
	FetchOutputs(ctx context.Context, remoteJobID string) ([]render.Output, error)
	CancelRemoteJob(ctx context.Context, remoteJobID string) (bool, error)
}

// InputFetcher loads a job's input resource so it can be uploaded to the provider.
type InputFetcher interface {
	Fetch(ctx context.Context, location string) (data []byte, fileName string, err error)
}

// WorkflowResolver returns the node that receives the uploaded image for a job.
type WorkflowResolver interface {
	ImageNodeID(templateID, workflowRef string) (string, bool)
}

// Options configures a Manager.
type Options struct {
	Repo      domain.JobRepository
	Client    RenderClient
	Inputs    InputFetcher
	Workflows WorkflowResolver
	Logger    *infra.Logger
	Now       func() time.Time
	NewID     func() string
}

// Manager is the only writer of job status. Every write re-reads the stored
// job and commits through a compare-and-set on status and version.
type Manager struct {
	repo      domain.JobRepository
	client    RenderClient
	inputs    InputFetcher
	workflows WorkflowResolver
	logger    *infra.Logger
	now       func() time.Time
	newID     func() string
}

// NewManager wires a Manager. Repo is required; Client, Inputs and Workflows
// are only needed for Submit and remote cancellation.
func NewManager(opts Options) (*Manager, error) {
	if opts.Repo == nil {
		return nil, fmt.Errorf("jobs: repository is required")
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Manager{
		repo:      opts.Repo,
		client:    opts.Client,
		inputs:    opts.Inputs,
		workflows: opts.Workflows,
		logger:    infra.LoggerOrDiscard(opts.Logger),
		now:       now,
		newID:     newID,
	}, nil
}

// CreateJobParams are the caller-supplied fields of a new job.
type CreateJobParams struct {
	UserID           string
	OrderID          string
	TemplateID       string
	Type             domain.JobType
	InputResourceURL string
	WorkflowRef      string
	// MaxRetries and Timeout fall back to package defaults when zero.
	MaxRetries int
	Timeout    time.Duration
}

func (p CreateJobParams) validate() error {
	var missing []string
	for name, v := range map[string]string{
		"user_id":            p.UserID,
		"order_id":           p.OrderID,
		"template_id":        p.TemplateID,
		"input_resource_url": p.InputResourceURL,
		"workflow_ref":       p.WorkflowRef,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: missing %s", domain.ErrValidation, strings.Join(missing, ", "))
	}
	if p.Type != "" && !p.Type.Valid() {
		return fmt.Errorf("%w: unknown job type %q", domain.ErrValidation, p.Type)
	}
	if p.MaxRetries < 0 || p.Timeout < 0 {
		return fmt.Errorf("%w: max_retries and timeout must not be negative", domain.ErrValidation)
	}
	return nil
}

// CreateJob persists a PENDING job and returns its id.
func (m *Manager) CreateJob(ctx context.Context, p CreateJobParams) (string, error) {
	if err := p.validate(); err != nil {
		return "", err
	}
	now := m.now()
	job := &domain.Job{
		ID:               m.newID(),
		UserID:           strings.TrimSpace(p.UserID),
		OrderID:          strings.TrimSpace(p.OrderID),
		TemplateID:       strings.TrimSpace(p.TemplateID),
		WorkflowRef:      strings.TrimSpace(p.WorkflowRef),
		Type:             p.Type,
		Status:           domain.JobStatusPending,
		Progress:         progressPending,
		InputResourceURL: strings.TrimSpace(p.InputResourceURL),
		MaxRetries:       p.MaxRetries,
		Timeout:          p.Timeout,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if job.Type == "" {
		job.Type = domain.JobTypeFaceSwap
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = domain.DefaultMaxRetries
	}
	if job.Timeout == 0 {
		job.Timeout = domain.DefaultTimeout
	}
	if err := m.repo.Create(ctx, job); err != nil {
		return "", fmt.Errorf("jobs: create: %w", err)
	}
	m.logger.Info().
		Str("job_id", job.ID).
		Str("user_id", job.UserID).
		Str("workflow", job.WorkflowRef).
		Msg("jobs: created")
	return job.ID, nil
}

// GetJob returns the last committed state of a job.
func (m *Manager) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	return m.repo.GetByID(ctx, jobID)
}

// ListJobsForUser returns one page of a user's jobs, newest first. Pages start at 1.
func (m *Manager) ListJobsForUser(ctx context.Context, userID string, status *domain.JobStatus, page, pageSize int) (*domain.JobPage, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user_id is required", domain.ErrValidation)
	}
	if status != nil && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, *status)
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	items, total, err := m.repo.ListByUser(ctx, domain.JobListFilter{
		UserID: userID,
		Status: status,
		Limit:  pageSize,
		Offset: (page - 1) * pageSize,
	})
	if err != nil {
		return nil, err
	}
	return &domain.JobPage{Items: items, Total: total, Page: page, PageSize: pageSize}, nil
}

// ListActiveJobs returns up to limit non-terminal jobs, oldest first.
func (m *Manager) ListActiveJobs(ctx context.Context, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = defaultActiveLimit
	}
	return m.repo.ListByStatus(ctx, domain.ActiveStatuses, limit)
}

// ListInFlightJobs returns up to limit jobs the provider is working on,
// oldest first. Jobs not yet submitted never take a slot.
func (m *Manager) ListInFlightJobs(ctx context.Context, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = defaultActiveLimit
	}
	return m.repo.ListByStatus(ctx, domain.InFlightStatuses, limit)
}

// ListPendingJobs returns up to limit PENDING jobs, oldest first.
func (m *Manager) ListPendingJobs(ctx context.Context, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = defaultActiveLimit
	}
	return m.repo.ListByStatus(ctx, []domain.JobStatus{domain.JobStatusPending}, limit)
}

// ListTimedOutJobs returns active jobs whose wall-clock budget has elapsed.
func (m *Manager) ListTimedOutJobs(ctx context.Context) ([]domain.Job, error) {
	return m.repo.ListTimedOut(ctx, m.now())
}

// EstimateRemainingSeconds is the mean cost of the workflow's completed jobs,
// or DefaultEstimateSeconds without history. For display only.
func (m *Manager) EstimateRemainingSeconds(ctx context.Context, workflowRef string) (int, error) {
	avg, n, err := m.repo.AverageCostSeconds(ctx, workflowRef)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return DefaultEstimateSeconds, nil
	}
	return int(math.Round(avg)), nil
}

// GetStats counts jobs by status. An empty userID aggregates every user.
func (m *Manager) GetStats(ctx context.Context, userID string) (map[domain.JobStatus]int, error) {
	counts, err := m.repo.CountByStatus(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make(map[domain.JobStatus]int, len(domain.AllStatuses))
	for _, s := range domain.AllStatuses {
		out[s] = counts[s]
	}
	return out, nil
}
