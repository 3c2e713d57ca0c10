package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"videoswap/internal/catalog"
	"videoswap/internal/domain"
	"videoswap/internal/infra"
	"videoswap/internal/jobs"
	"videoswap/internal/middleware"
	"videoswap/internal/providers/render"
)

// JobService is the job lifecycle surface the API exposes.
type JobService interface {
	CreateJob(ctx context.Context, p jobs.CreateJobParams) (string, error)
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	ListJobsForUser(ctx context.Context, userID string, status *domain.JobStatus, page, pageSize int) (*domain.JobPage, error)
	CancelJob(ctx context.Context, jobID, userID string) error
	RetryJob(ctx context.Context, jobID string) error
	Submit(ctx context.Context, jobID string, in jobs.SubmitInput) (*domain.Job, error)
	EstimateRemainingSeconds(ctx context.Context, workflowRef string) (int, error)
	GetStats(ctx context.Context, userID string) (map[domain.JobStatus]int, error)
}

// WorkflowLookup resolves a template's default workflow.
type WorkflowLookup interface {
	Workflow(templateID string) (catalog.Workflow, bool)
}

type App struct {
	Jobs      JobService
	Workflows WorkflowLookup
	Logger    *infra.Logger
	// MaxUploadBytes caps multipart photos on submit.
	MaxUploadBytes int64
	// Ready, when set, backs the health check.
	Ready func(ctx context.Context) error
}

func NewApp(svc JobService, workflows WorkflowLookup, logger *infra.Logger) *App {
	return &App{
		Jobs:           svc,
		Workflows:      workflows,
		Logger:         infra.LoggerOrDiscard(logger),
		MaxUploadBytes: 30 << 20,
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, kind, msg string) {
	a.json(w, code, errorBody{Error: kind, Message: msg})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

// fail maps domain and provider errors onto HTTP responses.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "job not found")
	case errors.Is(err, domain.ErrForbidden):
		a.error(w, http.StatusForbidden, "forbidden", "job belongs to another user")
	case errors.Is(err, domain.ErrNotRetryable):
		a.error(w, http.StatusConflict, "not_retryable", err.Error())
	case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrStaleUpdate):
		a.error(w, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, render.ErrUpload), errors.Is(err, render.ErrSubmit):
		a.error(w, http.StatusBadGateway, "provider_error", err.Error())
	default:
		a.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("http: unexpected error")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
