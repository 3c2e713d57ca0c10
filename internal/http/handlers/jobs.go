package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"videoswap/internal/domain"
	"videoswap/internal/jobs"
)

type createJobRequest struct {
	OrderID          string `json:"order_id"`
	TemplateID       string `json:"template_id"`
	JobType          string `json:"job_type"`
	InputResourceURL string `json:"input_resource_url"`
	WorkflowRef      string `json:"workflow_ref"`
	MaxRetries       int    `json:"max_retries"`
	TimeoutSeconds   int    `json:"timeout_seconds"`
}

type jobOutputView struct {
	URL         string `json:"url"`
	Kind        string `json:"kind"`
	CostSeconds int    `json:"cost_seconds"`
}

type jobErrorView struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type jobView struct {
	ID               string         `json:"id"`
	OrderID          string         `json:"order_id"`
	TemplateID       string         `json:"template_id"`
	JobType          string         `json:"job_type"`
	Status           string         `json:"status"`
	Progress         int            `json:"progress"`
	WorkflowRef      string         `json:"workflow_ref"`
	RemoteJobID      *string        `json:"remote_job_id"`
	Output           *jobOutputView `json:"output,omitempty"`
	Error            *jobErrorView  `json:"error,omitempty"`
	RetryCount       int            `json:"retry_count"`
	MaxRetries       int            `json:"max_retries"`
	EstimatedSeconds *int           `json:"estimated_seconds,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	StartedAt        *time.Time     `json:"started_at"`
	CompletedAt      *time.Time     `json:"completed_at"`
}

func toJobView(j *domain.Job) jobView {
	v := jobView{
		ID:          j.ID,
		OrderID:     j.OrderID,
		TemplateID:  j.TemplateID,
		JobType:     string(j.Type),
		Status:      string(j.Status),
		Progress:    j.Progress,
		WorkflowRef: j.WorkflowRef,
		RemoteJobID: j.RemoteJobID,
		RetryCount:  j.RetryCount,
		MaxRetries:  j.MaxRetries,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
	if j.Status == domain.JobStatusCompleted && j.Output != nil {
		v.Output = &jobOutputView{URL: j.Output.URL, Kind: j.Output.Kind, CostSeconds: j.Output.CostSeconds}
	}
	if j.Failure != nil {
		v.Error = &jobErrorView{Message: j.Failure.Message, Code: j.Failure.Code}
	}
	return v
}

func (a *App) JobsCreate(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if strings.TrimSpace(req.WorkflowRef) == "" && a.Workflows != nil {
		if wf, ok := a.Workflows.Workflow(req.TemplateID); ok {
			req.WorkflowRef = wf.Ref
			if req.JobType == "" {
				req.JobType = wf.JobType
			}
		}
	}
	if req.TimeoutSeconds < 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "timeout_seconds must not be negative")
		return
	}
	id, err := a.Jobs.CreateJob(r.Context(), jobs.CreateJobParams{
		UserID:           userID,
		OrderID:          req.OrderID,
		TemplateID:       req.TemplateID,
		Type:             domain.JobType(req.JobType),
		InputResourceURL: req.InputResourceURL,
		WorkflowRef:      req.WorkflowRef,
		MaxRetries:       req.MaxRetries,
		Timeout:          time.Duration(req.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusCreated, map[string]string{"job_id": id, "status": string(domain.JobStatusPending)})
}

func (a *App) JobsList(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	q := r.URL.Query()
	var status *domain.JobStatus
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		s := domain.JobStatus(strings.ToUpper(raw))
		status = &s
	}
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("page_size"))

	result, err := a.Jobs.ListJobsForUser(r.Context(), userID, status, page, pageSize)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	items := make([]jobView, 0, len(result.Items))
	for i := range result.Items {
		items = append(items, toJobView(&result.Items[i]))
	}
	a.json(w, http.StatusOK, map[string]any{
		"items":     items,
		"total":     result.Total,
		"page":      result.Page,
		"page_size": result.PageSize,
	})
}

func (a *App) JobGet(w http.ResponseWriter, r *http.Request) {
	job, ok := a.loadJobForUser(w, r)
	if !ok {
		return
	}
	view := toJobView(job)
	if !job.Status.Terminal() {
		if eta, err := a.Jobs.EstimateRemainingSeconds(r.Context(), job.WorkflowRef); err == nil {
			view.EstimatedSeconds = &eta
		} else {
			a.Logger.Warn().Err(err).Str("job_id", job.ID).Msg("http: estimate failed")
		}
	}
	a.json(w, http.StatusOK, view)
}

func (a *App) JobCancel(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobID := chi.URLParam(r, "job_id")
	if err := a.Jobs.CancelJob(r.Context(), jobID, userID); err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]string{"job_id": jobID, "status": string(domain.JobStatusCancelled)})
}

func (a *App) JobRetry(w http.ResponseWriter, r *http.Request) {
	job, ok := a.loadJobForUser(w, r)
	if !ok {
		return
	}
	if err := a.Jobs.RetryJob(r.Context(), job.ID); err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]string{"job_id": job.ID, "status": string(domain.JobStatusPending)})
}

// JobSubmit uploads the job's input and starts the remote workflow. The
// photo may come as a multipart "photo" field; otherwise the job's input
// resource is fetched.
func (a *App) JobSubmit(w http.ResponseWriter, r *http.Request) {
	job, ok := a.loadJobForUser(w, r)
	if !ok {
		return
	}
	var in jobs.SubmitInput
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		r.Body = http.MaxBytesReader(w, r.Body, a.MaxUploadBytes+1<<20)
		if err := r.ParseMultipartForm(8 << 20); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				a.error(w, http.StatusRequestEntityTooLarge, "too_large", "photo exceeds upload limit")
				return
			}
			a.error(w, http.StatusBadRequest, "bad_request", "invalid multipart payload")
			return
		}
		file, header, err := r.FormFile("photo")
		if err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "photo field required")
			return
		}
		defer file.Close()
		if header.Size > a.MaxUploadBytes {
			a.error(w, http.StatusRequestEntityTooLarge, "too_large", "photo exceeds upload limit")
			return
		}
		data, err := io.ReadAll(file)
		if err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "failed to read photo")
			return
		}
		in = jobs.SubmitInput{Data: data, FileName: header.Filename, ImageNodeID: r.FormValue("image_node_id")}
	}

	updated, err := a.Jobs.Submit(r.Context(), job.ID, in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, toJobView(updated))
}

func (a *App) WorkflowEstimate(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "workflow_ref")
	eta, err := a.Jobs.EstimateRemainingSeconds(r.Context(), ref)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"workflow_ref": ref, "estimated_seconds": eta})
}

// loadJobForUser hides other users' jobs behind a 404.
func (a *App) loadJobForUser(w http.ResponseWriter, r *http.Request) (*domain.Job, bool) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return nil, false
	}
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return nil, false
	}
	job, err := a.Jobs.GetJob(r.Context(), jobID)
	if err != nil {
		a.fail(w, r, err)
		return nil, false
	}
	if job.UserID != userID {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return nil, false
	}
	return job, true
}
