package jobs

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"videoswap/internal/domain"
	"videoswap/internal/providers/render"
)

// SubmitInput optionally carries the input bytes and the target node. When
// Data is empty the job's InputResourceURL is fetched.
type SubmitInput struct {
	Data        []byte
	FileName    string
	ImageNodeID string
}

// Submit runs the synchronous upload and submit path for a job.
//
// A PENDING job is first marked started. A job left in UPLOADING without a
// remote id by an earlier failed attempt is resumed. Provider errors are
// returned as render.ErrUpload or render.ErrSubmit and leave the job where it
// was; the timeout sweep ends jobs that are never resubmitted.
func (m *Manager) Submit(ctx context.Context, jobID string, in SubmitInput) (*domain.Job, error) {
	if m.client == nil {
		return nil, fmt.Errorf("jobs: submit: no render client configured")
	}
	job, err := m.repo.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	nodeID := strings.TrimSpace(in.ImageNodeID)
	if nodeID == "" && m.workflows != nil {
		nodeID, _ = m.workflows.ImageNodeID(job.TemplateID, job.WorkflowRef)
	}
	if nodeID == "" && job.Type == domain.JobTypeFaceSwap {
		return nil, fmt.Errorf("%w: no image node for template %s", domain.ErrValidation, job.TemplateID)
	}

	switch {
	case job.Status == domain.JobStatusPending:
		if job, err = m.MarkStarted(ctx, jobID); err != nil {
			return nil, err
		}
	case job.Status == domain.JobStatusUploading && job.RemoteID() == "":
		m.logger.Info().Str("job_id", jobID).Msg("jobs: resuming submission")
	default:
		return nil, invalidFrom(job, "submit")
	}

	var (
		overrides []render.NodeOverride
		handle    string
	)
	if nodeID != "" {
		data, fileName, err := m.loadInput(ctx, job, in)
		if err != nil {
			return job, err
		}
		uploaded, err := m.client.UploadResource(ctx, data, fileName)
		if err != nil {
			m.logger.Warn().Err(err).Str("job_id", jobID).Msg("jobs: upload failed")
			return job, err
		}
		handle = uploaded.Handle
		overrides = []render.NodeOverride{{NodeID: nodeID, FieldName: render.ImageField, FieldValue: handle}}
	}

	submitted, err := m.client.SubmitJob(ctx, job.WorkflowRef, overrides)
	if err != nil {
		m.logger.Warn().Err(err).Str("job_id", jobID).Msg("jobs: submit failed")
		return job, err
	}

	updated, err := m.MarkSubmitted(ctx, jobID, submitted.RemoteJobID, handle, submitted.RemoteStatus)
	if err != nil {
		// The job moved on while we were talking to the provider, usually a
		// cancel. Nothing references the remote job, so stop it.
		orphan := &domain.Job{ID: jobID, RemoteJobID: &submitted.RemoteJobID}
		m.cancelRemote(ctx, orphan)
		return nil, err
	}
	return updated, nil
}

func (m *Manager) loadInput(ctx context.Context, job *domain.Job, in SubmitInput) ([]byte, string, error) {
	if len(in.Data) > 0 {
		name := strings.TrimSpace(in.FileName)
		if name == "" {
			name = path.Base(job.InputResourceURL)
		}
		return in.Data, name, nil
	}
	if m.inputs == nil {
		return nil, "", fmt.Errorf("%w: no input data and no fetcher configured", render.ErrUpload)
	}
	data, name, err := m.inputs.Fetch(ctx, job.InputResourceURL)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, "", err
		}
		return nil, "", fmt.Errorf("%w: fetch input: %w", render.ErrUpload, err)
	}
	return data, name, nil
}
