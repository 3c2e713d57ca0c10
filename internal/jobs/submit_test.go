package jobs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"videoswap/internal/domain"
	"videoswap/internal/providers/render"
)

func TestSubmitUploadsAndInjectsHandle(t *testing.T) {
	h := newHarness(t)
	id := h.create(t, nil)

	job, err := h.manager.Submit(context.Background(), id, SubmitInput{Data: []byte("img"), FileName: "me.jpg"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.Status != domain.JobStatusProcessing || job.Progress != 30 || job.StartedAt == nil {
		t.Fatalf("job = %+v", job)
	}
	if job.RemoteResourceHandle == nil || *job.RemoteResourceHandle != "api/me.jpg" {
		t.Fatalf("handle = %v", job.RemoteResourceHandle)
	}
	if len(h.client.submits) != 1 {
		t.Fatalf("submits = %d", len(h.client.submits))
	}
	override := h.client.submits[0][0]
	if override.NodeID != "10" || override.FieldName != render.ImageField || override.FieldValue != "api/me.jpg" {
		t.Fatalf("override = %+v", override)
	}
}

func TestSubmitFetchesInputWhenNoData(t *testing.T) {
	h := newHarness(t)
	id := h.create(t, nil)
	if _, err := h.manager.Submit(context.Background(), id, SubmitInput{}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(h.client.uploads) != 1 || h.client.uploads[0] != "photo.png" {
		t.Fatalf("uploads = %v", h.client.uploads)
	}
}

func TestSubmitUploadFailureLeavesJobResumable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.create(t, nil)
	h.client.uploadErr = fmt.Errorf("%w: provider returned code 805", render.ErrUpload)

	_, err := h.manager.Submit(ctx, id, SubmitInput{})
	wantErr(t, err, render.ErrUpload)
	stuck := h.get(t, id)
	if stuck.Status != domain.JobStatusUploading || stuck.RemoteJobID != nil {
		t.Fatalf("after failed upload = %+v", stuck)
	}

	h.client.uploadErr = nil
	job, err := h.manager.Submit(ctx, id, SubmitInput{})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if job.Status != domain.JobStatusProcessing {
		t.Fatalf("resubmitted status = %s", job.Status)
	}
	if !job.StartedAt.Equal(*stuck.StartedAt) {
		t.Fatalf("resume restarted the timeout clock")
	}
}

func TestSubmitErrorSurfaces(t *testing.T) {
	h := newHarness(t)
	id := h.create(t, nil)
	h.client.submitErr = fmt.Errorf("%w: workflow busy", render.ErrSubmit)

	_, err := h.manager.Submit(context.Background(), id, SubmitInput{})
	wantErr(t, err, render.ErrSubmit)
	if got := h.get(t, id); got.RemoteJobID != nil {
		t.Fatalf("remote id recorded on failed submit")
	}
}

func TestSubmitInputFetchFailure(t *testing.T) {
	h := newHarness(t)
	h.manager.inputs = staticInputs{err: errors.New("gone")}
	id := h.create(t, nil)

	_, err := h.manager.Submit(context.Background(), id, SubmitInput{})
	wantErr(t, err, render.ErrUpload)
	if len(h.client.uploads) != 0 {
		t.Fatalf("upload attempted without input")
	}
}

func TestSubmitPreconditions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	unknown := h.create(t, func(p *CreateJobParams) { p.TemplateID = "tmpl-unknown" })
	_, err := h.manager.Submit(ctx, unknown, SubmitInput{})
	wantErr(t, err, domain.ErrValidation)
	if got := h.get(t, unknown); got.Status != domain.JobStatusPending {
		t.Fatalf("validation failure moved job to %s", got.Status)
	}

	job, _ := h.processing(t)
	_, err = h.manager.Submit(ctx, job.ID, SubmitInput{})
	wantErr(t, err, domain.ErrInvalidState)

	_, err = h.manager.Submit(ctx, "missing", SubmitInput{})
	wantErr(t, err, domain.ErrNotFound)
}

func TestSubmitVideoGenWithoutImageNode(t *testing.T) {
	h := newHarness(t)
	id := h.create(t, func(p *CreateJobParams) {
		p.Type = domain.JobTypeVideoGen
		p.TemplateID = "tmpl-text"
	})
	job, err := h.manager.Submit(context.Background(), id, SubmitInput{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(h.client.uploads) != 0 || len(h.client.submits[0]) != 0 {
		t.Fatalf("expected unmodified workflow run, uploads=%v submits=%v", h.client.uploads, h.client.submits)
	}
	if job.RemoteResourceHandle != nil {
		t.Fatalf("handle recorded without upload")
	}
}

// cancellingRepo cancels the job between the provider call and MarkSubmitted.
type cancellingRepo struct {
	domain.JobRepository
	manager *Manager
	armed   bool
}

func (r *cancellingRepo) CompareAndSwap(ctx context.Context, next *domain.Job, expected domain.JobStatus) (bool, error) {
	if r.armed && next.Status == domain.JobStatusProcessing {
		r.armed = false
		if err := r.manager.CancelJob(ctx, next.ID, next.UserID); err != nil {
			return false, err
		}
	}
	return r.JobRepository.CompareAndSwap(ctx, next, expected)
}

func TestSubmitCancelsOrphanedRemoteJob(t *testing.T) {
	h := newHarness(t)
	repo := &cancellingRepo{JobRepository: h.store, manager: h.manager}
	h.manager.repo = repo
	id := h.create(t, nil)
	repo.armed = true

	_, err := h.manager.Submit(context.Background(), id, SubmitInput{})
	wantErr(t, err, domain.ErrStaleUpdate)
	if got := h.get(t, id); got.Status != domain.JobStatusCancelled {
		t.Fatalf("status = %s", got.Status)
	}
	if ids := h.client.cancelledIDs(); len(ids) != 1 || ids[0] != "remote-1" {
		t.Fatalf("remote cancels = %v", ids)
	}
}
