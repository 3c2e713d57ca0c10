package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"videoswap/internal/adapter/memstore"
	"videoswap/internal/domain"
	"videoswap/internal/providers/render"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeClient struct {
	mu sync.Mutex

	statuses  map[string]string
	queryErr  map[string]error
	outputs   map[string][]render.Output
	uploadErr error
	submitErr error

	uploads   []string
	submits   [][]render.NodeOverride
	cancelled []string
	nextID    int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		statuses: make(map[string]string),
		queryErr: make(map[string]error),
		outputs:  make(map[string][]render.Output),
	}
}

func (f *fakeClient) UploadResource(_ context.Context, data []byte, fileName string) (*render.UploadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	f.uploads = append(f.uploads, fileName)
	return &render.UploadResult{Handle: "api/" + fileName, Kind: "image"}, nil
}

func (f *fakeClient) SubmitJob(_ context.Context, _ string, overrides []render.NodeOverride) (*render.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.submits = append(f.submits, overrides)
	f.nextID++
	id := fmt.Sprintf("remote-%d", f.nextID)
	f.statuses[id] = render.StatusQueued
	return &render.SubmitResult{RemoteJobID: id, RemoteStatus: render.StatusQueued}, nil
}

func (f *fakeClient) QueryStatus(_ context.Context, remoteJobID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.queryErr[remoteJobID]; err != nil {
		return "", err
	}
	status, ok := f.statuses[remoteJobID]
	if !ok {
		return "", fmt.Errorf("%w: unknown task %s", render.ErrQuery, remoteJobID)
	}
	return status, nil
}

func (f *fakeClient) FetchOutputs(_ context.Context, remoteJobID string) ([]render.Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outputs[remoteJobID], nil
}

func (f *fakeClient) CancelRemoteJob(_ context.Context, remoteJobID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, remoteJobID)
	return true, nil
}

func (f *fakeClient) setStatus(remoteJobID, status string) {
	f.mu.Lock()
	f.statuses[remoteJobID] = status
	f.mu.Unlock()
}

func (f *fakeClient) cancelledIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancelled...)
}

type staticInputs struct {
	data []byte
	err  error
}

func (s staticInputs) Fetch(_ context.Context, location string) ([]byte, string, error) {
	if s.err != nil {
		return nil, "", s.err
	}
	return s.data, "photo.png", nil
}

type staticWorkflows map[string]string

func (w staticWorkflows) ImageNodeID(templateID, _ string) (string, bool) {
	node, ok := w[templateID]
	return node, ok
}

type harness struct {
	store   *memstore.Store
	clock   *fakeClock
	client  *fakeClient
	manager *Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:  memstore.New(),
		clock:  newFakeClock(),
		client: newFakeClient(),
	}
	seq := 0
	m, err := NewManager(Options{
		Repo:      h.store,
		Client:    h.client,
		Inputs:    staticInputs{data: []byte("png")},
		Workflows: staticWorkflows{"tmpl-1": "10"},
		Now:       h.clock.Now,
		NewID: func() string {
			seq++
			return fmt.Sprintf("job-%d", seq)
		},
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	h.manager = m
	return h
}

func (h *harness) create(t *testing.T, mutate func(*CreateJobParams)) string {
	t.Helper()
	p := CreateJobParams{
		UserID:           "user-1",
		OrderID:          "order-1",
		TemplateID:       "tmpl-1",
		Type:             domain.JobTypeFaceSwap,
		InputResourceURL: "orders/order-1/photo.png",
		WorkflowRef:      "wf-1",
	}
	if mutate != nil {
		mutate(&p)
	}
	id, err := h.manager.CreateJob(context.Background(), p)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	return id
}

// processing creates a job and drives it to PROCESSING with remote id remote-N.
func (h *harness) processing(t *testing.T) (*domain.Job, string) {
	t.Helper()
	id := h.create(t, nil)
	job, err := h.manager.Submit(context.Background(), id, SubmitInput{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.Status != domain.JobStatusProcessing {
		t.Fatalf("status after submit = %s", job.Status)
	}
	return job, job.RemoteID()
}

func (h *harness) get(t *testing.T, id string) *domain.Job {
	t.Helper()
	job, err := h.store.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID(%s): %v", id, err)
	}
	return job
}

func wantErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("error = %v, want %v", err, target)
	}
}

// wantProgress checks the progress each status mandates.
func wantProgress(t *testing.T, job *domain.Job) {
	t.Helper()
	want := map[domain.JobStatus]int{
		domain.JobStatusPending:     0,
		domain.JobStatusUploading:   10,
		domain.JobStatusDownloading: 80,
		domain.JobStatusCompleted:   100,
		domain.JobStatusFailed:      0,
		domain.JobStatusTimeout:     0,
	}
	if w, ok := want[job.Status]; ok && job.Progress != w {
		t.Fatalf("progress for %s = %d, want %d", job.Status, job.Progress, w)
	}
	if job.Status == domain.JobStatusProcessing && job.Progress != 30 && job.Progress != 50 {
		t.Fatalf("progress for PROCESSING = %d", job.Progress)
	}
}
