package domain

import "time"

// JobType enumerates supported render job categories.
type JobType string

const (
	JobTypeFaceSwap JobType = "face_swap"
	JobTypeVideoGen JobType = "video_gen"
)

// Valid reports whether t is a known job type.
func (t JobType) Valid() bool {
	switch t {
	case JobTypeFaceSwap, JobTypeVideoGen:
		return true
	}
	return false
}

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending     JobStatus = "PENDING"
	JobStatusUploading   JobStatus = "UPLOADING"
	JobStatusProcessing  JobStatus = "PROCESSING"
	JobStatusDownloading JobStatus = "DOWNLOADING"
	JobStatusCompleted   JobStatus = "COMPLETED"
	JobStatusFailed      JobStatus = "FAILED"
	JobStatusCancelled   JobStatus = "CANCELLED"
	JobStatusTimeout     JobStatus = "TIMEOUT"
)

// ActiveStatuses lists the non-terminal states in lifecycle order.
var ActiveStatuses = []JobStatus{
	JobStatusPending,
	JobStatusUploading,
	JobStatusProcessing,
	JobStatusDownloading,
}

// InFlightStatuses are the states in which the provider holds a remote job.
var InFlightStatuses = []JobStatus{
	JobStatusProcessing,
	JobStatusDownloading,
}

// AllStatuses lists every state, used for reporting.
var AllStatuses = []JobStatus{
	JobStatusPending,
	JobStatusUploading,
	JobStatusProcessing,
	JobStatusDownloading,
	JobStatusCompleted,
	JobStatusFailed,
	JobStatusCancelled,
	JobStatusTimeout,
}

// Terminal reports whether no automatic transition leaves s.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled, JobStatusTimeout:
		return true
	}
	return false
}

// Valid reports whether s is a known state.
func (s JobStatus) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

const (
	DefaultMaxRetries = 3
	DefaultTimeout    = 30 * time.Minute
)

// JobOutput is the delivered render result. Only set on COMPLETED jobs.
type JobOutput struct {
	URL         string
	Kind        string
	CostSeconds int
	NodeID      string
}

// JobFailure describes why a job ended in FAILED or TIMEOUT.
type JobFailure struct {
	Message string
	Code    string
}

// Job is one request to composite a user's photo into a template video.
type Job struct {
	ID          string
	UserID      string
	OrderID     string
	TemplateID  string
	WorkflowRef string
	Type        JobType
	Status      JobStatus
	Progress    int

	InputResourceURL     string
	RemoteResourceHandle *string
	RemoteJobID          *string
	RemoteStatus         string

	Output  *JobOutput
	Failure *JobFailure

	RetryCount int
	MaxRetries int
	Timeout    time.Duration

	// Version increments on every persisted write and guards compare-and-set updates.
	Version int64

	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	cp.RemoteResourceHandle = cloneString(j.RemoteResourceHandle)
	cp.RemoteJobID = cloneString(j.RemoteJobID)
	cp.StartedAt = cloneTime(j.StartedAt)
	cp.CompletedAt = cloneTime(j.CompletedAt)
	if j.Output != nil {
		out := *j.Output
		cp.Output = &out
	}
	if j.Failure != nil {
		f := *j.Failure
		cp.Failure = &f
	}
	return &cp
}

// RemoteID returns the provider job id or "" when none was recorded.
func (j *Job) RemoteID() string {
	if j == nil || j.RemoteJobID == nil {
		return ""
	}
	return *j.RemoteJobID
}

// TimedOut reports whether an active job has exceeded its wall-clock budget.
// Jobs that never started are never timed out.
func (j *Job) TimedOut(now time.Time) bool {
	if j == nil || j.Status.Terminal() || j.StartedAt == nil {
		return false
	}
	timeout := j.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return now.Sub(*j.StartedAt) > timeout
}

// JobPage is one page of a user's jobs.
type JobPage struct {
	Items    []Job
	Total    int
	Page     int
	PageSize int
}

// JobListFilter narrows ListByUser queries.
type JobListFilter struct {
	UserID string
	Status *JobStatus
	Limit  int
	Offset int
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
