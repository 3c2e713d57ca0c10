package jobs

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"videoswap/internal/domain"
)

const (
	progressPending     = 0
	progressUploading   = 10
	progressQueued      = 30
	progressRunning     = 50
	progressDownloading = 80
	progressCompleted   = 100
	progressReset       = 0
)

// remoteTarget is where a provider status moves a job.
type remoteTarget struct {
	status   domain.JobStatus
	progress int
}

// remoteStatusTable is the single place provider status strings meet local states.
var remoteStatusTable = map[string]remoteTarget{
	"QUEUED":  {status: domain.JobStatusProcessing, progress: progressQueued},
	"RUNNING": {status: domain.JobStatusProcessing, progress: progressRunning},
	"SUCCESS": {status: domain.JobStatusDownloading, progress: progressDownloading},
	"FAILED":  {status: domain.JobStatusFailed, progress: progressReset},
}

// NormalizeRemoteStatus trims and upper-cases a provider status string.
func NormalizeRemoteStatus(raw string) string {
	return cases.Upper(language.Und).String(strings.TrimSpace(raw))
}

// MapRemoteStatus maps a raw provider status onto a local state and progress.
// Unknown values keep the job PROCESSING at its current progress.
func MapRemoteStatus(raw string, currentProgress int) (domain.JobStatus, int) {
	if target, ok := remoteStatusTable[NormalizeRemoteStatus(raw)]; ok {
		return target.status, target.progress
	}
	return domain.JobStatusProcessing, currentProgress
}

// statusRank orders states along the happy path. Terminal states share the top rank.
func statusRank(s domain.JobStatus) int {
	switch s {
	case domain.JobStatusPending:
		return 0
	case domain.JobStatusUploading:
		return 1
	case domain.JobStatusProcessing:
		return 2
	case domain.JobStatusDownloading:
		return 3
	default:
		return 4
	}
}
