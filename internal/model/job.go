package model

import "time"

// JobStatus is the state of a report generation job.
type JobStatus string

// Job status constants.
const (
	JobPending               JobStatus = "pending"
	JobProcessing            JobStatus = "processing"
	JobCompleted             JobStatus = "completed"
	JobFailed                JobStatus = "failed"
	JobCancelled             JobStatus = "cancelled"
	JobCancellationRequested JobStatus = "cancellation_requested"
)

// IsTerminal reports whether no further transitions are allowed.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// ReportGenerationJob tracks one attempt to build a report.
type ReportGenerationJob struct {
	CreatedAt           time.Time
	UpdatedAt           time.Time
	StartedAt           *time.Time
	CompletedAt         *time.Time
	EstimatedCompletion *time.Time
	ReportID            *string
	ID                  string
	UserID              string
	ErrorMessage        string
	ErrorDetails        string
	Status              JobStatus
	Period              Period
	TotalLines          int
	ProcessedLines      int
	FailedLines         int
}

// PercentComplete returns processed lines as a percentage of total lines.
func (j *ReportGenerationJob) PercentComplete() float64 {
	if j.TotalLines == 0 {
		if j.Status == JobCompleted {
			return 100
		}
		return 0
	}
	return float64(j.ProcessedLines) / float64(j.TotalLines) * 100
}
