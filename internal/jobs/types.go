package jobs

import (
	"context"
	"time"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeFormBatch runs one batch formation and submission cycle.
	JobTypeFormBatch JobType = "form_batch"
	// JobTypePollBatches runs one status polling and reconciliation cycle.
	JobTypePollBatches JobType = "poll_batches"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
)

// IsActive reports whether a job with this status still occupies its cycle.
func (s JobStatus) IsActive() bool {
	return s == JobStatusPending || s == JobStatusRunning || s == JobStatusRetrying
}

// CycleJob is one run of an orchestrator cycle.
type CycleJob struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	// Type selects the cycle to run.
	Type JobType `json:"type"`

	// Status is the current status of the job.
	Status JobStatus `json:"status"`

	// CreatedAt is when the job was created.
	CreatedAt time.Time `json:"created_at"`

	// StartedAt is when the job started processing.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the job completed (success or failure).
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Result is a short human-readable summary of what the cycle did.
	Result string `json:"result,omitempty"`

	// Error contains error details if the job failed.
	Error string `json:"error,omitempty"`

	// RetryCount is the number of times this job has been retried.
	RetryCount int `json:"retry_count"`

	// MaxRetries is the maximum number of retries allowed. Cycle jobs
	// default to zero since the next tick runs the cycle again anyway.
	MaxRetries int `json:"max_retries"`
}

// Job is a generic interface for all job types.
type Job interface {
	// GetID returns the unique job identifier.
	GetID() string

	// GetType returns the job type.
	GetType() JobType

	// GetStatus returns the current job status.
	GetStatus() JobStatus
}

// GetID implements the Job interface.
func (j *CycleJob) GetID() string {
	return j.JobID
}

// GetType implements the Job interface.
func (j *CycleJob) GetType() JobType {
	return j.Type
}

// GetStatus implements the Job interface.
func (j *CycleJob) GetStatus() JobStatus {
	return j.Status
}

// Publisher defines the interface for publishing jobs to a queue.
type Publisher interface {
	// Publish enqueues a cycle job.
	Publish(ctx context.Context, job *CycleJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler is a function that processes a job.
// It should return an error if the job failed.
type JobHandler func(ctx context.Context, job Job) error

// JobStore defines the interface for storing and retrieving job status.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *CycleJob) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID string) (*CycleJob, error)

	// ListJobs retrieves jobs newest first with optional filtering.
	ListJobs(ctx context.Context, filter JobFilter) ([]*CycleJob, error)

	// UpdateJobStatus updates the status of a job.
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	// Type filters jobs by cycle type.
	Type JobType

	// Status filters jobs by status.
	Status JobStatus

	// ActiveOnly keeps only pending, running or retrying jobs.
	ActiveOnly bool

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}
