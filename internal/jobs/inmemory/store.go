package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dvloznov/finance-categorizer/internal/jobs"
)

// DefaultRetention is how many finished jobs a Store keeps.
const DefaultRetention = 500

// Store is an in-memory implementation of JobStore.
// It is safe for concurrent use and keeps at most retention finished jobs;
// active jobs are never evicted.
type Store struct {
	mu        sync.RWMutex
	jobs      map[string]*jobs.CycleJob
	retention int
}

// NewStore creates a new in-memory job store. A non-positive retention uses DefaultRetention.
func NewStore(retention int) *Store {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Store{
		jobs:      make(map[string]*jobs.CycleJob),
		retention: retention,
	}
}

// SaveJob implements the JobStore interface.
func (s *Store) SaveJob(ctx context.Context, job *jobs.CycleJob) error {
	if job.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	jobCopy := *job
	s.jobs[job.JobID] = &jobCopy
	s.evictLocked()

	return nil
}

// GetJob implements the JobStore interface.
func (s *Store) GetJob(ctx context.Context, jobID string) (*jobs.CycleJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}

	jobCopy := *job
	return &jobCopy, nil
}

// ListJobs implements the JobStore interface.
func (s *Store) ListJobs(ctx context.Context, filter jobs.JobFilter) ([]*jobs.CycleJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*jobs.CycleJob
	for _, job := range s.jobs {
		if filter.Type != "" && job.Type != filter.Type {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.ActiveOnly && !job.Status.IsActive() {
			continue
		}

		jobCopy := *job
		result = append(result, &jobCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []*jobs.CycleJob{}, nil
		}
		result = result[filter.Offset:]
	}

	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}

	return result, nil
}

// UpdateJobStatus implements the JobStore interface.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID string, status jobs.JobStatus, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}

	job.Status = status
	if errorMsg != "" {
		job.Error = errorMsg
	}
	s.evictLocked()

	return nil
}

// evictLocked drops the oldest finished jobs beyond the retention limit.
func (s *Store) evictLocked() {
	var finished []*jobs.CycleJob
	for _, job := range s.jobs {
		if !job.Status.IsActive() {
			finished = append(finished, job)
		}
	}
	if len(finished) <= s.retention {
		return
	}

	sort.Slice(finished, func(i, j int) bool {
		return finished[i].CreatedAt.Before(finished[j].CreatedAt)
	})
	for _, job := range finished[:len(finished)-s.retention] {
		delete(s.jobs, job.JobID)
	}
}

// Ensure Store implements JobStore interface.
var _ jobs.JobStore = (*Store)(nil)
