package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dvloznov/finance-categorizer/internal/jobs"
	"github.com/dvloznov/finance-categorizer/internal/logger"
	"github.com/google/uuid"
)

// ErrQueueClosed is returned by Publish and Start after Stop.
var ErrQueueClosed = errors.New("queue is closed")

// Queue publishes cycle jobs onto a buffered channel drained by a fixed
// pool of workers. Suitable for a single worker process.
type Queue struct {
	jobChan   chan *jobs.CycleJob
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	store     jobs.JobStore
	workers   int
	closed    bool

	now        func() time.Time
	retryDelay func(attempt int) time.Duration
}

// NewQueue creates a queue holding up to bufferSize waiting jobs and
// running at most workers cycles at once.
func NewQueue(bufferSize, workers int, store jobs.JobStore) *Queue {
	if workers <= 0 {
		workers = 1
	}
	return &Queue{
		jobChan:    make(chan *jobs.CycleJob, bufferSize),
		closeChan:  make(chan struct{}),
		store:      store,
		workers:    workers,
		now:        time.Now,
		retryDelay: exponentialDelay,
	}
}

// exponentialDelay returns the wait before retry number attempt (1-based).
func exponentialDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 2
	b.MaxInterval = 30 * time.Second
	b.RandomizationFactor = 0

	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// Publish implements jobs.Publisher. Missing ID, status and creation time
// are filled in before the job is recorded.
func (q *Queue) Publish(ctx context.Context, job *jobs.CycleJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = jobs.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = q.now()
	}

	if q.store != nil {
		if err := q.store.SaveJob(ctx, job); err != nil {
			return fmt.Errorf("Queue.Publish: save job: %w", err)
		}
	}

	select {
	case q.jobChan <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return ErrQueueClosed
	}
}

// Start implements jobs.Consumer.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}
	return nil
}

func (q *Queue) worker(ctx context.Context, handler jobs.JobHandler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case job := <-q.jobChan:
			if job == nil {
				return
			}
			q.processJob(ctx, job, handler)
		}
	}
}

// processJob runs one job and records the outcome. A failed job with
// retries left is republished after an exponential delay.
func (q *Queue) processJob(ctx context.Context, job *jobs.CycleJob, handler jobs.JobHandler) {
	log := logger.FromContext(ctx).With().
		Str("job_id", job.JobID).
		Str("type", string(job.Type)).
		Logger()

	started := q.now()
	job.Status = jobs.JobStatusRunning
	job.StartedAt = &started
	q.save(ctx, job)

	err := handler(ctx, job)

	completed := q.now()
	job.CompletedAt = &completed

	switch {
	case err == nil:
		job.Status = jobs.JobStatusCompleted
		job.Error = ""
	case job.RetryCount < job.MaxRetries:
		job.Error = err.Error()
		job.RetryCount++
		job.Status = jobs.JobStatusRetrying

		delay := q.retryDelay(job.RetryCount)
		log.Warn().Err(err).
			Int("retry", job.RetryCount).
			Dur("delay", delay).
			Msg("Job failed, scheduling retry")

		retry := *job
		time.AfterFunc(delay, func() {
			retry.Status = jobs.JobStatusPending
			retry.StartedAt = nil
			retry.CompletedAt = nil
			if err := q.Publish(ctx, &retry); err != nil && !errors.Is(err, ErrQueueClosed) {
				log.Error().Err(err).Msg("Failed to republish job")
			}
		})
	default:
		job.Error = err.Error()
		job.Status = jobs.JobStatusFailed
	}

	q.save(ctx, job)
}

func (q *Queue) save(ctx context.Context, job *jobs.CycleJob) {
	if q.store == nil {
		return
	}
	if err := q.store.SaveJob(ctx, job); err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Str("job_id", job.JobID).Msg("Failed to save job")
	}
}

// Stop implements jobs.Consumer. It waits for in-flight jobs or ctx.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements jobs.Publisher.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

var (
	_ jobs.Publisher = (*Queue)(nil)
	_ jobs.Consumer  = (*Queue)(nil)
)
