package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Entry schedules one job type at a fixed interval.
type Entry struct {
	Type     JobType
	Interval time.Duration
}

// Scheduler publishes cycle jobs on independent tickers. A tick is skipped
// while an earlier job of the same type is still pending or running, so a
// slow cycle never piles up behind itself.
type Scheduler struct {
	publisher Publisher
	store     JobStore
	entries   []Entry
	log       zerolog.Logger

	mu    sync.Mutex
	locks map[JobType]*sync.Mutex
}

// NewScheduler creates a scheduler for the given entries.
func NewScheduler(publisher Publisher, store JobStore, log zerolog.Logger, entries ...Entry) *Scheduler {
	return &Scheduler{
		publisher: publisher,
		store:     store,
		entries:   entries,
		log:       log,
		locks:     make(map[JobType]*sync.Mutex),
	}
}

// typeLock serializes Trigger calls for one job type.
func (s *Scheduler) typeLock(t JobType) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[t]
	if !ok {
		l = &sync.Mutex{}
		s.locks[t] = l
	}
	return l
}

// Run triggers every entry once, then on each tick, until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	for _, e := range s.entries {
		if e.Interval <= 0 {
			return fmt.Errorf("Scheduler.Run: %s: interval must be positive, got %s", e.Type, e.Interval)
		}
	}

	var wg sync.WaitGroup
	for _, e := range s.entries {
		wg.Add(1)
		go func(e Entry) {
			defer wg.Done()
			s.loop(ctx, e)
		}(e)
	}
	wg.Wait()

	return nil
}

func (s *Scheduler) loop(ctx context.Context, e Entry) {
	ticker := time.NewTicker(e.Interval)
	defer ticker.Stop()

	s.log.Info().
		Str("type", string(e.Type)).
		Dur("interval", e.Interval).
		Msg("Scheduling cycle")

	for {
		if _, err := s.Trigger(ctx, e.Type); err != nil && ctx.Err() == nil {
			s.log.Error().Err(err).Str("type", string(e.Type)).Msg("Failed to schedule cycle")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Trigger publishes a job of type t unless one is already active.
// It reports whether a job was published. Concurrent calls for the same
// type are serialized, so at most one of them publishes.
func (s *Scheduler) Trigger(ctx context.Context, t JobType) (bool, error) {
	l := s.typeLock(t)
	l.Lock()
	defer l.Unlock()

	active, err := s.store.ListJobs(ctx, JobFilter{Type: t, ActiveOnly: true, Limit: 1})
	if err != nil {
		return false, fmt.Errorf("Scheduler.Trigger: listing active jobs: %w", err)
	}
	if len(active) > 0 {
		s.log.Debug().
			Str("type", string(t)).
			Str("active_job_id", active[0].JobID).
			Msg("Previous cycle still active, skipping tick")
		return false, nil
	}

	if err := s.publisher.Publish(ctx, &CycleJob{Type: t}); err != nil {
		return false, fmt.Errorf("Scheduler.Trigger: publishing %s: %w", t, err)
	}
	return true, nil
}
