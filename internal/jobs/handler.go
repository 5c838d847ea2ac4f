package jobs

import (
	"context"
	"fmt"

	"github.com/dvloznov/finance-categorizer/internal/categorization"
	"github.com/dvloznov/finance-categorizer/internal/domain"
	"github.com/dvloznov/finance-categorizer/internal/logger"
	"github.com/rs/zerolog"
)

// CycleRunner runs orchestrator cycles.
type CycleRunner interface {
	FormAndSubmit(ctx context.Context) (*domain.Batch, error)
	PollAndReconcile(ctx context.Context) (categorization.PollSummary, error)
}

// NewCycleHandler returns a JobHandler dispatching cycle jobs to runner.
// Panics are recovered and reported as job failures.
func NewCycleHandler(runner CycleRunner, log zerolog.Logger) JobHandler {
	return func(ctx context.Context, job Job) (err error) {
		jobLog := log.With().
			Str("job_id", job.GetID()).
			Str("cycle", string(job.GetType())).
			Logger()
		ctx = logger.WithContext(ctx, jobLog)

		defer func() {
			if r := recover(); r != nil {
				jobLog.Error().Interface("panic", r).Msg("Cycle panicked")
				err = fmt.Errorf("cycle %s panicked: %v", job.GetType(), r)
			}
		}()

		cycleJob, _ := job.(*CycleJob)

		switch job.GetType() {
		case JobTypeFormBatch:
			batch, err := runner.FormAndSubmit(ctx)
			if err != nil {
				return err
			}
			if cycleJob != nil {
				if batch == nil {
					cycleJob.Result = "no pending transactions"
				} else {
					cycleJob.Result = fmt.Sprintf("submitted batch %s with %d transactions", batch.ID, len(batch.Transactions))
				}
			}
			return nil

		case JobTypePollBatches:
			summary, err := runner.PollAndReconcile(ctx)
			if cycleJob != nil {
				cycleJob.Result = fmt.Sprintf("polled=%d completed=%d failed=%d in_flight=%d orphaned=%d errors=%d",
					summary.Polled, summary.Completed, summary.Failed, summary.InFlight, summary.Orphaned, summary.Errors)
			}
			return err

		default:
			return fmt.Errorf("unexpected job type: %s", job.GetType())
		}
	}
}
