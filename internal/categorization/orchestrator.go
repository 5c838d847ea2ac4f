package categorization

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/finance-categorizer/internal/domain"
	"github.com/dvloznov/finance-categorizer/internal/logger"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

// Cycle names used for logging and metrics.
const (
	CycleFormAndSubmit    = "form_and_submit"
	CyclePollAndReconcile = "poll_and_reconcile"
)

// ExternalStatusOrphaned marks a batch that never reached the remote service.
const ExternalStatusOrphaned = "orphaned"

// Config controls batch sizing and failure policy.
type Config struct {
	// BatchSize is the maximum number of transactions per batch.
	BatchSize int

	// PageSize is the maximum number of in-flight batches polled per cycle.
	PageSize int

	// OrphanGracePeriod is how long a batch without a remote identifier is
	// left alone before the polling cycle fails it and releases its members.
	OrphanGracePeriod time.Duration

	// ReleaseOnFailure returns members of a remotely failed batch to the
	// eligible pool.
	ReleaseOnFailure bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:         100,
		PageSize:          100,
		OrphanGracePeriod: 15 * time.Minute,
	}
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithListener registers a listener notified of completed batches.
func WithListener(l ResultListener) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.listeners = append(o.listeners, l)
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// Orchestrator drives transactions through remote batch classification.
// FormAndSubmit and PollAndReconcile are independent; they coordinate only
// through the store.
type Orchestrator struct {
	store     Store
	processor BatchProcessor
	cfg       Config
	recorder  Recorder
	listeners []ResultListener
	now       func() time.Time
}

// NewOrchestrator wires the orchestrator. Zero config values take the defaults.
func NewOrchestrator(store Store, processor BatchProcessor, cfg Config, opts ...Option) *Orchestrator {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.OrphanGracePeriod <= 0 {
		cfg.OrphanGracePeriod = def.OrphanGracePeriod
	}

	o := &Orchestrator{
		store:     store,
		processor: processor,
		cfg:       cfg,
		recorder:  nopRecorder{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// PollSummary counts what a polling cycle did.
type PollSummary struct {
	Polled    int
	Completed int
	Failed    int
	InFlight  int
	Orphaned  int
	Errors    int
}

type outcome int

const (
	outcomeNone outcome = iota
	outcomeCompleted
	outcomeFailed
	outcomeInFlight
	outcomeOrphaned
)

// FormAndSubmit claims up to BatchSize eligible transactions into a new batch
// and submits it. It returns nil, nil when nothing is eligible.
//
// When submission fails the batch stays CREATED without a remote identifier
// and its members stay assigned; PollAndReconcile sweeps it once the orphan
// grace period has passed.
func (o *Orchestrator) FormAndSubmit(ctx context.Context) (batch *domain.Batch, err error) {
	start := time.Now()
	defer func() {
		o.recorder.CycleFinished(CycleFormAndSubmit, time.Since(start), err)
	}()

	log := logger.FromContext(ctx)

	claimed, err := o.store.ClaimPendingTransactions(ctx, domain.NewBatch(uuid.NewString(), o.now()), o.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("FormAndSubmit: claiming transactions: %w", err)
	}
	if claimed == nil || len(claimed.Transactions) == 0 {
		log.Debug().Msg("No pending transactions to batch")
		return nil, nil
	}

	log.Info().
		Str("batch_id", claimed.ID).
		Int("transactions", len(claimed.Transactions)).
		Msg("Formed batch")

	submitted, err := o.processor.SubmitBatch(ctx, claimed)
	if err != nil {
		log.Error().
			Err(err).
			Str("batch_id", claimed.ID).
			Msg("Batch submission failed")
		return claimed, fmt.Errorf("FormAndSubmit: submitting batch %s: %w", claimed.ID, err)
	}
	if submitted == nil {
		submitted = claimed
	}

	if err := o.store.SaveBatch(ctx, submitted); err != nil {
		if errors.Is(err, ErrPrecondition) {
			log.Warn().
				Str("batch_id", submitted.ID).
				Str("external_batch_id", submitted.ExternalID).
				Msg("Batch was finalized while submission was in flight; remote job is abandoned")
		}
		return submitted, fmt.Errorf("FormAndSubmit: saving batch %s: %w", submitted.ID, err)
	}

	o.recorder.BatchSubmitted(len(submitted.Transactions))

	log.Info().
		Str("batch_id", submitted.ID).
		Str("external_batch_id", submitted.ExternalID).
		Int("transactions", len(submitted.Transactions)).
		Msg("Submitted batch")

	return submitted, nil
}

// PollAndReconcile polls up to PageSize CREATED batches and applies terminal
// outcomes. A failure on one batch is logged and collected without stopping
// the others; the collected errors are returned together.
func (o *Orchestrator) PollAndReconcile(ctx context.Context) (summary PollSummary, err error) {
	start := time.Now()
	defer func() {
		o.recorder.CycleFinished(CyclePollAndReconcile, time.Since(start), err)
	}()

	log := logger.FromContext(ctx)

	batches, err := o.store.ListBatches(ctx, BatchFilter{
		Status: domain.BatchStatusCreated,
		Limit:  o.cfg.PageSize,
	})
	if err != nil {
		return summary, fmt.Errorf("PollAndReconcile: listing batches: %w", err)
	}
	if len(batches) == 0 {
		log.Debug().Msg("No in-flight batches to poll")
		return summary, nil
	}

	var errs *multierror.Error
	for _, b := range batches {
		if ctxErr := ctx.Err(); ctxErr != nil {
			errs = multierror.Append(errs, fmt.Errorf("PollAndReconcile: %w", ctxErr))
			break
		}

		summary.Polled++
		res, err := o.reconcile(ctx, b)
		if err != nil {
			summary.Errors++
			log.Error().
				Err(err).
				Str("batch_id", b.ID).
				Str("external_batch_id", b.ExternalID).
				Msg("Failed to reconcile batch")
			errs = multierror.Append(errs, fmt.Errorf("PollAndReconcile: batch %s: %w", b.ID, err))
			continue
		}

		switch res {
		case outcomeCompleted:
			summary.Completed++
		case outcomeFailed:
			summary.Failed++
		case outcomeInFlight:
			summary.InFlight++
		case outcomeOrphaned:
			summary.Orphaned++
		}
	}

	log.Info().
		Int("polled", summary.Polled).
		Int("completed", summary.Completed).
		Int("failed", summary.Failed).
		Int("in_flight", summary.InFlight).
		Int("orphaned", summary.Orphaned).
		Int("errors", summary.Errors).
		Msg("Polling cycle finished")

	return summary, errs.ErrorOrNil()
}

func (o *Orchestrator) reconcile(ctx context.Context, b *domain.Batch) (outcome, error) {
	status, err := o.processor.RetrieveBatchStatus(ctx, b.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) && !b.Submitted() && o.now().Sub(b.CreatedAt) >= o.cfg.OrphanGracePeriod {
			return o.sweepOrphan(ctx, b.ID)
		}
		return outcomeNone, fmt.Errorf("retrieving status: %w", err)
	}

	switch {
	case status == StatusCompleted:
		return o.complete(ctx, b.ID)
	case IsTerminalFailure(status):
		return o.fail(ctx, b.ID, status)
	default:
		log := logger.FromContext(ctx)
		log.Debug().
			Str("batch_id", b.ID).
			Str("status", status).
			Msg("Batch still in flight")
		return outcomeInFlight, nil
	}
}

// complete applies results to every member. Missing or unknown categories
// resolve to the fallback so no member stays Pending.
func (o *Orchestrator) complete(ctx context.Context, batchID string) (outcome, error) {
	results, err := o.processor.RetrieveResults(ctx, batchID)
	if err != nil {
		return outcomeNone, fmt.Errorf("retrieving results: %w", err)
	}

	current, err := o.store.GetBatch(ctx, batchID)
	if err != nil {
		return outcomeNone, fmt.Errorf("loading batch: %w", err)
	}
	if current.IsTerminal() {
		return outcomeNone, nil
	}

	counts := make(map[domain.Category]int)
	fallbacks := 0
	for _, tx := range current.Transactions {
		cat, ok := results[tx.TransactionID]
		if !ok || !cat.IsAssignable() {
			cat = domain.CategoryFallback
			fallbacks++
		}
		tx.Category = cat
		counts[cat]++
	}
	current.MarkCompleted(o.now())

	if err := o.store.SaveBatch(ctx, current); err != nil {
		return outcomeNone, fmt.Errorf("saving completed batch: %w", err)
	}

	o.recorder.BatchTransitioned(domain.BatchStatusCompleted)
	o.recorder.TransactionsCategorized(counts)

	log := logger.FromContext(ctx)
	log.Info().
		Str("batch_id", current.ID).
		Int("transactions", len(current.Transactions)).
		Int("fallbacks", fallbacks).
		Msg("Batch completed")

	for _, l := range o.listeners {
		if err := l.BatchCompleted(ctx, current.Clone()); err != nil {
			log.Warn().
				Err(err).
				Str("batch_id", current.ID).
				Msg("Result listener failed")
		}
	}

	return outcomeCompleted, nil
}

// fail marks the batch FAILED. Member categories are left untouched.
func (o *Orchestrator) fail(ctx context.Context, batchID, status string) (outcome, error) {
	current, err := o.store.GetBatch(ctx, batchID)
	if err != nil {
		return outcomeNone, fmt.Errorf("loading batch: %w", err)
	}
	if current.IsTerminal() {
		return outcomeNone, nil
	}

	released := 0
	if o.cfg.ReleaseOnFailure {
		released, err = o.store.ReleaseTransactions(ctx, batchID)
		if err != nil {
			return outcomeNone, fmt.Errorf("releasing transactions: %w", err)
		}
	}

	current.MarkFailed()
	if err := o.store.SaveBatch(ctx, current); err != nil {
		return outcomeNone, fmt.Errorf("saving failed batch: %w", err)
	}

	o.recorder.BatchTransitioned(domain.BatchStatusFailed)

	log := logger.FromContext(ctx)
	log.Warn().
		Str("batch_id", current.ID).
		Str("external_batch_id", current.ExternalID).
		Str("status", status).
		Int("released", released).
		Msg("Batch failed remotely")

	return outcomeFailed, nil
}

// sweepOrphan fails a batch that never reached the remote service and
// returns its members to the eligible pool.
func (o *Orchestrator) sweepOrphan(ctx context.Context, batchID string) (outcome, error) {
	current, err := o.store.GetBatch(ctx, batchID)
	if err != nil {
		return outcomeNone, fmt.Errorf("loading orphaned batch: %w", err)
	}
	if current.IsTerminal() || current.Submitted() {
		return outcomeNone, nil
	}

	released, err := o.store.ReleaseTransactions(ctx, batchID)
	if err != nil {
		return outcomeNone, fmt.Errorf("releasing orphaned transactions: %w", err)
	}

	current.ExternalStatus = ExternalStatusOrphaned
	current.MarkFailed()
	if err := o.store.SaveBatch(ctx, current); err != nil {
		return outcomeNone, fmt.Errorf("saving orphaned batch: %w", err)
	}

	o.recorder.BatchTransitioned(domain.BatchStatusFailed)

	log := logger.FromContext(ctx)
	log.Warn().
		Str("batch_id", current.ID).
		Int("released", released).
		Msg("Swept orphaned batch")

	return outcomeOrphaned, nil
}

// ReleaseBatch returns the Pending members of a FAILED batch to the eligible
// pool. It is the manual recovery path when ReleaseOnFailure is off.
func (o *Orchestrator) ReleaseBatch(ctx context.Context, batchID string) (int, error) {
	b, err := o.store.GetBatch(ctx, batchID)
	if err != nil {
		return 0, fmt.Errorf("ReleaseBatch: loading batch: %w", err)
	}
	if b.Status != domain.BatchStatusFailed {
		return 0, fmt.Errorf("ReleaseBatch: batch %s is %s, not %s: %w", batchID, b.Status, domain.BatchStatusFailed, ErrPrecondition)
	}

	n, err := o.store.ReleaseTransactions(ctx, batchID)
	if err != nil {
		return 0, fmt.Errorf("ReleaseBatch: %w", err)
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("batch_id", batchID).
		Int("released", n).
		Msg("Released batch transactions")

	return n, nil
}
