package categorization_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dvloznov/finance-categorizer/internal/categorization"
	"github.com/dvloznov/finance-categorizer/internal/categorization/categorizationtest"
	"github.com/dvloznov/finance-categorizer/internal/domain"
	"github.com/dvloznov/finance-categorizer/internal/logger"
	"github.com/dvloznov/finance-categorizer/internal/store/inmemory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store     *inmemory.Store
	processor *categorizationtest.FakeProcessor
	orch      *categorization.Orchestrator
	now       time.Time
	recorder  *recordingRecorder
}

func newFixture(t *testing.T, cfg categorization.Config, opts ...categorization.Option) *fixture {
	t.Helper()

	f := &fixture{
		store:    inmemory.NewStore(),
		now:      time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		recorder: &recordingRecorder{},
	}
	f.processor = categorizationtest.NewFakeProcessor(f.store)

	opts = append([]categorization.Option{
		categorization.WithClock(func() time.Time { return f.now }),
		categorization.WithRecorder(f.recorder),
	}, opts...)
	f.orch = categorization.NewOrchestrator(f.store, f.processor, cfg, opts...)
	return f
}

func (f *fixture) insert(t *testing.T, ids ...string) {
	t.Helper()
	var txs []*domain.Transaction
	for i, id := range ids {
		tx := domain.NewTransaction(id, decimal.NewFromFloat(-10.25), f.now, "purchase "+id, domain.TransactionTypeDebit, "ACC-1")
		tx.CreatedAt = f.now.Add(time.Duration(i) * time.Second)
		txs = append(txs, tx)
	}
	require.NoError(t, f.store.InsertTransactions(context.Background(), txs))
}

func (f *fixture) tx(t *testing.T, id string) *domain.Transaction {
	t.Helper()
	tx, err := f.store.GetTransaction(context.Background(), id)
	require.NoError(t, err)
	return tx
}

func (f *fixture) batch(t *testing.T, id string) *domain.Batch {
	t.Helper()
	b, err := f.store.GetBatch(context.Background(), id)
	require.NoError(t, err)
	return b
}

type recordingRecorder struct {
	mu          sync.Mutex
	submitted   []int
	transitions []domain.BatchStatus
	categorized map[domain.Category]int
	cycles      []string
}

func (r *recordingRecorder) BatchSubmitted(size int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submitted = append(r.submitted, size)
}

func (r *recordingRecorder) BatchTransitioned(status domain.BatchStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, status)
}

func (r *recordingRecorder) TransactionsCategorized(counts map[domain.Category]int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.categorized == nil {
		r.categorized = make(map[domain.Category]int)
	}
	for c, n := range counts {
		r.categorized[c] += n
	}
}

func (r *recordingRecorder) CycleFinished(cycle string, _ time.Duration, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cycles = append(r.cycles, cycle)
}

type listenerFunc func(ctx context.Context, b *domain.Batch) error

func (l listenerFunc) BatchCompleted(ctx context.Context, b *domain.Batch) error { return l(ctx, b) }

func TestFormAndSubmit_CreatesOneBatchForPendingTransactions(t *testing.T) {
	f := newFixture(t, categorization.DefaultConfig())
	f.insert(t, "1", "2")
	ctx := context.Background()

	batch, err := f.orch.FormAndSubmit(ctx)
	require.NoError(t, err)
	require.NotNil(t, batch)

	assert.Equal(t, []string{batch.ID}, f.processor.Submissions())
	assert.Equal(t, []string{"1", "2"}, batch.TransactionIDs())

	stored := f.batch(t, batch.ID)
	assert.Equal(t, domain.BatchStatusCreated, stored.Status)
	assert.NotEmpty(t, stored.ExternalID)
	assert.Equal(t, []string{"1", "2"}, stored.TransactionIDs())

	for _, id := range []string{"1", "2"} {
		tx := f.tx(t, id)
		require.NotNil(t, tx.BatchID)
		assert.Equal(t, batch.ID, *tx.BatchID)
		assert.Equal(t, domain.CategoryPending, tx.Category)
	}

	assert.Equal(t, []int{2}, f.recorder.submitted)
}

func TestFormAndSubmit_NoDoubleSubmission(t *testing.T) {
	f := newFixture(t, categorization.DefaultConfig())
	f.insert(t, "1", "2")
	ctx := context.Background()

	first, err := f.orch.FormAndSubmit(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := f.orch.FormAndSubmit(ctx)
	require.NoError(t, err)
	assert.Nil(t, second)

	assert.Len(t, f.processor.Submissions(), 1)

	batches, err := f.store.ListBatches(ctx, categorization.BatchFilter{})
	require.NoError(t, err)
	assert.Len(t, batches, 1)
}

func TestFormAndSubmit_RespectsBatchSizeOldestFirst(t *testing.T) {
	cfg := categorization.DefaultConfig()
	cfg.BatchSize = 2
	f := newFixture(t, cfg)
	f.insert(t, "a", "b", "c")
	ctx := context.Background()

	first, err := f.orch.FormAndSubmit(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, first.TransactionIDs())

	second, err := f.orch.FormAndSubmit(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, second.TransactionIDs())

	third, err := f.orch.FormAndSubmit(ctx)
	require.NoError(t, err)
	assert.Nil(t, third)
}

func TestFormAndSubmit_EmptyInputIsNoOp(t *testing.T) {
	f := newFixture(t, categorization.DefaultConfig())

	batch, err := f.orch.FormAndSubmit(context.Background())
	require.NoError(t, err)
	assert.Nil(t, batch)
	assert.Empty(t, f.processor.Submissions())

	batches, err := f.store.ListBatches(context.Background(), categorization.BatchFilter{})
	require.NoError(t, err)
	assert.Empty(t, batches)
}

func TestFormAndSubmit_SubmissionFailureLeavesOrphan(t *testing.T) {
	f := newFixture(t, categorization.DefaultConfig())
	f.insert(t, "1")
	f.processor.FailSubmissions(errors.New("upload rejected"))
	ctx := context.Background()

	batch, err := f.orch.FormAndSubmit(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upload rejected")
	require.NotNil(t, batch)

	stored := f.batch(t, batch.ID)
	assert.Equal(t, domain.BatchStatusCreated, stored.Status)
	assert.Empty(t, stored.ExternalID)

	// Members stay assigned so a retry cannot double-submit them.
	assert.False(t, f.tx(t, "1").Eligible())
}

func TestFormAndSubmit_SlowSubmissionCannotReviveSweptBatch(t *testing.T) {
	cfg := categorization.DefaultConfig()
	cfg.OrphanGracePeriod = time.Minute
	f := newFixture(t, cfg)
	f.insert(t, "1")
	ctx := context.Background()

	var sweep categorization.PollSummary
	f.processor.SubmitBatchFunc = func(ctx context.Context, b *domain.Batch) (*domain.Batch, error) {
		// The polling cycle runs while the remote call is still out.
		f.now = f.now.Add(2 * time.Minute)
		var err error
		sweep, err = f.orch.PollAndReconcile(ctx)
		require.NoError(t, err)

		out := b.Clone()
		out.ExternalID = "batches/slow"
		return out, nil
	}

	batch, err := f.orch.FormAndSubmit(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, categorization.ErrPrecondition)
	require.NotNil(t, batch)
	assert.Equal(t, 1, sweep.Orphaned)

	stored := f.batch(t, batch.ID)
	assert.Equal(t, domain.BatchStatusFailed, stored.Status)
	assert.Equal(t, categorization.ExternalStatusOrphaned, stored.ExternalStatus)
	assert.Empty(t, stored.ExternalID)
	assert.True(t, f.tx(t, "1").Eligible())
	assert.Empty(t, f.recorder.submitted)

	summary, err := f.orch.PollAndReconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.Polled)
}

func TestPollAndReconcile_CompletedBatch(t *testing.T) {
	var notified []*domain.Batch
	listener := listenerFunc(func(_ context.Context, b *domain.Batch) error {
		notified = append(notified, b)
		return nil
	})

	f := newFixture(t, categorization.DefaultConfig(), categorization.WithListener(listener))
	f.insert(t, "1", "2")
	ctx := context.Background()

	batch, err := f.orch.FormAndSubmit(ctx)
	require.NoError(t, err)

	f.processor.SetStatus(batch.ID, categorization.StatusCompleted)
	f.processor.SetResults(batch.ID, map[string]domain.Category{
		"1": domain.CategoryGroceries,
		"2": domain.CategoryUtilities,
	})

	summary, err := f.orch.PollAndReconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, categorization.PollSummary{Polled: 1, Completed: 1}, summary)

	stored := f.batch(t, batch.ID)
	assert.Equal(t, domain.BatchStatusCompleted, stored.Status)
	require.NotNil(t, stored.CompletedAt)
	assert.Equal(t, f.now, *stored.CompletedAt)
	assert.NotEmpty(t, stored.OutputLocator)

	assert.Equal(t, domain.CategoryGroceries, f.tx(t, "1").Category)
	assert.Equal(t, domain.CategoryUtilities, f.tx(t, "2").Category)

	require.Len(t, notified, 1)
	assert.Equal(t, batch.ID, notified[0].ID)
	assert.Equal(t, []domain.BatchStatus{domain.BatchStatusCompleted}, f.recorder.transitions)
	assert.Equal(t, 1, f.recorder.categorized[domain.CategoryGroceries])
}

func TestPollAndReconcile_FallbackSafety(t *testing.T) {
	f := newFixture(t, categorization.DefaultConfig())
	f.insert(t, "1", "2", "3")
	ctx := context.Background()

	batch, err := f.orch.FormAndSubmit(ctx)
	require.NoError(t, err)

	f.processor.SetStatus(batch.ID, categorization.StatusCompleted)
	f.processor.SetResults(batch.ID, map[string]domain.Category{
		"1": domain.CategoryHousing,
		"2": domain.Category("Gambling"),
		"9": domain.CategoryEducation,
	})

	_, err = f.orch.PollAndReconcile(ctx)
	require.NoError(t, err)

	assert.Equal(t, domain.CategoryHousing, f.tx(t, "1").Category)
	assert.Equal(t, domain.CategoryMiscellaneous, f.tx(t, "2").Category)
	assert.Equal(t, domain.CategoryMiscellaneous, f.tx(t, "3").Category)

	_, err = f.store.GetTransaction(ctx, "9")
	assert.ErrorIs(t, err, categorization.ErrNotFound)
}

func TestPollAndReconcile_PendingResultResolvesToFallback(t *testing.T) {
	f := newFixture(t, categorization.DefaultConfig())
	f.insert(t, "1")
	ctx := context.Background()

	batch, err := f.orch.FormAndSubmit(ctx)
	require.NoError(t, err)

	f.processor.SetStatus(batch.ID, categorization.StatusCompleted)
	f.processor.SetResults(batch.ID, map[string]domain.Category{"1": domain.CategoryPending})

	_, err = f.orch.PollAndReconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryMiscellaneous, f.tx(t, "1").Category)
}

func TestPollAndReconcile_CompletionTotality(t *testing.T) {
	f := newFixture(t, categorization.DefaultConfig())
	f.insert(t, "1", "2", "3", "4")
	ctx := context.Background()

	batch, err := f.orch.FormAndSubmit(ctx)
	require.NoError(t, err)

	f.processor.SetStatus(batch.ID, categorization.StatusCompleted)

	_, err = f.orch.PollAndReconcile(ctx)
	require.NoError(t, err)

	stored := f.batch(t, batch.ID)
	require.Equal(t, domain.BatchStatusCompleted, stored.Status)
	require.Len(t, stored.Transactions, 4)
	for _, tx := range stored.Transactions {
		assert.NotEqual(t, domain.CategoryPending, tx.Category, tx.TransactionID)
	}
}

func TestPollAndReconcile_TerminalFailureStatuses(t *testing.T) {
	statuses := []string{
		categorization.StatusFailed,
		categorization.StatusExpired,
		categorization.StatusCancelling,
		categorization.StatusCancelled,
	}

	for _, status := range statuses {
		t.Run(status, func(t *testing.T) {
			f := newFixture(t, categorization.DefaultConfig())
			f.insert(t, "1", "2")
			ctx := context.Background()

			batch, err := f.orch.FormAndSubmit(ctx)
			require.NoError(t, err)
			f.processor.SetStatus(batch.ID, status)

			summary, err := f.orch.PollAndReconcile(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, summary.Failed)

			stored := f.batch(t, batch.ID)
			assert.Equal(t, domain.BatchStatusFailed, stored.Status)
			assert.Nil(t, stored.CompletedAt)
			assert.Equal(t, status, stored.ExternalStatus)

			for _, id := range []string{"1", "2"} {
				tx := f.tx(t, id)
				assert.Equal(t, domain.CategoryPending, tx.Category)
				require.NotNil(t, tx.BatchID, "members stay assigned by default")
				assert.Equal(t, batch.ID, *tx.BatchID)
			}
			assert.Empty(t, f.processor.ResultCalls())
		})
	}
}

func TestPollAndReconcile_ReleaseOnFailure(t *testing.T) {
	cfg := categorization.DefaultConfig()
	cfg.ReleaseOnFailure = true
	f := newFixture(t, cfg)
	f.insert(t, "1", "2")
	ctx := context.Background()

	batch, err := f.orch.FormAndSubmit(ctx)
	require.NoError(t, err)
	f.processor.SetStatus(batch.ID, categorization.StatusExpired)

	_, err = f.orch.PollAndReconcile(ctx)
	require.NoError(t, err)

	assert.Equal(t, domain.BatchStatusFailed, f.batch(t, batch.ID).Status)
	assert.True(t, f.tx(t, "1").Eligible())
	assert.True(t, f.tx(t, "2").Eligible())

	next, err := f.orch.FormAndSubmit(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.NotEqual(t, batch.ID, next.ID)
	assert.Equal(t, []string{"1", "2"}, next.TransactionIDs())
}

func TestPollAndReconcile_InProgressLeavesEverythingAlone(t *testing.T) {
	f := newFixture(t, categorization.DefaultConfig())
	f.insert(t, "1")
	ctx := context.Background()

	batch, err := f.orch.FormAndSubmit(ctx)
	require.NoError(t, err)
	f.processor.SetStatus(batch.ID, categorization.StatusInProgress)

	summary, err := f.orch.PollAndReconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.InFlight)

	stored := f.batch(t, batch.ID)
	assert.Equal(t, domain.BatchStatusCreated, stored.Status)
	assert.Nil(t, stored.CompletedAt)
	assert.Equal(t, domain.CategoryPending, f.tx(t, "1").Category)
	assert.Empty(t, f.recorder.transitions)
}

func TestPollAndReconcile_IdempotentWithoutRemoteChange(t *testing.T) {
	f := newFixture(t, categorization.DefaultConfig())
	f.insert(t, "1", "2")
	ctx := context.Background()

	batch, err := f.orch.FormAndSubmit(ctx)
	require.NoError(t, err)
	f.processor.SetStatus(batch.ID, categorization.StatusCompleted)
	f.processor.SetResults(batch.ID, map[string]domain.Category{"1": domain.CategoryShopping})

	_, err = f.orch.PollAndReconcile(ctx)
	require.NoError(t, err)
	afterFirst := f.batch(t, batch.ID)

	f.now = f.now.Add(time.Hour)
	summary, err := f.orch.PollAndReconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, categorization.PollSummary{}, summary)

	afterSecond := f.batch(t, batch.ID)
	assert.Equal(t, afterFirst, afterSecond)
	assert.Len(t, f.processor.StatusCalls(), 1)
	assert.Len(t, f.processor.ResultCalls(), 1)
}

func TestPollAndReconcile_NoCreatedBatchesMakesNoRemoteCall(t *testing.T) {
	f := newFixture(t, categorization.DefaultConfig())

	summary, err := f.orch.PollAndReconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, categorization.PollSummary{}, summary)
	assert.Empty(t, f.processor.StatusCalls())
}

func TestPollAndReconcile_IsolatesPerBatchFailures(t *testing.T) {
	cfg := categorization.DefaultConfig()
	cfg.BatchSize = 1
	f := newFixture(t, cfg)
	f.insert(t, "1", "2")
	ctx := context.Background()

	first, err := f.orch.FormAndSubmit(ctx)
	require.NoError(t, err)
	second, err := f.orch.FormAndSubmit(ctx)
	require.NoError(t, err)

	f.processor.FailStatus(first.ID, errors.New("gateway timeout"))
	f.processor.SetStatus(second.ID, categorization.StatusCompleted)
	f.processor.SetResults(second.ID, map[string]domain.Category{"2": domain.CategoryEntertainment})

	summary, err := f.orch.PollAndReconcile(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway timeout")
	assert.Equal(t, 2, summary.Polled)
	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, 1, summary.Completed)

	assert.Equal(t, domain.BatchStatusCreated, f.batch(t, first.ID).Status)
	assert.Equal(t, domain.BatchStatusCompleted, f.batch(t, second.ID).Status)
	assert.Equal(t, domain.CategoryEntertainment, f.tx(t, "2").Category)
}

func TestPollAndReconcile_ResultsErrorKeepsBatchCreated(t *testing.T) {
	f := newFixture(t, categorization.DefaultConfig())
	f.insert(t, "1")
	ctx := context.Background()

	batch, err := f.orch.FormAndSubmit(ctx)
	require.NoError(t, err)
	f.processor.SetStatus(batch.ID, categorization.StatusCompleted)
	f.processor.RetrieveResultsFunc = func(context.Context, string) (map[string]domain.Category, error) {
		return nil, fmt.Errorf("download: %w", categorization.ErrPrecondition)
	}

	_, err = f.orch.PollAndReconcile(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, categorization.ErrPrecondition)
	assert.Equal(t, domain.BatchStatusCreated, f.batch(t, batch.ID).Status)
	assert.Equal(t, domain.CategoryPending, f.tx(t, "1").Category)
}

func TestPollAndReconcile_OrphanedBatch(t *testing.T) {
	cfg := categorization.DefaultConfig()
	cfg.OrphanGracePeriod = 10 * time.Minute
	f := newFixture(t, cfg)
	f.insert(t, "1")
	ctx := context.Background()

	f.processor.FailSubmissions(errors.New("registration failed"))
	orphan, err := f.orch.FormAndSubmit(ctx)
	require.Error(t, err)
	f.processor.FailSubmissions(nil)

	t.Run("within grace period the error is surfaced", func(t *testing.T) {
		summary, err := f.orch.PollAndReconcile(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, categorization.ErrNotFound)
		assert.Equal(t, 1, summary.Errors)
		assert.Equal(t, domain.BatchStatusCreated, f.batch(t, orphan.ID).Status)
	})

	t.Run("after grace period the batch is swept", func(t *testing.T) {
		f.now = f.now.Add(11 * time.Minute)

		summary, err := f.orch.PollAndReconcile(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Orphaned)

		stored := f.batch(t, orphan.ID)
		assert.Equal(t, domain.BatchStatusFailed, stored.Status)
		assert.Equal(t, categorization.ExternalStatusOrphaned, stored.ExternalStatus)
		assert.True(t, f.tx(t, "1").Eligible())
	})

	t.Run("released members are batched again", func(t *testing.T) {
		next, err := f.orch.FormAndSubmit(ctx)
		require.NoError(t, err)
		require.NotNil(t, next)
		assert.Equal(t, []string{"1"}, next.TransactionIDs())
	})
}

func TestPollAndReconcile_RespectsPageSize(t *testing.T) {
	cfg := categorization.DefaultConfig()
	cfg.BatchSize = 1
	cfg.PageSize = 2
	f := newFixture(t, cfg)
	f.insert(t, "1", "2", "3")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.orch.FormAndSubmit(ctx)
		require.NoError(t, err)
		f.now = f.now.Add(time.Second)
	}

	summary, err := f.orch.PollAndReconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Polled)
}

func TestReleaseBatch(t *testing.T) {
	f := newFixture(t, categorization.DefaultConfig())
	f.insert(t, "1")
	ctx := context.Background()

	batch, err := f.orch.FormAndSubmit(ctx)
	require.NoError(t, err)

	_, err = f.orch.ReleaseBatch(ctx, batch.ID)
	assert.ErrorIs(t, err, categorization.ErrPrecondition)

	f.processor.SetStatus(batch.ID, categorization.StatusFailed)
	_, err = f.orch.PollAndReconcile(ctx)
	require.NoError(t, err)

	n, err := f.orch.ReleaseBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, f.tx(t, "1").Eligible())

	_, err = f.orch.ReleaseBatch(ctx, "missing")
	assert.ErrorIs(t, err, categorization.ErrNotFound)
}

func TestReconcileLogsThroughContextLogger(t *testing.T) {
	cfg := categorization.DefaultConfig()
	cfg.OrphanGracePeriod = time.Minute
	f := newFixture(t, cfg)
	f.insert(t, "1", "2")

	var buf bytes.Buffer
	ctx := logger.WithContext(context.Background(), logger.NewWithWriter(&buf))

	failed, err := f.orch.FormAndSubmit(ctx)
	require.NoError(t, err)
	f.processor.SetStatus(failed.ID, categorization.StatusFailed)
	_, err = f.orch.PollAndReconcile(ctx)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Batch failed remotely")

	_, err = f.orch.ReleaseBatch(ctx, failed.ID)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Released batch transactions")

	f.processor.FailSubmissions(errors.New("upload rejected"))
	_, err = f.orch.FormAndSubmit(ctx)
	require.Error(t, err)
	f.now = f.now.Add(2 * time.Minute)
	_, err = f.orch.PollAndReconcile(ctx)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Swept orphaned batch")
}

func TestListenerErrorDoesNotAffectBatch(t *testing.T) {
	listener := listenerFunc(func(context.Context, *domain.Batch) error {
		return errors.New("notion down")
	})
	f := newFixture(t, categorization.DefaultConfig(), categorization.WithListener(listener))
	f.insert(t, "1")
	ctx := context.Background()

	batch, err := f.orch.FormAndSubmit(ctx)
	require.NoError(t, err)
	f.processor.SetStatus(batch.ID, categorization.StatusCompleted)

	_, err = f.orch.PollAndReconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusCompleted, f.batch(t, batch.ID).Status)
}

func TestIsTerminalFailure(t *testing.T) {
	assert.True(t, categorization.IsTerminalFailure("failed"))
	assert.True(t, categorization.IsTerminalFailure("expired"))
	assert.True(t, categorization.IsTerminalFailure("cancelling"))
	assert.True(t, categorization.IsTerminalFailure("cancelled"))
	assert.False(t, categorization.IsTerminalFailure("completed"))
	assert.False(t, categorization.IsTerminalFailure("in_progress"))
	assert.False(t, categorization.IsTerminalFailure(""))
}
