package inmemory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dvloznov/finance-categorizer/internal/categorization"
	"github.com/dvloznov/finance-categorizer/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, s *Store, n int) {
	t.Helper()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var txs []*domain.Transaction
	for i := 0; i < n; i++ {
		tx := domain.NewTransaction(fmt.Sprintf("t%02d", i), decimal.NewFromInt(int64(i)), base, "desc", domain.TransactionTypeCredit, "acc")
		tx.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		txs = append(txs, tx)
	}
	require.NoError(t, s.InsertTransactions(context.Background(), txs))
}

func TestInsertTransactions_RejectsDuplicates(t *testing.T) {
	s := NewStore()
	seed(t, s, 1)

	dup := domain.NewTransaction("t00", decimal.Zero, time.Now(), "", domain.TransactionTypeDebit, "")
	err := s.InsertTransactions(context.Background(), []*domain.Transaction{dup})
	assert.Error(t, err)

	fresh := domain.NewTransaction("new", decimal.Zero, time.Now(), "", domain.TransactionTypeDebit, "")
	err = s.InsertTransactions(context.Background(), []*domain.Transaction{fresh, fresh})
	assert.Error(t, err)

	_, err = s.GetTransaction(context.Background(), "new")
	assert.ErrorIs(t, err, categorization.ErrNotFound, "failed insert stores nothing")
}

func TestClaimPendingTransactions(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seed(t, s, 5)

	b, err := s.ClaimPendingTransactions(ctx, domain.NewBatch("b1", time.Now()), 3)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, []string{"t00", "t01", "t02"}, b.TransactionIDs())

	b2, err := s.ClaimPendingTransactions(ctx, domain.NewBatch("b2", time.Now()), 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"t03", "t04"}, b2.TransactionIDs())

	none, err := s.ClaimPendingTransactions(ctx, domain.NewBatch("b3", time.Now()), 3)
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = s.GetBatch(ctx, "b3")
	assert.ErrorIs(t, err, categorization.ErrNotFound, "no batch row without members")

	_, err = s.ClaimPendingTransactions(ctx, domain.NewBatch("b1", time.Now()), 3)
	assert.Error(t, err, "duplicate batch id")
}

func TestClaimPendingTransactions_ConcurrentClaimsNeverOverlap(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seed(t, s, 50)

	var wg sync.WaitGroup
	claims := make([]*domain.Batch, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := s.ClaimPendingTransactions(ctx, domain.NewBatch(fmt.Sprintf("b%d", i), time.Now()), 7)
			assert.NoError(t, err)
			claims[i] = b
		}(i)
	}
	wg.Wait()

	seen := map[string]string{}
	total := 0
	for _, b := range claims {
		if b == nil {
			continue
		}
		for _, id := range b.TransactionIDs() {
			if prev, dup := seen[id]; dup {
				t.Fatalf("transaction %s claimed by %s and %s", id, prev, b.ID)
			}
			seen[id] = b.ID
			total++
		}
	}
	assert.Equal(t, 50, total)
}

func TestSaveBatch_WritesCategoriesOfAssignedMembersOnly(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seed(t, s, 2)

	b, err := s.ClaimPendingTransactions(ctx, domain.NewBatch("b1", time.Now()), 2)
	require.NoError(t, err)

	released, err := s.ReleaseTransactions(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 2, released)

	for _, tx := range b.Transactions {
		tx.Category = domain.CategoryHousing
	}
	b.MarkFailed()
	require.NoError(t, s.SaveBatch(ctx, b))

	tx, err := s.GetTransaction(ctx, "t00")
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryPending, tx.Category)
	assert.Nil(t, tx.BatchID)

	stored, err := s.GetBatch(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusFailed, stored.Status)
	assert.Empty(t, stored.Transactions)
}

func TestListBatchesAndTransactions(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seed(t, s, 3)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	b1, err := s.ClaimPendingTransactions(ctx, domain.NewBatch("b1", base), 1)
	require.NoError(t, err)
	_, err = s.ClaimPendingTransactions(ctx, domain.NewBatch("b2", base.Add(time.Minute)), 1)
	require.NoError(t, err)

	b1.Transactions[0].Category = domain.CategoryGroceries
	b1.MarkCompleted(base)
	require.NoError(t, s.SaveBatch(ctx, b1))

	created, err := s.ListBatches(ctx, categorization.BatchFilter{Status: domain.BatchStatusCreated})
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "b2", created[0].ID)
	assert.Equal(t, []string{"t01"}, created[0].TransactionIDs())

	all, err := s.ListBatches(ctx, categorization.BatchFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "b1", all[0].ID)

	groceries, err := s.ListTransactions(ctx, categorization.TransactionFilter{Category: domain.CategoryGroceries})
	require.NoError(t, err)
	require.Len(t, groceries, 1)
	assert.Equal(t, "t00", groceries[0].TransactionID)

	inB2, err := s.ListTransactions(ctx, categorization.TransactionFilter{BatchID: "b2"})
	require.NoError(t, err)
	assert.Len(t, inB2, 1)

	page, err := s.ListTransactions(ctx, categorization.TransactionFilter{Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "t01", page[0].TransactionID)

	_, err = s.ReleaseTransactions(ctx, "missing")
	assert.ErrorIs(t, err, categorization.ErrNotFound)
}

func TestSaveBatch_TerminalStatusIsFinal(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seed(t, s, 1)

	b, err := s.ClaimPendingTransactions(ctx, domain.NewBatch("b1", time.Now()), 1)
	require.NoError(t, err)

	failed := b.Clone()
	failed.ExternalStatus = "ORPHANED"
	failed.MarkFailed()
	require.NoError(t, s.SaveBatch(ctx, failed))

	// Same status with new remote fields is still accepted.
	failed.ExternalStatus = "JOB_STATE_FAILED"
	require.NoError(t, s.SaveBatch(ctx, failed))

	b.ExternalID = "batches/late"
	err = s.SaveBatch(ctx, b)
	assert.ErrorIs(t, err, categorization.ErrPrecondition)

	stored, err := s.GetBatch(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusFailed, stored.Status)
	assert.Equal(t, "JOB_STATE_FAILED", stored.ExternalStatus)
	assert.Empty(t, stored.ExternalID)
}
