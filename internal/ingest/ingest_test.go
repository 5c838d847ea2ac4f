package ingest

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/dvloznov/finance-categorizer/internal/categorization"
	"github.com/dvloznov/finance-categorizer/internal/domain"
	"github.com/dvloznov/finance-categorizer/internal/store/inmemory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var importNow = time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)

const validCSV = `Transaction ID,Amount,Timestamp,Description,Transaction Type,Account Number
t1,-12.34,2025-04-01,TESCO STORES,debit,ACC-1
t2,2500.00,2025-04-02T09:15:00Z,SALARY,Credit,ACC-1
t3,-7.5,2025-04-03 18:20:00,"UBER, TRIP",DEBIT,ACC-2
`

func TestNormalizeHeader(t *testing.T) {
	tests := map[string]string{
		"Transaction ID":       "transaction_id",
		" transaction_id ":     "transaction_id",
		"TRANSACTION  TYPE":    "transaction_type",
		"\ufeffTransaction ID": "transaction_id",
		"Amount":               "amount",
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizeHeader(in), "header %q", in)
	}
}

func TestParseCSV(t *testing.T) {
	res, err := ParseCSV(strings.NewReader(validCSV), importNow)
	require.NoError(t, err)
	require.Empty(t, res.Errors)
	require.Len(t, res.Transactions, 3)

	t1 := res.Transactions[0]
	assert.Equal(t, "t1", t1.TransactionID)
	assert.True(t, decimal.RequireFromString("-12.34").Equal(t1.Amount))
	assert.Equal(t, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), t1.Timestamp)
	assert.Equal(t, domain.TransactionTypeDebit, t1.Type)
	assert.Equal(t, domain.CategoryPending, t1.Category)
	assert.Nil(t, t1.BatchID)

	assert.Equal(t, domain.TransactionTypeCredit, res.Transactions[1].Type)
	assert.Equal(t, time.Date(2025, 4, 2, 9, 15, 0, 0, time.UTC), res.Transactions[1].Timestamp)
	assert.Equal(t, "UBER, TRIP", res.Transactions[2].Description)
	assert.Equal(t, "ACC-2", res.Transactions[2].AccountNumber)

	assert.True(t, res.Transactions[0].CreatedAt.Before(res.Transactions[1].CreatedAt))
	assert.True(t, res.Transactions[1].CreatedAt.Before(res.Transactions[2].CreatedAt))
}

func TestParseCSV_InvalidRows(t *testing.T) {
	input := `transaction_id,amount,timestamp,description,transaction_type,account_number
ok,1.00,2025-01-01,A,debit,ACC
bad-amount,abc,2025-01-01,B,debit,ACC
bad-date,1.00,yesterday,C,debit,ACC
bad-type,1.00,2025-01-01,D,transfer,ACC
,1.00,2025-01-01,E,debit,ACC

short,1.00
`
	res, err := ParseCSV(strings.NewReader(input), importNow)
	require.NoError(t, err)
	require.Len(t, res.Transactions, 1)
	assert.Equal(t, "ok", res.Transactions[0].TransactionID)
	require.Len(t, res.Errors, 5)
	assert.Equal(t, 3, res.Errors[0].Line)
}

func TestParseCSV_InvalidStructure(t *testing.T) {
	tests := map[string]string{
		"Empty":         "",
		"MissingColumn": "transaction id,amount,timestamp,description,account number\nt1,1,2025-01-01,x,ACC\n",
		"HeaderOnly":    "transaction id,amount,timestamp,description,transaction type,account number\n",
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCSV(strings.NewReader(input), importNow)
			assert.ErrorIs(t, err, ErrInvalidStructure)
		})
	}
}

func TestImporter_Import(t *testing.T) {
	store := inmemory.NewStore()
	imp := NewImporter(store)
	imp.now = func() time.Time { return importNow }

	res, err := imp.Import(context.Background(), strings.NewReader(validCSV))
	require.NoError(t, err)
	assert.Equal(t, Result{Processed: 3, Failed: 0}, res)

	stored, err := store.ListTransactions(context.Background(), categorization.TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.Equal(t, []string{"t1", "t2", "t3"}, []string{stored[0].TransactionID, stored[1].TransactionID, stored[2].TransactionID})
}

func TestImporter_DuplicatesFailIndividually(t *testing.T) {
	store := inmemory.NewStore()
	existing := domain.NewTransaction("t2", decimal.NewFromInt(1), importNow, "old", domain.TransactionTypeDebit, "ACC-1")
	require.NoError(t, store.InsertTransactions(context.Background(), []*domain.Transaction{existing}))

	imp := NewImporter(store)
	imp.chunkSize = 2

	res, err := imp.Import(context.Background(), strings.NewReader(validCSV))
	require.NoError(t, err)
	assert.Equal(t, Result{Processed: 2, Failed: 1}, res)

	_, err = store.GetTransaction(context.Background(), "t1")
	assert.NoError(t, err)
	_, err = store.GetTransaction(context.Background(), "t3")
	assert.NoError(t, err)
}

func TestImporter_RejectsBadStructure(t *testing.T) {
	imp := NewImporter(inmemory.NewStore())
	_, err := imp.Import(context.Background(), strings.NewReader("foo,bar\n1,2\n"))
	assert.ErrorIs(t, err, ErrInvalidStructure)
}
