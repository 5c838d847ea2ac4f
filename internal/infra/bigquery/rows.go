package bigquery

import (
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-categorizer/internal/domain"
	"github.com/shopspring/decimal"
)

// TransactionRow mirrors the transactions table.
type TransactionRow struct {
	TransactionID string `bigquery:"transaction_id"` // REQUIRED

	Amount          *big.Rat   `bigquery:"amount"`           // REQUIRED NUMERIC
	TransactionDate civil.Date `bigquery:"transaction_date"` // REQUIRED

	Description     string `bigquery:"description"`      // REQUIRED STRING
	TransactionType string `bigquery:"transaction_type"` // REQUIRED, debit|credit
	AccountNumber   string `bigquery:"account_number"`   // REQUIRED STRING

	Category string              `bigquery:"category"` // REQUIRED, Pending until reconciled
	BatchID  bigquery.NullString `bigquery:"batch_id"` // NULLABLE

	CreatedTS time.Time              `bigquery:"created_ts"` // REQUIRED
	UpdatedTS bigquery.NullTimestamp `bigquery:"updated_ts"` // NULLABLE
}

// BatchRow mirrors the batches table.
type BatchRow struct {
	BatchID string `bigquery:"batch_id"` // REQUIRED
	Status  string `bigquery:"status"`   // REQUIRED, CREATED|COMPLETED|FAILED

	ExternalBatchID bigquery.NullString `bigquery:"external_batch_id"` // NULLABLE
	ExternalStatus  bigquery.NullString `bigquery:"external_status"`   // NULLABLE
	OutputLocator   bigquery.NullString `bigquery:"output_locator"`    // NULLABLE

	CreatedTS   time.Time              `bigquery:"created_ts"`   // REQUIRED
	CompletedTS bigquery.NullTimestamp `bigquery:"completed_ts"` // NULLABLE
}

// categoryUpdate is one element of the @updates array parameter in SaveBatch.
type categoryUpdate struct {
	TransactionID string `bigquery:"transaction_id"`
	Category      string `bigquery:"category"`
}

// NewTransactionRow converts a domain transaction for storage.
func NewTransactionRow(tx *domain.Transaction) *TransactionRow {
	row := &TransactionRow{
		TransactionID:   tx.TransactionID,
		Amount:          tx.Amount.Rat(),
		TransactionDate: civil.DateOf(tx.Timestamp),
		Description:     tx.Description,
		TransactionType: string(tx.Type),
		AccountNumber:   tx.AccountNumber,
		Category:        string(tx.Category),
		CreatedTS:       tx.CreatedAt,
	}
	if row.Category == "" {
		row.Category = string(domain.CategoryPending)
	}
	if tx.BatchID != nil {
		row.BatchID = bigquery.NullString{StringVal: *tx.BatchID, Valid: true}
	}
	return row
}

// ToDomain converts the row back into a domain transaction.
func (r *TransactionRow) ToDomain() (*domain.Transaction, error) {
	amount := decimal.Zero
	if r.Amount != nil {
		var err error
		amount, err = decimal.NewFromString(r.Amount.FloatString(9))
		if err != nil {
			return nil, fmt.Errorf("TransactionRow.ToDomain: amount of %s: %w", r.TransactionID, err)
		}
	}

	tx := &domain.Transaction{
		TransactionID: r.TransactionID,
		Amount:        amount,
		Timestamp:     r.TransactionDate.In(time.UTC),
		Description:   r.Description,
		Type:          domain.TransactionType(r.TransactionType),
		AccountNumber: r.AccountNumber,
		Category:      domain.Category(r.Category),
		CreatedAt:     r.CreatedTS,
	}
	if r.BatchID.Valid {
		id := r.BatchID.StringVal
		tx.BatchID = &id
	}
	return tx, nil
}

// NewBatchRow converts a domain batch for storage. Members are not part of the row.
func NewBatchRow(b *domain.Batch) *BatchRow {
	row := &BatchRow{
		BatchID:         b.ID,
		Status:          string(b.Status),
		ExternalBatchID: nullString(b.ExternalID),
		ExternalStatus:  nullString(b.ExternalStatus),
		OutputLocator:   nullString(b.OutputLocator),
		CreatedTS:       b.CreatedAt,
	}
	if b.CompletedAt != nil {
		row.CompletedTS = bigquery.NullTimestamp{Timestamp: *b.CompletedAt, Valid: true}
	}
	return row
}

// ToDomain converts the row back into a domain batch without members.
func (r *BatchRow) ToDomain() *domain.Batch {
	b := &domain.Batch{
		ID:             r.BatchID,
		Status:         domain.BatchStatus(r.Status),
		ExternalID:     r.ExternalBatchID.StringVal,
		ExternalStatus: r.ExternalStatus.StringVal,
		OutputLocator:  r.OutputLocator.StringVal,
		CreatedAt:      r.CreatedTS,
	}
	if r.CompletedTS.Valid {
		t := r.CompletedTS.Timestamp
		b.CompletedAt = &t
	}
	return b
}

func nullString(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}
