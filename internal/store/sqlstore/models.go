package sqlstore

import (
	"time"

	"github.com/dvloznov/finance-categorizer/internal/domain"
	"github.com/shopspring/decimal"
)

// transactionModel maps the transactions table.
type transactionModel struct {
	TransactionID   string          `gorm:"column:transaction_id;primaryKey"`
	Amount          decimal.Decimal `gorm:"column:amount"`
	TransactionDate time.Time       `gorm:"column:transaction_date"`
	Description     string          `gorm:"column:description"`
	TransactionType string          `gorm:"column:transaction_type"`
	AccountNumber   string          `gorm:"column:account_number"`
	Category        string          `gorm:"column:category"`
	BatchID         *string         `gorm:"column:batch_id"`
	CreatedAt       time.Time       `gorm:"column:created_at"`
	UpdatedAt       time.Time       `gorm:"column:updated_at"`
}

func (transactionModel) TableName() string { return "transactions" }

// batchModel maps the batches table. Empty remote fields are stored as NULL.
type batchModel struct {
	BatchID         string     `gorm:"column:batch_id;primaryKey"`
	Status          string     `gorm:"column:status"`
	ExternalBatchID *string    `gorm:"column:external_batch_id"`
	ExternalStatus  *string    `gorm:"column:external_status"`
	OutputLocator   *string    `gorm:"column:output_locator"`
	CreatedAt       time.Time  `gorm:"column:created_at"`
	CompletedAt     *time.Time `gorm:"column:completed_at"`
}

func (batchModel) TableName() string { return "batches" }

func toTransactionModel(tx *domain.Transaction) transactionModel {
	m := transactionModel{
		TransactionID:   tx.TransactionID,
		Amount:          tx.Amount,
		TransactionDate: tx.Timestamp.UTC(),
		Description:     tx.Description,
		TransactionType: string(tx.Type),
		AccountNumber:   tx.AccountNumber,
		Category:        string(tx.Category),
		CreatedAt:       tx.CreatedAt.UTC(),
	}
	if tx.BatchID != nil {
		id := *tx.BatchID
		m.BatchID = &id
	}
	return m
}

func (m transactionModel) toDomain() *domain.Transaction {
	tx := &domain.Transaction{
		TransactionID: m.TransactionID,
		Amount:        m.Amount,
		Timestamp:     m.TransactionDate,
		Description:   m.Description,
		Type:          domain.TransactionType(m.TransactionType),
		AccountNumber: m.AccountNumber,
		Category:      domain.Category(m.Category),
		CreatedAt:     m.CreatedAt,
	}
	if m.BatchID != nil {
		id := *m.BatchID
		tx.BatchID = &id
	}
	return tx
}

// Times are stored in UTC so that SQLite's text timestamps sort correctly.
func toBatchModel(b *domain.Batch) batchModel {
	m := batchModel{
		BatchID:         b.ID,
		Status:          string(b.Status),
		ExternalBatchID: nullable(b.ExternalID),
		ExternalStatus:  nullable(b.ExternalStatus),
		OutputLocator:   nullable(b.OutputLocator),
		CreatedAt:       b.CreatedAt.UTC(),
	}
	if b.CompletedAt != nil {
		t := b.CompletedAt.UTC()
		m.CompletedAt = &t
	}
	return m
}

func (m batchModel) toDomain() *domain.Batch {
	return &domain.Batch{
		ID:             m.BatchID,
		Status:         domain.BatchStatus(m.Status),
		ExternalID:     deref(m.ExternalBatchID),
		ExternalStatus: deref(m.ExternalStatus),
		OutputLocator:  deref(m.OutputLocator),
		CreatedAt:      m.CreatedAt,
		CompletedAt:    m.CompletedAt,
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
