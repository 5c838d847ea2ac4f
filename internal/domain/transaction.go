package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType is the direction of money movement.
type TransactionType string

const (
	TransactionTypeDebit  TransactionType = "debit"
	TransactionTypeCredit TransactionType = "credit"
)

// ParseTransactionType parses "debit" or "credit", ignoring case and surrounding whitespace.
func ParseTransactionType(s string) (TransactionType, error) {
	switch TransactionType(strings.ToLower(strings.TrimSpace(s))) {
	case TransactionTypeDebit:
		return TransactionTypeDebit, nil
	case TransactionTypeCredit:
		return TransactionTypeCredit, nil
	default:
		return "", fmt.Errorf("ParseTransactionType: unknown transaction type %q", s)
	}
}

// Transaction is a single financial record awaiting or carrying a category.
// A transaction is eligible for batch formation only while Category is
// CategoryPending and BatchID is nil.
type Transaction struct {
	TransactionID string          // caller-supplied, unique
	Amount        decimal.Decimal // signed
	Timestamp     time.Time       // date of the transaction
	Description   string
	Type          TransactionType
	AccountNumber string

	Category Category // CategoryPending until reconciled
	BatchID  *string  // nil until claimed by a batch

	CreatedAt time.Time // insertion time, drives oldest-first batching
}

// NewTransaction returns an unclassified, unassigned transaction.
func NewTransaction(id string, amount decimal.Decimal, ts time.Time, description string, txType TransactionType, accountNumber string) *Transaction {
	return &Transaction{
		TransactionID: id,
		Amount:        amount,
		Timestamp:     ts,
		Description:   description,
		Type:          txType,
		AccountNumber: accountNumber,
		Category:      CategoryPending,
	}
}

// Eligible reports whether the transaction can be claimed by a new batch.
func (t *Transaction) Eligible() bool {
	return t.Category == CategoryPending && t.BatchID == nil
}

// Clone returns a deep copy so stores can hand out values without sharing pointers.
func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	c := *t
	if t.BatchID != nil {
		id := *t.BatchID
		c.BatchID = &id
	}
	return &c
}
