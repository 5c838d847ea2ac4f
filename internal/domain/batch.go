package domain

import "time"

// BatchStatus is the local lifecycle state of a batch.
type BatchStatus string

const (
	BatchStatusCreated   BatchStatus = "CREATED"
	BatchStatusCompleted BatchStatus = "COMPLETED"
	BatchStatusFailed    BatchStatus = "FAILED"
)

// IsTerminal reports whether the status can no longer change.
func (s BatchStatus) IsTerminal() bool {
	return s == BatchStatusCompleted || s == BatchStatusFailed
}

// Batch groups transactions submitted together to the remote classifier.
//
// ExternalID, ExternalStatus and OutputLocator are empty until the remote
// service reports them. A COMPLETED batch always has CompletedAt set and no
// member left in CategoryPending.
type Batch struct {
	ID             string
	Status         BatchStatus
	ExternalID     string
	ExternalStatus string
	OutputLocator  string
	CreatedAt      time.Time
	CompletedAt    *time.Time

	Transactions []*Transaction
}

// NewBatch returns an empty batch in the CREATED state.
func NewBatch(id string, now time.Time) *Batch {
	return &Batch{
		ID:        id,
		Status:    BatchStatusCreated,
		CreatedAt: now,
	}
}

// IsTerminal reports whether the batch has reached COMPLETED or FAILED.
func (b *Batch) IsTerminal() bool {
	return b.Status.IsTerminal()
}

// Submitted reports whether the remote service has acknowledged the batch.
func (b *Batch) Submitted() bool {
	return b.ExternalID != ""
}

// MarkCompleted moves the batch to COMPLETED.
func (b *Batch) MarkCompleted(now time.Time) {
	b.Status = BatchStatusCompleted
	b.CompletedAt = &now
}

// MarkFailed moves the batch to FAILED. CompletedAt stays unset.
func (b *Batch) MarkFailed() {
	b.Status = BatchStatusFailed
}

// TransactionIDs returns member ids in batch order.
func (b *Batch) TransactionIDs() []string {
	ids := make([]string, 0, len(b.Transactions))
	for _, t := range b.Transactions {
		ids = append(ids, t.TransactionID)
	}
	return ids
}

// Clone returns a deep copy of the batch and its members.
func (b *Batch) Clone() *Batch {
	if b == nil {
		return nil
	}
	c := *b
	if b.CompletedAt != nil {
		at := *b.CompletedAt
		c.CompletedAt = &at
	}
	c.Transactions = make([]*Transaction, 0, len(b.Transactions))
	for _, t := range b.Transactions {
		c.Transactions = append(c.Transactions, t.Clone())
	}
	return &c
}
