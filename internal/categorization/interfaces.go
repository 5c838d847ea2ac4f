package categorization

import (
	"context"
	"errors"
	"time"

	"github.com/dvloznov/finance-categorizer/internal/domain"
)

var (
	// ErrNotFound is returned when a batch or transaction does not exist,
	// or when a batch has no remote identifier to poll.
	ErrNotFound = errors.New("not found")

	// ErrPrecondition is returned when an operation requires state that has
	// not been reached yet, e.g. fetching results without an output locator.
	ErrPrecondition = errors.New("precondition failed")
)

// Normalized remote statuses returned by BatchProcessor.RetrieveBatchStatus.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusExpired    = "expired"
	StatusCancelling = "cancelling"
	StatusCancelled  = "cancelled"
)

// IsTerminalFailure reports whether a normalized status means the remote
// batch will never produce results.
func IsTerminalFailure(status string) bool {
	switch status {
	case StatusFailed, StatusExpired, StatusCancelling, StatusCancelled:
		return true
	}
	return false
}

// BatchProcessor talks to the remote classification service.
type BatchProcessor interface {
	// SubmitBatch sends the batch members for classification and returns the
	// batch with ExternalID set. Errors leave ExternalID empty.
	SubmitBatch(ctx context.Context, batch *domain.Batch) (*domain.Batch, error)

	// RetrieveBatchStatus polls the remote service, mirrors the raw state and
	// output locator onto the stored batch and returns the normalized status.
	// Returns ErrNotFound if the batch is unknown or was never submitted.
	RetrieveBatchStatus(ctx context.Context, batchID string) (string, error)

	// RetrieveResults fetches classifications keyed by transaction id.
	// Returns ErrNotFound for an unknown batch and ErrPrecondition when no
	// output locator is recorded yet.
	RetrieveResults(ctx context.Context, batchID string) (map[string]domain.Category, error)
}

// TransactionFilter narrows ListTransactions.
type TransactionFilter struct {
	Category domain.Category
	BatchID  string
	Limit    int
	Offset   int
}

// TransactionRepository persists transactions.
type TransactionRepository interface {
	// InsertTransactions stores new transactions. Existing ids are rejected.
	InsertTransactions(ctx context.Context, txs []*domain.Transaction) error

	// GetTransaction returns ErrNotFound for an unknown id.
	GetTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error)

	// ListTransactions returns transactions oldest first.
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]*domain.Transaction, error)
}

// BatchFilter narrows ListBatches.
type BatchFilter struct {
	Status domain.BatchStatus
	Limit  int
}

// BatchRepository persists batches and the batch assignment of transactions.
type BatchRepository interface {
	// ClaimPendingTransactions atomically assigns up to limit eligible
	// transactions, oldest first, to batch and stores batch. It returns the
	// batch with its members, or nil when nothing was eligible, in which case
	// no batch is stored.
	ClaimPendingTransactions(ctx context.Context, batch *domain.Batch, limit int) (*domain.Batch, error)

	// SaveBatch upserts batch fields and writes the category of every member
	// still assigned to the batch. A stored batch that is COMPLETED or FAILED
	// keeps its status: saving it with a different status returns
	// ErrPrecondition and writes nothing.
	SaveBatch(ctx context.Context, batch *domain.Batch) error

	// GetBatch returns the batch with members, or ErrNotFound.
	GetBatch(ctx context.Context, batchID string) (*domain.Batch, error)

	// ListBatches returns batches with members, oldest first.
	ListBatches(ctx context.Context, filter BatchFilter) ([]*domain.Batch, error)

	// ReleaseTransactions clears the assignment of members that are still
	// Pending and returns how many were released.
	ReleaseTransactions(ctx context.Context, batchID string) (int, error)
}

// Store is everything the orchestrator needs from persistence.
type Store interface {
	TransactionRepository
	BatchRepository
	Close() error
}

// ResultListener is notified after a batch has been persisted as COMPLETED.
type ResultListener interface {
	BatchCompleted(ctx context.Context, batch *domain.Batch) error
}

// Recorder receives orchestrator measurements.
type Recorder interface {
	BatchSubmitted(size int)
	BatchTransitioned(status domain.BatchStatus)
	TransactionsCategorized(counts map[domain.Category]int)
	CycleFinished(cycle string, elapsed time.Duration, err error)
}

type nopRecorder struct{}

func (nopRecorder) BatchSubmitted(int) {}
func (nopRecorder) BatchTransitioned(domain.BatchStatus) {}
func (nopRecorder) TransactionsCategorized(map[domain.Category]int) {}
func (nopRecorder) CycleFinished(string, time.Duration, error) {}
