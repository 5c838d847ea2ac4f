package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dvloznov/finance-categorizer/internal/categorization"
	"github.com/dvloznov/finance-categorizer/internal/domain"
)

// Store is an in-memory implementation of categorization.Store.
// It is safe for concurrent use; claims are atomic under a single lock.
// Data is lost on restart, so it serves tests and local runs only.
type Store struct {
	mu           sync.RWMutex
	transactions map[string]*txRecord
	batches      map[string]*domain.Batch
	seq          int64
	now          func() time.Time
}

type txRecord struct {
	tx  *domain.Transaction
	seq int64
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		transactions: make(map[string]*txRecord),
		batches:      make(map[string]*domain.Batch),
		now:          time.Now,
	}
}

// InsertTransactions implements categorization.TransactionRepository.
// Either every transaction is stored or none is.
func (s *Store) InsertTransactions(ctx context.Context, txs []*domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(txs))
	for _, tx := range txs {
		if tx.TransactionID == "" {
			return fmt.Errorf("InsertTransactions: transaction ID is required")
		}
		if _, exists := s.transactions[tx.TransactionID]; exists || seen[tx.TransactionID] {
			return fmt.Errorf("InsertTransactions: transaction %s already exists", tx.TransactionID)
		}
		seen[tx.TransactionID] = true
	}

	now := s.now()
	for _, tx := range txs {
		c := tx.Clone()
		if c.Category == "" {
			c.Category = domain.CategoryPending
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		s.seq++
		s.transactions[c.TransactionID] = &txRecord{tx: c, seq: s.seq}
	}

	return nil
}

// GetTransaction implements categorization.TransactionRepository.
func (s *Store) GetTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.transactions[transactionID]
	if !ok {
		return nil, fmt.Errorf("GetTransaction: transaction %s: %w", transactionID, categorization.ErrNotFound)
	}
	return rec.tx.Clone(), nil
}

// ListTransactions implements categorization.TransactionRepository.
func (s *Store) ListTransactions(ctx context.Context, filter categorization.TransactionFilter) ([]*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.sortedLocked(func(tx *domain.Transaction) bool {
		if filter.Category != "" && tx.Category != filter.Category {
			return false
		}
		if filter.BatchID != "" && (tx.BatchID == nil || *tx.BatchID != filter.BatchID) {
			return false
		}
		return true
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(recs) {
			return []*domain.Transaction{}, nil
		}
		recs = recs[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(recs) {
		recs = recs[:filter.Limit]
	}

	out := make([]*domain.Transaction, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.tx.Clone())
	}
	return out, nil
}

// ClaimPendingTransactions implements categorization.BatchRepository.
func (s *Store) ClaimPendingTransactions(ctx context.Context, batch *domain.Batch, limit int) (*domain.Batch, error) {
	if batch == nil || batch.ID == "" {
		return nil, fmt.Errorf("ClaimPendingTransactions: batch ID is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("ClaimPendingTransactions: limit must be positive, got %d", limit)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.batches[batch.ID]; exists {
		return nil, fmt.Errorf("ClaimPendingTransactions: batch %s already exists", batch.ID)
	}

	eligible := s.sortedLocked(func(tx *domain.Transaction) bool { return tx.Eligible() })
	if len(eligible) == 0 {
		return nil, nil
	}
	if len(eligible) > limit {
		eligible = eligible[:limit]
	}

	stored := batch.Clone()
	stored.Transactions = nil
	s.batches[stored.ID] = stored

	for _, r := range eligible {
		id := stored.ID
		r.tx.BatchID = &id
	}

	return s.batchWithMembersLocked(stored), nil
}

// SaveBatch implements categorization.BatchRepository.
func (s *Store) SaveBatch(ctx context.Context, batch *domain.Batch) error {
	if batch == nil || batch.ID == "" {
		return fmt.Errorf("SaveBatch: batch ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.batches[batch.ID]; ok && prev.IsTerminal() && prev.Status != batch.Status {
		return fmt.Errorf("SaveBatch: batch %s is %s: %w", batch.ID, prev.Status, categorization.ErrPrecondition)
	}

	stored := batch.Clone()
	stored.Transactions = nil
	s.batches[stored.ID] = stored

	for _, member := range batch.Transactions {
		rec, ok := s.transactions[member.TransactionID]
		if !ok || rec.tx.BatchID == nil || *rec.tx.BatchID != batch.ID {
			continue
		}
		rec.tx.Category = member.Category
	}

	return nil
}

// GetBatch implements categorization.BatchRepository.
func (s *Store) GetBatch(ctx context.Context, batchID string) (*domain.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.batches[batchID]
	if !ok {
		return nil, fmt.Errorf("GetBatch: batch %s: %w", batchID, categorization.ErrNotFound)
	}
	return s.batchWithMembersLocked(b), nil
}

// ListBatches implements categorization.BatchRepository.
func (s *Store) ListBatches(ctx context.Context, filter categorization.BatchFilter) ([]*domain.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*domain.Batch
	for _, b := range s.batches {
		if filter.Status != "" && b.Status != filter.Status {
			continue
		}
		matched = append(matched, b)
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}

	out := make([]*domain.Batch, 0, len(matched))
	for _, b := range matched {
		out = append(out, s.batchWithMembersLocked(b))
	}
	return out, nil
}

// ReleaseTransactions implements categorization.BatchRepository.
func (s *Store) ReleaseTransactions(ctx context.Context, batchID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.batches[batchID]; !ok {
		return 0, fmt.Errorf("ReleaseTransactions: batch %s: %w", batchID, categorization.ErrNotFound)
	}

	released := 0
	for _, rec := range s.transactions {
		if rec.tx.BatchID != nil && *rec.tx.BatchID == batchID && rec.tx.Category == domain.CategoryPending {
			rec.tx.BatchID = nil
			released++
		}
	}
	return released, nil
}

// Close implements categorization.Store.
func (s *Store) Close() error {
	return nil
}

// sortedLocked returns matching records oldest first. Callers hold s.mu.
func (s *Store) sortedLocked(match func(*domain.Transaction) bool) []*txRecord {
	var recs []*txRecord
	for _, r := range s.transactions {
		if match(r.tx) {
			recs = append(recs, r)
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].tx.CreatedAt.Equal(recs[j].tx.CreatedAt) {
			return recs[i].tx.CreatedAt.Before(recs[j].tx.CreatedAt)
		}
		return recs[i].seq < recs[j].seq
	})
	return recs
}

func (s *Store) batchWithMembersLocked(b *domain.Batch) *domain.Batch {
	out := b.Clone()
	members := s.sortedLocked(func(tx *domain.Transaction) bool {
		return tx.BatchID != nil && *tx.BatchID == b.ID
	})
	out.Transactions = make([]*domain.Transaction, 0, len(members))
	for _, r := range members {
		out.Transactions = append(out.Transactions, r.tx.Clone())
	}
	return out
}

// Ensure Store implements categorization.Store.
var _ categorization.Store = (*Store)(nil)
