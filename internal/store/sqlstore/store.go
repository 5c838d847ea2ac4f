package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/finance-categorizer/internal/categorization"
	"github.com/dvloznov/finance-categorizer/internal/domain"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// Supported dialects.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// errNothingClaimed rolls back a claim that found no eligible rows.
var errNothingClaimed = errors.New("nothing claimed")

// Store implements categorization.Store on a relational database via gorm.
type Store struct {
	db      *gorm.DB
	dialect string
	now     func() time.Time
}

// Open connects to dsn, applies migrations and returns a ready Store.
func Open(ctx context.Context, dialect, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch dialect {
	case DialectSQLite:
		dialector = sqlite.Open(dsn)
	case DialectPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("Open: unsupported dialect %q", dialect)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("Open: connecting to %s: %w", dialect, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("Open: getting sql.DB: %w", err)
	}
	if dialect == DialectSQLite {
		// SQLite serializes writers; a single connection also keeps
		// in-memory databases alive for the lifetime of the store.
		sqlDB.SetMaxOpenConns(1)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("Open: pinging %s: %w", dialect, err)
	}

	if err := Migrate(sqlDB, dialect); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("Open: %w", err)
	}

	return &Store{db: db, dialect: dialect, now: time.Now}, nil
}

// InsertTransactions implements categorization.TransactionRepository.
func (s *Store) InsertTransactions(ctx context.Context, txs []*domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	now := s.now().UTC()
	models := make([]transactionModel, 0, len(txs))
	for _, tx := range txs {
		if tx.TransactionID == "" {
			return fmt.Errorf("InsertTransactions: transaction ID is required")
		}
		m := toTransactionModel(tx)
		if m.Category == "" {
			m.Category = string(domain.CategoryPending)
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		m.UpdatedAt = now
		models = append(models, m)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&models).Error
	})
	if err != nil {
		return fmt.Errorf("InsertTransactions: inserting %d transactions: %w", len(models), err)
	}
	return nil
}

// GetTransaction implements categorization.TransactionRepository.
func (s *Store) GetTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	var m transactionModel
	err := s.db.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("GetTransaction: transaction %s: %w", transactionID, categorization.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GetTransaction: querying transaction %s: %w", transactionID, err)
	}
	return m.toDomain(), nil
}

// ListTransactions implements categorization.TransactionRepository.
func (s *Store) ListTransactions(ctx context.Context, filter categorization.TransactionFilter) ([]*domain.Transaction, error) {
	q := s.db.WithContext(ctx).Model(&transactionModel{})
	if filter.Category != "" {
		q = q.Where("category = ?", string(filter.Category))
	}
	if filter.BatchID != "" {
		q = q.Where("batch_id = ?", filter.BatchID)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var models []transactionModel
	if err := q.Order("created_at, transaction_id").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("ListTransactions: querying transactions: %w", err)
	}

	out := make([]*domain.Transaction, 0, len(models))
	for _, m := range models {
		out = append(out, m.toDomain())
	}
	return out, nil
}

// ClaimPendingTransactions implements categorization.BatchRepository.
// Candidate rows are selected and assigned inside one database transaction;
// the conditional update re-checks batch_id so a concurrent claimer can
// never take the same row twice. On PostgreSQL candidates are locked with
// FOR UPDATE SKIP LOCKED.
func (s *Store) ClaimPendingTransactions(ctx context.Context, batch *domain.Batch, limit int) (*domain.Batch, error) {
	if batch == nil || batch.ID == "" {
		return nil, fmt.Errorf("ClaimPendingTransactions: batch ID is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("ClaimPendingTransactions: limit must be positive, got %d", limit)
	}

	var claimed *domain.Batch
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&transactionModel{}).
			Where("category = ? AND batch_id IS NULL", string(domain.CategoryPending)).
			Order("created_at, transaction_id").
			Limit(limit)
		if s.dialect == DialectPostgres {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var ids []string
		if err := q.Pluck("transaction_id", &ids).Error; err != nil {
			return fmt.Errorf("selecting eligible transactions: %w", err)
		}
		if len(ids) == 0 {
			return errNothingClaimed
		}

		row := toBatchModel(batch)
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("inserting batch %s: %w", batch.ID, err)
		}

		res := tx.Model(&transactionModel{}).
			Where("transaction_id IN ? AND batch_id IS NULL", ids).
			Update("batch_id", batch.ID)
		if res.Error != nil {
			return fmt.Errorf("assigning transactions to batch %s: %w", batch.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			return errNothingClaimed
		}

		members, err := loadMembers(tx, []string{batch.ID})
		if err != nil {
			return err
		}
		claimed = row.toDomain()
		claimed.Transactions = members[batch.ID]
		return nil
	})
	if errors.Is(err, errNothingClaimed) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ClaimPendingTransactions: %w", err)
	}
	return claimed, nil
}

// SaveBatch implements categorization.BatchRepository.
func (s *Store) SaveBatch(ctx context.Context, batch *domain.Batch) error {
	if batch == nil || batch.ID == "" {
		return fmt.Errorf("SaveBatch: batch ID is required")
	}

	byCategory := make(map[domain.Category][]string)
	for _, member := range batch.Transactions {
		byCategory[member.Category] = append(byCategory[member.Category], member.TransactionID)
	}

	row := toBatchModel(batch)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "batch_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status", "external_batch_id", "external_status", "output_locator", "completed_at",
			}),
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Expr{
					SQL:  "batches.status NOT IN (?, ?) OR batches.status = excluded.status",
					Vars: []interface{}{string(domain.BatchStatusCompleted), string(domain.BatchStatusFailed)},
				},
			}},
		}).Create(&row)
		if res.Error != nil {
			return fmt.Errorf("upserting batch: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("batch is already terminal: %w", categorization.ErrPrecondition)
		}

		for category, ids := range byCategory {
			err := tx.Model(&transactionModel{}).
				Where("transaction_id IN ? AND batch_id = ?", ids, batch.ID).
				Update("category", string(category)).Error
			if err != nil {
				return fmt.Errorf("writing category %s: %w", category, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("SaveBatch: batch %s: %w", batch.ID, err)
	}
	return nil
}

// GetBatch implements categorization.BatchRepository.
func (s *Store) GetBatch(ctx context.Context, batchID string) (*domain.Batch, error) {
	db := s.db.WithContext(ctx)

	var row batchModel
	err := db.Where("batch_id = ?", batchID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("GetBatch: batch %s: %w", batchID, categorization.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GetBatch: querying batch %s: %w", batchID, err)
	}

	members, err := loadMembers(db, []string{batchID})
	if err != nil {
		return nil, fmt.Errorf("GetBatch: %w", err)
	}

	b := row.toDomain()
	b.Transactions = members[batchID]
	return b, nil
}

// ListBatches implements categorization.BatchRepository.
func (s *Store) ListBatches(ctx context.Context, filter categorization.BatchFilter) ([]*domain.Batch, error) {
	db := s.db.WithContext(ctx)

	q := db.Model(&batchModel{})
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var rows []batchModel
	if err := q.Order("created_at, batch_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("ListBatches: querying batches: %w", err)
	}
	if len(rows) == 0 {
		return []*domain.Batch{}, nil
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.BatchID)
	}
	members, err := loadMembers(db, ids)
	if err != nil {
		return nil, fmt.Errorf("ListBatches: %w", err)
	}

	out := make([]*domain.Batch, 0, len(rows))
	for _, r := range rows {
		b := r.toDomain()
		b.Transactions = members[r.BatchID]
		out = append(out, b)
	}
	return out, nil
}

// ReleaseTransactions implements categorization.BatchRepository.
func (s *Store) ReleaseTransactions(ctx context.Context, batchID string) (int, error) {
	var released int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&batchModel{}).Where("batch_id = ?", batchID).Count(&count).Error; err != nil {
			return fmt.Errorf("looking up batch: %w", err)
		}
		if count == 0 {
			return fmt.Errorf("batch %s: %w", batchID, categorization.ErrNotFound)
		}

		res := tx.Model(&transactionModel{}).
			Where("batch_id = ? AND category = ?", batchID, string(domain.CategoryPending)).
			Update("batch_id", nil)
		if res.Error != nil {
			return fmt.Errorf("clearing assignments: %w", res.Error)
		}
		released = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("ReleaseTransactions: %w", err)
	}
	return int(released), nil
}

// Close implements categorization.Store.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("Close: %w", err)
	}
	return sqlDB.Close()
}

// loadMembers returns the members of each batch, oldest first.
func loadMembers(db *gorm.DB, batchIDs []string) (map[string][]*domain.Transaction, error) {
	var models []transactionModel
	err := db.Where("batch_id IN ?", batchIDs).
		Order("created_at, transaction_id").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("loading batch members: %w", err)
	}

	out := make(map[string][]*domain.Transaction, len(batchIDs))
	for _, id := range batchIDs {
		out[id] = []*domain.Transaction{}
	}
	for _, m := range models {
		out[*m.BatchID] = append(out[*m.BatchID], m.toDomain())
	}
	return out, nil
}

// Ensure Store implements categorization.Store.
var _ categorization.Store = (*Store)(nil)
