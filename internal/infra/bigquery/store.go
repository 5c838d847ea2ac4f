package bigquery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/finance-categorizer/internal/categorization"
	"github.com/dvloznov/finance-categorizer/internal/domain"
	"google.golang.org/api/iterator"
)

const (
	transactionsTable = "transactions"
	batchesTable      = "batches"

	transactionColumns = `transaction_id, amount, transaction_date, description, transaction_type,
		account_number, category, batch_id, created_ts, updated_ts`
	batchColumns = `batch_id, status, external_batch_id, external_status, output_locator,
		created_ts, completed_ts`
)

// Store implements categorization.Store on BigQuery. Multi-row changes run
// as multi-statement transactions; BigQuery aborts one of two concurrent
// transactions touching the same rows, so a claim never double-assigns.
type Store struct {
	client    *bigquery.Client
	projectID string
	datasetID string
	now       func() time.Time
}

// NewStore creates a Store with its own BigQuery client.
func NewStore(ctx context.Context, projectID, datasetID string) (*Store, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewStore: creating client: %w", err)
	}
	return NewStoreWithClient(client, projectID, datasetID), nil
}

// NewStoreWithClient creates a Store using the provided client.
func NewStoreWithClient(client *bigquery.Client, projectID, datasetID string) *Store {
	return &Store{
		client:    client,
		projectID: projectID,
		datasetID: datasetID,
		now:       time.Now,
	}
}

// Close closes the BigQuery client connection.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *Store) table(name string) string {
	return "`" + s.projectID + "." + s.datasetID + "." + name + "`"
}

// InsertTransactions implements categorization.TransactionRepository.
// Existing ids make the whole script fail before anything is written.
func (s *Store) InsertTransactions(ctx context.Context, txs []*domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	now := s.now().UTC()
	seen := make(map[string]bool, len(txs))
	ids := make([]string, 0, len(txs))
	rows := make([]TransactionRow, 0, len(txs))
	for _, tx := range txs {
		if tx.TransactionID == "" {
			return fmt.Errorf("InsertTransactions: transaction ID is required")
		}
		if seen[tx.TransactionID] {
			return fmt.Errorf("InsertTransactions: transaction %s appears twice", tx.TransactionID)
		}
		seen[tx.TransactionID] = true

		row := NewTransactionRow(tx)
		if row.CreatedTS.IsZero() {
			row.CreatedTS = now
		}
		row.UpdatedTS = bigquery.NullTimestamp{Timestamp: now, Valid: true}
		rows = append(rows, *row)
		ids = append(ids, tx.TransactionID)
	}

	q := s.client.Query(fmt.Sprintf(`
		BEGIN TRANSACTION;
		IF EXISTS (SELECT 1 FROM %[1]s WHERE transaction_id IN UNNEST(@ids)) THEN
			RAISE USING MESSAGE = 'transaction ids already exist';
		END IF;
		INSERT INTO %[1]s (%[2]s)
		SELECT r.transaction_id, r.amount, r.transaction_date, r.description, r.transaction_type,
			r.account_number, r.category, r.batch_id, r.created_ts, r.updated_ts
		FROM UNNEST(@rows) AS r;
		COMMIT TRANSACTION;
	`, s.table(transactionsTable), transactionColumns))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "ids", Value: ids},
		{Name: "rows", Value: rows},
	}

	if err := s.run(ctx, q); err != nil {
		return fmt.Errorf("InsertTransactions: %w", err)
	}
	return nil
}

// GetTransaction implements categorization.TransactionRepository.
func (s *Store) GetTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	q := s.client.Query(fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE transaction_id = @transaction_id
		LIMIT 1
	`, transactionColumns, s.table(transactionsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "transaction_id", Value: transactionID},
	}

	txs, err := s.readTransactions(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("GetTransaction: %w", err)
	}
	if len(txs) == 0 {
		return nil, fmt.Errorf("GetTransaction: transaction %s: %w", transactionID, categorization.ErrNotFound)
	}
	return txs[0], nil
}

// ListTransactions implements categorization.TransactionRepository.
func (s *Store) ListTransactions(ctx context.Context, filter categorization.TransactionFilter) ([]*domain.Transaction, error) {
	var where []string
	var params []bigquery.QueryParameter
	if filter.Category != "" {
		where = append(where, "category = @category")
		params = append(params, bigquery.QueryParameter{Name: "category", Value: string(filter.Category)})
	}
	if filter.BatchID != "" {
		where = append(where, "batch_id = @batch_id")
		params = append(params, bigquery.QueryParameter{Name: "batch_id", Value: filter.BatchID})
	}

	sql := fmt.Sprintf("SELECT %s FROM %s", transactionColumns, s.table(transactionsTable))
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY created_ts, transaction_id"
	// OFFSET is only valid after LIMIT in BigQuery.
	if filter.Limit > 0 {
		sql += " LIMIT @limit OFFSET @offset"
		params = append(params,
			bigquery.QueryParameter{Name: "limit", Value: filter.Limit},
			bigquery.QueryParameter{Name: "offset", Value: filter.Offset},
		)
	}

	q := s.client.Query(sql)
	q.Parameters = params

	txs, err := s.readTransactions(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("ListTransactions: %w", err)
	}
	if filter.Limit <= 0 && filter.Offset > 0 {
		if filter.Offset >= len(txs) {
			return []*domain.Transaction{}, nil
		}
		txs = txs[filter.Offset:]
	}
	return txs, nil
}

// ClaimPendingTransactions implements categorization.BatchRepository.
// The batch row is inserted only when at least one transaction was eligible.
func (s *Store) ClaimPendingTransactions(ctx context.Context, batch *domain.Batch, limit int) (*domain.Batch, error) {
	if batch == nil || batch.ID == "" {
		return nil, fmt.Errorf("ClaimPendingTransactions: batch ID is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("ClaimPendingTransactions: limit must be positive, got %d", limit)
	}

	row := NewBatchRow(batch)
	q := s.client.Query(fmt.Sprintf(`
		DECLARE ids ARRAY<STRING>;
		BEGIN TRANSACTION;
		IF EXISTS (SELECT 1 FROM %[2]s WHERE batch_id = @batch_id) THEN
			RAISE USING MESSAGE = 'batch already exists';
		END IF;
		SET ids = (
			SELECT ARRAY_AGG(transaction_id ORDER BY created_ts, transaction_id LIMIT @limit)
			FROM %[1]s
			WHERE category = @pending AND batch_id IS NULL
		);
		IF ARRAY_LENGTH(ids) > 0 THEN
			UPDATE %[1]s
			SET batch_id = @batch_id, updated_ts = CURRENT_TIMESTAMP()
			WHERE transaction_id IN UNNEST(ids) AND batch_id IS NULL;
			INSERT INTO %[2]s (%[3]s)
			VALUES (@batch_id, @status, @external_batch_id, @external_status, @output_locator,
				@created_ts, @completed_ts);
		END IF;
		COMMIT TRANSACTION;
	`, s.table(transactionsTable), s.table(batchesTable), batchColumns))
	q.Parameters = append(batchParams(row),
		bigquery.QueryParameter{Name: "limit", Value: limit},
		bigquery.QueryParameter{Name: "pending", Value: string(domain.CategoryPending)},
	)

	if err := s.run(ctx, q); err != nil {
		return nil, fmt.Errorf("ClaimPendingTransactions: %w", err)
	}

	members, err := s.members(ctx, []string{batch.ID})
	if err != nil {
		return nil, fmt.Errorf("ClaimPendingTransactions: %w", err)
	}
	if len(members[batch.ID]) == 0 {
		return nil, nil
	}

	claimed := row.ToDomain()
	claimed.Transactions = members[batch.ID]
	return claimed, nil
}

// SaveBatch implements categorization.BatchRepository.
func (s *Store) SaveBatch(ctx context.Context, batch *domain.Batch) error {
	if batch == nil || batch.ID == "" {
		return fmt.Errorf("SaveBatch: batch ID is required")
	}

	updates := make([]categoryUpdate, 0, len(batch.Transactions))
	for _, tx := range batch.Transactions {
		updates = append(updates, categoryUpdate{TransactionID: tx.TransactionID, Category: string(tx.Category)})
	}

	row := NewBatchRow(batch)
	q := s.client.Query(fmt.Sprintf(`
		BEGIN TRANSACTION;
		IF EXISTS (
			SELECT 1 FROM %[2]s
			WHERE batch_id = @batch_id AND status IN ('COMPLETED', 'FAILED') AND status != @status
		) THEN
			ROLLBACK TRANSACTION;
			RAISE USING MESSAGE = '%[4]s';
		END IF;
		MERGE %[2]s AS t
		USING (SELECT @batch_id AS batch_id) AS s
		ON t.batch_id = s.batch_id
		WHEN MATCHED THEN UPDATE SET
			status = @status,
			external_batch_id = @external_batch_id,
			external_status = @external_status,
			output_locator = @output_locator,
			completed_ts = @completed_ts
		WHEN NOT MATCHED THEN INSERT (%[3]s)
			VALUES (@batch_id, @status, @external_batch_id, @external_status, @output_locator,
				@created_ts, @completed_ts);
		UPDATE %[1]s AS t
		SET category = u.category, updated_ts = CURRENT_TIMESTAMP()
		FROM UNNEST(@updates) AS u
		WHERE t.transaction_id = u.transaction_id AND t.batch_id = @batch_id;
		COMMIT TRANSACTION;
	`, s.table(transactionsTable), s.table(batchesTable), batchColumns, terminalBatchMessage))
	q.Parameters = append(batchParams(row),
		bigquery.QueryParameter{Name: "updates", Value: updates},
	)

	if err := s.run(ctx, q); err != nil {
		if isTerminalBatchError(err) {
			return fmt.Errorf("SaveBatch: batch %s is already terminal: %w", batch.ID, categorization.ErrPrecondition)
		}
		return fmt.Errorf("SaveBatch: batch %s: %w", batch.ID, err)
	}
	return nil
}

// terminalBatchMessage is raised by the SaveBatch script when the stored
// batch is COMPLETED or FAILED and the new status differs.
const terminalBatchMessage = "categorizer: batch is terminal"

func isTerminalBatchError(err error) bool {
	return err != nil && strings.Contains(err.Error(), terminalBatchMessage)
}

// GetBatch implements categorization.BatchRepository.
func (s *Store) GetBatch(ctx context.Context, batchID string) (*domain.Batch, error) {
	q := s.client.Query(fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE batch_id = @batch_id
		LIMIT 1
	`, batchColumns, s.table(batchesTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "batch_id", Value: batchID},
	}

	batches, err := s.readBatches(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("GetBatch: %w", err)
	}
	if len(batches) == 0 {
		return nil, fmt.Errorf("GetBatch: batch %s: %w", batchID, categorization.ErrNotFound)
	}
	return batches[0], nil
}

// ListBatches implements categorization.BatchRepository.
func (s *Store) ListBatches(ctx context.Context, filter categorization.BatchFilter) ([]*domain.Batch, error) {
	sql := fmt.Sprintf("SELECT %s FROM %s", batchColumns, s.table(batchesTable))
	var params []bigquery.QueryParameter
	if filter.Status != "" {
		sql += " WHERE status = @status"
		params = append(params, bigquery.QueryParameter{Name: "status", Value: string(filter.Status)})
	}
	sql += " ORDER BY created_ts, batch_id"
	if filter.Limit > 0 {
		sql += " LIMIT @limit"
		params = append(params, bigquery.QueryParameter{Name: "limit", Value: filter.Limit})
	}

	q := s.client.Query(sql)
	q.Parameters = params

	batches, err := s.readBatches(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("ListBatches: %w", err)
	}
	return batches, nil
}

// ReleaseTransactions implements categorization.BatchRepository.
func (s *Store) ReleaseTransactions(ctx context.Context, batchID string) (int, error) {
	if _, err := s.GetBatch(ctx, batchID); err != nil {
		return 0, fmt.Errorf("ReleaseTransactions: %w", err)
	}

	q := s.client.Query(fmt.Sprintf(`
		UPDATE %s
		SET batch_id = NULL, updated_ts = CURRENT_TIMESTAMP()
		WHERE batch_id = @batch_id AND category = @pending
	`, s.table(transactionsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "batch_id", Value: batchID},
		{Name: "pending", Value: string(domain.CategoryPending)},
	}

	status, err := s.wait(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("ReleaseTransactions: batch %s: %w", batchID, err)
	}
	return int(affectedRows(status)), nil
}

func batchParams(row *BatchRow) []bigquery.QueryParameter {
	return []bigquery.QueryParameter{
		{Name: "batch_id", Value: row.BatchID},
		{Name: "status", Value: row.Status},
		{Name: "external_batch_id", Value: row.ExternalBatchID},
		{Name: "external_status", Value: row.ExternalStatus},
		{Name: "output_locator", Value: row.OutputLocator},
		{Name: "created_ts", Value: row.CreatedTS},
		{Name: "completed_ts", Value: row.CompletedTS},
	}
}

// run executes a statement or script and waits for it to finish.
func (s *Store) run(ctx context.Context, q *bigquery.Query) error {
	_, err := s.wait(ctx, q)
	return err
}

func (s *Store) wait(ctx context.Context, q *bigquery.Query) (*bigquery.JobStatus, error) {
	job, err := q.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("running query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return nil, fmt.Errorf("job error: %w", err)
	}
	return status, nil
}

func affectedRows(status *bigquery.JobStatus) int64 {
	if status == nil || status.Statistics == nil {
		return 0
	}
	if qs, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
		return qs.NumDMLAffectedRows
	}
	return 0
}

func (s *Store) readTransactions(ctx context.Context, q *bigquery.Query) ([]*domain.Transaction, error) {
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("query read: %w", err)
	}

	out := []*domain.Transaction{}
	for {
		var r TransactionRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iter next: %w", err)
		}
		tx, err := r.ToDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}

// readBatches reads batch rows and attaches their members.
func (s *Store) readBatches(ctx context.Context, q *bigquery.Query) ([]*domain.Batch, error) {
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("query read: %w", err)
	}

	out := []*domain.Batch{}
	var ids []string
	for {
		var r BatchRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iter next: %w", err)
		}
		out = append(out, r.ToDomain())
		ids = append(ids, r.BatchID)
	}
	if len(ids) == 0 {
		return out, nil
	}

	members, err := s.members(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, b := range out {
		b.Transactions = members[b.ID]
	}
	return out, nil
}

// members returns the transactions assigned to each batch, oldest first.
func (s *Store) members(ctx context.Context, batchIDs []string) (map[string][]*domain.Transaction, error) {
	q := s.client.Query(fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE batch_id IN UNNEST(@batch_ids)
		ORDER BY created_ts, transaction_id
	`, transactionColumns, s.table(transactionsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "batch_ids", Value: batchIDs},
	}

	txs, err := s.readTransactions(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("loading batch members: %w", err)
	}

	out := make(map[string][]*domain.Transaction, len(batchIDs))
	for _, id := range batchIDs {
		out[id] = []*domain.Transaction{}
	}
	for _, tx := range txs {
		out[*tx.BatchID] = append(out[*tx.BatchID], tx)
	}
	return out, nil
}

// Ensure Store implements categorization.Store.
var _ categorization.Store = (*Store)(nil)
