package ingest

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dvloznov/finance-categorizer/internal/categorization"
	"github.com/dvloznov/finance-categorizer/internal/domain"
	"github.com/dvloznov/finance-categorizer/internal/logger"
)

// DefaultChunkSize is the number of rows inserted per store call.
const DefaultChunkSize = 500

// Result counts imported and rejected rows.
type Result struct {
	Processed int
	Failed    int
}

// Importer stores parsed CSV rows as Pending transactions.
type Importer struct {
	repo      categorization.TransactionRepository
	chunkSize int
	now       func() time.Time
}

// NewImporter creates an importer writing to repo.
func NewImporter(repo categorization.TransactionRepository) *Importer {
	return &Importer{
		repo:      repo,
		chunkSize: DefaultChunkSize,
		now:       time.Now,
	}
}

// Import parses r and inserts every valid row. Rows are inserted in chunks;
// when a chunk is rejected, its rows are retried one by one so a single
// duplicate only fails itself.
func (i *Importer) Import(ctx context.Context, r io.Reader) (Result, error) {
	log := logger.FromContext(ctx)
	var res Result

	parsed, err := ParseCSV(r, i.now().UTC())
	if err != nil {
		return res, fmt.Errorf("Import: %w", err)
	}
	for _, rowErr := range parsed.Errors {
		log.Warn().Int("line", rowErr.Line).Err(rowErr.Err).Msg("Skipping invalid CSV row")
	}
	res.Failed = len(parsed.Errors)

	txs := parsed.Transactions
	for start := 0; start < len(txs); start += i.chunkSize {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("Import: %w", err)
		}

		end := start + i.chunkSize
		if end > len(txs) {
			end = len(txs)
		}
		chunk := txs[start:end]

		if err := i.repo.InsertTransactions(ctx, chunk); err == nil {
			res.Processed += len(chunk)
			continue
		}

		for _, tx := range chunk {
			if err := i.repo.InsertTransactions(ctx, []*domain.Transaction{tx}); err != nil {
				log.Error().
					Err(err).
					Str("transaction_id", tx.TransactionID).
					Msg("Error inserting transaction")
				res.Failed++
				continue
			}
			res.Processed++
		}
	}

	log.Info().
		Int("processed", res.Processed).
		Int("failed", res.Failed).
		Msg("CSV import finished")

	return res, nil
}
