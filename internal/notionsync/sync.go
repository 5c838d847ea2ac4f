// Package notionsync mirrors categorized transactions into a Notion database.
package notionsync

import (
	"context"
	"fmt"

	"github.com/dvloznov/finance-categorizer/internal/categorization"
	"github.com/dvloznov/finance-categorizer/internal/domain"
	"github.com/dvloznov/finance-categorizer/internal/logger"
	"github.com/jomei/notionapi"
)

const (
	// PageSize is the number of pages requested per database query.
	PageSize = 100
)

// SyncResult counts what a sync did.
type SyncResult struct {
	Created int
	Updated int
	Skipped int
	Failed  int
}

// Exporter writes categorized transactions to a Notion database.
type Exporter struct {
	client     NotionService
	databaseID string
}

// NewExporter creates an exporter for the given database.
func NewExporter(client NotionService, databaseID string) *Exporter {
	return &Exporter{client: client, databaseID: databaseID}
}

// BatchCompleted creates one page per member of a completed batch. A failed
// page is logged and does not stop the others; the error reports how many
// pages could not be written.
func (e *Exporter) BatchCompleted(ctx context.Context, batch *domain.Batch) error {
	log := logger.FromContext(ctx)

	var created, failed int
	for _, tx := range batch.Transactions {
		if !tx.Category.IsAssignable() {
			continue
		}
		page, err := e.client.CreatePage(ctx, e.databaseID, TransactionToNotionProperties(tx))
		if err != nil {
			log.Warn().
				Err(err).
				Str("batch_id", batch.ID).
				Str("transaction_id", tx.TransactionID).
				Msg("Failed to create Notion page")
			failed++
			continue
		}
		log.Debug().
			Str("transaction_id", tx.TransactionID).
			Str("page_id", string(page.ID)).
			Msg("Created Notion page")
		created++
	}

	log.Info().
		Str("batch_id", batch.ID).
		Int("created", created).
		Int("failed", failed).
		Msg("Exported batch to Notion")

	if failed > 0 {
		return fmt.Errorf("BatchCompleted: %d of %d pages failed for batch %s", failed, created+failed, batch.ID)
	}
	return nil
}

// Sync backfills categorized transactions. Pages are matched by
// transaction id: missing pages are created, pages whose category differs
// are updated and the rest are skipped. Pending transactions are ignored.
func (e *Exporter) Sync(ctx context.Context, txs []*domain.Transaction, dryRun bool) (SyncResult, error) {
	log := logger.FromContext(ctx)
	var res SyncResult

	log.Info().
		Int("transactions", len(txs)).
		Bool("dry_run", dryRun).
		Msg("Starting transaction sync to Notion")

	pages, err := queryAllNotionPages(ctx, e.client, e.databaseID)
	if err != nil {
		return res, fmt.Errorf("Sync: %w", err)
	}

	existing := make(map[string]notionapi.Page, len(pages))
	for _, page := range pages {
		if id := extractTransactionID(page); id != "" {
			existing[id] = page
		}
	}
	log.Info().Int("notion_page_count", len(existing)).Msg("Retrieved existing Notion pages")

	for _, tx := range txs {
		if !tx.Category.IsAssignable() {
			res.Skipped++
			continue
		}

		page, found := existing[tx.TransactionID]
		if found && extractCategory(page) == string(tx.Category) {
			res.Skipped++
			continue
		}

		if dryRun {
			log.Info().
				Str("transaction_id", tx.TransactionID).
				Bool("update", found).
				Msg("[DRY RUN] Would write Notion page")
			if found {
				res.Updated++
			} else {
				res.Created++
			}
			continue
		}

		props := TransactionToNotionProperties(tx)
		if found {
			if _, err := e.client.UpdatePage(ctx, string(page.ID), props); err != nil {
				log.Warn().
					Err(err).
					Str("transaction_id", tx.TransactionID).
					Str("page_id", string(page.ID)).
					Msg("Failed to update Notion page")
				res.Failed++
				continue
			}
			res.Updated++
			continue
		}

		if _, err := e.client.CreatePage(ctx, e.databaseID, props); err != nil {
			log.Warn().
				Err(err).
				Str("transaction_id", tx.TransactionID).
				Msg("Failed to create Notion page")
			res.Failed++
			continue
		}
		res.Created++
	}

	log.Info().
		Int("created", res.Created).
		Int("updated", res.Updated).
		Int("skipped", res.Skipped).
		Int("failed", res.Failed).
		Msg("Transaction sync completed")

	return res, nil
}

// queryAllNotionPages follows the query cursor until every page is read.
func queryAllNotionPages(ctx context.Context, notionClient NotionService, databaseID string) ([]notionapi.Page, error) {
	var allPages []notionapi.Page
	var cursor notionapi.Cursor

	for {
		req := &notionapi.DatabaseQueryRequest{
			PageSize: PageSize,
		}
		if cursor != "" {
			req.StartCursor = cursor
		}

		resp, err := notionClient.QueryDatabase(ctx, databaseID, req)
		if err != nil {
			return nil, fmt.Errorf("queryAllNotionPages: %w", err)
		}

		allPages = append(allPages, resp.Results...)

		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}

	return allPages, nil
}

var _ categorization.ResultListener = (*Exporter)(nil)
