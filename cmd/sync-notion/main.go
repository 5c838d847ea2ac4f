package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/dvloznov/finance-categorizer/internal/categorization"
	"github.com/dvloznov/finance-categorizer/internal/config"
	"github.com/dvloznov/finance-categorizer/internal/domain"
	"github.com/dvloznov/finance-categorizer/internal/logger"
	"github.com/dvloznov/finance-categorizer/internal/notionsync"
	"github.com/dvloznov/finance-categorizer/internal/store"
	"github.com/joho/godotenv"
)

const listPageSize = 500

func main() {
	_ = godotenv.Load()

	// Initialize structured logger
	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Parse CLI flags; Notion settings default to the configuration
	notionToken := flag.String("notion-token", cfg.Notion.Token, "Notion API token")
	notionDBID := flag.String("notion-db-id", cfg.Notion.DatabaseID, "Notion database ID")
	categoryStr := flag.String("category", "", "Only sync transactions with this category")
	dryRun := flag.Bool("dry-run", false, "Dry run mode - preview changes without syncing")
	flag.Parse()

	if *notionToken == "" {
		log.Fatal().Msg("Error: --notion-token is required")
	}
	if *notionDBID == "" {
		log.Fatal().Msg("Error: --notion-db-id is required")
	}

	var filter categorization.TransactionFilter
	if *categoryStr != "" {
		cat, ok := domain.ParseCategory(*categoryStr)
		if !ok {
			log.Fatal().Str("category", *categoryStr).Msg("Error: unknown category")
		}
		filter.Category = cat
	}

	// Create context with timeout so CLI doesn't hang
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	log.Info().
		Str("store", cfg.Store.Backend).
		Str("category", *categoryStr).
		Bool("dry_run", *dryRun).
		Msg("Starting Notion sync")

	repo, err := store.Open(ctx, cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer repo.Close()

	txs, err := listAll(ctx, repo, filter)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list transactions")
	}

	exporter := notionsync.NewExporter(notionsync.NewNotionClient(*notionToken), *notionDBID)
	res, err := exporter.Sync(ctx, txs, *dryRun)
	if err != nil {
		log.Fatal().Err(err).Msg("Sync failed")
	}

	fmt.Printf("Sync completed: %d created, %d updated, %d skipped, %d failed\n",
		res.Created, res.Updated, res.Skipped, res.Failed)
}

func listAll(ctx context.Context, repo categorization.TransactionRepository, filter categorization.TransactionFilter) ([]*domain.Transaction, error) {
	filter.Limit = listPageSize
	var all []*domain.Transaction
	for {
		page, err := repo.ListTransactions(ctx, filter)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < listPageSize {
			return all, nil
		}
		filter.Offset += len(page)
	}
}
