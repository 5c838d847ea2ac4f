package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dvloznov/finance-categorizer/internal/app"
	"github.com/dvloznov/finance-categorizer/internal/categorization"
	"github.com/dvloznov/finance-categorizer/internal/config"
	"github.com/dvloznov/finance-categorizer/internal/domain"
	"github.com/dvloznov/finance-categorizer/internal/gcsuploader"
	"github.com/dvloznov/finance-categorizer/internal/ingest"
	"github.com/dvloznov/finance-categorizer/internal/logger"
	"github.com/dvloznov/finance-categorizer/internal/store"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

func main() {
	_ = godotenv.Load()
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		printUsage()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if log, err = logger.NewWithOptions(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format}); err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Failed to create logger")
	}

	switch cmd {
	case "ingest":
		runIngest(cfg, log)
	case "form":
		runForm(cfg, log)
	case "poll":
		runPoll(cfg, log)
	case "inspect":
		runInspect(cfg, log)
	case "release":
		runRelease(cfg, log)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Finance Categorizer CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  ingest    Import transactions from a CSV file (local path or gs:// URI)")
	fmt.Println("  form      Form and submit one batch of pending transactions")
	fmt.Println("  poll      Poll in-flight batches and apply finished results")
	fmt.Println("  inspect   Show a transaction or a batch")
	fmt.Println("  release   Return the members of a failed batch to the pending pool")
	fmt.Println("  help      Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

func runIngest(cfg config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	file := fs.String("file", "", "CSV file path or gs:// URI")
	fs.Parse(os.Args[2:])

	if *file == "" {
		log.Fatal().Msg("Error: --file is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	r, err := openInput(ctx, *file)
	if err != nil {
		log.Fatal().Err(err).Str("file", *file).Msg("Failed to open input")
	}
	defer r.Close()

	repo, err := store.Open(ctx, cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer repo.Close()

	log.Info().Str("file", *file).Msg("Starting ingestion")

	res, err := ingest.NewImporter(repo).Import(ctx, r)
	if err != nil {
		log.Fatal().Err(err).Msg("Ingestion failed")
	}

	fmt.Printf("Ingestion completed: %d processed, %d failed.\n", res.Processed, res.Failed)
}

// openInput reads a local file, or downloads a gs:// object into memory.
func openInput(ctx context.Context, file string) (io.ReadCloser, error) {
	if !strings.HasPrefix(file, "gs://") {
		return os.Open(file)
	}

	bucket, _, err := gcsuploader.ParseGCSURI(file)
	if err != nil {
		return nil, err
	}
	gcs, err := gcsuploader.NewGCSArtifactStore(ctx, bucket, "")
	if err != nil {
		return nil, err
	}
	defer gcs.Close()

	data, err := gcs.Download(ctx, file)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func newApp(ctx context.Context, cfg config.Config, log zerolog.Logger) *app.App {
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	return a
}

func runForm(cfg config.Config, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	a := newApp(ctx, cfg, log)
	defer a.Close()

	batch, err := a.Orchestrator.FormAndSubmit(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Batch formation failed")
	}
	if batch == nil {
		fmt.Println("No pending transactions.")
		return
	}

	fmt.Printf("Submitted batch %s with %d transactions (remote %s).\n",
		batch.ID, len(batch.Transactions), batch.ExternalID)
}

func runPoll(cfg config.Config, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	a := newApp(ctx, cfg, log)
	defer a.Close()

	summary, err := a.Orchestrator.PollAndReconcile(ctx)
	printSummary(summary)
	if err != nil {
		log.Fatal().Err(err).Msg("Polling finished with errors")
	}
}

func printSummary(s categorization.PollSummary) {
	fmt.Println("\n=== Poll Summary ===")
	fmt.Printf("Polled:    %d\n", s.Polled)
	fmt.Printf("Completed: %d\n", s.Completed)
	fmt.Printf("Failed:    %d\n", s.Failed)
	fmt.Printf("In flight: %d\n", s.InFlight)
	fmt.Printf("Orphaned:  %d\n", s.Orphaned)
	fmt.Printf("Errors:    %d\n", s.Errors)
}

func runInspect(cfg config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	transactionID := fs.String("transaction-id", "", "Transaction ID to inspect")
	batchID := fs.String("batch-id", "", "Batch ID to inspect")
	fs.Parse(os.Args[2:])

	if (*transactionID == "") == (*batchID == "") {
		log.Fatal().Msg("Error: exactly one of --transaction-id or --batch-id is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	repo, err := store.Open(ctx, cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer repo.Close()

	if *transactionID != "" {
		tx, err := repo.GetTransaction(ctx, *transactionID)
		if errors.Is(err, categorization.ErrNotFound) {
			log.Fatal().Str("transaction_id", *transactionID).Msg("Transaction not found")
		}
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to get transaction")
		}
		fmt.Println("\n=== Transaction ===")
		printTransaction(tx)
		return
	}

	batch, err := repo.GetBatch(ctx, *batchID)
	if errors.Is(err, categorization.ErrNotFound) {
		log.Fatal().Str("batch_id", *batchID).Msg("Batch not found")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to get batch")
	}

	fmt.Println("\n=== Batch Details ===")
	fmt.Printf("ID:              %s\n", batch.ID)
	fmt.Printf("Status:          %s\n", batch.Status)
	fmt.Printf("External ID:     %s\n", batch.ExternalID)
	fmt.Printf("External status: %s\n", batch.ExternalStatus)
	fmt.Printf("Output:          %s\n", batch.OutputLocator)
	fmt.Printf("Created:         %s\n", batch.CreatedAt.Format(time.RFC3339))
	if batch.CompletedAt != nil {
		fmt.Printf("Completed:       %s\n", batch.CompletedAt.Format(time.RFC3339))
	}

	fmt.Printf("\n=== Transactions (%d) ===\n", len(batch.Transactions))
	for i, tx := range batch.Transactions {
		fmt.Printf("\n%d.\n", i+1)
		printTransaction(tx)
	}
	fmt.Println()
}

func printTransaction(tx *domain.Transaction) {
	fmt.Printf("   ID:          %s\n", tx.TransactionID)
	fmt.Printf("   Date:        %s\n", tx.Timestamp.Format(time.DateOnly))
	fmt.Printf("   Description: %s\n", tx.Description)
	fmt.Printf("   Amount:      %s (%s)\n", tx.Amount.StringFixed(2), tx.Type)
	fmt.Printf("   Account:     %s\n", tx.AccountNumber)
	fmt.Printf("   Category:    %s\n", tx.Category)
	if tx.BatchID != nil {
		fmt.Printf("   Batch:       %s\n", *tx.BatchID)
	}
}

func runRelease(cfg config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("release", flag.ExitOnError)
	batchID := fs.String("batch-id", "", "ID of the failed batch")
	fs.Parse(os.Args[2:])

	if *batchID == "" {
		log.Fatal().Msg("Error: --batch-id is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	a := newApp(ctx, cfg, log)
	defer a.Close()

	n, err := a.Orchestrator.ReleaseBatch(ctx, *batchID)
	if err != nil {
		log.Fatal().Err(err).Msg("Release failed")
	}

	fmt.Printf("Released %d transactions from batch %s.\n", n, *batchID)
}
