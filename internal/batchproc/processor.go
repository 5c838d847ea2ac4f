// Package batchproc implements categorization.BatchProcessor on top of a
// remote batch prediction service.
package batchproc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dvloznov/finance-categorizer/internal/categorization"
	"github.com/dvloznov/finance-categorizer/internal/domain"
	"github.com/dvloznov/finance-categorizer/internal/logger"
)

// Config controls request rendering and artifact naming.
type Config struct {
	MaxOutputTokens int
	// OutputPrefix is joined with the batch id to form the remote output
	// location, e.g. gs://bucket/categorizer/<batch id>.
	OutputPrefix string
}

// GeminiBatchProcessor submits batches as JSONL files and polls them
// through a BatchGateway.
type GeminiBatchProcessor struct {
	repo      categorization.BatchRepository
	gateway   BatchGateway
	artifacts ArtifactStore
	cfg       Config
}

// NewGeminiBatchProcessor wires a processor.
func NewGeminiBatchProcessor(repo categorization.BatchRepository, gateway BatchGateway, artifacts ArtifactStore, cfg Config) *GeminiBatchProcessor {
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = DefaultMaxOutputTokens
	}
	return &GeminiBatchProcessor{
		repo:      repo,
		gateway:   gateway,
		artifacts: artifacts,
		cfg:       cfg,
	}
}

func inputName(batchID string) string {
	return "batch-" + batchID + "-input.jsonl"
}

func displayName(batchID string) string {
	return "categorizer-" + batchID
}

func (p *GeminiBatchProcessor) outputPrefix(batchID string) string {
	if p.cfg.OutputPrefix == "" {
		return ""
	}
	return strings.TrimSuffix(p.cfg.OutputPrefix, "/") + "/" + batchID
}

// SubmitBatch uploads one request per member and registers the remote job.
// The returned batch is a copy; persisting it is up to the caller.
func (p *GeminiBatchProcessor) SubmitBatch(ctx context.Context, batch *domain.Batch) (*domain.Batch, error) {
	if batch == nil || len(batch.Transactions) == 0 {
		return batch, errors.New("SubmitBatch: batch has no transactions")
	}

	log := logger.FromContext(ctx).With().Str("batch_id", batch.ID).Logger()

	payload, err := BuildRequests(batch.Transactions, p.cfg.MaxOutputTokens)
	if err != nil {
		return batch, fmt.Errorf("SubmitBatch: %w", err)
	}

	input, err := p.artifacts.Upload(ctx, inputName(batch.ID), payload)
	if err != nil {
		return batch, fmt.Errorf("SubmitBatch: uploading input for batch %s: %w", batch.ID, err)
	}
	log.Debug().Str("input", input).Int("bytes", len(payload)).Msg("Uploaded batch input")

	remote, err := p.gateway.CreateBatch(ctx, CreateBatchRequest{
		DisplayName:  displayName(batch.ID),
		InputLocator: input,
		OutputPrefix: p.outputPrefix(batch.ID),
	})
	if err != nil {
		return batch, fmt.Errorf("SubmitBatch: creating remote batch %s: %w", batch.ID, err)
	}

	submitted := batch.Clone()
	submitted.ExternalID = remote.Name
	submitted.ExternalStatus = remote.State
	if remote.OutputLocator != "" {
		submitted.OutputLocator = remote.OutputLocator
	}

	log.Info().
		Str("external_batch_id", remote.Name).
		Str("external_status", remote.State).
		Msg("Registered remote batch")

	return submitted, nil
}

// RetrieveBatchStatus polls the remote job and mirrors its raw state and
// output locator onto the stored batch when either changed.
func (p *GeminiBatchProcessor) RetrieveBatchStatus(ctx context.Context, batchID string) (string, error) {
	batch, err := p.repo.GetBatch(ctx, batchID)
	if err != nil {
		return "", fmt.Errorf("RetrieveBatchStatus: %w", err)
	}
	if !batch.Submitted() {
		return "", fmt.Errorf("RetrieveBatchStatus: batch %s has no remote id: %w", batchID, categorization.ErrNotFound)
	}

	remote, err := p.gateway.GetBatch(ctx, batch.ExternalID)
	if err != nil {
		return "", fmt.Errorf("RetrieveBatchStatus: %w", err)
	}

	changed := false
	if remote.State != batch.ExternalStatus {
		batch.ExternalStatus = remote.State
		changed = true
	}
	if remote.OutputLocator != "" && remote.OutputLocator != batch.OutputLocator {
		batch.OutputLocator = remote.OutputLocator
		changed = true
	}
	if changed {
		if err := p.repo.SaveBatch(ctx, batch); err != nil {
			return "", fmt.Errorf("RetrieveBatchStatus: saving batch %s: %w", batchID, err)
		}
		log := logger.FromContext(ctx)
		log.Debug().
			Str("batch_id", batchID).
			Str("external_status", remote.State).
			Str("output_locator", batch.OutputLocator).
			Msg("Remote batch state changed")
	}

	return NormalizeState(remote.State), nil
}

// RetrieveResults downloads the output and maps every member to a category.
func (p *GeminiBatchProcessor) RetrieveResults(ctx context.Context, batchID string) (map[string]domain.Category, error) {
	batch, err := p.repo.GetBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("RetrieveResults: %w", err)
	}
	if batch.OutputLocator == "" {
		return nil, fmt.Errorf("RetrieveResults: batch %s has no output locator: %w", batchID, categorization.ErrPrecondition)
	}

	data, err := p.artifacts.Download(ctx, batch.OutputLocator)
	if err != nil {
		return nil, fmt.Errorf("RetrieveResults: downloading output for batch %s: %w", batchID, err)
	}

	return ParseResults(data, batch.Transactions, logger.FromContext(ctx)), nil
}

var _ categorization.BatchProcessor = (*GeminiBatchProcessor)(nil)
