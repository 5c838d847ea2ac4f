// Package app assembles the orchestrator and its collaborators from
// configuration. Both the worker and the CLI start from here.
package app

import (
	"context"
	"fmt"

	"github.com/dvloznov/finance-categorizer/internal/batchproc"
	"github.com/dvloznov/finance-categorizer/internal/categorization"
	"github.com/dvloznov/finance-categorizer/internal/config"
	"github.com/dvloznov/finance-categorizer/internal/gcsuploader"
	"github.com/dvloznov/finance-categorizer/internal/metrics"
	"github.com/dvloznov/finance-categorizer/internal/notionsync"
	"github.com/dvloznov/finance-categorizer/internal/store"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

// App holds the wired components.
type App struct {
	Config       config.Config
	Store        categorization.Store
	Processor    categorization.BatchProcessor
	Orchestrator *categorization.Orchestrator
	Metrics      *metrics.PrometheusRecorder
	Exporter     *notionsync.Exporter

	closers []func() error
}

// Option customizes New.
type Option func(*options)

type options struct {
	store     categorization.Store
	processor func(categorization.Store) categorization.BatchProcessor
}

// WithStore uses s instead of opening the configured backend.
func WithStore(s categorization.Store) Option {
	return func(o *options) { o.store = s }
}

// WithProcessor builds the processor with fn instead of connecting to the
// configured gateway.
func WithProcessor(fn func(categorization.Store) categorization.BatchProcessor) Option {
	return func(o *options) { o.processor = fn }
}

// New opens the store, connects the remote gateway and builds the
// orchestrator. Call Close when done.
func New(ctx context.Context, cfg config.Config, log zerolog.Logger, opts ...Option) (_ *App, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.Store = o.store
	if a.Store == nil {
		a.Store, err = store.Open(ctx, cfg.Store)
		if err != nil {
			return nil, fmt.Errorf("New: %w", err)
		}
		a.closers = append(a.closers, a.Store.Close)
	}

	if o.processor != nil {
		a.Processor = o.processor(a.Store)
	} else {
		a.Processor, err = a.newProcessor(ctx)
		if err != nil {
			return nil, fmt.Errorf("New: %w", err)
		}
	}

	a.Metrics = metrics.NewPrometheusRecorder()
	orchOpts := []categorization.Option{categorization.WithRecorder(a.Metrics)}
	if cfg.Notion.Enabled() {
		a.Exporter = notionsync.NewExporter(notionsync.NewNotionClient(cfg.Notion.Token), cfg.Notion.DatabaseID)
		orchOpts = append(orchOpts, categorization.WithListener(a.Exporter))
		log.Info().Str("database_id", cfg.Notion.DatabaseID).Msg("Notion export enabled")
	}

	a.Orchestrator = categorization.NewOrchestrator(a.Store, a.Processor, categorization.Config{
		BatchSize:         cfg.Orchestrator.BatchSize,
		PageSize:          cfg.Orchestrator.PageSize,
		OrphanGracePeriod: cfg.Orchestrator.OrphanGracePeriod,
		ReleaseOnFailure:  cfg.Orchestrator.ReleaseOnFailure,
	}, orchOpts...)

	log.Info().
		Str("store", cfg.Store.Backend).
		Str("gateway", cfg.Gateway.Backend).
		Str("model", cfg.Gateway.Model).
		Int("batch_size", cfg.Orchestrator.BatchSize).
		Msg("Application wired")

	return a, nil
}

func (a *App) newProcessor(ctx context.Context) (categorization.BatchProcessor, error) {
	gw := a.Config.Gateway
	retry := batchproc.RetryPolicy{Timeout: gw.RequestTimeout, MaxRetries: gw.MaxRetries}

	client, err := batchproc.NewGenAIClient(ctx, gw)
	if err != nil {
		return nil, err
	}

	vertex := gw.Backend == config.GatewayVertex
	gateway := batchproc.NewGenAIGateway(client, gw.Model, vertex, retry)

	var (
		artifacts    batchproc.ArtifactStore
		outputPrefix string
	)
	if vertex {
		gcs, err := gcsuploader.NewGCSArtifactStore(ctx, gw.Bucket, gw.Prefix)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, gcs.Close)
		artifacts = gcs
		outputPrefix = gcs.OutputPrefix()
	} else {
		artifacts = batchproc.NewGenAIFileStore(client, retry)
	}

	return batchproc.NewGeminiBatchProcessor(a.Store, gateway, artifacts, batchproc.Config{
		MaxOutputTokens: gw.MaxOutputTokens,
		OutputPrefix:    outputPrefix,
	}), nil
}

// Close releases everything New opened, in reverse order.
func (a *App) Close() error {
	var result *multierror.Error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			result = multierror.Append(result, err)
		}
	}
	a.closers = nil
	return result.ErrorOrNil()
}
