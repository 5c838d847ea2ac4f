package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/finance-categorizer/internal/api"
	"github.com/dvloznov/finance-categorizer/internal/api/handlers"
	"github.com/dvloznov/finance-categorizer/internal/app"
	"github.com/dvloznov/finance-categorizer/internal/categorization"
	"github.com/dvloznov/finance-categorizer/internal/config"
	"github.com/dvloznov/finance-categorizer/internal/jobs"
	"github.com/dvloznov/finance-categorizer/internal/jobs/inmemory"
	"github.com/dvloznov/finance-categorizer/internal/logger"
	"github.com/joho/godotenv"
)

func main() {
	// .env is optional; real deployments use the environment directly.
	_ = godotenv.Load()

	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log, err = logger.NewWithOptions(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Failed to create logger")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx, log)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close resources")
		}
	}()

	jobStore := inmemory.NewStore(inmemory.DefaultRetention)
	jobQueue := inmemory.NewQueue(100, cfg.Schedule.Workers, jobStore)

	if err := jobQueue.Start(ctx, jobs.NewCycleHandler(a.Orchestrator, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	scheduler := jobs.NewScheduler(jobQueue, jobStore, log,
		jobs.Entry{Type: jobs.JobTypeFormBatch, Interval: cfg.Schedule.FormInterval},
		jobs.Entry{Type: jobs.JobTypePollBatches, Interval: cfg.Schedule.PollInterval},
	)

	server := api.NewServer(cfg.Server.Addr, api.Deps{
		Store:   a.Store,
		Jobs:    jobStore,
		Trigger: scheduler,
		Metrics: a.Metrics.Handler(),
		Checks: map[string]handlers.HealthCheck{
			"store": func(ctx context.Context) error {
				_, err := a.Store.ListBatches(ctx, categorization.BatchFilter{Limit: 1})
				return err
			},
		},
		Log: log,
	})

	log.Info().
		Dur("form_interval", cfg.Schedule.FormInterval).
		Dur("poll_interval", cfg.Schedule.PollInterval).
		Int("workers", cfg.Schedule.Workers).
		Msg("Starting worker service")

	schedDone := make(chan error, 1)
	go func() { schedDone <- scheduler.Run(ctx) }()

	if err := server.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Operator server failed")
		stop()
	}

	if err := <-schedDone; err != nil {
		log.Error().Err(err).Msg("Scheduler failed")
	}

	log.Info().Msg("Shutting down worker service...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop the queue and wait for in-flight cycles
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	if err := jobQueue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job queue")
	}

	log.Info().Msg("Worker service exited")
}
