// Package api serves the worker's operator endpoints: health, metrics,
// cycle runs and read-only views of transactions and batches.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dvloznov/finance-categorizer/internal/api/handlers"
	"github.com/dvloznov/finance-categorizer/internal/api/middleware"
	"github.com/dvloznov/finance-categorizer/internal/categorization"
	"github.com/dvloznov/finance-categorizer/internal/jobs"
	"github.com/rs/zerolog"
)

// Deps are the collaborators behind the routes. Metrics and Trigger are
// optional.
type Deps struct {
	Store   categorization.Store
	Jobs    jobs.JobStore
	Trigger handlers.CycleTrigger
	Metrics http.Handler
	Checks  map[string]handlers.HealthCheck
	Log     zerolog.Logger
}

// NewHandler builds the routed handler wrapped in the middleware chain.
func NewHandler(d Deps) http.Handler {
	health := handlers.NewHealthHandler(d.Checks)
	txs := handlers.NewTransactionsHandler(d.Store)
	batches := handlers.NewBatchesHandler(d.Store)
	jobsHandler := handlers.NewJobsHandler(d.Jobs, d.Trigger)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", health.Health)
	if d.Metrics != nil {
		mux.Handle("GET /metrics", d.Metrics)
	}

	mux.HandleFunc("GET /api/categories", handlers.ListCategories)

	mux.HandleFunc("GET /api/transactions", txs.ListTransactions)
	mux.HandleFunc("GET /api/transactions/{id}", func(w http.ResponseWriter, r *http.Request) {
		txs.GetTransaction(w, r, r.PathValue("id"))
	})

	mux.HandleFunc("GET /api/batches", batches.ListBatches)
	mux.HandleFunc("GET /api/batches/{id}", func(w http.ResponseWriter, r *http.Request) {
		batches.GetBatch(w, r, r.PathValue("id"))
	})

	mux.HandleFunc("GET /api/jobs", jobsHandler.ListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		jobsHandler.GetJob(w, r, r.PathValue("id"))
	})
	mux.HandleFunc("POST /api/cycles/{type}", func(w http.ResponseWriter, r *http.Request) {
		jobsHandler.TriggerCycle(w, r, r.PathValue("type"))
	})

	return middleware.Chain(mux,
		middleware.Recovery(d.Log),
		middleware.RequestID,
		middleware.Logger(d.Log),
	)
}

// Server is the operator HTTP server.
type Server struct {
	srv *http.Server
	log zerolog.Logger
}

// NewServer creates a server listening on addr.
func NewServer(addr string, d Deps) *Server {
	return &Server{
		srv: &http.Server{
			Addr:         addr,
			Handler:      NewHandler(d),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		log: d.Log,
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.srv.Addr).Msg("Starting operator server")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("Server.Run: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.log.Info().Msg("Shutting down operator server...")
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("Server.Run: shutdown: %w", err)
	}
	return nil
}
