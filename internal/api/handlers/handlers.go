package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dvloznov/finance-categorizer/internal/api/middleware"
	"github.com/dvloznov/finance-categorizer/internal/categorization"
	"github.com/dvloznov/finance-categorizer/internal/domain"
	"github.com/dvloznov/finance-categorizer/internal/jobs"
	"github.com/dvloznov/finance-categorizer/internal/logger"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// HealthHandler reports liveness and dependency health.
type HealthHandler struct {
	checks map[string]HealthCheck
	now    func() time.Time
}

// NewHealthHandler creates a health handler running the given checks.
func NewHealthHandler(checks map[string]HealthCheck) *HealthHandler {
	return &HealthHandler{checks: checks, now: time.Now}
}

// Health handles GET /healthz
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			log := logger.FromContext(ctx)
			log.Warn().Err(err).Str("check", name).Msg("Health check failed")
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	state := "healthy"
	if status != http.StatusOK {
		state = "unhealthy"
	}
	middleware.WriteJSON(w, status, map[string]interface{}{
		"status": state,
		"checks": results,
		"time":   h.now().UTC().Format(time.RFC3339),
	})
}

type transactionView struct {
	TransactionID string    `json:"transaction_id"`
	Amount        string    `json:"amount"`
	Timestamp     time.Time `json:"timestamp"`
	Description   string    `json:"description"`
	Type          string    `json:"transaction_type"`
	AccountNumber string    `json:"account_number"`
	Category      string    `json:"category"`
	BatchID       *string   `json:"batch_id"`
	CreatedAt     time.Time `json:"created_at"`
}

func newTransactionView(tx *domain.Transaction) transactionView {
	return transactionView{
		TransactionID: tx.TransactionID,
		Amount:        tx.Amount.String(),
		Timestamp:     tx.Timestamp,
		Description:   tx.Description,
		Type:          string(tx.Type),
		AccountNumber: tx.AccountNumber,
		Category:      string(tx.Category),
		BatchID:       tx.BatchID,
		CreatedAt:     tx.CreatedAt,
	}
}

type batchView struct {
	BatchID         string     `json:"batch_id"`
	Status          string     `json:"status"`
	ExternalBatchID string     `json:"external_batch_id,omitempty"`
	ExternalStatus  string     `json:"external_status,omitempty"`
	OutputLocator   string     `json:"output_locator,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Transactions    []string   `json:"transaction_ids"`
}

func newBatchView(b *domain.Batch) batchView {
	return batchView{
		BatchID:         b.ID,
		Status:          string(b.Status),
		ExternalBatchID: b.ExternalID,
		ExternalStatus:  b.ExternalStatus,
		OutputLocator:   b.OutputLocator,
		CreatedAt:       b.CreatedAt,
		CompletedAt:     b.CompletedAt,
		Transactions:    b.TransactionIDs(),
	}
}

// queryInt reads a non-negative integer query parameter. An absent value
// returns 0; ok is false for a malformed or negative value.
func queryInt(r *http.Request, name string) (int, bool) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return 0, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// TransactionsHandler handles transaction-related endpoints.
type TransactionsHandler struct {
	repo categorization.TransactionRepository
}

// NewTransactionsHandler creates a new transactions handler.
func NewTransactionsHandler(repo categorization.TransactionRepository) *TransactionsHandler {
	return &TransactionsHandler{repo: repo}
}

// ListTransactions handles GET /api/transactions
func (h *TransactionsHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	filter := categorization.TransactionFilter{BatchID: query.Get("batch_id")}
	if c := query.Get("category"); c != "" {
		cat, ok := domain.ParseCategory(c)
		if !ok && strings.EqualFold(c, string(domain.CategoryPending)) {
			cat, ok = domain.CategoryPending, true
		}
		if !ok {
			middleware.WriteError(w, http.StatusBadRequest, "Unknown category")
			return
		}
		filter.Category = cat
	}

	var ok bool
	if filter.Limit, ok = queryInt(r, "limit"); !ok {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid limit")
		return
	}
	if filter.Offset, ok = queryInt(r, "offset"); !ok {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid offset")
		return
	}

	txs, err := h.repo.ListTransactions(ctx, filter)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Msg("Failed to list transactions")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list transactions")
		return
	}

	views := make([]transactionView, 0, len(txs))
	for _, tx := range txs {
		views = append(views, newTransactionView(tx))
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": views,
		"count":        len(views),
	})
}

// GetTransaction handles GET /api/transactions/{id}
func (h *TransactionsHandler) GetTransaction(w http.ResponseWriter, r *http.Request, transactionID string) {
	ctx := r.Context()

	tx, err := h.repo.GetTransaction(ctx, transactionID)
	if errors.Is(err, categorization.ErrNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Transaction not found")
		return
	}
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Str("transaction_id", transactionID).Msg("Failed to get transaction")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get transaction")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, newTransactionView(tx))
}

// BatchesHandler handles batch-related endpoints.
type BatchesHandler struct {
	repo categorization.BatchRepository
}

// NewBatchesHandler creates a new batches handler.
func NewBatchesHandler(repo categorization.BatchRepository) *BatchesHandler {
	return &BatchesHandler{repo: repo}
}

// ListBatches handles GET /api/batches
func (h *BatchesHandler) ListBatches(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter := categorization.BatchFilter{}
	switch s := domain.BatchStatus(r.URL.Query().Get("status")); s {
	case "":
	case domain.BatchStatusCreated, domain.BatchStatusCompleted, domain.BatchStatusFailed:
		filter.Status = s
	default:
		middleware.WriteError(w, http.StatusBadRequest, "Unknown batch status")
		return
	}

	var ok bool
	if filter.Limit, ok = queryInt(r, "limit"); !ok {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid limit")
		return
	}

	batches, err := h.repo.ListBatches(ctx, filter)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Msg("Failed to list batches")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list batches")
		return
	}

	views := make([]batchView, 0, len(batches))
	for _, b := range batches {
		views = append(views, newBatchView(b))
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"batches": views,
		"count":   len(views),
	})
}

// GetBatch handles GET /api/batches/{id}
func (h *BatchesHandler) GetBatch(w http.ResponseWriter, r *http.Request, batchID string) {
	ctx := r.Context()

	batch, err := h.repo.GetBatch(ctx, batchID)
	if errors.Is(err, categorization.ErrNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Batch not found")
		return
	}
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Str("batch_id", batchID).Msg("Failed to get batch")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get batch")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, newBatchView(batch))
}

// ListCategories handles GET /api/categories
func ListCategories(w http.ResponseWriter, r *http.Request) {
	cats := domain.AssignableCategories()
	names := make([]string, 0, len(cats))
	for _, c := range cats {
		names = append(names, string(c))
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"categories": names,
		"fallback":   string(domain.CategoryFallback),
		"count":      len(names),
	})
}

// CycleTrigger starts a cycle outside its schedule.
type CycleTrigger interface {
	Trigger(ctx context.Context, t jobs.JobType) (bool, error)
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store   jobs.JobStore
	trigger CycleTrigger
}

// NewJobsHandler creates a new jobs handler. trigger may be nil, which
// disables TriggerCycle.
func NewJobsHandler(store jobs.JobStore, trigger CycleTrigger) *JobsHandler {
	return &JobsHandler{
		store:   store,
		trigger: trigger,
	}
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	ctx := r.Context()

	job, err := h.store.GetJob(ctx, jobID)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Debug().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	query := r.URL.Query()
	filter := jobs.JobFilter{
		Type:   jobs.JobType(query.Get("type")),
		Status: jobs.JobStatus(query.Get("status")),
	}

	var ok bool
	if filter.Limit, ok = queryInt(r, "limit"); !ok {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid limit")
		return
	}
	if filter.Offset, ok = queryInt(r, "offset"); !ok {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid offset")
		return
	}

	jobsList, err := h.store.ListJobs(ctx, filter)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	if jobsList == nil {
		jobsList = []*jobs.CycleJob{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}

// TriggerCycle handles POST /api/cycles/{type}
func (h *JobsHandler) TriggerCycle(w http.ResponseWriter, r *http.Request, jobType string) {
	ctx := r.Context()

	if h.trigger == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "Scheduler is not running")
		return
	}

	t := jobs.JobType(jobType)
	if t != jobs.JobTypeFormBatch && t != jobs.JobTypePollBatches {
		middleware.WriteError(w, http.StatusBadRequest, "Unknown cycle type")
		return
	}

	published, err := h.trigger.Trigger(ctx, t)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Str("type", jobType).Msg("Failed to trigger cycle")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to trigger cycle")
		return
	}
	if !published {
		middleware.WriteError(w, http.StatusConflict, "Cycle already running")
		return
	}

	log := logger.FromContext(ctx)
	log.Info().Str("type", jobType).Msg("Cycle triggered")
	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"type":   jobType,
		"status": string(jobs.JobStatusPending),
	})
}
