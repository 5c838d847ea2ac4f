// Package categorizationtest provides a scriptable BatchProcessor for tests.
package categorizationtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/dvloznov/finance-categorizer/internal/categorization"
	"github.com/dvloznov/finance-categorizer/internal/domain"
)

// FakeProcessor simulates the remote classification service on top of a
// BatchRepository. Statuses and results are scripted per batch id; the
// ...Func fields override the default behaviour entirely.
type FakeProcessor struct {
	repo categorization.BatchRepository

	SubmitBatchFunc         func(ctx context.Context, batch *domain.Batch) (*domain.Batch, error)
	RetrieveBatchStatusFunc func(ctx context.Context, batchID string) (string, error)
	RetrieveResultsFunc     func(ctx context.Context, batchID string) (map[string]domain.Category, error)

	mu          sync.Mutex
	statuses    map[string]string
	results     map[string]map[string]domain.Category
	submitErr   error
	statusErrs  map[string]error
	submissions []string
	statusCalls []string
	resultCalls []string
	seq         int
}

// NewFakeProcessor returns a processor whose batches report "pending" until scripted otherwise.
func NewFakeProcessor(repo categorization.BatchRepository) *FakeProcessor {
	return &FakeProcessor{
		repo:       repo,
		statuses:   make(map[string]string),
		results:    make(map[string]map[string]domain.Category),
		statusErrs: make(map[string]error),
	}
}

// SetStatus scripts the normalized status reported for a batch.
func (f *FakeProcessor) SetStatus(batchID, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[batchID] = status
}

// SetResults scripts the classifications returned for a batch.
func (f *FakeProcessor) SetResults(batchID string, results map[string]domain.Category) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[batchID] = results
}

// FailSubmissions makes every SubmitBatch call return err. Pass nil to reset.
func (f *FakeProcessor) FailSubmissions(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitErr = err
}

// FailStatus makes RetrieveBatchStatus return err for one batch. Pass nil to reset.
func (f *FakeProcessor) FailStatus(batchID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.statusErrs, batchID)
		return
	}
	f.statusErrs[batchID] = err
}

// Submissions returns the ids of successfully submitted batches in order.
func (f *FakeProcessor) Submissions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.submissions...)
}

// StatusCalls returns the batch ids polled so far.
func (f *FakeProcessor) StatusCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.statusCalls...)
}

// ResultCalls returns the batch ids whose results were fetched.
func (f *FakeProcessor) ResultCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.resultCalls...)
}

// SubmitBatch implements categorization.BatchProcessor.
func (f *FakeProcessor) SubmitBatch(ctx context.Context, batch *domain.Batch) (*domain.Batch, error) {
	if f.SubmitBatchFunc != nil {
		return f.SubmitBatchFunc(ctx, batch)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.submitErr != nil {
		return batch, f.submitErr
	}

	f.seq++
	out := batch.Clone()
	out.ExternalID = fmt.Sprintf("batches/fake-%d", f.seq)
	out.ExternalStatus = categorization.StatusPending
	f.submissions = append(f.submissions, batch.ID)
	return out, nil
}

// RetrieveBatchStatus implements categorization.BatchProcessor.
func (f *FakeProcessor) RetrieveBatchStatus(ctx context.Context, batchID string) (string, error) {
	if f.RetrieveBatchStatusFunc != nil {
		return f.RetrieveBatchStatusFunc(ctx, batchID)
	}

	f.mu.Lock()
	f.statusCalls = append(f.statusCalls, batchID)
	statusErr := f.statusErrs[batchID]
	status, ok := f.statuses[batchID]
	f.mu.Unlock()

	if statusErr != nil {
		return "", statusErr
	}

	b, err := f.repo.GetBatch(ctx, batchID)
	if err != nil {
		return "", err
	}
	if !b.Submitted() {
		return "", fmt.Errorf("batch %s has no external id: %w", batchID, categorization.ErrNotFound)
	}
	if !ok {
		status = categorization.StatusPending
	}

	locator := b.OutputLocator
	if status == categorization.StatusCompleted {
		locator = "fake://" + b.ExternalID + "/output.jsonl"
	}
	if b.ExternalStatus != status || b.OutputLocator != locator {
		b.ExternalStatus = status
		b.OutputLocator = locator
		if err := f.repo.SaveBatch(ctx, b); err != nil {
			return "", err
		}
	}

	return status, nil
}

// RetrieveResults implements categorization.BatchProcessor.
func (f *FakeProcessor) RetrieveResults(ctx context.Context, batchID string) (map[string]domain.Category, error) {
	if f.RetrieveResultsFunc != nil {
		return f.RetrieveResultsFunc(ctx, batchID)
	}

	f.mu.Lock()
	f.resultCalls = append(f.resultCalls, batchID)
	scripted := f.results[batchID]
	f.mu.Unlock()

	b, err := f.repo.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if b.OutputLocator == "" {
		return nil, fmt.Errorf("batch %s has no output locator: %w", batchID, categorization.ErrPrecondition)
	}

	out := make(map[string]domain.Category, len(scripted))
	for id, c := range scripted {
		out[id] = c
	}
	return out, nil
}

var _ categorization.BatchProcessor = (*FakeProcessor)(nil)
