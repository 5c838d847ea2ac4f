package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dvloznov/finance-categorizer/internal/categorization"
	"github.com/dvloznov/finance-categorizer/internal/domain"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder_Batches(t *testing.T) {
	r := NewPrometheusRecorder()

	r.BatchSubmitted(10)
	r.BatchSubmitted(3)
	r.BatchTransitioned(domain.BatchStatusCompleted)
	r.BatchTransitioned(domain.BatchStatusFailed)
	r.BatchTransitioned(domain.BatchStatusCompleted)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.batchesSubmitted))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.batchTransitions.WithLabelValues("COMPLETED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.batchTransitions.WithLabelValues("FAILED")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.batchSize))
}

func TestPrometheusRecorder_TransactionsCategorized(t *testing.T) {
	r := NewPrometheusRecorder()

	r.TransactionsCategorized(map[domain.Category]int{
		domain.CategoryGroceries:     4,
		domain.CategoryMiscellaneous: 1,
		domain.CategoryHousing:       0,
	})
	r.TransactionsCategorized(map[domain.Category]int{domain.CategoryGroceries: 2})

	assert.Equal(t, 6.0, testutil.ToFloat64(r.transactionsCategorized.WithLabelValues("Groceries")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.transactionsCategorized.WithLabelValues("Miscellaneous")))
	assert.Equal(t, 2, testutil.CollectAndCount(r.transactionsCategorized))
}

func TestPrometheusRecorder_CycleFinished(t *testing.T) {
	r := NewPrometheusRecorder()

	r.CycleFinished(categorization.CycleFormAndSubmit, 120*time.Millisecond, nil)
	r.CycleFinished(categorization.CyclePollAndReconcile, time.Second, errors.New("boom"))
	r.CycleFinished(categorization.CyclePollAndReconcile, time.Second, errors.New("boom"))

	assert.Equal(t, 0.0, testutil.ToFloat64(r.cycleErrors.WithLabelValues(categorization.CycleFormAndSubmit)))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.cycleErrors.WithLabelValues(categorization.CyclePollAndReconcile)))
	assert.Equal(t, 2, testutil.CollectAndCount(r.cycleDuration))
}

func TestPrometheusRecorder_Handler(t *testing.T) {
	r := NewPrometheusRecorder()
	r.BatchSubmitted(5)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "categorizer_batches_submitted_total 1")
	assert.Contains(t, body, "categorizer_batch_size_bucket")
	assert.Contains(t, body, "go_goroutines")
}
