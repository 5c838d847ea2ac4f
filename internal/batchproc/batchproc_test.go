package batchproc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dvloznov/finance-categorizer/internal/categorization"
	"github.com/dvloznov/finance-categorizer/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestNormalizeState(t *testing.T) {
	tests := map[string]string{
		"JOB_STATE_PENDING":             categorization.StatusPending,
		"JOB_STATE_QUEUED":              categorization.StatusPending,
		"JOB_STATE_UNSPECIFIED":         categorization.StatusPending,
		"BATCH_STATE_PENDING":           categorization.StatusPending,
		"JOB_STATE_RUNNING":             categorization.StatusInProgress,
		"BATCH_STATE_RUNNING":           categorization.StatusInProgress,
		"JOB_STATE_UPDATING":            categorization.StatusInProgress,
		"JOB_STATE_PAUSED":              categorization.StatusInProgress,
		"JOB_STATE_SUCCEEDED":           categorization.StatusCompleted,
		"JOB_STATE_PARTIALLY_SUCCEEDED": categorization.StatusCompleted,
		"job_state_succeeded":           categorization.StatusCompleted,
		"JOB_STATE_FAILED":              categorization.StatusFailed,
		"BATCH_STATE_FAILED":            categorization.StatusFailed,
		"JOB_STATE_EXPIRED":             categorization.StatusExpired,
		"JOB_STATE_CANCELLING":          categorization.StatusCancelling,
		"JOB_STATE_CANCELLED":           categorization.StatusCancelled,
		"BATCH_STATE_CANCELLED":         categorization.StatusCancelled,
		"SOMETHING_NEW":                 categorization.StatusPending,
		"":                              categorization.StatusPending,
	}

	for raw, want := range tests {
		assert.Equal(t, want, NormalizeState(raw), "raw state %q", raw)
	}
}

func TestBuildRequests(t *testing.T) {
	tx := domain.NewTransaction("t-42", decimal.RequireFromString("-3.20"), time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
		`TESCO "EXPRESS"`, domain.TransactionTypeDebit, "ACC-9")

	data, err := BuildRequests([]*domain.Transaction{tx}, 0)
	require.NoError(t, err)

	var line struct {
		Key     string `json:"key"`
		Request struct {
			Contents          []*genai.Content        `json:"contents"`
			SystemInstruction *genai.Content          `json:"systemInstruction"`
			GenerationConfig  *genai.GenerationConfig `json:"generationConfig"`
		} `json:"request"`
	}
	require.NoError(t, json.Unmarshal(data, &line))

	assert.Equal(t, "transaction-t-42", line.Key)
	require.Len(t, line.Request.Contents, 1)
	assert.Equal(t, genai.RoleUser, line.Request.Contents[0].Role)
	prompt := line.Request.Contents[0].Parts[0].Text
	assert.Contains(t, prompt, `TESCO \"EXPRESS\"`)
	assert.Contains(t, prompt, "debit")
	assert.Contains(t, prompt, "-3.2")

	system := line.Request.SystemInstruction.Parts[0].Text
	assert.Contains(t, system, "Groceries")
	assert.Contains(t, system, "Miscellaneous")
	assert.NotContains(t, system, "Pending")

	require.NotNil(t, line.Request.GenerationConfig)
	assert.EqualValues(t, DefaultMaxOutputTokens, line.Request.GenerationConfig.MaxOutputTokens)
	assert.Len(t, line.Request.GenerationConfig.ResponseSchema.Enum, len(domain.AssignableCategories()))
}

func TestCleanAnswer(t *testing.T) {
	tests := map[string]string{
		"Groceries":         "Groceries",
		"  Groceries.\n":    "Groceries",
		`"Dining Out"`:      "Dining Out",
		"```Utilities```":   "Utilities",
		"```\nHousing\n```": "Housing",
		"'Shopping'":        "Shopping",
	}
	for in, want := range tests {
		assert.Equal(t, want, cleanAnswer(in), "input %q", in)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"RateLimited", genai.APIError{Code: 429}, true},
		{"ServerError", fmt.Errorf("wrapped: %w", genai.APIError{Code: 503}), true},
		{"BadRequest", genai.APIError{Code: 400}, false},
		{"NotFound", genai.APIError{Code: 404}, false},
		{"Deadline", context.DeadlineExceeded, true},
		{"Canceled", context.Canceled, false},
		{"Plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func fastRetry(maxRetries int) RetryPolicy {
	return RetryPolicy{
		Timeout:    time.Second,
		MaxRetries: maxRetries,
		NewBackOff: func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) },
	}
}

func TestCallWithRetry_RetriesTransientErrors(t *testing.T) {
	calls := 0
	got, err := callWithRetry(context.Background(), fastRetry(3), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", genai.APIError{Code: 503}
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
}

func TestCallWithRetry_StopsOnPermanentError(t *testing.T) {
	calls := 0
	_, err := callWithRetry(context.Background(), fastRetry(3), func(ctx context.Context) (string, error) {
		calls++
		return "", genai.APIError{Code: 400, Message: "bad request"}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	var apiErr genai.APIError
	assert.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 400, apiErr.Code)
}

func TestCallWithRetry_GivesUpAfterMaxRetries(t *testing.T) {
	calls := 0
	_, err := callWithRetry(context.Background(), fastRetry(2), func(ctx context.Context) (string, error) {
		calls++
		return "", genai.APIError{Code: 429}
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestCallWithRetry_AppliesAttemptTimeout(t *testing.T) {
	policy := fastRetry(0)
	policy.Timeout = 10 * time.Millisecond

	_, err := callWithRetry(context.Background(), policy, func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func answerLine(key, text string) string {
	return fmt.Sprintf(`{"key":%q,"response":{"candidates":[{"content":{"parts":[{"text":%q}]}}]}}`, key, text)
}

func TestParseResults_OversizedLineDoesNotStopParsing(t *testing.T) {
	members := []*domain.Transaction{
		domain.NewTransaction("t1", decimal.NewFromInt(-1), time.Now(), "a", domain.TransactionTypeDebit, "ACC"),
		domain.NewTransaction("t2", decimal.NewFromInt(-1), time.Now(), "b", domain.TransactionTypeDebit, "ACC"),
		domain.NewTransaction("t3", decimal.NewFromInt(-1), time.Now(), "c", domain.TransactionTypeDebit, "ACC"),
	}
	output := strings.Join([]string{
		answerLine(RequestKey("t1"), strings.Repeat("x", maxLineSize)),
		answerLine(RequestKey("t2"), "Transportation"),
		"",
		answerLine(RequestKey("t3"), "Groceries"),
	}, "\n")

	results := ParseResults([]byte(output), members, zerolog.Nop())

	assert.Equal(t, map[string]domain.Category{
		"t1": domain.CategoryFallback,
		"t2": domain.CategoryTransportation,
		"t3": domain.CategoryGroceries,
	}, results)
}
