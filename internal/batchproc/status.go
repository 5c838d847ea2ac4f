package batchproc

import (
	"strings"

	"github.com/dvloznov/finance-categorizer/internal/categorization"
)

// NormalizeState maps a raw remote job state onto the statuses the
// orchestrator understands. Both JOB_STATE_ and BATCH_STATE_ prefixes are
// accepted. Unknown states are treated as pending so they are polled again.
func NormalizeState(raw string) string {
	state := strings.ToUpper(strings.TrimSpace(raw))
	state = strings.TrimPrefix(state, "JOB_STATE_")
	state = strings.TrimPrefix(state, "BATCH_STATE_")

	switch state {
	case "SUCCEEDED", "PARTIALLY_SUCCEEDED":
		return categorization.StatusCompleted
	case "FAILED":
		return categorization.StatusFailed
	case "EXPIRED":
		return categorization.StatusExpired
	case "CANCELLING":
		return categorization.StatusCancelling
	case "CANCELLED":
		return categorization.StatusCancelled
	case "RUNNING", "UPDATING", "PAUSED":
		return categorization.StatusInProgress
	default:
		// QUEUED, PENDING, UNSPECIFIED
		return categorization.StatusPending
	}
}
