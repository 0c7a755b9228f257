package jobs

import (
	"github.com/google/uuid"
)

// NewBatchID returns a fresh unique batch identifier.
func NewBatchID() string {
	return "batch_" + uuid.NewString()
}

// BatchStatusSummary aggregates the state of a batch's member jobs.
type BatchStatusSummary struct {
	BatchID   string         `json:"batch_id"`
	Operation string         `json:"operation"`
	Label     string         `json:"label,omitempty"`
	Status    Status         `json:"status"`
	Counts    map[Status]int `json:"counts"`
	Jobs      []*Record      `json:"jobs"`
}

// deriveBatchStatus folds member statuses into one batch status: running
// while any member still has work, failed if any member failed once all are
// settled, completed only when every member completed, otherwise cancelled.
func deriveBatchStatus(counts map[Status]int, total int) Status {
	if counts[StatusPending] > 0 || counts[StatusRunning] > 0 {
		return StatusRunning
	}
	if counts[StatusFailed] > 0 {
		return StatusFailed
	}
	if counts[StatusCompleted] == total {
		return StatusCompleted
	}
	return StatusCancelled
}
