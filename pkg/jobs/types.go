// Package jobs manages long-running analysis jobs: durable per-job records,
// lifecycle transitions, subprocess execution, and batch fan-out.
package jobs

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ParseStatus validates a user-supplied status string.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// ExitInfo captures why a job reached a terminal failure state.
type ExitInfo struct {
	Error  string `json:"error,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Record is the durable metadata for a single job. It is persisted as
// jobs/<job_id>/metadata.json and rewritten atomically on every transition.
type Record struct {
	JobID       string         `json:"job_id"`
	Operation   string         `json:"operation"`
	Label       string         `json:"label,omitempty"`
	Arguments   map[string]any `json:"arguments"`
	Status      Status         `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	ExitInfo    *ExitInfo      `json:"exit_info,omitempty"`
	PID         int            `json:"pid,omitempty"`
	LogPath     string         `json:"log_path,omitempty"`
	OutputDir   string         `json:"output_dir,omitempty"`
	BatchID     string         `json:"batch_id,omitempty"`
}

// Clone returns a deep copy so callers cannot mutate registry state.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	if r.Arguments != nil {
		out.Arguments = make(map[string]any, len(r.Arguments))
		for k, v := range r.Arguments {
			out.Arguments[k] = v
		}
	}
	if r.StartedAt != nil {
		t := *r.StartedAt
		out.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	if r.ExitInfo != nil {
		e := *r.ExitInfo
		out.ExitInfo = &e
	}
	return &out
}

// ResultEnvelope is the durable payload written to result.json when a job
// finishes. Failed jobs carry Error instead of Payload.
type ResultEnvelope struct {
	JobID       string         `json:"job_id"`
	Operation   string         `json:"operation"`
	Status      Status         `json:"status"`
	Payload     map[string]any `json:"payload,omitempty"`
	OutputFiles []string       `json:"output_files,omitempty"`
	Error       string         `json:"error,omitempty"`
	CompletedAt time.Time      `json:"completed_at,omitzero"`
}

// BatchGroup records an atomic multi-job submission.
type BatchGroup struct {
	BatchID   string    `json:"batch_id"`
	Operation string    `json:"operation"`
	Label     string    `json:"label,omitempty"`
	JobIDs    []string  `json:"job_ids"`
	CreatedAt time.Time `json:"created_at"`
}
