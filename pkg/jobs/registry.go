package jobs

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/cyclicchamp/cyclictools/internal/errors"
)

// Registry owns the in-memory view of all job records and enforces lifecycle
// transitions. Every mutation is compare-and-swap on the current status and is
// persisted through the store before the in-memory copy changes, so the disk
// view never runs ahead of memory and never lies about a terminal state.
// Mutations also hold the job directory lock, which orders them against
// detached children rewriting the same metadata from another process.
type Registry struct {
	mu      sync.Mutex
	store   *Store
	records map[string]*Record
	order   []string // job IDs sorted by creation time
	logger  *zap.Logger
}

// NewRegistry loads existing job records from the store and reconciles jobs
// that were running when a previous process died.
func NewRegistry(store *Store, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		store:   store,
		records: make(map[string]*Record),
		logger:  logger,
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) load() error {
	records, err := r.store.LoadAll()
	if err != nil {
		return err
	}
	for _, rec := range records {
		r.records[rec.JobID] = rec
	}
	r.rebuildOrder()
	return r.recoverInterrupted()
}

func (r *Registry) rebuildOrder() {
	r.order = r.order[:0]
	for id := range r.records {
		r.order = append(r.order, id)
	}
	sort.Slice(r.order, func(i, j int) bool {
		a, b := r.records[r.order[i]], r.records[r.order[j]]
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.JobID < b.JobID
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

// recoverInterrupted marks jobs that claim to be running but whose process no
// longer exists. Jobs left pending stay pending; the executor re-enqueues them.
func (r *Registry) recoverInterrupted() error {
	now := time.Now().UTC()
	for _, rec := range r.records {
		if rec.Status != StatusRunning {
			continue
		}
		if rec.PID > 0 && processAlive(rec.PID) {
			continue
		}
		rec.Status = StatusFailed
		rec.CompletedAt = &now
		rec.ExitInfo = &ExitInfo{
			Reason: "interrupted",
			Error:  "job was running when the manager stopped; process no longer exists",
		}
		if err := r.store.Write(rec); err != nil {
			return fmt.Errorf("persist interrupted job %s: %w", rec.JobID, err)
		}
		r.logger.Warn("recovered interrupted job",
			zap.String("job_id", rec.JobID),
			zap.Int("pid", rec.PID))
	}
	return nil
}

// processAlive reports whether a PID refers to a live process we can signal.
func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}

// NewJobID returns a fresh unique job identifier.
func NewJobID() string {
	return "job_" + uuid.NewString()
}

// Allocate creates a new pending record, persists it, and returns a copy.
func (r *Registry) Allocate(operation, label string, args map[string]any, batchID string) (*Record, error) {
	if strings.TrimSpace(operation) == "" {
		return nil, apperrors.InvalidArgument("operation", "operation is required")
	}
	rec := &Record{
		JobID:     NewJobID(),
		Operation: operation,
		Label:     strings.TrimSpace(label),
		Arguments: args,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
		BatchID:   batchID,
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.EnsureJobDir(rec.JobID); err != nil {
		return nil, err
	}
	rec.LogPath = r.store.LogPath(rec.JobID)
	rec.OutputDir = r.store.OutputDir(rec.JobID)
	if err := r.store.Write(rec); err != nil {
		return nil, err
	}
	r.records[rec.JobID] = rec
	r.order = append(r.order, rec.JobID)
	return rec.Clone(), nil
}

// Get returns a copy of the record for jobID.
func (r *Registry) Get(jobID string) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[jobID]
	if !ok {
		return nil, apperrors.NotFound("job %s not found", jobID)
	}
	return rec.Clone(), nil
}

// List returns copies of all records, oldest first, optionally filtered by
// status. An empty filter returns everything.
func (r *Registry) List(filter Status) []*Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Record, 0, len(r.order))
	for _, id := range r.order {
		rec := r.records[id]
		if filter != "" && rec.Status != filter {
			continue
		}
		out = append(out, rec.Clone())
	}
	return out
}

// Mutator adjusts record fields during a transition, after the status has
// been swapped but before persistence.
type Mutator func(*Record)

// Transition performs a compare-and-swap from one status to another. It fails
// with Conflict when the record is not in the expected state, which makes
// concurrent cancel-versus-start races safe: exactly one caller wins.
func (r *Registry) Transition(jobID string, from, to Status, mutate Mutator) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[jobID]
	if !ok {
		return nil, apperrors.NotFound("job %s not found", jobID)
	}
	lock, err := lockJobDir(r.store.JobDir(jobID))
	if err != nil {
		return nil, err
	}
	defer unlockJobDir(lock)
	// A detached child advances the on-disk record under the same lock, so
	// while it is held the disk copy is the one the CAS must check against.
	if disk, derr := r.store.Read(jobID); derr == nil && disk.Status != rec.Status {
		r.records[jobID] = disk
		rec = disk
	}
	if rec.Status != from {
		return nil, apperrors.Conflict("job %s is %s, expected %s", jobID, rec.Status, from)
	}
	updated := rec.Clone()
	updated.Status = to
	now := time.Now().UTC()
	if to == StatusRunning && updated.StartedAt == nil {
		updated.StartedAt = &now
	}
	if to.Terminal() && updated.CompletedAt == nil {
		updated.CompletedAt = &now
	}
	if mutate != nil {
		mutate(updated)
	}
	if err := r.store.Write(updated); err != nil {
		return nil, err
	}
	r.records[jobID] = updated
	return updated.Clone(), nil
}

// Update rewrites non-lifecycle fields (PID, log path) without changing
// status. The record must currently hold the given status.
func (r *Registry) Update(jobID string, expect Status, mutate Mutator) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[jobID]
	if !ok {
		return nil, apperrors.NotFound("job %s not found", jobID)
	}
	lock, err := lockJobDir(r.store.JobDir(jobID))
	if err != nil {
		return nil, err
	}
	defer unlockJobDir(lock)
	if disk, derr := r.store.Read(jobID); derr == nil && disk.Status != rec.Status {
		r.records[jobID] = disk
		rec = disk
	}
	if rec.Status != expect {
		return nil, apperrors.Conflict("job %s is %s, expected %s", jobID, rec.Status, expect)
	}
	updated := rec.Clone()
	if mutate != nil {
		mutate(updated)
	}
	updated.Status = expect
	if err := r.store.Write(updated); err != nil {
		return nil, err
	}
	r.records[jobID] = updated
	return updated.Clone(), nil
}

// Prune removes terminal records that completed before cutoff, deleting
// their job directories. With dryRun set nothing is touched; the candidates
// are still reported. Returns the affected IDs, oldest first.
func (r *Registry) Prune(cutoff time.Time, dryRun bool) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := make([]string, 0)
	for _, id := range r.order {
		rec := r.records[id]
		if !rec.Status.Terminal() || rec.CompletedAt == nil || !rec.CompletedAt.Before(cutoff) {
			continue
		}
		if !dryRun {
			if err := r.store.Remove(id); err != nil {
				return removed, fmt.Errorf("remove job %s: %w", id, err)
			}
			delete(r.records, id)
		}
		removed = append(removed, id)
	}
	if !dryRun && len(removed) > 0 {
		r.rebuildOrder()
		r.logger.Info("pruned finished jobs", zap.Int("count", len(removed)))
	}
	return removed, nil
}

// Resolve expands a job ID or unique prefix to the full job ID.
func (r *Registry) Resolve(idOrPrefix string) (string, error) {
	idOrPrefix = strings.TrimSpace(idOrPrefix)
	if idOrPrefix == "" {
		return "", apperrors.InvalidArgument("job_id", "job id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[idOrPrefix]; ok {
		return idOrPrefix, nil
	}
	var matches []string
	for id := range r.records {
		if strings.HasPrefix(id, idOrPrefix) || strings.HasPrefix(strings.TrimPrefix(id, "job_"), idOrPrefix) {
			matches = append(matches, id)
		}
	}
	switch len(matches) {
	case 0:
		return "", apperrors.NotFound("job %s not found", idOrPrefix)
	case 1:
		return matches[0], nil
	default:
		sort.Strings(matches)
		return "", apperrors.InvalidArgument("job_id", "prefix %q is ambiguous (%d matches)", idOrPrefix, len(matches))
	}
}
