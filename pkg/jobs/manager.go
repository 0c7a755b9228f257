package jobs

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/cyclicchamp/cyclictools/internal/errors"
)

// Manager is the front door for job operations: it validates arguments,
// allocates durable records, feeds the worker pool, and answers status,
// result, log, and cancel requests. One Manager instance owns one store root.
type Manager struct {
	store       *Store
	registry    *Registry
	executor    *Executor
	runner      Runner
	logger      *zap.Logger
	defaultTail int
}

// ManagerOptions configure a Manager.
type ManagerOptions struct {
	// RootDir is the store root. Required.
	RootDir string
	// Runner validates and executes operations. Required.
	Runner Runner
	// Workers bounds concurrent jobs. Defaults to 4.
	Workers int
	// CancelGrace is the SIGTERM-to-SIGKILL window. Defaults to 5s.
	CancelGrace time.Duration
	// DefaultTail is the log tail size when the caller passes zero.
	// Defaults to 50.
	DefaultTail int
	// Exe overrides the child binary, mainly for tests.
	Exe    string
	Logger *zap.Logger
	// DisableRequeue skips re-enqueueing pending jobs at startup. One-shot
	// CLI invocations set this so inspecting jobs never starts work.
	DisableRequeue bool
}

// NewManager opens the store, recovers interrupted jobs, starts the worker
// pool, and re-enqueues jobs that were still pending, oldest first.
func NewManager(ctx context.Context, opts ManagerOptions) (*Manager, error) {
	if opts.Runner == nil {
		return nil, fmt.Errorf("operation runner is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	store, err := NewStore(opts.RootDir)
	if err != nil {
		return nil, err
	}
	registry, err := NewRegistry(store, logger)
	if err != nil {
		return nil, err
	}
	executor, err := NewExecutor(ctx, registry, store, ExecutorOptions{
		Exe:         opts.Exe,
		Workers:     opts.Workers,
		CancelGrace: opts.CancelGrace,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	tail := opts.DefaultTail
	if tail <= 0 {
		tail = 50
	}
	m := &Manager{
		store:       store,
		registry:    registry,
		executor:    executor,
		runner:      opts.Runner,
		logger:      logger,
		defaultTail: tail,
	}
	if !opts.DisableRequeue {
		for _, rec := range registry.List(StatusPending) {
			if err := executor.Enqueue(rec.JobID); err != nil {
				logger.Warn("re-enqueue pending job", zap.String("job_id", rec.JobID), zap.Error(err))
			}
		}
	}
	return m, nil
}

// Store exposes the underlying store for path lookups.
func (m *Manager) Store() *Store { return m.store }

// Operations lists the names of all registered operations.
func (m *Manager) Operations() []string { return m.runner.Names() }

// Submit validates arguments, creates a pending job, and enqueues it. The
// record it returns is already durable; the job runs when a worker frees up.
func (m *Manager) Submit(ctx context.Context, operation, label string, args map[string]any) (*Record, error) {
	if args == nil {
		args = map[string]any{}
	}
	if err := m.runner.Validate(operation, args); err != nil {
		return nil, err
	}
	rec, err := m.registry.Allocate(operation, label, args, "")
	if err != nil {
		return nil, err
	}
	if err := m.executor.Enqueue(rec.JobID); err != nil {
		_, _ = m.registry.Transition(rec.JobID, StatusPending, StatusFailed, func(r *Record) {
			r.ExitInfo = &ExitInfo{Reason: "execution_failure", Error: err.Error()}
		})
		return nil, err
	}
	m.logger.Info("job submitted",
		zap.String("job_id", rec.JobID),
		zap.String("operation", operation))
	return rec, nil
}

// SubmitDetached validates arguments, creates a pending job, and spawns a
// self-finalizing child that outlives this process. Used by one-shot CLI
// submissions where no manager stays resident.
func (m *Manager) SubmitDetached(operation, label string, args map[string]any) (*Record, error) {
	if args == nil {
		args = map[string]any{}
	}
	if err := m.runner.Validate(operation, args); err != nil {
		return nil, err
	}
	rec, err := m.registry.Allocate(operation, label, args, "")
	if err != nil {
		return nil, err
	}
	exe := m.executor.exe
	pid, err := StartDetached(exe, m.store, rec)
	if err != nil {
		_, _ = m.registry.Transition(rec.JobID, StatusPending, StatusFailed, func(r *Record) {
			r.ExitInfo = &ExitInfo{Reason: "execution_failure", Error: err.Error()}
		})
		return nil, err
	}
	m.logger.Info("job submitted detached",
		zap.String("job_id", rec.JobID),
		zap.String("operation", operation),
		zap.Int("pid", pid))
	return rec, nil
}

// Resolve expands a job ID prefix to the full ID.
func (m *Manager) Resolve(idOrPrefix string) (string, error) {
	return m.registry.Resolve(idOrPrefix)
}

// Status returns the current record for a job ID or unique prefix. For
// detached jobs the in-memory view can trail the child's own writes, so the
// record is refreshed from disk first.
func (m *Manager) Status(idOrPrefix string) (*Record, error) {
	jobID, err := m.registry.Resolve(idOrPrefix)
	if err != nil {
		return nil, err
	}
	m.refreshFromDisk(jobID)
	return m.registry.Get(jobID)
}

// refreshFromDisk reconciles a record whose child finalizes its own
// metadata. The disk copy only ever moves forward, so adopting it is safe.
func (m *Manager) refreshFromDisk(jobID string) {
	mem, err := m.registry.Get(jobID)
	if err != nil || mem.Status.Terminal() {
		return
	}
	disk, err := m.store.Read(jobID)
	if err != nil || disk.Status == mem.Status {
		return
	}
	m.registry.mu.Lock()
	if cur, ok := m.registry.records[jobID]; ok && !cur.Status.Terminal() {
		m.registry.records[jobID] = disk
	}
	m.registry.mu.Unlock()
}

// Result returns the durable result envelope for a finished job. Pending and
// running jobs get a not-ready envelope carrying only the current status;
// failed and cancelled jobs without a result file get a synthesized envelope
// from the record's exit info. Result never blocks waiting for completion.
func (m *Manager) Result(idOrPrefix string) (*ResultEnvelope, error) {
	rec, err := m.Status(idOrPrefix)
	if err != nil {
		return nil, err
	}
	if !rec.Status.Terminal() {
		return &ResultEnvelope{
			JobID:     rec.JobID,
			Operation: rec.Operation,
			Status:    rec.Status,
		}, nil
	}
	env, err := m.store.ReadResult(rec.JobID)
	if err == nil {
		// A cancel that raced the child's result write wins.
		if rec.Status == StatusCancelled {
			env.Status = StatusCancelled
		}
		return env, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}
	env = &ResultEnvelope{
		JobID:     rec.JobID,
		Operation: rec.Operation,
		Status:    rec.Status,
	}
	if rec.CompletedAt != nil {
		env.CompletedAt = *rec.CompletedAt
	}
	if rec.ExitInfo != nil {
		env.Error = rec.ExitInfo.Error
		if env.Error == "" {
			env.Error = rec.ExitInfo.Reason
		}
	}
	return env, nil
}

// Log returns the last tail lines of a job's log plus the total line count.
// A tail of zero uses the configured default; a negative tail returns all
// lines.
func (m *Manager) Log(idOrPrefix string, tail int) ([]string, int, error) {
	jobID, err := m.registry.Resolve(idOrPrefix)
	if err != nil {
		return nil, 0, err
	}
	if _, err := m.registry.Get(jobID); err != nil {
		return nil, 0, err
	}
	if tail == 0 {
		tail = m.defaultTail
	}
	return TailLog(m.store.LogPath(jobID), tail)
}

// Cancel stops a pending or running job.
func (m *Manager) Cancel(idOrPrefix string) (*Record, error) {
	jobID, err := m.registry.Resolve(idOrPrefix)
	if err != nil {
		return nil, err
	}
	m.refreshFromDisk(jobID)
	return m.executor.Cancel(jobID)
}

// List returns all jobs oldest first, optionally filtered by status.
func (m *Manager) List(statusFilter string) ([]*Record, error) {
	var filter Status
	if statusFilter != "" {
		parsed, err := ParseStatus(statusFilter)
		if err != nil {
			return nil, apperrors.InvalidArgument("status", "%v", err)
		}
		filter = parsed
	}
	for _, rec := range m.registry.List("") {
		if !rec.Status.Terminal() {
			m.refreshFromDisk(rec.JobID)
		}
	}
	return m.registry.List(filter), nil
}

// SubmitBatch creates one job per argument set, all or nothing: every set is
// validated before any job exists, and a persistence failure mid-way cancels
// the jobs already created.
func (m *Manager) SubmitBatch(ctx context.Context, operation, label string, argSets []map[string]any) (*BatchGroup, error) {
	if len(argSets) == 0 {
		return nil, apperrors.InvalidArgument("arg_sets", "batch requires at least one argument set")
	}
	for i, args := range argSets {
		if args == nil {
			argSets[i] = map[string]any{}
			args = argSets[i]
		}
		if err := m.runner.Validate(operation, args); err != nil {
			return nil, fmt.Errorf("argument set %d: %w", i, err)
		}
	}

	batchID := NewBatchID()
	created := make([]string, 0, len(argSets))
	rollback := func() {
		for _, id := range created {
			_, _ = m.registry.Transition(id, StatusPending, StatusCancelled, func(r *Record) {
				r.ExitInfo = &ExitInfo{Reason: "cancelled", Error: "batch submission failed"}
			})
		}
	}

	for i, args := range argSets {
		rec, err := m.registry.Allocate(operation, label, args, batchID)
		if err != nil {
			rollback()
			return nil, fmt.Errorf("argument set %d: %w", i, err)
		}
		created = append(created, rec.JobID)
	}

	group := &BatchGroup{
		BatchID:   batchID,
		Operation: operation,
		Label:     label,
		JobIDs:    created,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.WriteBatch(group); err != nil {
		rollback()
		return nil, err
	}

	for _, id := range created {
		if err := m.executor.Enqueue(id); err != nil {
			_, _ = m.registry.Transition(id, StatusPending, StatusFailed, func(r *Record) {
				r.ExitInfo = &ExitInfo{Reason: "execution_failure", Error: err.Error()}
			})
		}
	}
	m.logger.Info("batch submitted",
		zap.String("batch_id", batchID),
		zap.String("operation", operation),
		zap.Int("jobs", len(created)))
	return group, nil
}

// SubmitBatchDetached is SubmitBatch for one-shot CLI submissions: members
// run as self-finalizing detached children instead of going through the
// resident worker pool. Allocation is still all-or-nothing.
func (m *Manager) SubmitBatchDetached(operation, label string, argSets []map[string]any) (*BatchGroup, error) {
	if len(argSets) == 0 {
		return nil, apperrors.InvalidArgument("arg_sets", "batch requires at least one argument set")
	}
	for i, args := range argSets {
		if args == nil {
			argSets[i] = map[string]any{}
			args = argSets[i]
		}
		if err := m.runner.Validate(operation, args); err != nil {
			return nil, fmt.Errorf("argument set %d: %w", i, err)
		}
	}

	batchID := NewBatchID()
	created := make([]*Record, 0, len(argSets))
	rollback := func() {
		for _, rec := range created {
			_, _ = m.registry.Transition(rec.JobID, StatusPending, StatusCancelled, func(r *Record) {
				r.ExitInfo = &ExitInfo{Reason: "cancelled", Error: "batch submission failed"}
			})
		}
	}

	for i, args := range argSets {
		rec, err := m.registry.Allocate(operation, label, args, batchID)
		if err != nil {
			rollback()
			return nil, fmt.Errorf("argument set %d: %w", i, err)
		}
		created = append(created, rec)
	}

	jobIDs := make([]string, len(created))
	for i, rec := range created {
		jobIDs[i] = rec.JobID
	}
	group := &BatchGroup{
		BatchID:   batchID,
		Operation: operation,
		Label:     label,
		JobIDs:    jobIDs,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.WriteBatch(group); err != nil {
		rollback()
		return nil, err
	}

	for _, rec := range created {
		if _, err := StartDetached(m.executor.exe, m.store, rec); err != nil {
			_, _ = m.registry.Transition(rec.JobID, StatusPending, StatusFailed, func(r *Record) {
				r.ExitInfo = &ExitInfo{Reason: "execution_failure", Error: err.Error()}
			})
		}
	}
	m.logger.Info("batch submitted detached",
		zap.String("batch_id", batchID),
		zap.String("operation", operation),
		zap.Int("jobs", len(created)))
	return group, nil
}

// BatchStatus summarizes a batch and its member jobs.
func (m *Manager) BatchStatus(batchID string) (*BatchStatusSummary, error) {
	group, err := m.store.ReadBatch(batchID)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.NotFound("batch %s not found", batchID)
		}
		return nil, err
	}
	summary := &BatchStatusSummary{
		BatchID:   group.BatchID,
		Operation: group.Operation,
		Label:     group.Label,
		Counts:    map[Status]int{},
		Jobs:      make([]*Record, 0, len(group.JobIDs)),
	}
	for _, id := range group.JobIDs {
		rec, err := m.Status(id)
		if err != nil {
			return nil, err
		}
		summary.Counts[rec.Status]++
		summary.Jobs = append(summary.Jobs, rec)
	}
	summary.Status = deriveBatchStatus(summary.Counts, len(group.JobIDs))
	return summary, nil
}

// CancelBatch cancels every non-terminal member of a batch.
func (m *Manager) CancelBatch(batchID string) (*BatchStatusSummary, error) {
	group, err := m.store.ReadBatch(batchID)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.NotFound("batch %s not found", batchID)
		}
		return nil, err
	}
	for _, id := range group.JobIDs {
		if _, err := m.executor.Cancel(id); err != nil && !apperrors.IsConflict(err) {
			return nil, err
		}
	}
	return m.BatchStatus(batchID)
}

// GCSummary reports what a garbage-collection pass removed, or would remove
// on a dry run.
type GCSummary struct {
	RemovedJobs    []string `json:"removed_jobs"`
	RemovedBatches []string `json:"removed_batches"`
	DryRun         bool     `json:"dry_run"`
}

// GC deletes terminal jobs that finished more than maxAge ago, then drops
// batch groups whose members are all gone. Pending and running jobs are
// never touched. A dry run reports candidates without deleting anything.
func (m *Manager) GC(maxAge time.Duration, dryRun bool) (*GCSummary, error) {
	for _, rec := range m.registry.List("") {
		if !rec.Status.Terminal() {
			m.refreshFromDisk(rec.JobID)
		}
	}
	removedJobs, err := m.registry.Prune(time.Now().UTC().Add(-maxAge), dryRun)
	if err != nil {
		return nil, err
	}
	gone := make(map[string]bool, len(removedJobs))
	for _, id := range removedJobs {
		gone[id] = true
	}
	summary := &GCSummary{
		RemovedJobs:    removedJobs,
		RemovedBatches: make([]string, 0),
		DryRun:         dryRun,
	}

	groups, err := m.store.LoadAllBatches()
	if err != nil {
		return nil, err
	}
	for _, group := range groups {
		live := false
		for _, id := range group.JobIDs {
			if gone[id] {
				continue
			}
			if _, err := m.registry.Get(id); err == nil {
				live = true
				break
			}
		}
		if live {
			continue
		}
		if !dryRun {
			if err := m.store.RemoveBatch(group.BatchID); err != nil {
				return summary, err
			}
		}
		summary.RemovedBatches = append(summary.RemovedBatches, group.BatchID)
	}
	m.logger.Info("job store gc",
		zap.Bool("dry_run", dryRun),
		zap.Int("jobs_removed", len(summary.RemovedJobs)),
		zap.Int("batches_removed", len(summary.RemovedBatches)))
	return summary, nil
}

// Close drains the worker pool.
func (m *Manager) Close() error {
	return m.executor.Close()
}
