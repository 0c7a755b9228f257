package jobs

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/cyclicchamp/cyclictools/internal/errors"
)

const (
	defaultWorkers     = 4
	defaultCancelGrace = 5 * time.Second
	queueCapacity      = 1024
	failureTailLines   = 5
)

// Executor runs jobs as isolated subprocesses through a bounded worker pool.
// Queued jobs start in submission order. Each worker claims a pending job via
// a compare-and-swap to running, spawns `<exe> run <operation> --job-dir <dir>`,
// and finalizes the record from the child's exit status and result file.
type Executor struct {
	registry *Registry
	store    *Store
	exe      string
	workers  int
	grace    time.Duration
	logger   *zap.Logger

	pending chan string
	procs   sync.Map // job ID -> *os.Process

	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
}

// ExecutorOptions configure a new executor.
type ExecutorOptions struct {
	// Exe is the binary to spawn for each job. Defaults to os.Executable().
	Exe string
	// Workers bounds concurrent jobs. Defaults to 4.
	Workers int
	// CancelGrace is how long a cancelled job gets to exit after SIGTERM
	// before it is killed. Defaults to 5s.
	CancelGrace time.Duration
	Logger      *zap.Logger
}

// NewExecutor builds an executor and starts its worker pool.
func NewExecutor(ctx context.Context, registry *Registry, store *Store, opts ExecutorOptions) (*Executor, error) {
	exe := opts.Exe
	if exe == "" {
		path, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate executable: %w", err)
		}
		exe = path
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	grace := opts.CancelGrace
	if grace <= 0 {
		grace = defaultCancelGrace
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	runCtx, cancel := context.WithCancel(ctx)
	e := &Executor{
		registry: registry,
		store:    store,
		exe:      exe,
		workers:  workers,
		grace:    grace,
		logger:   logger,
		pending:  make(chan string, queueCapacity),
		ctx:      runCtx,
		cancel:   cancel,
	}
	e.group, _ = errgroup.WithContext(runCtx)
	for i := 0; i < workers; i++ {
		e.group.Go(e.workerLoop)
	}
	return e, nil
}

// Enqueue hands a pending job to the worker pool.
func (e *Executor) Enqueue(jobID string) error {
	select {
	case <-e.ctx.Done():
		return fmt.Errorf("executor is shut down")
	case e.pending <- jobID:
		return nil
	default:
		return apperrors.Conflict("job queue is full (%d pending)", queueCapacity)
	}
}

func (e *Executor) workerLoop() error {
	for {
		select {
		case <-e.ctx.Done():
			return nil
		case jobID, ok := <-e.pending:
			if !ok {
				return nil
			}
			e.runJob(jobID)
		}
	}
}

func (e *Executor) runJob(jobID string) {
	rec, err := e.registry.Transition(jobID, StatusPending, StatusRunning, nil)
	if err != nil {
		// Cancelled while queued, or already claimed. Either way the job
		// is no longer ours.
		if !apperrors.IsConflict(err) {
			e.logger.Warn("claim job", zap.String("job_id", jobID), zap.Error(err))
		}
		return
	}

	finishErr := e.execute(rec)
	if finishErr == nil {
		return
	}

	_, terr := e.registry.Transition(jobID, StatusRunning, StatusFailed, func(r *Record) {
		r.ExitInfo = &ExitInfo{
			Reason: "execution_failure",
			Error:  finishErr.Error(),
		}
	})
	if terr != nil && !apperrors.IsConflict(terr) {
		e.logger.Error("finalize failed job", zap.String("job_id", jobID), zap.Error(terr))
	}
}

// execute runs the job to completion. A nil return means the record reached
// a terminal state already; an error means the caller should mark it failed.
func (e *Executor) execute(rec *Record) error {
	jobID := rec.JobID
	if err := e.store.WriteArgs(jobID, rec.Arguments); err != nil {
		return fmt.Errorf("write arguments: %w", err)
	}

	logF, err := os.OpenFile(e.store.LogPath(jobID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open job log: %w", err)
	}
	defer func() { _ = logF.Close() }()

	cmd := exec.Command(e.exe, "run", rec.Operation, "--job-dir", e.store.JobDir(jobID))
	cmd.Stdout = logF
	cmd.Stderr = logF
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start job process: %w", err)
	}

	if _, err := e.registry.Update(jobID, StatusRunning, func(r *Record) {
		r.PID = cmd.Process.Pid
	}); err != nil {
		// The job was cancelled between claim and spawn. Tear the child down.
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil
	}

	e.procs.Store(jobID, cmd.Process)
	defer e.procs.Delete(jobID)

	e.logger.Info("job started",
		zap.String("job_id", jobID),
		zap.String("operation", rec.Operation),
		zap.Int("pid", cmd.Process.Pid))

	waitErr := cmd.Wait()

	if waitErr != nil {
		tail := e.logTail(jobID)
		if tail != "" {
			return fmt.Errorf("job process failed: %v: %s", waitErr, tail)
		}
		return fmt.Errorf("job process failed: %w", waitErr)
	}

	env, err := e.store.ReadResult(jobID)
	if err != nil {
		return fmt.Errorf("job exited cleanly but left no readable result: %w", err)
	}
	if env.Status == StatusFailed {
		return fmt.Errorf("operation failed: %s", env.Error)
	}

	_, terr := e.registry.Transition(jobID, StatusRunning, StatusCompleted, func(r *Record) {
		r.ExitInfo = nil
	})
	if terr != nil {
		// Lost the race against a cancel. The child's output files stay on
		// disk but the record keeps its cancelled status.
		if apperrors.IsConflict(terr) {
			return nil
		}
		return terr
	}
	e.logger.Info("job completed", zap.String("job_id", jobID))
	return nil
}

func (e *Executor) logTail(jobID string) string {
	lines, _, err := TailLog(e.store.LogPath(jobID), failureTailLines)
	if err != nil || len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "; ")
}

// Cancel requests cancellation of a pending or running job. Pending jobs are
// cancelled immediately; running jobs receive SIGTERM and are killed after
// the grace period if they ignore it. Terminal jobs yield a Conflict error.
func (e *Executor) Cancel(jobID string) (*Record, error) {
	rec, err := e.registry.Get(jobID)
	if err != nil {
		return nil, err
	}
	if rec.Status.Terminal() {
		return nil, apperrors.Conflict("job %s is already %s", jobID, rec.Status)
	}

	if rec.Status == StatusPending {
		cancelled, err := e.registry.Transition(jobID, StatusPending, StatusCancelled, func(r *Record) {
			r.ExitInfo = &ExitInfo{Reason: "cancelled"}
		})
		if err == nil {
			return cancelled, nil
		}
		if !apperrors.IsConflict(err) {
			return nil, err
		}
		// The job started while we were cancelling. Fall through.
	}

	cancelled, err := e.registry.Transition(jobID, StatusRunning, StatusCancelled, func(r *Record) {
		r.ExitInfo = &ExitInfo{Reason: "cancelled"}
	})
	if err != nil {
		return nil, err
	}

	if proc, ok := e.procs.Load(jobID); ok {
		p := proc.(*os.Process)
		_ = p.Signal(syscall.SIGTERM)
		go e.killAfterGrace(jobID, p)
	} else if cancelled.PID > 0 {
		// Child owned by another process (detached submission).
		if p, ferr := os.FindProcess(cancelled.PID); ferr == nil {
			_ = p.Signal(syscall.SIGTERM)
			go e.killAfterGrace(jobID, p)
		}
	}
	e.logger.Info("job cancelled", zap.String("job_id", jobID))
	return cancelled, nil
}

func (e *Executor) killAfterGrace(jobID string, p *os.Process) {
	timer := time.NewTimer(e.grace)
	defer timer.Stop()
	<-timer.C
	if p.Signal(syscall.Signal(0)) == nil {
		e.logger.Warn("job ignored SIGTERM, killing", zap.String("job_id", jobID))
		_ = p.Kill()
	}
}

// Close stops the worker pool. Running children receive SIGTERM so they can
// finalize their own records before the pool drains.
func (e *Executor) Close() error {
	e.closeOnce.Do(func() {
		e.cancel()
		e.procs.Range(func(_, v any) bool {
			_ = v.(*os.Process).Signal(syscall.SIGTERM)
			return true
		})
	})
	return e.group.Wait()
}
