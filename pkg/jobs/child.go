package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"
)

// Runner validates and executes named operations. It is satisfied by
// analysis.Registry.
type Runner interface {
	Names() []string
	Validate(operation string, args map[string]any) error
	Execute(ctx context.Context, operation string, args map[string]any, outputDir string) (map[string]any, []string, error)
}

// readJobDirRecord loads metadata.json directly from a job directory. Child
// processes use this because they hold a job directory, not a store root.
func readJobDirRecord(jobDir string) (*Record, error) {
	data, err := os.ReadFile(filepath.Join(jobDir, metadataFile))
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse job metadata: %w", err)
	}
	return &rec, nil
}

// ClaimOnDisk moves a pending record to running from inside the child
// process, recording the child's own PID. Used when the job is spawned
// detached with no manager watching it. The job directory lock holds off a
// concurrent cancel between the read and the write, so a record cancelled
// before the claim stays cancelled and the child gives up.
func ClaimOnDisk(jobDir string) (*Record, error) {
	lock, err := lockJobDir(jobDir)
	if err != nil {
		return nil, err
	}
	defer unlockJobDir(lock)
	rec, err := readJobDirRecord(jobDir)
	if err != nil {
		return nil, err
	}
	if rec.Status != StatusPending {
		return nil, fmt.Errorf("job %s is %s, expected %s", rec.JobID, rec.Status, StatusPending)
	}
	now := time.Now().UTC()
	rec.Status = StatusRunning
	rec.StartedAt = &now
	rec.PID = os.Getpid()
	if err := writeJSONAtomic(filepath.Join(jobDir, metadataFile), rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// FinalizeOnDisk moves a running record to its terminal state from inside the
// child process. If a cancel already made the record terminal, the existing
// state wins and the child's outcome is discarded. The terminal check and the
// write happen under the job directory lock, so a cancel landing from another
// process can never be overwritten.
func FinalizeOnDisk(jobDir string, status Status, exitInfo *ExitInfo) error {
	lock, err := lockJobDir(jobDir)
	if err != nil {
		return err
	}
	defer unlockJobDir(lock)
	rec, err := readJobDirRecord(jobDir)
	if err != nil {
		return err
	}
	if rec.Status.Terminal() {
		return nil
	}
	now := time.Now().UTC()
	rec.Status = status
	rec.CompletedAt = &now
	rec.ExitInfo = exitInfo
	return writeJSONAtomic(filepath.Join(jobDir, metadataFile), rec)
}

// RunChild executes one operation inside a job directory: it reads args.json,
// runs the operation with outputs/ as the working area, and writes result.json.
// With finalize set it also claims and finalizes metadata.json itself, which
// is the detached-submission mode. It returns the operation's error, if any,
// after the result envelope has been written.
func RunChild(ctx context.Context, runner Runner, operation, jobDir string, finalize bool) error {
	rec, err := readJobDirRecord(jobDir)
	if err != nil {
		return fmt.Errorf("read job metadata: %w", err)
	}
	if rec.Operation != operation {
		return fmt.Errorf("job %s runs operation %s, not %s", rec.JobID, rec.Operation, operation)
	}

	if finalize {
		if rec, err = ClaimOnDisk(jobDir); err != nil {
			return err
		}
	}

	argsData, err := os.ReadFile(filepath.Join(jobDir, argsFile))
	if err != nil {
		return fmt.Errorf("read job arguments: %w", err)
	}
	var args map[string]any
	if err := json.Unmarshal(argsData, &args); err != nil {
		return fmt.Errorf("parse job arguments: %w", err)
	}

	payload, files, runErr := runner.Execute(ctx, operation, args, filepath.Join(jobDir, outputsDir))

	env := &ResultEnvelope{
		JobID:       rec.JobID,
		Operation:   operation,
		CompletedAt: time.Now().UTC(),
	}
	if runErr != nil {
		env.Status = StatusFailed
		env.Error = runErr.Error()
	} else {
		env.Status = StatusCompleted
		env.Payload = payload
		env.OutputFiles = files
	}
	if err := writeJSONAtomic(filepath.Join(jobDir, resultFile), env); err != nil {
		return fmt.Errorf("write job result: %w", err)
	}

	if finalize {
		var info *ExitInfo
		status := StatusCompleted
		if runErr != nil {
			status = StatusFailed
			info = &ExitInfo{Reason: "execution_failure", Error: runErr.Error()}
		}
		if err := FinalizeOnDisk(jobDir, status, info); err != nil {
			return fmt.Errorf("finalize job metadata: %w", err)
		}
	}
	return runErr
}

// StartDetached spawns a child that owns its job lifecycle end to end,
// surviving the submitting process. The child claims the record, runs the
// operation, and finalizes metadata itself.
func StartDetached(exe string, store *Store, rec *Record) (int, error) {
	if err := store.WriteArgs(rec.JobID, rec.Arguments); err != nil {
		return 0, fmt.Errorf("write arguments: %w", err)
	}
	logF, err := os.OpenFile(store.LogPath(rec.JobID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return 0, fmt.Errorf("open job log: %w", err)
	}
	defer func() { _ = logF.Close() }()

	cmd := exec.Command(exe, "run", rec.Operation, "--job-dir", store.JobDir(rec.JobID), "--finalize")
	cmd.Stdout = logF
	cmd.Stderr = logF
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start job process: %w", err)
	}
	pid := cmd.Process.Pid
	_ = cmd.Process.Release()
	return pid, nil
}
