package jobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/cyclicchamp/cyclictools/internal/errors"
)

// fakeRunner stands in for the analysis operation registry.
type fakeRunner struct{}

func (fakeRunner) Names() []string { return []string{"fake-op"} }

func (fakeRunner) Validate(operation string, args map[string]any) error {
	if operation != "fake-op" {
		return apperrors.NotFound("unknown operation: %s", operation)
	}
	if bad, _ := args["invalid"].(bool); bad {
		return apperrors.InvalidArgument("invalid", "rejected by validator")
	}
	return nil
}

func (fakeRunner) Execute(ctx context.Context, operation string, args map[string]any, outputDir string) (map[string]any, []string, error) {
	if fail, _ := args["fail"].(bool); fail {
		return nil, nil, fmt.Errorf("operation blew up")
	}
	path := filepath.Join(outputDir, "out.txt")
	if err := os.WriteFile(path, []byte("done\n"), 0644); err != nil {
		return nil, nil, err
	}
	return map[string]any{"ok": true}, []string{path}, nil
}

// The fake children below receive the same argv the real executor builds:
// <exe> run <operation> --job-dir <dir>.

const successScript = `#!/bin/sh
dir="$4"
jid=$(basename "$dir")
echo "processing $jid"
cat > "$dir/result.json" <<EOF
{"job_id":"$jid","operation":"$2","status":"completed","payload":{"ok":true},"completed_at":"2026-01-01T00:00:00Z"}
EOF
`

const failScript = `#!/bin/sh
echo "something broke"
exit 3
`

const sleepScript = `#!/bin/sh
trap 'exit 0' TERM
sleep 30 &
wait $!
`

func writeFakeExe(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fakejob")
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

func newTestManager(t *testing.T, script string, adjust ...func(*ManagerOptions)) *Manager {
	t.Helper()
	opts := ManagerOptions{
		RootDir:     t.TempDir(),
		Runner:      fakeRunner{},
		Exe:         writeFakeExe(t, script),
		CancelGrace: 250 * time.Millisecond,
		Logger:      zap.NewNop(),
	}
	for _, f := range adjust {
		f(&opts)
	}
	m, err := NewManager(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func waitForStatus(t *testing.T, m *Manager, jobID string, want Status) *Record {
	t.Helper()
	var rec *Record
	require.Eventually(t, func() bool {
		r, err := m.Status(jobID)
		if err != nil {
			return false
		}
		rec = r
		return r.Status == want
	}, 5*time.Second, 20*time.Millisecond, "job %s never reached %s", jobID, want)
	return rec
}

func TestManagerSubmit_CompletesJob(t *testing.T) {
	m := newTestManager(t, successScript)

	rec, err := m.Submit(context.Background(), "fake-op", "smoke", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, rec.Status)

	done := waitForStatus(t, m, rec.JobID, StatusCompleted)
	require.NotNil(t, done.StartedAt)
	require.NotNil(t, done.CompletedAt)
	assert.Nil(t, done.ExitInfo)

	env, err := m.Result(rec.JobID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, env.Status)
	assert.Equal(t, true, env.Payload["ok"])

	lines, total, err := m.Log(rec.JobID, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "processing "+rec.JobID)
}

func TestManagerSubmit_ValidationFailureCreatesNothing(t *testing.T) {
	m := newTestManager(t, successScript)

	_, err := m.Submit(context.Background(), "fake-op", "", map[string]any{"invalid": true})
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidArgument(err))

	_, err = m.Submit(context.Background(), "other-op", "", nil)
	assert.True(t, apperrors.IsNotFound(err))

	all, err := m.List("")
	require.NoError(t, err)
	assert.Empty(t, all, "rejected submissions must not leave records behind")
}

func TestManagerSubmit_ExecutionFailure(t *testing.T) {
	m := newTestManager(t, failScript)

	rec, err := m.Submit(context.Background(), "fake-op", "", nil)
	require.NoError(t, err)

	failed := waitForStatus(t, m, rec.JobID, StatusFailed)
	require.NotNil(t, failed.ExitInfo)
	assert.Equal(t, "execution_failure", failed.ExitInfo.Reason)
	assert.Contains(t, failed.ExitInfo.Error, "something broke", "failure carries the log tail")

	// No result.json exists; the envelope is synthesized from exit info.
	env, err := m.Result(rec.JobID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, env.Status)
	assert.Contains(t, env.Error, "something broke")
}

func TestManagerCancel_RunningJob(t *testing.T) {
	m := newTestManager(t, sleepScript)

	rec, err := m.Submit(context.Background(), "fake-op", "", nil)
	require.NoError(t, err)
	waitForStatus(t, m, rec.JobID, StatusRunning)

	cancelled, err := m.Cancel(rec.JobID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.ExitInfo)
	assert.Equal(t, "cancelled", cancelled.ExitInfo.Reason)

	// Cancelled status sticks even after the child exits.
	time.Sleep(100 * time.Millisecond)
	got, err := m.Status(rec.JobID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)

	env, err := m.Result(rec.JobID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, env.Status)
}

func TestManagerCancel_PendingJob(t *testing.T) {
	m := newTestManager(t, sleepScript, func(o *ManagerOptions) {
		o.Workers = 1
	})

	// Occupy the only worker, then queue a second job behind it.
	first, err := m.Submit(context.Background(), "fake-op", "", nil)
	require.NoError(t, err)
	waitForStatus(t, m, first.JobID, StatusRunning)

	queued, err := m.Submit(context.Background(), "fake-op", "", nil)
	require.NoError(t, err)

	cancelled, err := m.Cancel(queued.JobID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Nil(t, cancelled.StartedAt, "a cancelled pending job never started")

	// Cancelling a terminal job is a conflict.
	_, err = m.Cancel(queued.JobID)
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))

	_, err = m.Cancel(first.JobID)
	require.NoError(t, err)
}

func TestManagerResult_NonTerminalNotReady(t *testing.T) {
	m := newTestManager(t, sleepScript)

	rec, err := m.Submit(context.Background(), "fake-op", "", nil)
	require.NoError(t, err)
	waitForStatus(t, m, rec.JobID, StatusRunning)

	env, err := m.Result(rec.JobID)
	require.NoError(t, err)
	assert.Equal(t, rec.JobID, env.JobID)
	assert.Equal(t, "fake-op", env.Operation)
	assert.Equal(t, StatusRunning, env.Status)
	assert.Nil(t, env.Payload)
	assert.Empty(t, env.Error)
	assert.True(t, env.CompletedAt.IsZero())

	_, err = m.Cancel(rec.JobID)
	require.NoError(t, err)
}

func TestManagerResult_PendingNotReady(t *testing.T) {
	m := newTestManager(t, sleepScript, func(o *ManagerOptions) { o.Workers = 1 })

	// One worker: the second submission stays pending behind the first.
	running, err := m.Submit(context.Background(), "fake-op", "", nil)
	require.NoError(t, err)
	waitForStatus(t, m, running.JobID, StatusRunning)
	queued, err := m.Submit(context.Background(), "fake-op", "", nil)
	require.NoError(t, err)

	env, err := m.Result(queued.JobID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, env.Status)
	assert.Nil(t, env.Payload)

	_, err = m.Cancel(queued.JobID)
	require.NoError(t, err)
	_, err = m.Cancel(running.JobID)
	require.NoError(t, err)
}

func TestManagerList(t *testing.T) {
	m := newTestManager(t, successScript)

	first, err := m.Submit(context.Background(), "fake-op", "a", nil)
	require.NoError(t, err)
	second, err := m.Submit(context.Background(), "fake-op", "b", nil)
	require.NoError(t, err)
	waitForStatus(t, m, first.JobID, StatusCompleted)
	waitForStatus(t, m, second.JobID, StatusCompleted)

	all, err := m.List("")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, first.JobID, all[0].JobID, "oldest first")

	completed, err := m.List("completed")
	require.NoError(t, err)
	assert.Len(t, completed, 2)

	failed, err := m.List("failed")
	require.NoError(t, err)
	assert.Empty(t, failed)

	_, err = m.List("bogus")
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidArgument(err))
}

func TestManagerLog_Tail(t *testing.T) {
	m := newTestManager(t, successScript)

	rec, err := m.Submit(context.Background(), "fake-op", "", nil)
	require.NoError(t, err)
	waitForStatus(t, m, rec.JobID, StatusCompleted)

	// The default tail applies when zero is passed; a short prefix resolves.
	lines, _, err := m.Log(rec.JobID[:10], 0)
	require.NoError(t, err)
	assert.NotEmpty(t, lines)

	_, _, err = m.Log("job_nope", 0)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestManagerSubmitBatch(t *testing.T) {
	m := newTestManager(t, successScript)

	group, err := m.SubmitBatch(context.Background(), "fake-op", "grid", []map[string]any{
		{"point": 1.0},
		{"point": 2.0},
		{"point": 3.0},
	})
	require.NoError(t, err)
	require.Len(t, group.JobIDs, 3)
	assert.True(t, strings.HasPrefix(group.BatchID, "batch_"))

	require.Eventually(t, func() bool {
		summary, err := m.BatchStatus(group.BatchID)
		return err == nil && summary.Status == StatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	summary, err := m.BatchStatus(group.BatchID)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Counts[StatusCompleted])
	assert.Equal(t, "grid", summary.Label)
	require.Len(t, summary.Jobs, 3)
	for _, member := range summary.Jobs {
		assert.Equal(t, group.BatchID, member.BatchID)
	}
}

func TestManagerSubmitBatch_AtomicValidation(t *testing.T) {
	m := newTestManager(t, successScript)

	_, err := m.SubmitBatch(context.Background(), "fake-op", "", []map[string]any{
		{"point": 1.0},
		{"invalid": true},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "argument set 1")

	all, err := m.List("")
	require.NoError(t, err)
	assert.Empty(t, all, "a batch with any invalid set must create no jobs")

	_, err = m.SubmitBatch(context.Background(), "fake-op", "", nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidArgument(err))
}

func TestManagerCancelBatch(t *testing.T) {
	m := newTestManager(t, sleepScript)

	group, err := m.SubmitBatch(context.Background(), "fake-op", "", []map[string]any{
		{}, {},
	})
	require.NoError(t, err)

	summary, err := m.CancelBatch(group.BatchID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, summary.Status)
	assert.Equal(t, 2, summary.Counts[StatusCancelled])
}

func TestManagerBatchStatus_NotFound(t *testing.T) {
	m := newTestManager(t, successScript)

	_, err := m.BatchStatus("batch_missing")
	assert.True(t, apperrors.IsNotFound(err))

	_, err = m.CancelBatch("batch_missing")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestManagerRequeuesPendingJobsOnStartup(t *testing.T) {
	root := t.TempDir()
	exe := writeFakeExe(t, successScript)

	// A pending job left behind by a previous process.
	store, err := NewStore(root)
	require.NoError(t, err)
	rec := &Record{
		JobID:     NewJobID(),
		Operation: "fake-op",
		Arguments: map[string]any{},
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.EnsureJobDir(rec.JobID))
	require.NoError(t, store.Write(rec))

	m, err := NewManager(context.Background(), ManagerOptions{
		RootDir: root,
		Runner:  fakeRunner{},
		Exe:     exe,
		Logger:  zap.NewNop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	waitForStatus(t, m, rec.JobID, StatusCompleted)
}

func TestManagerDisableRequeue(t *testing.T) {
	root := t.TempDir()
	store, err := NewStore(root)
	require.NoError(t, err)
	rec := &Record{
		JobID:     NewJobID(),
		Operation: "fake-op",
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.EnsureJobDir(rec.JobID))
	require.NoError(t, store.Write(rec))

	m, err := NewManager(context.Background(), ManagerOptions{
		RootDir:        root,
		Runner:         fakeRunner{},
		Exe:            writeFakeExe(t, successScript),
		Logger:         zap.NewNop(),
		DisableRequeue: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	// The job stays pending; inspection never starts work.
	time.Sleep(200 * time.Millisecond)
	got, err := m.Status(rec.JobID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
}

func TestManagerOperations(t *testing.T) {
	m := newTestManager(t, successScript)
	assert.Equal(t, []string{"fake-op"}, m.Operations())
}

func TestManagerGC(t *testing.T) {
	m := newTestManager(t, successScript)

	single, err := m.Submit(context.Background(), "fake-op", "", nil)
	require.NoError(t, err)
	group, err := m.SubmitBatch(context.Background(), "fake-op", "grid", []map[string]any{
		{"point": 1.0}, {"point": 2.0},
	})
	require.NoError(t, err)

	waitForStatus(t, m, single.JobID, StatusCompleted)
	for _, id := range group.JobIDs {
		waitForStatus(t, m, id, StatusCompleted)
	}

	// A long retention window keeps everything.
	summary, err := m.GC(time.Hour, false)
	require.NoError(t, err)
	assert.Empty(t, summary.RemovedJobs)
	assert.Empty(t, summary.RemovedBatches)

	// A dry run reports the candidates without deleting anything.
	summary, err = m.GC(0, true)
	require.NoError(t, err)
	assert.True(t, summary.DryRun)
	assert.Len(t, summary.RemovedJobs, 3)
	assert.Equal(t, []string{group.BatchID}, summary.RemovedBatches)
	_, err = m.Status(single.JobID)
	require.NoError(t, err)

	// Zero retention removes all three finished jobs plus the batch whose
	// members are now gone.
	summary, err = m.GC(0, false)
	require.NoError(t, err)
	assert.Len(t, summary.RemovedJobs, 3)
	assert.Equal(t, []string{group.BatchID}, summary.RemovedBatches)

	_, err = m.Status(single.JobID)
	assert.True(t, apperrors.IsNotFound(err))
	_, err = m.BatchStatus(group.BatchID)
	assert.True(t, apperrors.IsNotFound(err))
	_, err = os.Stat(m.Store().JobDir(single.JobID))
	assert.True(t, os.IsNotExist(err))
}

func TestManagerGC_KeepsUnfinishedJobs(t *testing.T) {
	m := newTestManager(t, sleepScript)

	rec, err := m.Submit(context.Background(), "fake-op", "", nil)
	require.NoError(t, err)
	waitForStatus(t, m, rec.JobID, StatusRunning)

	summary, err := m.GC(0, false)
	require.NoError(t, err)
	assert.Empty(t, summary.RemovedJobs)

	_, err = m.Cancel(rec.JobID)
	require.NoError(t, err)
	waitForStatus(t, m, rec.JobID, StatusCancelled)

	summary, err = m.GC(0, false)
	require.NoError(t, err)
	assert.Equal(t, []string{rec.JobID}, summary.RemovedJobs)
}
