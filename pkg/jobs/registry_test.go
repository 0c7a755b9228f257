package jobs

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/cyclicchamp/cyclictools/internal/errors"
)

func newTestRegistry(t *testing.T) (*Registry, *Store) {
	t.Helper()
	store := newTestStore(t)
	reg, err := NewRegistry(store, zap.NewNop())
	require.NoError(t, err)
	return reg, store
}

func TestRegistryAllocate(t *testing.T) {
	reg, store := newTestRegistry(t)

	rec, err := reg.Allocate("pnear-analysis", " nightly ", map[string]any{"min_pnear": 0.9}, "")
	require.NoError(t, err)
	assert.NotEmpty(t, rec.JobID)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, "nightly", rec.Label)
	assert.Equal(t, store.LogPath(rec.JobID), rec.LogPath)
	assert.Equal(t, store.OutputDir(rec.JobID), rec.OutputDir)
	assert.False(t, rec.CreatedAt.IsZero())

	// The record and its outputs directory are already on disk.
	onDisk, err := store.Read(rec.JobID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, onDisk.Status)
	info, err := os.Stat(store.OutputDir(rec.JobID))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestRegistryAllocate_RequiresOperation(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, err := reg.Allocate("  ", "", nil, "")
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidArgument(err))
}

func TestRegistryGet(t *testing.T) {
	reg, _ := newTestRegistry(t)
	rec, err := reg.Allocate("pnear-analysis", "", nil, "")
	require.NoError(t, err)

	got, err := reg.Get(rec.JobID)
	require.NoError(t, err)
	assert.Equal(t, rec.JobID, got.JobID)

	// Mutating the returned copy must not leak into registry state.
	got.Status = StatusFailed
	again, err := reg.Get(rec.JobID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, again.Status)

	_, err = reg.Get("job_missing")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestRegistryList(t *testing.T) {
	reg, _ := newTestRegistry(t)
	first, err := reg.Allocate("pnear-analysis", "", nil, "")
	require.NoError(t, err)
	second, err := reg.Allocate("param-generation", "", nil, "")
	require.NoError(t, err)

	all := reg.List("")
	require.Len(t, all, 2)
	assert.Equal(t, first.JobID, all[0].JobID, "list is oldest first")
	assert.Equal(t, second.JobID, all[1].JobID)

	_, err = reg.Transition(second.JobID, StatusPending, StatusRunning, nil)
	require.NoError(t, err)

	running := reg.List(StatusRunning)
	require.Len(t, running, 1)
	assert.Equal(t, second.JobID, running[0].JobID)

	assert.Empty(t, reg.List(StatusFailed))
}

func TestRegistryTransition(t *testing.T) {
	reg, store := newTestRegistry(t)
	rec, err := reg.Allocate("pnear-analysis", "", nil, "")
	require.NoError(t, err)

	running, err := reg.Transition(rec.JobID, StatusPending, StatusRunning, func(r *Record) {
		r.PID = 4321
	})
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, running.Status)
	assert.Equal(t, 4321, running.PID)
	require.NotNil(t, running.StartedAt)
	assert.Nil(t, running.CompletedAt)

	done, err := reg.Transition(rec.JobID, StatusRunning, StatusCompleted, nil)
	require.NoError(t, err)
	require.NotNil(t, done.CompletedAt)

	// Persisted state matches.
	onDisk, err := store.Read(rec.JobID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, onDisk.Status)
}

func TestRegistryTransition_Conflict(t *testing.T) {
	reg, _ := newTestRegistry(t)
	rec, err := reg.Allocate("pnear-analysis", "", nil, "")
	require.NoError(t, err)

	// Wrong expected state.
	_, err = reg.Transition(rec.JobID, StatusRunning, StatusCompleted, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))

	// Terminal records cannot move again.
	_, err = reg.Transition(rec.JobID, StatusPending, StatusCancelled, nil)
	require.NoError(t, err)
	_, err = reg.Transition(rec.JobID, StatusCancelled, StatusRunning, nil)
	assert.True(t, apperrors.IsConflict(err))

	_, err = reg.Transition("job_missing", StatusPending, StatusRunning, nil)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestRegistryTransition_ChecksAgainstDisk(t *testing.T) {
	reg, store := newTestRegistry(t)
	rec, err := reg.Allocate("pnear-analysis", "", nil, "")
	require.NoError(t, err)

	// A detached child claims the job on disk; this registry's in-memory
	// copy still says pending.
	claimed, err := ClaimOnDisk(store.JobDir(rec.JobID))
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, claimed.Status)

	// The pending→cancelled CAS must check the on-disk record and lose.
	_, err = reg.Transition(rec.JobID, StatusPending, StatusCancelled, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))

	// running→cancelled wins, and the adopted record carries the child's
	// PID so the canceller can signal it.
	cancelled, err := reg.Transition(rec.JobID, StatusRunning, StatusCancelled, func(r *Record) {
		r.ExitInfo = &ExitInfo{Reason: "cancelled"}
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Equal(t, os.Getpid(), cancelled.PID)

	// The terminal state is now visible on disk; a finalize from the child
	// must not move it.
	require.NoError(t, FinalizeOnDisk(store.JobDir(rec.JobID), StatusCompleted, nil))
	onDisk, err := store.Read(rec.JobID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, onDisk.Status)
}

func TestRegistryUpdate(t *testing.T) {
	reg, _ := newTestRegistry(t)
	rec, err := reg.Allocate("pnear-analysis", "", nil, "")
	require.NoError(t, err)
	_, err = reg.Transition(rec.JobID, StatusPending, StatusRunning, nil)
	require.NoError(t, err)

	updated, err := reg.Update(rec.JobID, StatusRunning, func(r *Record) {
		r.PID = 555
	})
	require.NoError(t, err)
	assert.Equal(t, 555, updated.PID)
	assert.Equal(t, StatusRunning, updated.Status)

	// Update refuses when the status moved underneath the caller.
	_, err = reg.Update(rec.JobID, StatusPending, nil)
	assert.True(t, apperrors.IsConflict(err))
}

func TestRegistryResolve(t *testing.T) {
	reg, _ := newTestRegistry(t)
	rec, err := reg.Allocate("pnear-analysis", "", nil, "")
	require.NoError(t, err)

	// Exact ID, ID prefix, and UUID prefix without "job_" all resolve.
	id, err := reg.Resolve(rec.JobID)
	require.NoError(t, err)
	assert.Equal(t, rec.JobID, id)

	id, err = reg.Resolve(rec.JobID[:12])
	require.NoError(t, err)
	assert.Equal(t, rec.JobID, id)

	bare := rec.JobID[len("job_") : len("job_")+8]
	id, err = reg.Resolve(bare)
	require.NoError(t, err)
	assert.Equal(t, rec.JobID, id)

	_, err = reg.Resolve("job_zzz")
	assert.True(t, apperrors.IsNotFound(err))

	_, err = reg.Resolve("")
	assert.True(t, apperrors.IsInvalidArgument(err))
}

func TestRegistryResolve_Ambiguous(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, err := reg.Allocate("pnear-analysis", "", nil, "")
	require.NoError(t, err)
	_, err = reg.Allocate("pnear-analysis", "", nil, "")
	require.NoError(t, err)

	_, err = reg.Resolve("job_")
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidArgument(err))
	assert.Contains(t, err.Error(), "ambiguous")
}

func TestRegistryRecoversInterruptedJobs(t *testing.T) {
	store := newTestStore(t)

	// A job that claims to be running under a PID that no longer exists.
	dead := &Record{
		JobID:     "job_dead",
		Operation: "pnear-analysis",
		Status:    StatusRunning,
		CreatedAt: time.Now().UTC(),
		PID:       1 << 22, // above pid_max on Linux
	}
	require.NoError(t, store.EnsureJobDir(dead.JobID))
	require.NoError(t, store.Write(dead))

	// A job whose process is demonstrably alive (ours).
	alive := &Record{
		JobID:     "job_alive",
		Operation: "pnear-analysis",
		Status:    StatusRunning,
		CreatedAt: time.Now().UTC(),
		PID:       os.Getpid(),
	}
	require.NoError(t, store.EnsureJobDir(alive.JobID))
	require.NoError(t, store.Write(alive))

	reg, err := NewRegistry(store, zap.NewNop())
	require.NoError(t, err)

	got, err := reg.Get("job_dead")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	require.NotNil(t, got.ExitInfo)
	assert.Equal(t, "interrupted", got.ExitInfo.Reason)
	require.NotNil(t, got.CompletedAt)

	got, err = reg.Get("job_alive")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
}

func TestNewJobID(t *testing.T) {
	a, b := NewJobID(), NewJobID()
	assert.True(t, len(a) > len("job_"))
	assert.NotEqual(t, a, b)
	assert.Contains(t, a, "job_")
}
