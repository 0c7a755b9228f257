package jobs

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

const lockFile = ".lock"

// lockJobDir takes an exclusive advisory lock covering one job's
// metadata.json. Status changes are read-check-write, and on the detached
// path the child process and the submitting/cancelling process mutate the
// same file, so every writer holds this lock from the read through the
// rename. The in-process registry mutex alone cannot order those writers.
func lockJobDir(jobDir string) (*os.File, error) {
	f, err := os.OpenFile(filepath.Join(jobDir, lockFile), os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open job lock: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("lock job directory: %w", err)
	}
	return f, nil
}

func unlockJobDir(f *os.File) {
	_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	_ = f.Close()
}
