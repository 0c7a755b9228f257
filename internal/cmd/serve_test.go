package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStoreHealthChecker(t *testing.T) {
	t.Run("healthy on writable directory", func(t *testing.T) {
		checker := jobStoreHealthChecker{root: t.TempDir()}
		err := checker.CheckHealth(context.Background())
		assert.NoError(t, err)
	})

	t.Run("errors when root is missing", func(t *testing.T) {
		checker := jobStoreHealthChecker{root: filepath.Join(t.TempDir(), "does-not-exist")}
		err := checker.CheckHealth(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "jobs root unavailable")
	})

	t.Run("errors when root is a file", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(root, []byte("x"), 0644))

		checker := jobStoreHealthChecker{root: root}
		err := checker.CheckHealth(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not a directory")
	})
}
