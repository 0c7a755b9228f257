package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeJobsRoot(t *testing.T) {
	t.Run("creates missing root", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "jobsroot")
		require.NoError(t, probeJobsRoot(root))

		info, err := os.Stat(filepath.Join(root, "jobs"))
		require.NoError(t, err)
		assert.True(t, info.IsDir())

		// The write probe cleans up after itself.
		entries, err := os.ReadDir(root)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "jobs", entries[0].Name())
	})

	t.Run("existing root passes", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(root, "jobs"), 0755))
		assert.NoError(t, probeJobsRoot(root))
	})

	t.Run("file in place of root fails", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "notadir")
		require.NoError(t, os.WriteFile(root, []byte("x"), 0644))
		assert.Error(t, probeJobsRoot(root))
	})
}
