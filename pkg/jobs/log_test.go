package jobs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLogFile(t *testing.T, lines int) string {
	t.Helper()
	var b strings.Builder
	for i := 1; i <= lines; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}
	path := filepath.Join(t.TempDir(), "job.log")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0644))
	return path
}

func TestTailLog(t *testing.T) {
	path := writeLogFile(t, 100)

	lines, total, err := TailLog(path, 3)
	require.NoError(t, err)
	assert.Equal(t, 100, total)
	assert.Equal(t, []string{"line 98", "line 99", "line 100"}, lines)
}

func TestTailLog_FewerLinesThanTail(t *testing.T) {
	path := writeLogFile(t, 2)

	lines, total, err := TailLog(path, 50)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, []string{"line 1", "line 2"}, lines)
}

func TestTailLog_AllLines(t *testing.T) {
	path := writeLogFile(t, 5)

	lines, total, err := TailLog(path, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, lines, 5)
	assert.Equal(t, "line 1", lines[0])

	lines, _, err = TailLog(path, -1)
	require.NoError(t, err)
	assert.Len(t, lines, 5)
}

func TestTailLog_MissingFile(t *testing.T) {
	lines, total, err := TailLog(filepath.Join(t.TempDir(), "absent.log"), 10)
	require.NoError(t, err)
	assert.Empty(t, lines)
	assert.Zero(t, total)
}

func TestTailLog_EmptyFile(t *testing.T) {
	path := writeLogFile(t, 0)
	lines, total, err := TailLog(path, 10)
	require.NoError(t, err)
	assert.Empty(t, lines)
	assert.Zero(t, total)
}
