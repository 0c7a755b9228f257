package analysis

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/cyclicchamp/cyclictools/internal/errors"
)

func TestRegistryNames(t *testing.T) {
	reg := NewRegistry()
	assert.Equal(t, []string{"param-generation", "pnear-analysis", "sequence-analysis"}, reg.Names())
}

func TestRegistryGet(t *testing.T) {
	reg := NewRegistry()

	op, err := reg.Get("pnear-analysis")
	require.NoError(t, err)
	assert.Equal(t, "pnear-analysis", op.Name())

	// Leading/trailing whitespace is tolerated.
	op, err = reg.Get("  param-generation ")
	require.NoError(t, err)
	assert.Equal(t, "param-generation", op.Name())

	_, err = reg.Get("no-such-op")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestRegistryValidate(t *testing.T) {
	reg := NewRegistry()

	input := filepath.Join(t.TempDir(), "pnear.txt")
	require.NoError(t, os.WriteFile(input, []byte("Name\tEnergy\n"), 0644))

	tests := []struct {
		name      string
		operation string
		args      map[string]any
		wantErr   string
	}{
		{
			name:      "valid pnear args",
			operation: "pnear-analysis",
			args:      map[string]any{"input_file": input, "min_pnear": 0.8},
		},
		{
			name:      "missing required",
			operation: "pnear-analysis",
			args:      map[string]any{"min_pnear": 0.8},
			wantErr:   "required parameter is missing",
		},
		{
			name:      "unknown parameter",
			operation: "pnear-analysis",
			args:      map[string]any{"input_file": input, "bogus": 1},
			wantErr:   "does not accept this parameter",
		},
		{
			name:      "float below min",
			operation: "pnear-analysis",
			args:      map[string]any{"input_file": input, "min_pnear": -0.1},
			wantErr:   "must be >= 0",
		},
		{
			name:      "float above max",
			operation: "pnear-analysis",
			args:      map[string]any{"input_file": input, "min_pnear": 1.5},
			wantErr:   "must be <= 1",
		},
		{
			name:      "wrong string type",
			operation: "pnear-analysis",
			args:      map[string]any{"input_file": 42},
			wantErr:   "expected a string",
		},
		{
			name:      "missing input file",
			operation: "pnear-analysis",
			args:      map[string]any{"input_file": filepath.Join(t.TempDir(), "absent.txt")},
			wantErr:   "input file not found",
		},
		{
			name:      "int enum accepts json float",
			operation: "param-generation",
			args:      map[string]any{"size": float64(15)},
		},
		{
			name:      "int enum rejects out of set",
			operation: "param-generation",
			args:      map[string]any{"size": 10},
			wantErr:   "must be one of",
		},
		{
			name:      "fractional float is not an int",
			operation: "param-generation",
			args:      map[string]any{"size": 15.5},
			wantErr:   "expected an integer",
		},
		{
			name:      "bool type enforced",
			operation: "param-generation",
			args:      map[string]any{"size": 15, "optimize": "yes"},
			wantErr:   "expected a boolean",
		},
		{
			name:      "unknown operation",
			operation: "frobnicate",
			args:      map[string]any{},
			wantErr:   "unknown operation",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.Validate(tt.operation, tt.args)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			if tt.operation != "frobnicate" {
				assert.True(t, apperrors.IsInvalidArgument(err))
			}
		})
	}
}

func TestCheckReadableFile(t *testing.T) {
	dir := t.TempDir()

	err := checkReadableFile("input_file", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "directory")

	err = checkReadableFile("input_file", "   ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must not be empty")
}

func TestAsInt(t *testing.T) {
	n, ok := asInt(7)
	assert.True(t, ok)
	assert.Equal(t, 7, n)

	n, ok = asInt(int64(24))
	assert.True(t, ok)
	assert.Equal(t, 24, n)

	n, ok = asInt(float64(15))
	assert.True(t, ok)
	assert.Equal(t, 15, n)

	_, ok = asInt(15.5)
	assert.False(t, ok)

	_, ok = asInt("15")
	assert.False(t, ok)
}

func TestAsIntList(t *testing.T) {
	ns, ok := asIntList([]any{float64(7), 15})
	assert.True(t, ok)
	assert.Equal(t, []int{7, 15}, ns)

	_, ok = asIntList([]any{"x"})
	assert.False(t, ok)

	ns, ok = asIntList([]int{1, 2})
	assert.True(t, ok)
	assert.Equal(t, []int{1, 2}, ns)
}

func TestRegistryExecute_UnknownOperation(t *testing.T) {
	reg := NewRegistry()
	_, _, err := reg.Execute(context.Background(), "nope", nil, t.TempDir())
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}
