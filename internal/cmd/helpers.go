package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cyclicchamp/cyclictools/internal/observability"
	"github.com/cyclicchamp/cyclictools/pkg/analysis"
	"github.com/cyclicchamp/cyclictools/pkg/jobs"
)

// openManager builds a job manager rooted at the configured jobs directory.
// CLI invocations are one-shot, so pending jobs are never re-enqueued here;
// only 'serve' hosts a resident worker pool.
func openManager(ctx context.Context) (*jobs.Manager, error) {
	root, err := cfg.JobsRootDir()
	if err != nil {
		return nil, err
	}
	return jobs.NewManager(ctx, jobs.ManagerOptions{
		RootDir:        root,
		Runner:         analysis.NewRegistry(),
		Workers:        cfg.Jobs.Workers,
		CancelGrace:    cfg.Jobs.CancelGrace,
		DefaultTail:    cfg.Jobs.DefaultTail,
		Logger:         observability.CLILogger,
		DisableRequeue: true,
	})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortJobID(jobID string) string {
	jobID = strings.TrimSpace(jobID)
	if len(jobID) <= 16 {
		return jobID
	}
	return jobID[:16]
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

// parseArgFlags converts repeated --arg key=value flags into a typed argument
// map. Values that parse as numbers or booleans are typed accordingly;
// everything else stays a string.
func parseArgFlags(pairs []string) (map[string]any, error) {
	args := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			return nil, fmt.Errorf("invalid --arg %q: expected key=value", pair)
		}
		args[key] = coerceArgValue(strings.TrimSpace(value))
	}
	return args, nil
}

func coerceArgValue(value string) any {
	if n, err := strconv.Atoi(value); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return value
}
