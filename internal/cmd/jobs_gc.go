package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
)

var (
	gcOlderThan time.Duration
	gcDryRun    bool
	gcJSON      bool
)

var jobsGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Delete old finished jobs",
	Long: `Remove job directories for completed, failed, and cancelled jobs that
finished more than --older-than ago, along with batch groups whose member
jobs are all gone. Pending and running jobs are never removed.`,
	Args: cobra.NoArgs,
	RunE: runJobsGC,
}

func init() {
	jobsCmd.AddCommand(jobsGCCmd)
	jobsGCCmd.Flags().DurationVar(&gcOlderThan, "older-than", 30*24*time.Hour, "Retention window for finished jobs")
	jobsGCCmd.Flags().BoolVar(&gcDryRun, "dry-run", false, "Report what would be removed without deleting")
	jobsGCCmd.Flags().BoolVar(&gcJSON, "json", false, "Output as JSON")
}

func runJobsGC(cmd *cobra.Command, args []string) error {
	manager, err := openManager(cmd.Context())
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to open job store", err)
	}
	defer func() { _ = manager.Close() }()

	summary, err := manager.GC(gcOlderThan, gcDryRun)
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "GC failed", err)
	}

	if gcJSON {
		return printJSON(summary)
	}
	if summary.DryRun {
		_, _ = fmt.Fprintln(os.Stdout, "dry_run=true")
	}
	_, _ = fmt.Fprintf(os.Stdout, "removed_jobs=%d\n", len(summary.RemovedJobs))
	_, _ = fmt.Fprintf(os.Stdout, "removed_batches=%d\n", len(summary.RemovedBatches))
	return nil
}
