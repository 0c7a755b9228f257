package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	apperrors "github.com/cyclicchamp/cyclictools/internal/errors"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage analysis jobs",
	Long: `Manage background analysis jobs.

This command group is designed to be agent-friendly:

- stable job ids with short-prefix lookup
- predictable on-disk locations under the jobs root
- optional JSON output for machine parsing

Jobs submitted here run detached and survive the submitting shell. Use
'cyclictools serve' to host the job manager as an HTTP service instead.`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, oldest first",
	RunE:  runJobsList,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job_id>",
	Short: "Show status for a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStatus,
}

var jobsResultCmd = &cobra.Command{
	Use:   "result <job_id>",
	Short: "Show the result of a finished job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsResult,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsStatusCmd)
	jobsCmd.AddCommand(jobsResultCmd)

	jobsListCmd.Flags().String("status", "", "Filter by status: pending, running, completed, failed, cancelled")
	jobsListCmd.Flags().Bool("json", false, "Output as JSON")
	jobsStatusCmd.Flags().Bool("json", false, "Output as JSON")
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	statusFilter, _ := cmd.Flags().GetString("status")

	manager, err := openManager(cmd.Context())
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to open job store", err)
	}
	defer func() { _ = manager.Close() }()

	records, err := manager.List(statusFilter)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid status filter", err)
	}
	if len(records) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "No jobs found")
		return nil
	}

	if jsonOutput {
		return printJSON(records)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "JOB ID\tOPERATION\tLABEL\tSTATUS\tCREATED\tCOMPLETED")
	for _, rec := range records {
		label := rec.Label
		if label == "" {
			label = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			shortJobID(rec.JobID),
			rec.Operation,
			label,
			rec.Status,
			rec.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			formatOptionalTime(rec.CompletedAt),
		)
	}
	return nil
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	manager, err := openManager(cmd.Context())
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to open job store", err)
	}
	defer func() { _ = manager.Close() }()

	rec, err := manager.Status(args[0])
	if err != nil {
		return jobLookupError(err)
	}

	if jsonOutput {
		return printJSON(rec)
	}

	_, _ = fmt.Fprintf(os.Stdout, "job_id=%s\n", rec.JobID)
	_, _ = fmt.Fprintf(os.Stdout, "operation=%s\n", rec.Operation)
	if rec.Label != "" {
		_, _ = fmt.Fprintf(os.Stdout, "label=%s\n", rec.Label)
	}
	_, _ = fmt.Fprintf(os.Stdout, "status=%s\n", rec.Status)
	_, _ = fmt.Fprintf(os.Stdout, "created_at=%s\n", rec.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"))
	if rec.StartedAt != nil {
		_, _ = fmt.Fprintf(os.Stdout, "started_at=%s\n", formatOptionalTime(rec.StartedAt))
	}
	if rec.CompletedAt != nil {
		_, _ = fmt.Fprintf(os.Stdout, "completed_at=%s\n", formatOptionalTime(rec.CompletedAt))
	}
	if rec.PID > 0 {
		_, _ = fmt.Fprintf(os.Stdout, "pid=%d\n", rec.PID)
	}
	if rec.ExitInfo != nil {
		_, _ = fmt.Fprintf(os.Stdout, "exit_reason=%s\n", rec.ExitInfo.Reason)
		if rec.ExitInfo.Error != "" {
			_, _ = fmt.Fprintf(os.Stdout, "exit_error=%s\n", rec.ExitInfo.Error)
		}
	}
	if rec.BatchID != "" {
		_, _ = fmt.Fprintf(os.Stdout, "batch_id=%s\n", rec.BatchID)
	}
	_, _ = fmt.Fprintf(os.Stdout, "output_dir=%s\n", rec.OutputDir)
	return nil
}

func runJobsResult(cmd *cobra.Command, args []string) error {
	manager, err := openManager(cmd.Context())
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to open job store", err)
	}
	defer func() { _ = manager.Close() }()

	env, err := manager.Result(args[0])
	if err != nil {
		return jobLookupError(err)
	}
	return printJSON(env)
}

// jobLookupError maps structured job errors to CLI exit codes.
func jobLookupError(err error) error {
	switch {
	case apperrors.IsNotFound(err):
		return exitError(foundry.ExitFileNotFound, "Job not found", err)
	case apperrors.IsInvalidArgument(err):
		return exitError(foundry.ExitInvalidArgument, "Invalid job reference", err)
	case apperrors.IsConflict(err):
		return exitError(foundry.ExitInvalidArgument, "Job is in the wrong state", err)
	default:
		return exitError(foundry.ExitFileReadError, "Job lookup failed", err)
	}
}
