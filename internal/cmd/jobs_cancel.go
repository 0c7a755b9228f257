package cmd

import (
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
)

var cancelJSON bool

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job_id>",
	Short: "Cancel a pending or running job",
	Long: `Cancel a job. Pending jobs are cancelled immediately; running jobs get
SIGTERM and a grace period to clean up before being killed. Finished jobs
cannot be cancelled.`,
	Args: cobra.ExactArgs(1),
	RunE: runJobsCancel,
}

func init() {
	jobsCmd.AddCommand(jobsCancelCmd)
	jobsCancelCmd.Flags().BoolVar(&cancelJSON, "json", false, "Output as JSON")
}

func runJobsCancel(cmd *cobra.Command, args []string) error {
	manager, err := openManager(cmd.Context())
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to open job store", err)
	}
	defer func() { _ = manager.Close() }()

	rec, err := manager.Cancel(args[0])
	if err != nil {
		return jobLookupError(err)
	}

	if cancelJSON {
		return printJSON(rec)
	}
	_, _ = fmt.Fprintf(os.Stdout, "job_id=%s\n", rec.JobID)
	_, _ = fmt.Fprintf(os.Stdout, "status=%s\n", rec.Status)
	return nil
}
