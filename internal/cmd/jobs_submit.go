package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	apperrors "github.com/cyclicchamp/cyclictools/internal/errors"
)

var (
	submitArgs     []string
	submitArgsJSON string
	submitLabel    string
	submitJSON     bool
)

var jobsSubmitCmd = &cobra.Command{
	Use:   "submit <operation>",
	Short: "Submit a background job",
	Long: `Validate arguments and start an operation as a detached background job.

The job survives this shell. Arguments are passed as repeated --arg key=value
flags or a --args-json object, and are validated against the operation's
schema before anything starts. Explicit --arg values win on key collisions.

Examples:
  cyclictools jobs submit pnear-analysis --arg input_file=designs.txt
  cyclictools jobs submit param-generation --arg size=15 --arg optimize=true`,
	Args: cobra.ExactArgs(1),
	RunE: runJobsSubmit,
}

func init() {
	jobsCmd.AddCommand(jobsSubmitCmd)
	jobsSubmitCmd.Flags().StringArrayVar(&submitArgs, "arg", nil, "Operation argument as key=value (repeatable)")
	jobsSubmitCmd.Flags().StringVar(&submitArgsJSON, "args-json", "", "Operation arguments as a JSON object (merged with --arg)")
	jobsSubmitCmd.Flags().StringVar(&submitLabel, "label", "", "Human-readable label for the job")
	jobsSubmitCmd.Flags().BoolVar(&submitJSON, "json", false, "Output as JSON")
}

func runJobsSubmit(cmd *cobra.Command, args []string) error {
	opArgs, err := parseArgFlags(submitArgs)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid --arg value", err)
	}
	if submitArgsJSON != "" {
		var extra map[string]any
		if err := json.Unmarshal([]byte(submitArgsJSON), &extra); err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid --args-json value", err)
		}
		for key, value := range extra {
			if _, taken := opArgs[key]; !taken {
				opArgs[key] = value
			}
		}
	}

	manager, err := openManager(cmd.Context())
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to open job store", err)
	}
	defer func() { _ = manager.Close() }()

	rec, err := manager.SubmitDetached(args[0], submitLabel, opArgs)
	if err != nil {
		if apperrors.IsInvalidArgument(err) || apperrors.IsNotFound(err) {
			return exitError(foundry.ExitInvalidArgument, "Submission rejected", err)
		}
		return exitError(foundry.ExitFileWriteError, "Failed to start job", err)
	}

	if submitJSON {
		return printJSON(rec)
	}
	_, _ = fmt.Fprintf(os.Stdout, "job_id=%s\n", rec.JobID)
	_, _ = fmt.Fprintf(os.Stdout, "status=%s\n", rec.Status)
	_, _ = fmt.Fprintf(os.Stdout, "log_path=%s\n", rec.LogPath)
	_, _ = fmt.Fprintf(os.Stdout, "output_dir=%s\n", rec.OutputDir)
	return nil
}
