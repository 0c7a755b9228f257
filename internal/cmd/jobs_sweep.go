package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	apperrors "github.com/cyclicchamp/cyclictools/internal/errors"
)

var (
	sweepParam  string
	sweepValues []string
	sweepArgs   []string
	sweepLabel  string
	sweepJSON   bool
)

var jobsSweepCmd = &cobra.Command{
	Use:   "sweep <operation>",
	Short: "Submit a batch sweeping one parameter over a list of values",
	Long: `Submit a batch with one job per value of a single parameter, holding all
other arguments fixed. Sugar over 'jobs batch submit'.

Examples:
  cyclictools jobs sweep param-generation --param size --values 7,15,20,24
  cyclictools jobs sweep pnear-analysis --param min_pnear --values 0.8,0.85,0.9 \
      --arg input_file=designs.txt`,
	Args: cobra.ExactArgs(1),
	RunE: runJobsSweep,
}

func init() {
	jobsCmd.AddCommand(jobsSweepCmd)
	jobsSweepCmd.Flags().StringVar(&sweepParam, "param", "", "Parameter to sweep")
	jobsSweepCmd.Flags().StringSliceVar(&sweepValues, "values", nil, "Comma-separated values for the swept parameter")
	jobsSweepCmd.Flags().StringArrayVar(&sweepArgs, "arg", nil, "Fixed argument as key=value (repeatable)")
	jobsSweepCmd.Flags().StringVar(&sweepLabel, "label", "", "Human-readable label for the batch")
	jobsSweepCmd.Flags().BoolVar(&sweepJSON, "json", false, "Output as JSON")
	_ = jobsSweepCmd.MarkFlagRequired("param")
	_ = jobsSweepCmd.MarkFlagRequired("values")
}

func runJobsSweep(cmd *cobra.Command, args []string) error {
	if strings.TrimSpace(sweepParam) == "" || len(sweepValues) == 0 {
		return exitError(foundry.ExitInvalidArgument, "Both --param and --values are required", nil)
	}

	fixed, err := parseArgFlags(sweepArgs)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid --arg value", err)
	}
	if _, clash := fixed[sweepParam]; clash {
		return exitError(foundry.ExitInvalidArgument, "Swept parameter also given via --arg",
			fmt.Errorf("%s appears in both --param and --arg", sweepParam))
	}

	argSets := make([]map[string]any, 0, len(sweepValues))
	for _, raw := range sweepValues {
		set := make(map[string]any, len(fixed)+1)
		for k, v := range fixed {
			set[k] = v
		}
		set[sweepParam] = coerceArgValue(strings.TrimSpace(raw))
		argSets = append(argSets, set)
	}

	label := sweepLabel
	if label == "" {
		label = fmt.Sprintf("sweep %s over %d values", sweepParam, len(argSets))
	}

	manager, err := openManager(cmd.Context())
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to open job store", err)
	}
	defer func() { _ = manager.Close() }()

	group, err := manager.SubmitBatchDetached(args[0], label, argSets)
	if err != nil {
		if apperrors.IsInvalidArgument(err) || apperrors.IsNotFound(err) {
			return exitError(foundry.ExitInvalidArgument, "Sweep rejected", err)
		}
		return exitError(foundry.ExitFileWriteError, "Failed to submit sweep", err)
	}

	if sweepJSON {
		return printJSON(group)
	}
	_, _ = fmt.Fprintf(os.Stdout, "batch_id=%s\n", group.BatchID)
	_, _ = fmt.Fprintf(os.Stdout, "jobs=%d\n", len(group.JobIDs))
	return nil
}
