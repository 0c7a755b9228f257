package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cyclicchamp/cyclictools/internal/observability"
	"github.com/cyclicchamp/cyclictools/pkg/analysis"
	"github.com/cyclicchamp/cyclictools/pkg/jobs"
)

var (
	runJobDir   string
	runFinalize bool
)

// runCmd is the child-process entry point for one job. The manager (or a
// detached submission) spawns it with the job directory; it is hidden because
// invoking it by hand corrupts job state.
var runCmd = &cobra.Command{
	Use:    "run <operation>",
	Hidden: true,
	Args:   cobra.ExactArgs(1),
	RunE:   runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runJobDir, "job-dir", "", "Job directory holding metadata and arguments")
	runCmd.Flags().BoolVar(&runFinalize, "finalize", false, "Claim and finalize the job record on disk")
	_ = runCmd.MarkFlagRequired("job-dir")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	operation := args[0]
	observability.CLILogger.Info("job child starting",
		zap.String("operation", operation),
		zap.String("job_dir", runJobDir),
		zap.Int("pid", os.Getpid()))

	err := jobs.RunChild(ctx, analysis.NewRegistry(), operation, runJobDir, runFinalize)
	if err != nil {
		observability.CLILogger.Error("job child failed", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Operation failed", err)
	}
	observability.CLILogger.Info("job child finished", zap.String("operation", operation))
	return nil
}
