package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cyclicchamp/cyclictools/internal/observability"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the local environment and the jobs root.

Examples:
  cyclictools doctor`,
	Run: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) {
	observability.CLILogger.Info("=== cyclictools doctor ===")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("Running diagnostic checks...")
	observability.CLILogger.Info("")

	allChecks := true
	checkNum := 1
	totalChecks := 4

	// Check 1: Go version
	goVersion := runtime.Version()
	if goVersion >= "go1.23" {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking Go version... ✅ %s", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
	} else {
		observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking Go version... ⚠️  %s (recommended: go1.23+)", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
		allChecks = false
	}
	checkNum++

	// Check 2: Jobs root resolvable and writable
	root, err := cfg.JobsRootDir()
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking jobs root... ❌ cannot resolve", checkNum, totalChecks),
			zap.Error(err))
		ExitWithCode(observability.CLILogger, foundry.ExitFileNotFound, "Cannot resolve jobs root", err)
	}
	if err := probeJobsRoot(root); err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking jobs root... ❌ %s not writable", checkNum, totalChecks, root),
			zap.Error(err))
		ExitWithCode(observability.CLILogger, foundry.ExitFileWriteError, "Jobs root is not writable", err)
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking jobs root... ✅ %s", checkNum, totalChecks, root),
		zap.String("jobs_root", root))
	checkNum++

	// Check 3: Job child binary
	exe, err := os.Executable()
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking job runner binary... ❌ cannot locate executable", checkNum, totalChecks),
			zap.Error(err))
		allChecks = false
	} else {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking job runner binary... ✅ %s", checkNum, totalChecks, exe),
			zap.String("exe", exe))
	}
	checkNum++

	// Check 4: Environment
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking environment... ✅ %s/%s", checkNum, totalChecks, runtime.GOOS, runtime.GOARCH),
		zap.String("os", runtime.GOOS),
		zap.String("arch", runtime.GOARCH))

	observability.CLILogger.Info("")
	if allChecks {
		observability.CLILogger.Info("All checks passed ✅")
	} else {
		observability.CLILogger.Warn("Some checks reported warnings ⚠️")
	}
}

// probeJobsRoot verifies the jobs root exists (creating it when absent) and
// accepts writes, the same probe the serve health checker uses.
func probeJobsRoot(root string) error {
	if err := os.MkdirAll(filepath.Join(root, "jobs"), 0755); err != nil {
		return err
	}
	f, err := os.CreateTemp(root, ".doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_, werr := f.WriteString("ok")
	_ = f.Close()
	_ = os.Remove(name)
	return werr
}
