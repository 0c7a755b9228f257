// Package cmd implements the cyclictools command line interface.
package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cyclicchamp/cyclictools/internal/config"
	"github.com/cyclicchamp/cyclictools/internal/observability"
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "HEAD",
	BuildDate: "unknown",
}

// SetVersionInfo records the build metadata injected at link time.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var (
	cfgFile  string
	logLevel string

	// cfg is populated by the persistent pre-run and shared by subcommands.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "cyclictools",
	Short: "Analysis toolkit and job manager for cyclic peptide design",
	Long: `cyclictools analyzes cyclic peptide design results and manages
long-running analysis jobs.

Operations:

  pnear-analysis     score design stability from P_near values
  sequence-analysis  sequence composition, chirality, and correlations
  param-generation   backbone sampling parameters for a peptide size

Short analyses run synchronously via 'analyze' and 'params'. Longer work goes
through the job manager ('jobs submit', 'jobs batch', 'serve') which isolates
each run in its own process and keeps durable records under the jobs root.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		structured := !isTerminalProfile()
		if err := observability.Init(logLevel, structured); err != nil {
			return fmt.Errorf("init logging: %w", err)
		}
		var err error
		if cfgFile != "" {
			cfg, err = config.LoadFile(cmd.Context(), cfgFile)
		} else {
			cfg, err = config.Load(cmd.Context())
		}
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if logLevel == "" && cfg.Logging.Level != "" {
			_ = observability.Init(cfg.Logging.Level, structured)
		}
		return nil
	},
}

func isTerminalProfile() bool {
	if profile := os.Getenv("CYCLICTOOLS_LOGGING_PROFILE"); profile != "" {
		return strings.EqualFold(profile, "console")
	}
	return false
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to config file (default: ./cyclictools.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("cyclictools %s (commit %s, built %s)\n",
			versionInfo.Version, versionInfo.Commit, versionInfo.BuildDate)
	},
}

// cliExitError carries a process exit code alongside the message shown to
// the user.
type cliExitError struct {
	code    int
	message string
	err     error
}

func (e *cliExitError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.message, e.err)
	}
	return e.message
}

func (e *cliExitError) Unwrap() error { return e.err }

// exitError wraps a failure with a foundry exit code for RunE handlers.
func exitError(code int, message string, err error) error {
	return &cliExitError{code: code, message: message, err: err}
}

// ExitWithCode logs a fatal condition and terminates the process immediately.
// Reserved for failures where returning an error would lose the exit code.
func ExitWithCode(logger *zap.Logger, code int, message string, err error) {
	logger.Error(message, zap.Error(err))
	observability.Sync()
	os.Exit(code)
}

// Execute runs the root command and maps errors to exit codes.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		observability.Sync()
		var ee *cliExitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(1)
	}
	observability.Sync()
}
