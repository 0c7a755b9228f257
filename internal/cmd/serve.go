package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cyclicchamp/cyclictools/internal/observability"
	"github.com/cyclicchamp/cyclictools/internal/server"
	"github.com/cyclicchamp/cyclictools/internal/server/handlers"
	"github.com/cyclicchamp/cyclictools/pkg/analysis"
	"github.com/cyclicchamp/cyclictools/pkg/jobs"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the job manager as an HTTP service",
	Long: `Host the job manager behind an HTTP API.

The server owns a bounded worker pool: submitted jobs queue in order and run
as isolated subprocesses. On startup, jobs left running by a previous process
are marked interrupted and pending jobs are re-enqueued.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides config)")
}

// jobStoreHealthChecker verifies the jobs root stays writable.
type jobStoreHealthChecker struct {
	root string
}

func (c jobStoreHealthChecker) CheckHealth(_ context.Context) error {
	info, err := os.Stat(c.root)
	if err != nil {
		return fmt.Errorf("jobs root unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("jobs root %s is not a directory", c.root)
	}
	probe, err := os.CreateTemp(c.root, ".health-*")
	if err != nil {
		return fmt.Errorf("jobs root not writable: %w", err)
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, err := cfg.JobsRootDir()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid jobs root", err)
	}

	registry := analysis.NewRegistry()
	manager, err := jobs.NewManager(ctx, jobs.ManagerOptions{
		RootDir:     root,
		Runner:      registry,
		Workers:     cfg.Jobs.Workers,
		CancelGrace: cfg.Jobs.CancelGrace,
		DefaultTail: cfg.Jobs.DefaultTail,
		Logger:      observability.CLILogger,
	})
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to open job manager", err)
	}
	defer func() { _ = manager.Close() }()

	health := handlers.InitHealthManager(versionInfo.Version)
	health.RegisterChecker("jobstore", jobStoreHealthChecker{root: root})
	handlers.SetVersionInfo(versionInfo.Version, versionInfo.Commit, versionInfo.BuildDate)

	host := cfg.Server.Host
	if serveHost != "" {
		host = serveHost
	}
	port := cfg.Server.Port
	if servePort != 0 {
		port = servePort
	}

	srv := server.New(host, port,
		server.WithJobs(handlers.NewJobsHandler(manager, registry)),
		server.WithSubmitThrottle(cfg.Server.SubmitRate, cfg.Server.SubmitBurst),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout,
			cfg.Server.IdleTimeout, cfg.Server.ShutdownTimeout),
	)

	observability.CLILogger.Info("starting job manager service",
		zap.String("addr", srv.Addr()),
		zap.String("jobs_root", root),
		zap.Int("workers", cfg.Jobs.Workers))

	if err := srv.Run(ctx); err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Server failed", err)
	}
	return nil
}
