package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/cyclicchamp/cyclictools/pkg/jobs"
)

var (
	logsTail   int
	logsFollow bool
)

var jobsLogsCmd = &cobra.Command{
	Use:   "logs <job_id>",
	Short: "Show logs for a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsLogs,
}

func init() {
	jobsCmd.AddCommand(jobsLogsCmd)
	jobsLogsCmd.Flags().IntVar(&logsTail, "tail", 50, "Show last N lines (-1 = all)")
	jobsLogsCmd.Flags().BoolVar(&logsFollow, "follow", false, "Follow log output until the job finishes")
}

func runJobsLogs(cmd *cobra.Command, args []string) error {
	manager, err := openManager(cmd.Context())
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to open job store", err)
	}
	defer func() { _ = manager.Close() }()

	jobID, err := manager.Resolve(args[0])
	if err != nil {
		return jobLookupError(err)
	}

	lines, total, err := manager.Log(jobID, logsTail)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to read job log", err)
	}
	for _, line := range lines {
		_, _ = fmt.Fprintln(os.Stdout, line)
	}
	if !logsFollow {
		if total > len(lines) {
			_, _ = fmt.Fprintf(os.Stderr, "(showing last %d of %d lines)\n", len(lines), total)
		}
		return nil
	}
	return followJobLog(cmd, manager, jobID)
}

// followJobLog streams bytes appended to the log until the job reaches a
// terminal state or the command is interrupted.
func followJobLog(cmd *cobra.Command, manager *jobs.Manager, jobID string) error {
	logPath := manager.Store().LogPath(jobID)
	var offset int64
	if info, err := os.Stat(logPath); err == nil {
		offset = info.Size()
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-cmd.Context().Done():
			return nil
		case <-ticker.C:
		}

		info, err := os.Stat(logPath)
		if err == nil && info.Size() > offset {
			f, err := os.Open(logPath)
			if err != nil {
				return exitError(foundry.ExitFileReadError, "Failed to read job log", err)
			}
			if _, err := f.Seek(offset, io.SeekStart); err == nil {
				n, _ := io.Copy(os.Stdout, f)
				offset += n
			}
			_ = f.Close()
		}

		rec, err := manager.Status(jobID)
		if err != nil {
			return jobLookupError(err)
		}
		if rec.Status.Terminal() {
			// Drain anything written between the copy and the status check.
			if info, err := os.Stat(logPath); err == nil && info.Size() > offset {
				continue
			}
			_, _ = fmt.Fprintf(os.Stderr, "job %s %s\n", shortJobID(jobID), rec.Status)
			return nil
		}
	}
}
