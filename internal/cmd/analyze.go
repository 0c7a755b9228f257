package cmd

import (
	"github.com/spf13/cobra"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run analyses synchronously",
	Long: `Run an analysis in the foreground and print its results.

For long-running work or fan-out over many inputs, prefer 'jobs submit' and
'jobs batch', which run analyses as managed background jobs.`,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
}
