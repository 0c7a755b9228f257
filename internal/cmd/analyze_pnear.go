package cmd

import (
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/cyclicchamp/cyclictools/pkg/analysis"
)

var (
	pnearMinPnear  float64
	pnearOutputDir string
	pnearJSON      bool
)

var analyzePnearCmd = &cobra.Command{
	Use:   "pnear <input_file>",
	Short: "Score design stability from P_near values",
	Long: `Parse a tab-separated design results file and report which designs pass
the P_near stability threshold under both the Rosetta and GA estimates.

A text report is written next to the results under --output-dir.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyzePnear,
}

func init() {
	analyzeCmd.AddCommand(analyzePnearCmd)
	analyzePnearCmd.Flags().Float64Var(&pnearMinPnear, "min-pnear", analysis.DefaultMinPnear, "Stability threshold in [0,1]")
	analyzePnearCmd.Flags().StringVar(&pnearOutputDir, "output-dir", ".", "Directory for reports")
	analyzePnearCmd.Flags().BoolVar(&pnearJSON, "json", false, "Output as JSON")
}

func runAnalyzePnear(cmd *cobra.Command, args []string) error {
	registry := analysis.NewRegistry()
	opArgs := map[string]any{
		"input_file": args[0],
		"min_pnear":  pnearMinPnear,
	}
	if err := registry.Validate("pnear-analysis", opArgs); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid arguments", err)
	}
	payload, files, err := registry.Execute(cmd.Context(), "pnear-analysis", opArgs, pnearOutputDir)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Analysis failed", err)
	}
	if pnearJSON {
		return printJSON(payload)
	}
	printAnalysisSummary(payload, files)
	return nil
}

func printAnalysisSummary(payload map[string]any, files []string) {
	if meta, ok := payload["metadata"].(map[string]any); ok {
		for _, key := range []string{"input_file", "total_designs", "stable_count_rosetta", "stable_count_ga", "min_pnear"} {
			if v, ok := meta[key]; ok {
				_, _ = fmt.Fprintf(os.Stdout, "%s=%v\n", key, v)
			}
		}
	}
	for _, f := range files {
		_, _ = fmt.Fprintf(os.Stdout, "wrote %s\n", f)
	}
}
