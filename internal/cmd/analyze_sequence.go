package cmd

import (
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/cyclicchamp/cyclictools/pkg/analysis"
)

var (
	seqMinPnear   float64
	seqStableOnly bool
	seqOutputDir  string
	seqJSON       bool
)

var analyzeSequenceCmd = &cobra.Command{
	Use:   "sequence <input_file>",
	Short: "Analyze sequence composition and chirality",
	Long: `Parse design sequences from a results file and report amino acid
composition, D/L chirality distribution, physicochemical properties, and
their correlation with the GA P_near estimate.

With --stable-only, the analysis is restricted to designs at or above the
P_near threshold.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyzeSequence,
}

func init() {
	analyzeCmd.AddCommand(analyzeSequenceCmd)
	analyzeSequenceCmd.Flags().Float64Var(&seqMinPnear, "min-pnear", analysis.DefaultMinPnear, "Stability threshold in [0,1]")
	analyzeSequenceCmd.Flags().BoolVar(&seqStableOnly, "stable-only", false, "Restrict analysis to stable designs")
	analyzeSequenceCmd.Flags().StringVar(&seqOutputDir, "output-dir", ".", "Directory for reports")
	analyzeSequenceCmd.Flags().BoolVar(&seqJSON, "json", false, "Output as JSON")
}

func runAnalyzeSequence(cmd *cobra.Command, args []string) error {
	registry := analysis.NewRegistry()
	opArgs := map[string]any{
		"input_file":  args[0],
		"min_pnear":   seqMinPnear,
		"stable_only": seqStableOnly,
	}
	if err := registry.Validate("sequence-analysis", opArgs); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid arguments", err)
	}
	payload, files, err := registry.Execute(cmd.Context(), "sequence-analysis", opArgs, seqOutputDir)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Analysis failed", err)
	}
	if seqJSON {
		return printJSON(payload)
	}
	if meta, ok := payload["metadata"].(map[string]any); ok {
		for _, key := range []string{"input_file", "total_sequences", "analysis_mode", "min_pnear"} {
			if v, ok := meta[key]; ok {
				_, _ = fmt.Fprintf(os.Stdout, "%s=%v\n", key, v)
			}
		}
	}
	for _, f := range files {
		_, _ = fmt.Fprintf(os.Stdout, "wrote %s\n", f)
	}
	return nil
}
