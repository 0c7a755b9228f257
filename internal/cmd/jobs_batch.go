package cmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	apperrors "github.com/cyclicchamp/cyclictools/internal/errors"
	"github.com/cyclicchamp/cyclictools/pkg/jobs"
)

var (
	batchManifest  string
	batchInputGlob string
	batchArgs      []string
	batchLabel     string
	batchJSON      bool
)

var jobsBatchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Submit and inspect job batches",
}

var jobsBatchSubmitCmd = &cobra.Command{
	Use:   "submit <operation>",
	Short: "Submit one job per argument set, all or nothing",
	Long: `Fan an operation out over many argument sets as one batch. Every set is
validated before any job is created; one bad set rejects the whole batch.

Argument sets come from a YAML manifest (--manifest) or from expanding a
glob of input files (--input-glob), one job per matching file with the file
bound to input_file. Flags given with --arg apply to every set.

Manifest format:

  label: optional batch label
  arg_sets:
    - input_file: results/run1.txt
      min_pnear: 0.85
    - input_file: results/run2.txt

Examples:
  cyclictools jobs batch submit pnear-analysis --input-glob 'results/**/*.txt'
  cyclictools jobs batch submit param-generation --manifest sweep.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runJobsBatchSubmit,
}

var jobsBatchStatusCmd = &cobra.Command{
	Use:   "status <batch_id>",
	Short: "Show aggregate status for a batch",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsBatchStatus,
}

var jobsBatchCancelCmd = &cobra.Command{
	Use:   "cancel <batch_id>",
	Short: "Cancel every unfinished job in a batch",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsBatchCancel,
}

func init() {
	jobsCmd.AddCommand(jobsBatchCmd)
	jobsBatchCmd.AddCommand(jobsBatchSubmitCmd)
	jobsBatchCmd.AddCommand(jobsBatchStatusCmd)
	jobsBatchCmd.AddCommand(jobsBatchCancelCmd)

	jobsBatchSubmitCmd.Flags().StringVar(&batchManifest, "manifest", "", "YAML manifest with argument sets")
	jobsBatchSubmitCmd.Flags().StringVar(&batchInputGlob, "input-glob", "", "Glob of input files, one job per match")
	jobsBatchSubmitCmd.Flags().StringArrayVar(&batchArgs, "arg", nil, "Argument applied to every set as key=value (repeatable)")
	jobsBatchSubmitCmd.Flags().StringVar(&batchLabel, "label", "", "Human-readable label for the batch")
	jobsBatchSubmitCmd.Flags().BoolVar(&batchJSON, "json", false, "Output as JSON")
	jobsBatchStatusCmd.Flags().Bool("json", false, "Output as JSON")
}

type batchManifestFile struct {
	Label   string           `yaml:"label"`
	ArgSets []map[string]any `yaml:"arg_sets"`
}

func runJobsBatchSubmit(cmd *cobra.Command, args []string) error {
	if (batchManifest == "") == (batchInputGlob == "") {
		return exitError(foundry.ExitInvalidArgument, "Exactly one of --manifest or --input-glob is required", nil)
	}

	common, err := parseArgFlags(batchArgs)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid --arg value", err)
	}

	label := batchLabel
	var argSets []map[string]any
	switch {
	case batchManifest != "":
		argSets, label, err = loadBatchManifest(batchManifest, common, label)
	default:
		argSets, err = expandInputGlob(batchInputGlob, common)
	}
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to build argument sets", err)
	}

	manager, err := openManager(cmd.Context())
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to open job store", err)
	}
	defer func() { _ = manager.Close() }()

	group, err := manager.SubmitBatchDetached(args[0], label, argSets)
	if err != nil {
		if apperrors.IsInvalidArgument(err) || apperrors.IsNotFound(err) {
			return exitError(foundry.ExitInvalidArgument, "Batch rejected", err)
		}
		return exitError(foundry.ExitFileWriteError, "Failed to submit batch", err)
	}

	if batchJSON {
		return printJSON(group)
	}
	_, _ = fmt.Fprintf(os.Stdout, "batch_id=%s\n", group.BatchID)
	_, _ = fmt.Fprintf(os.Stdout, "jobs=%d\n", len(group.JobIDs))
	for _, id := range group.JobIDs {
		_, _ = fmt.Fprintf(os.Stdout, "  %s\n", shortJobID(id))
	}
	return nil
}

func loadBatchManifest(path string, common map[string]any, label string) ([]map[string]any, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	var manifest batchManifestFile
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, "", fmt.Errorf("parse manifest: %w", err)
	}
	if len(manifest.ArgSets) == 0 {
		return nil, "", fmt.Errorf("manifest has no arg_sets")
	}
	if label == "" {
		label = manifest.Label
	}
	argSets := make([]map[string]any, 0, len(manifest.ArgSets))
	for _, set := range manifest.ArgSets {
		merged := make(map[string]any, len(common)+len(set))
		for k, v := range common {
			merged[k] = v
		}
		for k, v := range set {
			merged[k] = v
		}
		argSets = append(argSets, merged)
	}
	return argSets, label, nil
}

func expandInputGlob(pattern string, common map[string]any) ([]map[string]any, error) {
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid glob %q: %w", pattern, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("glob %q matched no files", pattern)
	}
	sort.Strings(matches)
	argSets := make([]map[string]any, 0, len(matches))
	for _, path := range matches {
		set := make(map[string]any, len(common)+1)
		for k, v := range common {
			set[k] = v
		}
		set["input_file"] = path
		argSets = append(argSets, set)
	}
	return argSets, nil
}

func runJobsBatchStatus(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	manager, err := openManager(cmd.Context())
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to open job store", err)
	}
	defer func() { _ = manager.Close() }()

	summary, err := manager.BatchStatus(args[0])
	if err != nil {
		return jobLookupError(err)
	}

	if jsonOutput {
		return printJSON(summary)
	}
	_, _ = fmt.Fprintf(os.Stdout, "batch_id=%s\n", summary.BatchID)
	_, _ = fmt.Fprintf(os.Stdout, "operation=%s\n", summary.Operation)
	_, _ = fmt.Fprintf(os.Stdout, "status=%s\n", summary.Status)
	for _, status := range []jobs.Status{jobs.StatusPending, jobs.StatusRunning, jobs.StatusCompleted, jobs.StatusFailed, jobs.StatusCancelled} {
		if n := summary.Counts[status]; n > 0 {
			_, _ = fmt.Fprintf(os.Stdout, "%s=%d\n", status, n)
		}
	}
	return nil
}

func runJobsBatchCancel(cmd *cobra.Command, args []string) error {
	manager, err := openManager(cmd.Context())
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to open job store", err)
	}
	defer func() { _ = manager.Close() }()

	summary, err := manager.CancelBatch(args[0])
	if err != nil {
		return jobLookupError(err)
	}
	_, _ = fmt.Fprintf(os.Stdout, "batch_id=%s\n", summary.BatchID)
	_, _ = fmt.Fprintf(os.Stdout, "status=%s\n", summary.Status)
	return nil
}
