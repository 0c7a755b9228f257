package analysis

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/go-viper/mapstructure/v2"

	apperrors "github.com/cyclicchamp/cyclictools/internal/errors"
)

// DefaultMinPnear is the stability threshold applied when callers omit one.
const DefaultMinPnear = 0.9

// Design is one row of a Pnear_values file.
type Design struct {
	Name         string  `json:"name"`
	Energy       float64 `json:"energy"`
	PnearRosetta float64 `json:"pnear_rosetta"`
	PnearGA      float64 `json:"pnear_ga"`
	Sequence     string  `json:"sequence"`
}

// ParsePnearFile reads a tab-delimited Pnear_values file. The header row and
// malformed lines are skipped; double tabs are tolerated.
func ParsePnearFile(path string) ([]Design, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var designs []Design
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "Name") {
			continue
		}
		fields := make([]string, 0, 5)
		for _, p := range strings.Split(line, "\t") {
			if p = strings.TrimSpace(p); p != "" {
				fields = append(fields, p)
			}
		}
		if len(fields) < 5 {
			continue
		}
		energy, err1 := strconv.ParseFloat(fields[1], 64)
		rosetta, err2 := strconv.ParseFloat(fields[2], 64)
		ga, err3 := strconv.ParseFloat(fields[3], 64)
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}
		designs = append(designs, Design{
			Name:         fields[0],
			Energy:       energy,
			PnearRosetta: rosetta,
			PnearGA:      ga,
			Sequence:     fields[4],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return designs, nil
}

type pnearParams struct {
	InputFile string  `mapstructure:"input_file"`
	MinPnear  float64 `mapstructure:"min_pnear"`
}

type pnearOperation struct{}

func (pnearOperation) Name() string { return "pnear-analysis" }

func (pnearOperation) Description() string {
	return "Analyze P_near stability values for cyclic peptide designs"
}

func (pnearOperation) Params() []ParamSpec {
	return []ParamSpec{
		{Name: "input_file", Kind: ParamString, Required: true, InputPath: true},
		{Name: "min_pnear", Kind: ParamFloat, Min: floatPtr(0), Max: floatPtr(1), Default: DefaultMinPnear},
	}
}

func (op pnearOperation) Run(ctx context.Context, args map[string]any, outputDir string) (*Result, error) {
	params := pnearParams{MinPnear: DefaultMinPnear}
	if err := decodeParams(args, &params); err != nil {
		return nil, err
	}
	if err := ensureOutputDir(outputDir); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	designs, err := ParsePnearFile(params.InputFile)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	if len(designs) == 0 {
		return nil, apperrors.New(apperrors.CodeExecutionFailure, "no valid designs found in %s", params.InputFile)
	}

	names := make([]string, len(designs))
	energies := make([]float64, len(designs))
	rosetta := make([]float64, len(designs))
	ga := make([]float64, len(designs))
	sequences := make([]string, len(designs))
	for i, d := range designs {
		names[i] = d.Name
		energies[i] = d.Energy
		rosetta[i] = d.PnearRosetta
		ga[i] = d.PnearGA
		sequences[i] = d.Sequence
	}

	stableRosetta := indicesAbove(rosetta, params.MinPnear)
	stableGA := indicesAbove(ga, params.MinPnear)

	stem := fileStem(params.InputFile)
	reportPath := filepath.Join(outputDir, fmt.Sprintf("analysis_report_%s.txt", stem))
	if err := writePnearReport(reportPath, params, designs, stableRosetta, stableGA); err != nil {
		return nil, fmt.Errorf("write report: %w", err)
	}

	payload := map[string]any{
		"designs":                names,
		"energies":               energies,
		"pnear_rosetta":          rosetta,
		"pnear_ga":               ga,
		"sequences":              sequences,
		"stable_designs_rosetta": stableRosetta,
		"stable_designs_ga":      stableGA,
		"metadata": map[string]any{
			"input_file":           params.InputFile,
			"output_dir":           outputDir,
			"min_pnear":            params.MinPnear,
			"total_designs":        len(designs),
			"stable_count_rosetta": len(stableRosetta),
			"stable_count_ga":      len(stableGA),
			"energy_stats":         summarize(energies),
			"pnear_rosetta_stats":  summarize(rosetta),
			"pnear_ga_stats":       summarize(ga),
		},
	}
	return &Result{Payload: payload, OutputFiles: []string{reportPath}}, nil
}

func writePnearReport(path string, params pnearParams, designs []Design, stableRosetta, stableGA []int) error {
	var b strings.Builder
	b.WriteString("P_near Analysis Report\n")
	b.WriteString(strings.Repeat("=", 50) + "\n\n")
	fmt.Fprintf(&b, "Input file: %s\n", params.InputFile)
	fmt.Fprintf(&b, "Total designs analyzed: %d\n", len(designs))
	fmt.Fprintf(&b, "P_near threshold: %g\n\n", params.MinPnear)

	energies := make([]float64, len(designs))
	rosetta := make([]float64, len(designs))
	ga := make([]float64, len(designs))
	for i, d := range designs {
		energies[i] = d.Energy
		rosetta[i] = d.PnearRosetta
		ga[i] = d.PnearGA
	}

	es := summarize(energies)
	b.WriteString("Energy Statistics:\n")
	fmt.Fprintf(&b, "  Min: %.2f kcal/mol\n", es.Min)
	fmt.Fprintf(&b, "  Max: %.2f kcal/mol\n", es.Max)
	fmt.Fprintf(&b, "  Mean: %.2f kcal/mol\n\n", es.Mean)

	rs := summarize(rosetta)
	b.WriteString("P_near Statistics (Rosetta):\n")
	fmt.Fprintf(&b, "  Min: %.3f\n  Max: %.3f\n  Mean: %.3f\n", rs.Min, rs.Max, rs.Mean)
	fmt.Fprintf(&b, "  Stable designs (>%g): %d\n\n", params.MinPnear, len(stableRosetta))

	gs := summarize(ga)
	b.WriteString("P_near Statistics (GA):\n")
	fmt.Fprintf(&b, "  Min: %.3f\n  Max: %.3f\n  Mean: %.3f\n", gs.Min, gs.Max, gs.Mean)
	fmt.Fprintf(&b, "  Stable designs (>%g): %d\n\n", params.MinPnear, len(stableGA))

	fmt.Fprintf(&b, "Top Stable Designs (GA P_near > %g):\n", params.MinPnear)
	b.WriteString(strings.Repeat("-", 50) + "\n")
	ranked := append([]int(nil), stableGA...)
	sort.Slice(ranked, func(i, j int) bool { return ga[ranked[i]] > ga[ranked[j]] })
	if len(ranked) > 10 {
		ranked = ranked[:10]
	}
	for rank, idx := range ranked {
		d := designs[idx]
		fmt.Fprintf(&b, "%2d. %-20s Energy: %6.2f P_near(GA): %.3f\n", rank+1, d.Name, d.Energy, d.PnearGA)
		fmt.Fprintf(&b, "    Sequence: %s\n\n", d.Sequence)
	}

	return os.WriteFile(path, []byte(b.String()), 0644)
}

// Stats is a min/max/mean summary of a numeric series.
type Stats struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
}

func summarize(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}
	s := Stats{Min: values[0], Max: values[0]}
	sum := 0.0
	for _, v := range values {
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
		sum += v
	}
	s.Mean = sum / float64(len(values))
	return s
}

func indicesAbove(values []float64, threshold float64) []int {
	out := make([]int, 0, len(values))
	for i, v := range values {
		if v > threshold {
			out = append(out, i)
		}
	}
	return out
}

func fileStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// decodeParams maps a validated argument map onto a typed parameter struct.
// Weak typing lets JSON's float64 numbers fill int fields.
func decodeParams(args map[string]any, target any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(args); err != nil {
		return apperrors.New(apperrors.CodeInvalidArgument, "decode arguments: %v", err)
	}
	return nil
}
