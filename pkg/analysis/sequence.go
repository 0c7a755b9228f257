package analysis

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	apperrors "github.com/cyclicchamp/cyclictools/internal/errors"
)

// threeToOne maps three-letter residue codes to single-letter codes.
var threeToOne = map[string]string{
	"ALA": "A", "ARG": "R", "ASN": "N", "ASP": "D", "CYS": "C",
	"GLN": "Q", "GLU": "E", "GLY": "G", "HIS": "H", "ILE": "I",
	"LEU": "L", "LYS": "K", "MET": "M", "PHE": "F", "PRO": "P",
	"SER": "S", "THR": "T", "TRP": "W", "TYR": "Y", "VAL": "V",
}

// Kyte-Doolittle hydrophobicity scale.
var hydrophobicity = map[string]float64{
	"A": 1.8, "R": -4.5, "N": -3.5, "D": -3.5, "C": 2.5,
	"Q": -3.5, "E": -3.5, "G": -0.4, "H": -3.2, "I": 4.5,
	"L": 3.8, "K": -3.9, "M": 1.9, "F": 2.8, "P": -1.6,
	"S": -0.8, "T": -0.7, "W": -0.9, "Y": -1.3, "V": 4.2,
	"X": 0.0,
}

// Net charge at physiological pH; histidine counts as half.
var residueCharge = map[string]float64{
	"R": 1, "K": 1, "D": -1, "E": -1, "H": 0.5,
}

// ParseSequence splits a residue string like "ASP-GLU-DLEU-TYR" into
// single-letter amino acids and their L/D chirality. A leading D on a
// three-letter code marks a D-amino acid. Unknown residues map to "X".
func ParseSequence(sequence string) (aminoAcids, chiralities []string) {
	for _, res := range strings.Split(sequence, "-") {
		res = strings.TrimSpace(res)
		if res == "" {
			continue
		}
		name := res
		chirality := "L"
		if strings.HasPrefix(res, "D") && len(res) > 3 {
			name = res[1:]
			chirality = "D"
		}
		one, ok := threeToOne[name]
		if !ok {
			one = "X"
		}
		aminoAcids = append(aminoAcids, one)
		chiralities = append(chiralities, chirality)
	}
	return aminoAcids, chiralities
}

// SequenceProperties summarizes the physicochemical profile of one peptide.
type SequenceProperties struct {
	Length              int     `json:"length"`
	Hydrophobicity      float64 `json:"hydrophobicity"`
	NetCharge           float64 `json:"net_charge"`
	ChargedResidues     int     `json:"charged_residues"`
	HydrophobicResidues int     `json:"hydrophobic_residues"`
	PolarResidues       int     `json:"polar_residues"`
	AromaticResidues    int     `json:"aromatic_residues"`
	ProlineCount        int     `json:"proline_count"`
}

// CalculateProperties computes physicochemical properties from single-letter
// amino acids.
func CalculateProperties(aminoAcids []string) SequenceProperties {
	p := SequenceProperties{Length: len(aminoAcids)}
	if len(aminoAcids) == 0 {
		return p
	}
	sumHydro := 0.0
	for _, aa := range aminoAcids {
		h := hydrophobicity[aa]
		sumHydro += h
		charge := residueCharge[aa]
		p.NetCharge += charge
		if math.Abs(charge) >= 1 {
			p.ChargedResidues++
		}
		if h > 2.0 {
			p.HydrophobicResidues++
		}
		if strings.Contains("STNQDE", aa) {
			p.PolarResidues++
		}
		if strings.Contains("FWY", aa) {
			p.AromaticResidues++
		}
		if aa == "P" {
			p.ProlineCount++
		}
	}
	p.Hydrophobicity = sumHydro / float64(len(aminoAcids))
	return p
}

// SequenceRecord is the full analysis of one design's sequence.
type SequenceRecord struct {
	Design   string  `json:"design"`
	Energy   float64 `json:"energy"`
	PnearGA  float64 `json:"pnear_ga"`
	Sequence string  `json:"sequence"`
	SequenceProperties
	DResidues int     `json:"d_residues"`
	LResidues int     `json:"l_residues"`
	DFraction float64 `json:"d_fraction"`
}

type sequenceParams struct {
	InputFile  string  `mapstructure:"input_file"`
	MinPnear   float64 `mapstructure:"min_pnear"`
	StableOnly bool    `mapstructure:"stable_only"`
}

type sequenceOperation struct{}

func (sequenceOperation) Name() string { return "sequence-analysis" }

func (sequenceOperation) Description() string {
	return "Analyze sequence composition, chirality, and physicochemical properties"
}

func (sequenceOperation) Params() []ParamSpec {
	return []ParamSpec{
		{Name: "input_file", Kind: ParamString, Required: true, InputPath: true},
		{Name: "min_pnear", Kind: ParamFloat, Min: floatPtr(0), Max: floatPtr(1), Default: DefaultMinPnear},
		{Name: "stable_only", Kind: ParamBool, Default: false},
	}
}

func (op sequenceOperation) Run(ctx context.Context, args map[string]any, outputDir string) (*Result, error) {
	params := sequenceParams{MinPnear: DefaultMinPnear}
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
	if params.StableOnly {
		kept := designs[:0]
		for _, d := range designs {
			if d.PnearGA > params.MinPnear {
				kept = append(kept, d)
			}
		}
		designs = kept
	}
	if len(designs) == 0 {
		return nil, apperrors.New(apperrors.CodeExecutionFailure, "no sequences found to analyze in %s", params.InputFile)
	}

	records := make([]SequenceRecord, 0, len(designs))
	aaCounts := map[string]int{}
	chiralCounts := map[string]int{}
	for _, d := range designs {
		aminoAcids, chiralities := ParseSequence(d.Sequence)
		props := CalculateProperties(aminoAcids)
		dCount := 0
		for _, c := range chiralities {
			chiralCounts[c]++
			if c == "D" {
				dCount++
			}
		}
		for _, aa := range aminoAcids {
			aaCounts[aa]++
		}
		rec := SequenceRecord{
			Design:             d.Name,
			Energy:             d.Energy,
			PnearGA:            d.PnearGA,
			Sequence:           d.Sequence,
			SequenceProperties: props,
			DResidues:          dCount,
			LResidues:          len(chiralities) - dCount,
		}
		if len(chiralities) > 0 {
			rec.DFraction = float64(dCount) / float64(len(chiralities))
		}
		records = append(records, rec)
	}

	correlations := map[string]float64{
		"hydrophobicity": correlate(records, func(r SequenceRecord) float64 { return r.Hydrophobicity }),
		"net_charge":     correlate(records, func(r SequenceRecord) float64 { return r.NetCharge }),
		"d_fraction":     correlate(records, func(r SequenceRecord) float64 { return r.DFraction }),
		"proline_count":  correlate(records, func(r SequenceRecord) float64 { return float64(r.ProlineCount) }),
	}

	suffix := "_all"
	if params.StableOnly {
		suffix = "_stable"
	}
	stem := fileStem(params.InputFile)
	reportPath := filepath.Join(outputDir, fmt.Sprintf("sequence_analysis_report_%s%s.txt", stem, suffix))
	if err := writeSequenceReport(reportPath, params, records, aaCounts, chiralCounts, correlations); err != nil {
		return nil, fmt.Errorf("write report: %w", err)
	}

	payload := map[string]any{
		"sequence_data":          records,
		"amino_acid_composition": aaCounts,
		"chirality_distribution": chiralCounts,
		"correlations_pnear_ga":  correlations,
		"metadata": map[string]any{
			"input_file":      params.InputFile,
			"output_dir":      outputDir,
			"min_pnear":       params.MinPnear,
			"total_sequences": len(records),
			"analysis_mode":   strings.TrimPrefix(suffix, "_") + "_designs",
		},
	}
	return &Result{Payload: payload, OutputFiles: []string{reportPath}}, nil
}

func writeSequenceReport(path string, params sequenceParams, records []SequenceRecord, aaCounts, chiralCounts map[string]int, correlations map[string]float64) error {
	var b strings.Builder
	b.WriteString("Sequence Analysis Report\n")
	b.WriteString(strings.Repeat("=", 50) + "\n\n")
	fmt.Fprintf(&b, "Input file: %s\n", params.InputFile)
	mode := "All designs"
	if params.StableOnly {
		mode = "Stable designs only"
	}
	fmt.Fprintf(&b, "Analysis mode: %s\n", mode)
	fmt.Fprintf(&b, "Number of sequences: %d\n\n", len(records))

	totalAA := 0
	for _, n := range aaCounts {
		totalAA += n
	}
	b.WriteString("Amino Acid Composition:\n")
	for _, aa := range sortedKeys(aaCounts) {
		n := aaCounts[aa]
		fmt.Fprintf(&b, "  %s: %3d (%.1f%%)\n", aa, n, 100*float64(n)/float64(totalAA))
	}

	totalChiral := 0
	for _, n := range chiralCounts {
		totalChiral += n
	}
	b.WriteString("\nChirality Distribution:\n")
	for _, c := range sortedKeys(chiralCounts) {
		n := chiralCounts[c]
		fmt.Fprintf(&b, "  %s-amino acids: %3d (%.1f%%)\n", c, n, 100*float64(n)/float64(totalChiral))
	}

	b.WriteString("\nPhysicochemical Properties (Mean ± Std):\n")
	props := []struct {
		name string
		get  func(SequenceRecord) float64
	}{
		{"hydrophobicity", func(r SequenceRecord) float64 { return r.Hydrophobicity }},
		{"net_charge", func(r SequenceRecord) float64 { return r.NetCharge }},
		{"charged_residues", func(r SequenceRecord) float64 { return float64(r.ChargedResidues) }},
		{"hydrophobic_residues", func(r SequenceRecord) float64 { return float64(r.HydrophobicResidues) }},
		{"polar_residues", func(r SequenceRecord) float64 { return float64(r.PolarResidues) }},
		{"aromatic_residues", func(r SequenceRecord) float64 { return float64(r.AromaticResidues) }},
		{"proline_count", func(r SequenceRecord) float64 { return float64(r.ProlineCount) }},
		{"d_fraction", func(r SequenceRecord) float64 { return r.DFraction }},
	}
	for _, p := range props {
		values := make([]float64, len(records))
		for i, r := range records {
			values[i] = p.get(r)
		}
		mean, std := meanStd(values)
		fmt.Fprintf(&b, "  %-20s: %6.2f ± %.2f\n", p.name, mean, std)
	}

	b.WriteString("\nCorrelation with P_near (GA):\n")
	for _, name := range sortedKeysF(correlations) {
		fmt.Fprintf(&b, "  %-20s: %6.3f\n", name, correlations[name])
	}

	return os.WriteFile(path, []byte(b.String()), 0644)
}

// correlate computes the Pearson correlation of a property against
// P_near (GA). Zero-variance inputs yield 0.
func correlate(records []SequenceRecord, get func(SequenceRecord) float64) float64 {
	if len(records) < 2 {
		return 0
	}
	xs := make([]float64, len(records))
	ys := make([]float64, len(records))
	for i, r := range records {
		xs[i] = get(r)
		ys[i] = r.PnearGA
	}
	mx, _ := meanStd(xs)
	my, _ := meanStd(ys)
	var cov, vx, vy float64
	for i := range xs {
		dx := xs[i] - mx
		dy := ys[i] - my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	if vx == 0 || vy == 0 {
		return 0
	}
	return cov / math.Sqrt(vx*vy)
}

func meanStd(values []float64) (mean, std float64) {
	if len(values) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(len(values))
	if len(values) < 2 {
		return mean, 0
	}
	var ss float64
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(len(values)-1))
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedKeysF(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
