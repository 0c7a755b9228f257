package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/cyclicchamp/cyclictools/internal/errors"
)

// SupportedSizes are the peptide sizes the sampling formulas are calibrated for.
var SupportedSizes = []int{7, 15, 20, 24}

const (
	defaultNumCombinations = 20
	defaultRandomSeed      = 42
	scheduleIterations     = 10000
)

// EnergyThresholds are acceptance thresholds for backbone sampling, scaled
// by peptide size n.
type EnergyThresholds struct {
	RamaThreshold       float64 `json:"rama_threshold"`
	RepThreshold        float64 `json:"rep_threshold"`
	CycThreshold        float64 `json:"cyc_threshold"`
	HbondCountThreshold int     `json:"hbond_count_threshold"`
	RepCriteria         float64 `json:"rep_criteria"`
	CycCriteria         float64 `json:"cyc_criteria"`
	HbondCountCriteria  int     `json:"hbond_count_criteria"`
}

// InitialTemperatures are the simulated annealing starting temperatures.
type InitialTemperatures struct {
	T0Rama  float64 `json:"t0_rama"`
	T0Rep   float64 `json:"t0_rep"`
	T0Cyc   float64 `json:"t0_cyc"`
	T0Hbond float64 `json:"t0_hbond"`
}

// MoveParameters control random backbone move magnitudes.
type MoveParameters struct {
	K0 float64 `json:"k0"`
	B  float64 `json:"b"`
}

// CoolingRates are the published temperature dropping rates.
type CoolingRates struct {
	CRama  int `json:"c_rama"`
	CRep   int `json:"c_rep"`
	CCyc   int `json:"c_cyc"`
	CHbond int `json:"c_hbond"`
}

// ParameterSet is the complete output for one peptide size.
type ParameterSet struct {
	PeptideSize         int                 `json:"peptide_size"`
	EnergyThresholds    EnergyThresholds    `json:"energy_thresholds"`
	InitialTemperatures InitialTemperatures `json:"initial_temperatures"`
	MoveParameters      MoveParameters      `json:"move_parameters"`
	CoolingRates        CoolingRates        `json:"cooling_rates"`
}

// Combination is one sampled point in the optimization parameter space.
type Combination struct {
	K0     float64 `json:"k0"`
	B      float64 `json:"b"`
	CRama  int     `json:"c_rama"`
	CRep   int     `json:"c_rep"`
	CCyc   int     `json:"c_cyc"`
	CHbond int     `json:"c_hbond"`
}

// CalculateEnergyThresholds applies the size-scaling formulas for acceptance
// thresholds and good-candidate criteria.
func CalculateEnergyThresholds(n int) EnergyThresholds {
	return EnergyThresholds{
		RamaThreshold:       float64(8 * n),
		RepThreshold:        10 + float64(n-7)*10/17,
		CycThreshold:        1,
		HbondCountThreshold: int(math.Ceil(float64(n) / 3)),
		RepCriteria:         5 + float64(n-7)*10/17,
		CycCriteria:         1,
		HbondCountCriteria:  int(math.Ceil(float64(n) / 3)),
	}
}

func CalculateInitialTemperatures(n int) InitialTemperatures {
	return InitialTemperatures{
		T0Rama:  10 + float64(n-7)*20/17,
		T0Rep:   20 + float64(n-7)*80/17,
		T0Cyc:   2 + float64(n-7)*4/17,
		T0Hbond: 2 + float64(n-7)*4/17,
	}
}

// CalculateMoveParameters interpolates k0 in [0.5,1.0] (smaller for larger
// peptides) and b in [15,18] (larger for larger peptides).
func CalculateMoveParameters(n int) MoveParameters {
	k0 := 1.0
	b := 15.0
	if n > 7 {
		k0 = 1.0 - 0.5*float64(n-7)/17
		b = 15 + 3*float64(n-7)/17
	}
	return MoveParameters{
		K0: math.Max(0.5, math.Min(1.0, k0)),
		B:  math.Max(15, math.Min(18, b)),
	}
}

// CalculateCoolingRates returns the suggested values from the paper.
func CalculateCoolingRates() CoolingRates {
	return CoolingRates{CRama: 4, CRep: 14, CCyc: 18, CHbond: 20}
}

// NewParameterSet computes all sampling parameters for a peptide size.
func NewParameterSet(n int) ParameterSet {
	return ParameterSet{
		PeptideSize:         n,
		EnergyThresholds:    CalculateEnergyThresholds(n),
		InitialTemperatures: CalculateInitialTemperatures(n),
		MoveParameters:      CalculateMoveParameters(n),
		CoolingRates:        CalculateCoolingRates(),
	}
}

// GenerateCombinations samples well-spaced parameter combinations for
// optimization runs. The seed fixes the draw for reproducibility.
func GenerateCombinations(num int, seed int64) []Combination {
	if num <= 0 {
		num = defaultNumCombinations
	}
	k0Range := linspace(0.5, 1.0, 4)
	bRange := linspace(15, 18, 4)
	cRamaRange := []int{2, 4, 6, 8}
	cRepRange := []int{10, 14, 18, 22}
	cCycRange := []int{14, 18, 22, 26}
	cHbondRange := []int{16, 20, 24, 28}

	rng := rand.New(rand.NewSource(seed))
	out := make([]Combination, 0, num)
	for i := 0; i < num; i++ {
		out = append(out, Combination{
			K0:     k0Range[rng.Intn(len(k0Range))],
			B:      bRange[rng.Intn(len(bRange))],
			CRama:  cRamaRange[rng.Intn(len(cRamaRange))],
			CRep:   cRepRange[rng.Intn(len(cRepRange))],
			CCyc:   cCycRange[rng.Intn(len(cCycRange))],
			CHbond: cHbondRange[rng.Intn(len(cHbondRange))],
		})
	}
	return out
}

// ScheduleTemperature evaluates the annealing schedule T(i) = T0/(1+c*ln(i)).
func ScheduleTemperature(initial float64, coolingRate int, iteration int) float64 {
	if iteration < 1 {
		iteration = 1
	}
	return initial / (1 + float64(coolingRate)*math.Log(float64(iteration)))
}

func linspace(lo, hi float64, n int) []float64 {
	if n < 2 {
		return []float64{lo}
	}
	out := make([]float64, n)
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	return out
}

type paramsGenParams struct {
	Size            int   `mapstructure:"size"`
	Optimize        bool  `mapstructure:"optimize"`
	NumCombinations int   `mapstructure:"num_combinations"`
	RandomSeed      int64 `mapstructure:"random_seed"`
}

type paramsOperation struct{}

func (paramsOperation) Name() string { return "param-generation" }

func (paramsOperation) Description() string {
	return "Generate backbone sampling parameters for simulated annealing"
}

func (paramsOperation) Params() []ParamSpec {
	return []ParamSpec{
		{Name: "size", Kind: ParamInt, Required: true, Enum: SupportedSizes},
		{Name: "optimize", Kind: ParamBool, Default: false},
		{Name: "num_combinations", Kind: ParamInt, Default: defaultNumCombinations},
		{Name: "random_seed", Kind: ParamInt, Default: defaultRandomSeed},
	}
}

func (op paramsOperation) Run(ctx context.Context, args map[string]any, outputDir string) (*Result, error) {
	params := paramsGenParams{NumCombinations: defaultNumCombinations, RandomSeed: defaultRandomSeed}
	if err := decodeParams(args, &params); err != nil {
		return nil, err
	}
	if !containsInt(SupportedSizes, params.Size) {
		return nil, apperrors.InvalidArgument("size", "must be one of %v, got %d", SupportedSizes, params.Size)
	}
	if err := ensureOutputDir(outputDir); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	set := NewParameterSet(params.Size)

	outputFiles := make([]string, 0, 3)
	jsonPath := filepath.Join(outputDir, fmt.Sprintf("parameters_%dres.json", params.Size))
	if err := writeJSONFile(jsonPath, set); err != nil {
		return nil, fmt.Errorf("write parameters: %w", err)
	}
	outputFiles = append(outputFiles, jsonPath)

	reportPath := filepath.Join(outputDir, fmt.Sprintf("parameters_report_%dres.txt", params.Size))
	if err := writeParamsReport(reportPath, set); err != nil {
		return nil, fmt.Errorf("write report: %w", err)
	}
	outputFiles = append(outputFiles, reportPath)

	var combinations []Combination
	if params.Optimize {
		combinations = GenerateCombinations(params.NumCombinations, params.RandomSeed)
		optPath := filepath.Join(outputDir, fmt.Sprintf("optimization_parameters_%dres.json", params.Size))
		if err := writeJSONFile(optPath, combinations); err != nil {
			return nil, fmt.Errorf("write optimization parameters: %w", err)
		}
		outputFiles = append(outputFiles, optPath)
	}

	payload := map[string]any{
		"parameters":                set,
		"optimization_combinations": combinations,
		"metadata": map[string]any{
			"peptide_size":         params.Size,
			"output_dir":           outputDir,
			"optimization_enabled": params.Optimize,
			"num_combinations":     len(combinations),
		},
	}
	return &Result{Payload: payload, OutputFiles: outputFiles}, nil
}

func writeParamsReport(path string, set ParameterSet) error {
	var b strings.Builder
	b.WriteString("CyclicChamp Backbone Sampling Parameters\n")
	b.WriteString(strings.Repeat("=", 50) + "\n\n")
	fmt.Fprintf(&b, "Peptide size: %d residues\n\n", set.PeptideSize)

	t := set.EnergyThresholds
	b.WriteString("Energy Thresholds:\n" + strings.Repeat("-", 20) + "\n")
	fmt.Fprintf(&b, "%-25s: %8.2f\n", "rama_threshold", t.RamaThreshold)
	fmt.Fprintf(&b, "%-25s: %8.2f\n", "rep_threshold", t.RepThreshold)
	fmt.Fprintf(&b, "%-25s: %8.2f\n", "cyc_threshold", t.CycThreshold)
	fmt.Fprintf(&b, "%-25s: %8d\n", "hbond_count_threshold", t.HbondCountThreshold)
	fmt.Fprintf(&b, "%-25s: %8.2f\n", "rep_criteria", t.RepCriteria)
	fmt.Fprintf(&b, "%-25s: %8.2f\n", "cyc_criteria", t.CycCriteria)
	fmt.Fprintf(&b, "%-25s: %8d\n", "hbond_count_criteria", t.HbondCountCriteria)

	temps := set.InitialTemperatures
	b.WriteString("\nInitial Temperatures:\n" + strings.Repeat("-", 20) + "\n")
	fmt.Fprintf(&b, "%-25s: %8.2f\n", "t0_rama", temps.T0Rama)
	fmt.Fprintf(&b, "%-25s: %8.2f\n", "t0_rep", temps.T0Rep)
	fmt.Fprintf(&b, "%-25s: %8.2f\n", "t0_cyc", temps.T0Cyc)
	fmt.Fprintf(&b, "%-25s: %8.2f\n", "t0_hbond", temps.T0Hbond)

	mv := set.MoveParameters
	b.WriteString("\nMove Parameters:\n" + strings.Repeat("-", 15) + "\n")
	fmt.Fprintf(&b, "%-25s: %8.2f\n", "k0", mv.K0)
	fmt.Fprintf(&b, "%-25s: %8.2f\n", "b", mv.B)

	c := set.CoolingRates
	b.WriteString("\nCooling Rates:\n" + strings.Repeat("-", 13) + "\n")
	fmt.Fprintf(&b, "%-25s: %8d\n", "c_rama", c.CRama)
	fmt.Fprintf(&b, "%-25s: %8d\n", "c_rep", c.CRep)
	fmt.Fprintf(&b, "%-25s: %8d\n", "c_cyc", c.CCyc)
	fmt.Fprintf(&b, "%-25s: %8d\n", "c_hbond", c.CHbond)

	// Final schedule temperatures give a quick sanity check that cooling
	// actually converges for this size.
	b.WriteString("\nSchedule endpoints (T at iteration 10000):\n" + strings.Repeat("-", 25) + "\n")
	fmt.Fprintf(&b, "%-25s: %8.4f\n", "rama", ScheduleTemperature(temps.T0Rama, c.CRama, scheduleIterations))
	fmt.Fprintf(&b, "%-25s: %8.4f\n", "rep", ScheduleTemperature(temps.T0Rep, c.CRep, scheduleIterations))
	fmt.Fprintf(&b, "%-25s: %8.4f\n", "cyc", ScheduleTemperature(temps.T0Cyc, c.CCyc, scheduleIterations))
	fmt.Fprintf(&b, "%-25s: %8.4f\n", "hbond", ScheduleTemperature(temps.T0Hbond, c.CHbond, scheduleIterations))

	b.WriteString("\nRecommended MATLAB Code:\n" + strings.Repeat("-", 25) + "\n")
	fmt.Fprintf(&b, "%% Parameters for %d-residue cyclic peptide\n", set.PeptideSize)
	fmt.Fprintf(&b, "n = %d;\n", set.PeptideSize)
	fmt.Fprintf(&b, "rama_threshold = %g;\n", t.RamaThreshold)
	fmt.Fprintf(&b, "rep_threshold = %.2f;\n", t.RepThreshold)
	fmt.Fprintf(&b, "cyc_threshold = %g;\n", t.CycThreshold)
	fmt.Fprintf(&b, "count_threshold = %d;\n\n", t.HbondCountThreshold)
	fmt.Fprintf(&b, "t0_rama = %.2f;\n", temps.T0Rama)
	fmt.Fprintf(&b, "t0_rep = %.2f;\n", temps.T0Rep)
	fmt.Fprintf(&b, "t0_cyc = %.2f;\n", temps.T0Cyc)
	fmt.Fprintf(&b, "t0_hbond = %.2f;\n\n", temps.T0Hbond)
	fmt.Fprintf(&b, "k0 = %.2f;\n", mv.K0)
	fmt.Fprintf(&b, "b = %.2f;\n\n", mv.B)
	fmt.Fprintf(&b, "c_rama = %d;\n", c.CRama)
	fmt.Fprintf(&b, "c_rep = %d;\n", c.CRep)
	fmt.Fprintf(&b, "c_cyc = %d;\n", c.CCyc)
	fmt.Fprintf(&b, "c_hbond = %d;\n", c.CHbond)

	return os.WriteFile(path, []byte(b.String()), 0644)
}

func writeJSONFile(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return os.WriteFile(path, b, 0644)
}
