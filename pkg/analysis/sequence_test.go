package analysis

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSequenceFile = `Name	Energy	Pnear_Rosetta	Pnear_GA	Sequence
design_1	-10.0	0.95	0.95	ASP-GLU-DLEU-TYR
design_2	-8.0	0.50	0.40	ALA-GLY-PRO
design_3	-9.0	0.80	0.92	DALA-DLYS-ARG
`

func TestParseSequence(t *testing.T) {
	tests := []struct {
		name        string
		sequence    string
		wantAA      []string
		wantChirals []string
	}{
		{
			name:        "mixed chirality",
			sequence:    "ASP-GLU-DLEU-TYR",
			wantAA:      []string{"D", "E", "L", "Y"},
			wantChirals: []string{"L", "L", "D", "L"},
		},
		{
			name:        "all D residues",
			sequence:    "DALA-DLYS-DARG",
			wantAA:      []string{"A", "K", "R"},
			wantChirals: []string{"D", "D", "D"},
		},
		{
			name:        "unknown residue maps to X",
			sequence:    "ALA-ZZZ-GLY",
			wantAA:      []string{"A", "X", "G"},
			wantChirals: []string{"L", "L", "L"},
		},
		{
			name:        "empty segments skipped",
			sequence:    "ALA--GLY-",
			wantAA:      []string{"A", "G"},
			wantChirals: []string{"L", "L"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			aa, chirals := ParseSequence(tt.sequence)
			assert.Equal(t, tt.wantAA, aa)
			assert.Equal(t, tt.wantChirals, chirals)
		})
	}
}

func TestCalculateProperties(t *testing.T) {
	p := CalculateProperties([]string{"I", "K", "D", "P", "F", "S", "A"})

	assert.Equal(t, 7, p.Length)
	assert.InDelta(t, -0.1, p.Hydrophobicity, 1e-9)
	assert.InDelta(t, 0.0, p.NetCharge, 1e-9)
	assert.Equal(t, 2, p.ChargedResidues)
	assert.Equal(t, 2, p.HydrophobicResidues)
	assert.Equal(t, 2, p.PolarResidues)
	assert.Equal(t, 1, p.AromaticResidues)
	assert.Equal(t, 1, p.ProlineCount)
}

func TestCalculateProperties_Histidine(t *testing.T) {
	// Histidine carries half a charge and is not counted as a charged residue.
	p := CalculateProperties([]string{"H", "H"})
	assert.InDelta(t, 1.0, p.NetCharge, 1e-9)
	assert.Equal(t, 0, p.ChargedResidues)
}

func TestCalculateProperties_Empty(t *testing.T) {
	p := CalculateProperties(nil)
	assert.Equal(t, 0, p.Length)
	assert.Zero(t, p.Hydrophobicity)
}

func TestSequenceOperation_Run(t *testing.T) {
	input := writeSampleFile(t, sampleSequenceFile)
	outDir := t.TempDir()

	res, err := sequenceOperation{}.Run(context.Background(), map[string]any{
		"input_file": input,
	}, outDir)
	require.NoError(t, err)

	records, ok := res.Payload["sequence_data"].([]SequenceRecord)
	require.True(t, ok)
	require.Len(t, records, 3)
	assert.Equal(t, "design_1", records[0].Design)
	assert.Equal(t, 1, records[0].DResidues)
	assert.Equal(t, 3, records[0].LResidues)
	assert.InDelta(t, 0.25, records[0].DFraction, 1e-9)

	chirals := res.Payload["chirality_distribution"].(map[string]int)
	assert.Equal(t, 3, chirals["D"])
	assert.Equal(t, 7, chirals["L"])

	meta := res.Payload["metadata"].(map[string]any)
	assert.Equal(t, 3, meta["total_sequences"])
	assert.Equal(t, "all_designs", meta["analysis_mode"])

	require.Len(t, res.OutputFiles, 1)
	assert.Contains(t, filepath.Base(res.OutputFiles[0]), "_all")
	data, err := os.ReadFile(res.OutputFiles[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "Chirality Distribution")
}

func TestSequenceOperation_StableOnly(t *testing.T) {
	input := writeSampleFile(t, sampleSequenceFile)
	outDir := t.TempDir()

	res, err := sequenceOperation{}.Run(context.Background(), map[string]any{
		"input_file":  input,
		"min_pnear":   0.9,
		"stable_only": true,
	}, outDir)
	require.NoError(t, err)

	records := res.Payload["sequence_data"].([]SequenceRecord)
	require.Len(t, records, 2)
	assert.Equal(t, "design_1", records[0].Design)
	assert.Equal(t, "design_3", records[1].Design)

	meta := res.Payload["metadata"].(map[string]any)
	assert.Equal(t, "stable_designs", meta["analysis_mode"])
	assert.Contains(t, filepath.Base(res.OutputFiles[0]), "_stable")
}

func TestSequenceOperation_NoSequencesFails(t *testing.T) {
	input := writeSampleFile(t, sampleSequenceFile)
	outDir := t.TempDir()

	_, err := sequenceOperation{}.Run(context.Background(), map[string]any{
		"input_file":  input,
		"min_pnear":   0.99,
		"stable_only": true,
	}, outDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no sequences found")
}

func TestCorrelate(t *testing.T) {
	records := []SequenceRecord{
		{SequenceProperties: SequenceProperties{Hydrophobicity: 1}, PnearGA: 0.1},
		{SequenceProperties: SequenceProperties{Hydrophobicity: 2}, PnearGA: 0.2},
		{SequenceProperties: SequenceProperties{Hydrophobicity: 3}, PnearGA: 0.3},
	}
	r := correlate(records, func(r SequenceRecord) float64 { return r.Hydrophobicity })
	assert.InDelta(t, 1.0, r, 1e-9)

	inverted := correlate(records, func(r SequenceRecord) float64 { return -r.Hydrophobicity })
	assert.InDelta(t, -1.0, inverted, 1e-9)
}

func TestCorrelate_ZeroVariance(t *testing.T) {
	records := []SequenceRecord{
		{SequenceProperties: SequenceProperties{Hydrophobicity: 2}, PnearGA: 0.1},
		{SequenceProperties: SequenceProperties{Hydrophobicity: 2}, PnearGA: 0.9},
	}
	assert.Zero(t, correlate(records, func(r SequenceRecord) float64 { return r.Hydrophobicity }))
	assert.Zero(t, correlate(records[:1], func(r SequenceRecord) float64 { return r.Hydrophobicity }))
}

func TestMeanStd(t *testing.T) {
	mean, std := meanStd([]float64{2, 4, 6})
	assert.InDelta(t, 4.0, mean, 1e-9)
	assert.InDelta(t, 2.0, std, 1e-9)

	mean, std = meanStd([]float64{5})
	assert.InDelta(t, 5.0, mean, 1e-9)
	assert.Zero(t, std)

	mean, std = meanStd(nil)
	assert.Zero(t, mean)
	assert.Zero(t, std)
}
