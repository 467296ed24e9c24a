package reuse

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(t *testing.T, path string, doc map[string]any) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	data, err := json.MarshalIndent(doc, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func writeJobList(t *testing.T, path string, header string, jobs ...string) {
	t.Helper()
	var sb strings.Builder
	sb.WriteString(header + "\n")
	for _, job := range jobs {
		sb.WriteString(job + "\n")
	}
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))
}

func freshInput(chainIDs ...string) map[string]any {
	seqs := make([]any, 0, len(chainIDs))
	for _, id := range chainIDs {
		seqs = append(seqs, map[string]any{
			"protein": map[string]any{
				"id":       id,
				"sequence": "MKV",
				"modifications": []any{
					map[string]any{"ptmType": "K4me3", "ptmPosition": 4},
				},
			},
		})
	}
	return map[string]any{"version": 1, "sequences": seqs}
}

func donorInput(chainIDs ...string) map[string]any {
	seqs := make([]any, 0, len(chainIDs))
	for _, id := range chainIDs {
		seqs = append(seqs, map[string]any{
			"protein": map[string]any{
				"id":          id,
				"sequence":    "MKV",
				"unpairedMsa": ">query\nMKV\n",
				"pairedMsa":   "",
				"templates": []any{
					map[string]any{"templateIndices": []any{1, 2, 3}},
				},
			},
		})
	}
	return map[string]any{"version": 2, "sequences": seqs}
}

type fixture struct {
	jobsDir string
	mainCSV string
	stdout  *bytes.Buffer
	engine  *Engine
}

func newFixture(t *testing.T, jobs ...string) *fixture {
	t.Helper()
	f := &fixture{
		jobsDir: t.TempDir(),
		stdout:  &bytes.Buffer{},
	}
	f.mainCSV = filepath.Join(t.TempDir(), "folding_jobs.csv")
	writeJobList(t, f.mainCSV, "input_folder_name", jobs...)

	var err error
	f.engine, err = New(Config{
		JobsDir: f.jobsDir,
		MainCSV: f.mainCSV,
		Stdout:  f.stdout,
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) jobDir(name string) string { return filepath.Join(f.jobsDir, name) }

func TestRunCopiesDonorMSA(t *testing.T) {
	f := newFixture(t, "SETD6-H3_K4me3")

	// Donor: same entry pair, finished MSA.
	writeJSON(t, filepath.Join(f.jobDir("SETD6-H3_run1"), "output_msa", "alphafold_input_with_msa.json"),
		donorInput("A"))
	// Recipient: fresh input only.
	writeJSON(t, filepath.Join(f.jobDir("SETD6-H3_K4me3"), "alphafold_input.json"),
		freshInput("A"))

	stats, err := f.engine.Run(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Copied)
	assert.Zero(t, stats.ToGenerate)
	assert.Zero(t, stats.Waiting)

	merged, err := os.ReadFile(filepath.Join(f.jobDir("SETD6-H3_K4me3"), "output_msa", "alphafold_input_with_msa.json"))
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(merged, &doc))
	assert.Equal(t, float64(2), doc["version"])

	prot := doc["sequences"].([]any)[0].(map[string]any)["protein"].(map[string]any)
	assert.Equal(t, ">query\nMKV\n", prot["unpairedMsa"])
	// Core fields come from the recipient, never the donor.
	assert.Equal(t, "MKV", prot["sequence"])
	assert.NotNil(t, prot["modifications"])

	assert.Contains(t, f.stdout.String(), "[COPY] SETD6-H3_K4me3")
	assert.Contains(t, f.stdout.String(), "<- SETD6-H3_run1")
}

func TestRunTriagesMisses(t *testing.T) {
	f := newFixture(t,
		"KDM1A-X1",        // already has MSA output: skipped, marks base done
		"KDM1A-X1_K5me",   // same base, no donor json: waits for nothing new
		"EZH2-EED_K12ac",  // first miss of its base: generates
		"EZH2-EED_K34ac",  // second miss of the same base: waits
	)

	writeJSON(t, filepath.Join(f.jobDir("KDM1A-X1"), "alphafold_input.json"), freshInput("A"))
	require.NoError(t, os.MkdirAll(filepath.Join(f.jobDir("KDM1A-X1"), "output_msa"), 0o755))
	for _, job := range []string{"KDM1A-X1_K5me", "EZH2-EED_K12ac", "EZH2-EED_K34ac"} {
		writeJSON(t, filepath.Join(f.jobDir(job), "alphafold_input.json"), freshInput("A"))
	}

	stats, err := f.engine.Run(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 1, stats.ToGenerate)
	assert.Equal(t, 2, stats.Waiting)

	array, err := os.ReadFile(f.engine.cfg.ArrayCSV)
	require.NoError(t, err)
	assert.Equal(t, "input_folder_name\nEZH2-EED_K12ac\n", string(array))

	wait, err := os.ReadFile(f.engine.cfg.WaitCSV)
	require.NoError(t, err)
	assert.Contains(t, string(wait), "KDM1A-X1_K5me")
	assert.Contains(t, string(wait), "EZH2-EED_K34ac")
}

func TestDryRunWritesNothing(t *testing.T) {
	f := newFixture(t, "SETD6-H3_K4me3", "EZH2-EED_K12ac")

	writeJSON(t, filepath.Join(f.jobDir("SETD6-H3_run1"), "output_msa", "alphafold_input_with_msa.json"),
		donorInput("A"))
	writeJSON(t, filepath.Join(f.jobDir("SETD6-H3_K4me3"), "alphafold_input.json"), freshInput("A"))
	writeJSON(t, filepath.Join(f.jobDir("EZH2-EED_K12ac"), "alphafold_input.json"), freshInput("A"))

	stats, err := f.engine.Run(context.Background(), true)
	require.NoError(t, err)

	assert.Zero(t, stats.Copied)
	assert.Equal(t, 1, stats.ToGenerate)

	_, err = os.Stat(filepath.Join(f.jobDir("SETD6-H3_K4me3"), "output_msa"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(f.engine.cfg.ArrayCSV)
	assert.True(t, os.IsNotExist(err))

	out := f.stdout.String()
	assert.Contains(t, out, "[COPY] SETD6-H3_K4me3")
	assert.Contains(t, out, "Would write msa_array_jobs.csv")
	assert.Contains(t, out, "EZH2-EED_K12ac")
}

func TestSingleProteinLigandJobIsNeverBorrowed(t *testing.T) {
	f := newFixture(t, "SETD6-H3_K4me3")

	writeJSON(t, filepath.Join(f.jobDir("SETD6-H3_run1"), "output_msa", "alphafold_input_with_msa.json"),
		donorInput("A"))
	input := freshInput("A")
	input["sequences"] = append(input["sequences"].([]any),
		map[string]any{"ligand": map[string]any{"id": "L", "ccdCodes": []any{"SAM"}}})
	writeJSON(t, filepath.Join(f.jobDir("SETD6-H3_K4me3"), "alphafold_input.json"), input)

	stats, err := f.engine.Run(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Skipped)
	assert.Zero(t, stats.Copied)
	_, err = os.Stat(filepath.Join(f.jobDir("SETD6-H3_K4me3"), "output_msa"))
	assert.True(t, os.IsNotExist(err))
}

func TestBatchSubdirectoriesAreSearched(t *testing.T) {
	f := newFixture(t, "SETD6-H3_K4me3")

	// Both donor and recipient live one level down, in a batch folder.
	batch := filepath.Join(f.jobsDir, "batch07")
	writeJSON(t, filepath.Join(batch, "SETD6-H3_run1", "output_msa", "alphafold_input_with_msa.json"),
		donorInput("A"))
	writeJSON(t, filepath.Join(batch, "SETD6-H3_K4me3", "alphafold_input.json"), freshInput("A"))

	// Roots are computed at construction time, so rebuild the engine.
	engine, err := New(Config{JobsDir: f.jobsDir, MainCSV: f.mainCSV, Stdout: f.stdout})
	require.NoError(t, err)

	stats, err := engine.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Copied)

	_, err = os.Stat(filepath.Join(batch, "SETD6-H3_K4me3", "output_msa", "alphafold_input_with_msa.json"))
	assert.NoError(t, err)
}

func TestFolderHeaderSpellingAccepted(t *testing.T) {
	f := newFixture(t)
	writeJobList(t, f.mainCSV, "folder", "SETD6-H3_K4me3")
	writeJSON(t, filepath.Join(f.jobDir("SETD6-H3_K4me3"), "alphafold_input.json"), freshInput("A"))

	stats, err := f.engine.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ToGenerate)
}

func TestMissingJobDirWarns(t *testing.T) {
	f := newFixture(t, "SETD6-H3_K4me3")

	stats, err := f.engine.Run(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Warnings)
	assert.Contains(t, f.stdout.String(), "job dir missing")
}

func TestMergeMSA(t *testing.T) {
	dir := t.TempDir()
	donorPath := filepath.Join(dir, "donor.json")
	freshPath := filepath.Join(dir, "fresh.json")

	t.Run("collapses template indices", func(t *testing.T) {
		writeJSON(t, donorPath, donorInput("A"))
		writeJSON(t, freshPath, freshInput("A"))

		merged, err := MergeMSA(donorPath, freshPath)
		require.NoError(t, err)
		assert.Contains(t, string(merged), `"templateIndices": [1,2,3]`)
	})

	t.Run("chain missing in donor", func(t *testing.T) {
		writeJSON(t, donorPath, donorInput("A"))
		writeJSON(t, freshPath, freshInput("A", "B"))

		_, err := MergeMSA(donorPath, freshPath)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "chains [B] missing")
	})

	t.Run("no sequences array", func(t *testing.T) {
		require.NoError(t, os.WriteFile(donorPath, []byte(`{"version": 1}`), 0o644))
		writeJSON(t, freshPath, freshInput("A"))

		_, err := MergeMSA(donorPath, freshPath)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no sequences array")
	})
}
