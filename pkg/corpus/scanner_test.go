package corpus

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeJob creates a job directory with alignment files under root.
// Filenames ending in "/" are created as nested directories.
func writeJob(t *testing.T, root, job string, alignmentFiles map[string][]byte) {
	t.Helper()
	msaDir := filepath.Join(root, job, "output_msa")
	require.NoError(t, os.MkdirAll(msaDir, 0o755))
	for name, data := range alignmentFiles {
		path := filepath.Join(msaDir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, data, 0o644))
	}
}

type fakeMembership map[string]bool

func (m fakeMembership) IsArchived(job, file string) bool { return m[job+"/"+file] }

func newTestScanner(t *testing.T, roots ...string) *Scanner {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Roots = roots
	s, err := NewScanner(cfg)
	require.NoError(t, err)
	return s
}

func TestNewScannerValidation(t *testing.T) {
	t.Run("requires roots", func(t *testing.T) {
		_, err := NewScanner(DefaultConfig())
		require.Error(t, err)
	})

	t.Run("rejects invalid pattern", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Roots = []string{t.TempDir()}
		cfg.UniquePattern = "[unterminated"
		_, err := NewScanner(cfg)
		require.Error(t, err)
	})
}

func TestDiscoverFamilies(t *testing.T) {
	primary := t.TempDir()
	heldout := t.TempDir()

	writeJob(t, primary, "SETD6-A", nil)
	writeJob(t, primary, "SETD6-B", nil)
	writeJob(t, primary, "EZH2-X", nil)
	writeJob(t, heldout, "KMT5A-Q", nil)
	writeJob(t, heldout, "SETD6-H1", nil)
	require.NoError(t, os.WriteFile(filepath.Join(primary, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(primary, ".snapshot"), 0o755))

	s := newTestScanner(t, primary, heldout)
	families, err := s.DiscoverFamilies(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"EZH2", "KMT5A", "SETD6"}, families)
}

func TestDiscoverFamiliesMissingRoot(t *testing.T) {
	primary := t.TempDir()
	writeJob(t, primary, "SETD6-A", nil)

	s := newTestScanner(t, primary, filepath.Join(primary, "does-not-exist"))
	families, err := s.DiscoverFamilies(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"SETD6"}, families)
}

func TestFindUniqueFiles(t *testing.T) {
	primary := t.TempDir()
	heldout := t.TempDir()
	ctx := context.Background()

	writeJob(t, primary, "SETD6-A", map[string][]byte{
		"SETD6-A_data.json": make([]byte, 1000),
	})
	// Shared-marker only: contributes nothing.
	writeJob(t, primary, "SETD6-B", map[string][]byte{
		"alphafold_input_with_msa.json": []byte("{}"),
	})
	// Nested per-job layout in the held-out root.
	writeJob(t, heldout, "SETD6-C", map[string][]byte{
		filepath.Join("SETD6-C", "SETD6-C_data.json"): make([]byte, 2000),
	})
	// Job directory without any alignment output.
	require.NoError(t, os.MkdirAll(filepath.Join(primary, "SETD6-D"), 0o755))
	// Non-matching file name is not a candidate.
	writeJob(t, primary, "SETD6-E", map[string][]byte{
		"ranking_scores.csv": []byte("a,b"),
	})
	// Different family is untouched.
	writeJob(t, primary, "EZH2-X", map[string][]byte{
		"EZH2-X_data.json": make([]byte, 10),
	})

	s := newTestScanner(t, primary, heldout)

	t.Run("collects unique files across roots", func(t *testing.T) {
		cands, err := s.FindUniqueFiles(ctx, "SETD6", nil)
		require.NoError(t, err)
		require.Len(t, cands, 2)

		byJob := map[string]Candidate{}
		for _, c := range cands {
			byJob[c.JobName] = c
		}
		require.Contains(t, byJob, "SETD6-A")
		require.Contains(t, byJob, "SETD6-C")
		assert.Equal(t, int64(1000), byJob["SETD6-A"].Size)
		assert.Equal(t, int64(2000), byJob["SETD6-C"].Size)
		assert.Equal(t, "SETD6-C_data.json", byJob["SETD6-C"].FileName)
	})

	t.Run("membership filters archived files", func(t *testing.T) {
		idx := fakeMembership{"SETD6-A/SETD6-A_data.json": true}
		cands, err := s.FindUniqueFiles(ctx, "SETD6", idx)
		require.NoError(t, err)
		require.Len(t, cands, 1)
		assert.Equal(t, "SETD6-C", cands[0].JobName)
	})

	t.Run("unknown family yields empty", func(t *testing.T) {
		cands, err := s.FindUniqueFiles(ctx, "NOPE", nil)
		require.NoError(t, err)
		assert.Empty(t, cands)
	})

	t.Run("empty family is an error", func(t *testing.T) {
		_, err := s.FindUniqueFiles(ctx, "", nil)
		require.Error(t, err)
	})
}

func TestCountSharedMSAJobs(t *testing.T) {
	primary := t.TempDir()
	heldout := t.TempDir()
	ctx := context.Background()

	writeJob(t, primary, "SETD6-A", map[string][]byte{
		"SETD6-A_data.json": make([]byte, 100),
	})
	writeJob(t, primary, "SETD6-B", map[string][]byte{
		"alphafold_input_with_msa.json": []byte("{}"),
	})
	writeJob(t, heldout, "SETD6-H1", map[string][]byte{
		"alphafold_input_with_msa.json": []byte("{}"),
	})

	s := newTestScanner(t, primary, heldout)

	// Combined across both roots.
	n, err := s.CountSharedMSAJobs(ctx, "SETD6")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.CountSharedMSAJobs(ctx, "EZH2")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFamilyPrefixIsExact(t *testing.T) {
	// "SETD6" must not match "SETD61-..." jobs.
	primary := t.TempDir()
	writeJob(t, primary, "SETD61-A", map[string][]byte{
		"SETD61-A_data.json": make([]byte, 50),
	})

	s := newTestScanner(t, primary)
	cands, err := s.FindUniqueFiles(context.Background(), "SETD6", nil)
	require.NoError(t, err)
	assert.Empty(t, cands)
}
