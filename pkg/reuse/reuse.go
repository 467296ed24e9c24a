// Package reuse implements the fast MSA re-use pass over the job corpus.
//
// Computing an MSA is the expensive step of the pipeline, and many jobs
// fold the same entry pair with different decorations. Before submitting
// MSA array jobs, this pass walks the pending job list and, for each job
// missing alignment output, tries to borrow the MSA of a sibling job with
// the same entry pair: the donor's alignment fields are merged into the
// job's fresh input and written as the shared-marker file. Jobs that still
// miss are triaged into two CSVs: one array job per base key, and a
// waiting list for the duplicates that will reuse the array job's result.
package reuse

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/foldops/msarchive/pkg/jobname"
)

// Core protein fields that are never overwritten by a donor MSA.
var coreKeys = map[string]struct{}{
	"id":            {},
	"sequence":      {},
	"modifications": {},
}

// templateIndices arrays are collapsed to one line so diffs of merged
// inputs stay readable.
var templateIndicesRE = regexp.MustCompile(`("templateIndices"\s*:\s*\[)([\s0-9,]+?)(\])`)

// Config configures a reuse pass.
type Config struct {
	// JobsDir is the top of the jobs tree. Search roots are JobsDir itself
	// plus its immediate subdirectories whose names contain no '-'
	// (family batch folders, not job folders).
	JobsDir string

	// MainCSV is the pending job list (header: input_folder_name or folder).
	MainCSV string

	// ArrayCSV receives the first miss of each entry pair.
	ArrayCSV string

	// WaitCSV receives later misses that depend on an array job.
	WaitCSV string

	// InputName is the fresh input filename in every job directory.
	// Default: "alphafold_input.json"
	InputName string

	// MarkerName is the merged output written into output_msa.
	// Default: "alphafold_input_with_msa.json"
	MarkerName string

	Logger *zap.Logger
	Stdout io.Writer
}

// Stats summarizes one reuse pass.
type Stats struct {
	Copied     int
	Skipped    int
	Warnings   int
	ToGenerate int
	Waiting    int
}

// Engine runs reuse passes.
type Engine struct {
	cfg   Config
	roots []string
}

// New validates cfg and returns an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.JobsDir == "" {
		return nil, fmt.Errorf("reuse: jobs dir is required")
	}
	if cfg.MainCSV == "" {
		return nil, fmt.Errorf("reuse: main job list CSV is required")
	}
	if cfg.InputName == "" {
		cfg.InputName = "alphafold_input.json"
	}
	if cfg.MarkerName == "" {
		cfg.MarkerName = "alphafold_input_with_msa.json"
	}
	if cfg.ArrayCSV == "" {
		cfg.ArrayCSV = filepath.Join(filepath.Dir(cfg.MainCSV), "msa_array_jobs.csv")
	}
	if cfg.WaitCSV == "" {
		cfg.WaitCSV = filepath.Join(filepath.Dir(cfg.MainCSV), "waiting_for_msa.csv")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}

	e := &Engine{cfg: cfg}
	e.roots = e.searchRoots()
	return e, nil
}

// searchRoots returns JobsDir plus one level of batch subdirectories.
// Job directories always contain '-', batch folders never do.
func (e *Engine) searchRoots() []string {
	roots := []string{e.cfg.JobsDir}
	entries, err := os.ReadDir(e.cfg.JobsDir)
	if err != nil {
		return roots
	}
	for _, entry := range entries {
		if entry.IsDir() && !strings.Contains(entry.Name(), "-") {
			roots = append(roots, filepath.Join(e.cfg.JobsDir, entry.Name()))
		}
	}
	return roots
}

// Run executes one pass over the pending job list. In dry-run mode the
// planned copies and CSV contents are previewed without writing anything.
func (e *Engine) Run(ctx context.Context, dryRun bool) (*Stats, error) {
	jobs, err := e.readJobList()
	if err != nil {
		return nil, err
	}

	stats := &Stats{}
	var msaArray, waiting []string
	seenBase := make(map[string]struct{})
	baseDone := make(map[string]struct{})

	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		e1, e2, err := jobname.ParseEntries(job)
		if err != nil {
			e.cfg.Logger.Warn("unparseable job name", zap.String("job", job), zap.Error(err))
			stats.Warnings++
			continue
		}
		bkey := jobname.BaseKey(e1, e2)

		jobDir := e.findJobDir(job)
		if jobDir == "" {
			fmt.Fprintf(e.cfg.Stdout, "[WARN] job dir missing   : %s\n", job)
			stats.Warnings++
			continue
		}

		// Single protein + ligand jobs run the full pipeline themselves;
		// never borrow an MSA for them.
		if e.isSingleProteinLigand(jobDir) {
			stats.Skipped++
			baseDone[bkey] = struct{}{}
			continue
		}

		if _, err := os.Stat(filepath.Join(jobDir, "output_msa")); err == nil {
			stats.Skipped++
			baseDone[bkey] = struct{}{}
			continue
		}

		donors := e.findMSACandidates(e1, e2, jobDir)
		if len(donors) > 0 {
			donorJob := donorJobName(donors[0])
			if dryRun {
				fmt.Fprintf(e.cfg.Stdout, "[COPY] %-30s <- %s\n", job, donorJob)
				baseDone[bkey] = struct{}{}
				continue
			}
			if err := e.mergeAndWrite(jobDir, donors[0]); err != nil {
				fmt.Fprintf(e.cfg.Stdout, "[ERR ] %s: %v\n", job, err)
				stats.Warnings++
			} else {
				fmt.Fprintf(e.cfg.Stdout, "[COPY] %-30s <- %s\n", job, donorJob)
				stats.Copied++
				baseDone[bkey] = struct{}{}
				continue
			}
		}

		// Still a miss: first miss per base key generates the MSA, later
		// misses wait for it.
		_, done := baseDone[bkey]
		_, seen := seenBase[bkey]
		if done || seen {
			waiting = append(waiting, job)
		} else {
			msaArray = append(msaArray, job)
			seenBase[bkey] = struct{}{}
		}
	}

	stats.ToGenerate = len(msaArray)
	stats.Waiting = len(waiting)

	if dryRun {
		e.previewCSV("msa_array_jobs.csv", msaArray)
		e.previewCSV("waiting_for_msa.csv", waiting)
	} else {
		if err := writeJobCSV(e.cfg.ArrayCSV, msaArray); err != nil {
			return stats, err
		}
		if err := writeJobCSV(e.cfg.WaitCSV, waiting); err != nil {
			return stats, err
		}
		fmt.Fprintf(e.cfg.Stdout, "\nWrote %s (%d jobs)\n", e.cfg.ArrayCSV, len(msaArray))
		fmt.Fprintf(e.cfg.Stdout, "Wrote %s (%d jobs)\n", e.cfg.WaitCSV, len(waiting))
	}

	return stats, nil
}

// readJobList loads job names from the main CSV, accepting either of the
// two header spellings in circulation.
func (e *Engine) readJobList() ([]string, error) {
	f, err := os.Open(e.cfg.MainCSV)
	if err != nil {
		return nil, fmt.Errorf("reuse: open job list: %w", err)
	}
	defer func() { _ = f.Close() }()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reuse: %s is empty or malformed", e.cfg.MainCSV)
	}
	col := -1
	for i, name := range header {
		if name == "input_folder_name" || name == "folder" {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("reuse: %s header must contain input_folder_name or folder, got %v", e.cfg.MainCSV, header)
	}

	var jobs []string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reuse: read job list: %w", err)
		}
		if col >= len(rec) {
			continue
		}
		if job := strings.TrimSpace(rec[col]); job != "" {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

// findJobDir locates job's directory across the search roots; a directory
// only counts if it holds the fresh input file.
func (e *Engine) findJobDir(job string) string {
	for _, root := range e.roots {
		dir := filepath.Join(root, job)
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, e.cfg.InputName)); err == nil {
			return dir
		}
	}
	return ""
}

type foldInput struct {
	Sequences []map[string]json.RawMessage `json:"sequences"`
}

func (e *Engine) isSingleProteinLigand(jobDir string) bool {
	data, err := os.ReadFile(filepath.Join(jobDir, e.cfg.InputName))
	if err != nil {
		return false
	}
	var input foldInput
	if err := json.Unmarshal(data, &input); err != nil {
		return false
	}
	proteins, ligands := 0, 0
	for _, entry := range input.Sequences {
		if _, ok := entry["protein"]; ok {
			proteins++
		}
		if _, ok := entry["ligand"]; ok {
			ligands++
		}
	}
	return proteins == 1 && ligands == 1
}

// findMSACandidates returns donor MSA jsons from sibling jobs of the same
// entry pair, excluding the requesting job's own tree, sorted for
// deterministic donor selection.
func (e *Engine) findMSACandidates(e1, e2, exclude string) []string {
	prefix := e1 + "-" + e2
	var donors []string

	for _, root := range e.roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
				continue
			}
			jobDir := filepath.Join(root, entry.Name())
			if jobDir == exclude {
				continue
			}
			msaDir := filepath.Join(jobDir, "output_msa")
			_ = filepath.WalkDir(msaDir, func(path string, d os.DirEntry, err error) error {
				if err != nil {
					return nil
				}
				if !d.IsDir() && strings.HasSuffix(d.Name(), ".json") {
					donors = append(donors, path)
				}
				return nil
			})
		}
	}
	sort.Strings(donors)
	return donors
}

// mergeAndWrite merges the donor MSA into jobDir's fresh input and writes
// the shared-marker file under output_msa.
func (e *Engine) mergeAndWrite(jobDir, donor string) error {
	merged, err := MergeMSA(donor, filepath.Join(jobDir, e.cfg.InputName))
	if err != nil {
		return err
	}
	outDir := filepath.Join(jobDir, "output_msa")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(outDir, e.cfg.MarkerName), merged, 0o644)
}

// MergeMSA merges alignment fields from the donor input (msaPath) into the
// fresh input (freshPath): for every protein chain present in both, all
// non-core donor fields are copied over; version is the max of the two.
// A chain present in the fresh input but missing from the donor is an
// error, since the donor's MSA cannot cover it.
func MergeMSA(msaPath, freshPath string) ([]byte, error) {
	donor, err := readSequences(msaPath)
	if err != nil {
		return nil, err
	}
	fresh, err := readSequences(freshPath)
	if err != nil {
		return nil, err
	}

	donorChains := chainMap(donor)
	var missing []string
	for _, entry := range fresh["sequences"].([]any) {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		prot, ok := m["protein"].(map[string]any)
		if !ok {
			continue
		}
		id, _ := prot["id"].(string)
		src, ok := donorChains[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		for k, v := range src {
			if _, core := coreKeys[k]; !core {
				prot[k] = v
			}
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("reuse: chains %v missing in %s", missing, filepath.Base(msaPath))
	}

	fresh["version"] = maxVersion(donor, fresh)

	out, err := json.MarshalIndent(fresh, "", "  ")
	if err != nil {
		return nil, err
	}
	return collapseTemplateIndices(out), nil
}

func readSequences(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("reuse: parse %s: %w", filepath.Base(path), err)
	}
	if _, ok := doc["sequences"].([]any); !ok {
		return nil, fmt.Errorf("reuse: %s has no sequences array", filepath.Base(path))
	}
	return doc, nil
}

func chainMap(doc map[string]any) map[string]map[string]any {
	chains := make(map[string]map[string]any)
	for _, entry := range doc["sequences"].([]any) {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		prot, ok := m["protein"].(map[string]any)
		if !ok {
			continue
		}
		if id, ok := prot["id"].(string); ok {
			chains[id] = prot
		}
	}
	return chains
}

func maxVersion(a, b map[string]any) float64 {
	version := func(doc map[string]any) float64 {
		if v, ok := doc["version"].(float64); ok {
			return v
		}
		return 1
	}
	if va := version(a); va > version(b) {
		return va
	}
	return version(b)
}

func collapseTemplateIndices(data []byte) []byte {
	return templateIndicesRE.ReplaceAllFunc(data, func(m []byte) []byte {
		sub := templateIndicesRE.FindSubmatch(m)
		body := strings.NewReplacer("\n", "", " ", "").Replace(string(sub[2]))
		return append(append(append([]byte{}, sub[1]...), body...), sub[3]...)
	})
}

// donorJobName extracts the donor job directory name from an MSA json path
// ({root}/{job}/output_msa/.../file.json).
func donorJobName(msaPath string) string {
	dir := filepath.Dir(msaPath)
	for dir != "." && dir != string(filepath.Separator) {
		if filepath.Base(dir) == "output_msa" {
			return filepath.Base(filepath.Dir(dir))
		}
		dir = filepath.Dir(dir)
	}
	return filepath.Base(filepath.Dir(msaPath))
}

func (e *Engine) previewCSV(name string, jobs []string) {
	fmt.Fprintf(e.cfg.Stdout, "\nWould write %s:\n", name)
	if len(jobs) == 0 {
		fmt.Fprintln(e.cfg.Stdout, "  (none)")
		return
	}
	for _, job := range jobs {
		fmt.Fprintf(e.cfg.Stdout, "  %s\n", job)
	}
}

// writeJobCSV writes a one-column job list with Unix line endings so shell
// readers downstream never see CRLF.
func writeJobCSV(path string, jobs []string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("reuse: write %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write([]string{"input_folder_name"}); err != nil {
		_ = f.Close()
		return err
	}
	for _, job := range jobs {
		if err := w.Write([]string{job}); err != nil {
			_ = f.Close()
			return err
		}
	}
	w.Flush()
	if err := errors.Join(w.Error(), f.Close()); err != nil {
		return fmt.Errorf("reuse: write %s: %w", path, err)
	}
	return nil
}
