package corpus

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// CleanStats summarizes one cleanup pass.
type CleanStats struct {
	// JobsListed is the number of job names read from the list.
	JobsListed int

	// JobsMatched is how many of them had an alignment directory on disk.
	JobsMatched int

	// FilesRemoved counts deleted JSON files (previewed ones in dry run).
	FilesRemoved int

	// Warnings counts files that could not be removed.
	Warnings int
}

// ReadJobList loads a job-name list file, one name per line. Blank lines
// are skipped; surrounding whitespace is trimmed.
func ReadJobList(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("corpus: read job list %s: %w", path, err)
	}
	var jobs []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			jobs = append(jobs, line)
		}
	}
	return jobs, nil
}

// CleanAlignmentJSONs deletes the JSON files in the alignment directories of
// the listed jobs, across all roots. The usual subjects are
// single-protein/ligand jobs whose alignments are never consumed.
//
// A listed job with no alignment directory is skipped silently. A file that
// fails to delete is a warning, not an abort, so one bad file never stops
// the rest of the list. With dryRun the deletions are printed instead.
func (s *Scanner) CleanAlignmentJSONs(ctx context.Context, jobs []string, dryRun bool, stdout io.Writer) (CleanStats, error) {
	if stdout == nil {
		stdout = io.Discard
	}
	st := CleanStats{JobsListed: len(jobs)}

	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		matched := false
		for _, root := range s.cfg.Roots {
			jobPath := filepath.Join(root, job)
			info, err := os.Stat(filepath.Join(jobPath, s.cfg.AlignmentDir))
			if err != nil || !info.IsDir() {
				continue
			}
			matched = true

			files, err := s.alignmentFiles(jobPath)
			if err != nil {
				return st, err
			}
			for _, fp := range files {
				if !strings.HasSuffix(fp, ".json") {
					continue
				}
				if dryRun {
					fmt.Fprintf(stdout, "[RM] %s\n", fp)
					st.FilesRemoved++
					continue
				}
				if err := os.Remove(fp); err != nil {
					fmt.Fprintf(stdout, "[WARN] remove %s: %v\n", fp, err)
					st.Warnings++
					continue
				}
				st.FilesRemoved++
			}
		}
		if matched {
			st.JobsMatched++
		}
	}
	return st, nil
}
