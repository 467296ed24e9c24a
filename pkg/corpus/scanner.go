// Package corpus walks the job trees and locates archiving candidates.
//
// The corpus is a set of root directories (the main jobs tree plus the
// held-out test set tree), each holding per-job directories named
// {family}-{rest}. A job's alignment output lives in a fixed subdirectory,
// either flat or nested one level per job.
package corpus

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/foldops/msarchive/pkg/jobname"
)

// Config configures corpus scanning.
type Config struct {
	// Roots are the corpus root directories, scanned uniformly.
	// A family may legitimately exist in only one root.
	Roots []string

	// AlignmentDir is the per-job subdirectory holding MSA artifacts.
	// Default: "output_msa"
	AlignmentDir string

	// UniquePattern is the glob matched against candidate filenames.
	// Default: "*_data.json"
	UniquePattern string

	// SharedMarker is the exact filename indicating a job reused another
	// job's alignment. It is never an archiving candidate.
	// Default: "alphafold_input_with_msa.json"
	SharedMarker string
}

// DefaultConfig returns the scanner defaults for the AlphaFold job layout.
func DefaultConfig() Config {
	return Config{
		AlignmentDir:  "output_msa",
		UniquePattern: "*_data.json",
		SharedMarker:  "alphafold_input_with_msa.json",
	}
}

// Candidate is a unique alignment file eligible for archiving.
type Candidate struct {
	// JobName is the job directory's base name.
	JobName string

	// JobPath is the absolute or root-relative path of the job directory.
	JobPath string

	// FileName is the candidate's base name.
	FileName string

	// FilePath is the full path of the candidate on disk.
	FilePath string

	// Size is the candidate's current byte size.
	Size int64
}

// Membership answers "has this job's file already been archived?".
// *dedupindex.Index satisfies it; tests may substitute their own.
type Membership interface {
	IsArchived(job, file string) bool
}

// Scanner discovers families and archiving candidates across the corpus.
type Scanner struct {
	cfg Config
}

// NewScanner validates cfg and returns a Scanner.
func NewScanner(cfg Config) (*Scanner, error) {
	def := DefaultConfig()
	if cfg.AlignmentDir == "" {
		cfg.AlignmentDir = def.AlignmentDir
	}
	if cfg.UniquePattern == "" {
		cfg.UniquePattern = def.UniquePattern
	}
	if cfg.SharedMarker == "" {
		cfg.SharedMarker = def.SharedMarker
	}
	if len(cfg.Roots) == 0 {
		return nil, fmt.Errorf("corpus: at least one root is required")
	}
	if !doublestar.ValidatePattern(cfg.UniquePattern) {
		return nil, fmt.Errorf("corpus: invalid unique-file pattern %q", cfg.UniquePattern)
	}
	return &Scanner{cfg: cfg}, nil
}

// DiscoverFamilies returns the distinct families present across all roots,
// deduplicated and sorted. Missing roots are skipped.
func (s *Scanner) DiscoverFamilies(ctx context.Context) ([]string, error) {
	set := make(map[string]struct{})

	for _, root := range s.cfg.Roots {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entries, err := os.ReadDir(root)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("corpus: read root %s: %w", root, err)
		}
		for _, e := range entries {
			if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
				continue
			}
			set[jobname.Family(e.Name())] = struct{}{}
		}
	}

	families := make([]string, 0, len(set))
	for f := range set {
		families = append(families, f)
	}
	sort.Strings(families)
	return families, nil
}

// FindUniqueFiles returns the not-yet-archived unique alignment files for
// family, across all roots. Candidates already present in idx are filtered
// out; idx may be nil to list everything on disk. An empty result is a
// normal outcome, not an error.
func (s *Scanner) FindUniqueFiles(ctx context.Context, family string, idx Membership) ([]Candidate, error) {
	if family == "" {
		return nil, fmt.Errorf("corpus: family is required")
	}

	var out []Candidate
	err := s.eachJobDir(ctx, family, func(jobName, jobPath string) error {
		files, err := s.alignmentFiles(jobPath)
		if err != nil {
			return err
		}
		for _, fp := range files {
			name := filepath.Base(fp)
			if name == s.cfg.SharedMarker {
				continue
			}
			ok, err := doublestar.Match(s.cfg.UniquePattern, name)
			if err != nil || !ok {
				continue
			}
			if idx != nil && idx.IsArchived(jobName, name) {
				continue
			}
			info, err := os.Stat(fp)
			if err != nil {
				// Raced with a concurrent writer; treat as not present.
				continue
			}
			out = append(out, Candidate{
				JobName:  jobName,
				JobPath:  jobPath,
				FileName: name,
				FilePath: fp,
				Size:     info.Size(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CountSharedMSAJobs counts family jobs whose alignment directory contains
// the shared-marker file, combined across roots. Informational only; it
// never affects archiving decisions.
func (s *Scanner) CountSharedMSAJobs(ctx context.Context, family string) (int, error) {
	count := 0
	err := s.eachJobDir(ctx, family, func(jobName, jobPath string) error {
		files, err := s.alignmentFiles(jobPath)
		if err != nil {
			return err
		}
		for _, fp := range files {
			if filepath.Base(fp) == s.cfg.SharedMarker {
				count++
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// eachJobDir invokes fn for every job directory in the family, across all
// roots. Missing roots are silently skipped.
func (s *Scanner) eachJobDir(ctx context.Context, family string, fn func(jobName, jobPath string) error) error {
	prefix := family + "-"

	for _, root := range s.cfg.Roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("corpus: read root %s: %w", root, err)
		}
		for _, e := range entries {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
				continue
			}
			if err := fn(e.Name(), filepath.Join(root, e.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

// alignmentFiles lists regular files in the job's alignment directory plus
// one level of nested subdirectories (both flat and per-job-nested layouts
// occur in the corpus). A missing alignment directory yields nil.
func (s *Scanner) alignmentFiles(jobPath string) ([]string, error) {
	dir := filepath.Join(jobPath, s.cfg.AlignmentDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("corpus: read %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			nested, err := os.ReadDir(filepath.Join(dir, e.Name()))
			if err != nil {
				continue
			}
			for _, ne := range nested {
				if ne.Type().IsRegular() {
					files = append(files, filepath.Join(dir, e.Name(), ne.Name()))
				}
			}
			continue
		}
		if e.Type().IsRegular() {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files, nil
}
