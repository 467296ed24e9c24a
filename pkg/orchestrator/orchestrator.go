// Package orchestrator drives archiving runs across job families.
//
// A run processes one requested family or every family discovered in the
// corpus. Each family goes through a strictly sequential state machine:
// discover candidates, build and verify an archive, commit index rows.
// One family's failure never aborts a multi-family run; re-running after
// any interruption is safe because the dedup index prevents re-archiving.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"go.uber.org/zap"

	"github.com/foldops/msarchive/pkg/archive"
	"github.com/foldops/msarchive/pkg/corpus"
	"github.com/foldops/msarchive/pkg/dedupindex"
	"github.com/foldops/msarchive/pkg/report"
)

// Config wires an Orchestrator.
type Config struct {
	Scanner *corpus.Scanner
	Index   *dedupindex.Index
	Builder *archive.Builder

	// LockDir holds per-family lock files; normally the output directory.
	LockDir string

	// Writer receives typed run records. Defaults to report.Discard.
	Writer report.Writer

	// Logger for structured progress and failures. Defaults to zap.NewNop.
	Logger *zap.Logger

	// Stdout receives the human-readable report. Defaults to os.Stdout.
	Stdout io.Writer
}

// Report aggregates one run's statistics.
type Report struct {
	ArchivesCreated     int
	UniqueFilesArchived int
	JobsWithSharedMSA   int
	BytesSaved          int64
	Failures            int
	FamiliesProcessed   int
	Duration            time.Duration
}

// Orchestrator executes archiving runs. Safe for single use per run; do
// not invoke Run concurrently on one instance.
type Orchestrator struct {
	cfg Config
}

// New validates cfg and returns an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Scanner == nil || cfg.Index == nil || cfg.Builder == nil {
		return nil, fmt.Errorf("orchestrator: scanner, index, and builder are required")
	}
	if cfg.LockDir == "" {
		return nil, fmt.Errorf("orchestrator: lock dir is required")
	}
	if cfg.Writer == nil {
		cfg.Writer = report.Discard{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	return &Orchestrator{cfg: cfg}, nil
}

// Run processes targetFamily, or every discovered family when it is empty.
//
// In dry-run mode nothing on disk changes: candidates are previewed and
// counted but no archive, index row, or lock file is written. A non-nil
// Report is returned alongside any error so partial progress is visible.
func (o *Orchestrator) Run(ctx context.Context, targetFamily string, dryRun bool) (*Report, error) {
	start := time.Now()
	rep := &Report{}

	families := []string{targetFamily}
	single := targetFamily != ""
	if !single {
		discovered, err := o.cfg.Scanner.DiscoverFamilies(ctx)
		if err != nil {
			return rep, fmt.Errorf("orchestrator: discover families: %w", err)
		}
		families = discovered
	}

	for i, family := range families {
		if err := ctx.Err(); err != nil {
			rep.Duration = time.Since(start)
			return rep, err
		}
		fmt.Fprintf(o.cfg.Stdout, "[%d/%d] %s\n", i+1, len(families), family)

		err := o.processFamily(ctx, family, dryRun, rep)
		if err != nil {
			rep.Failures++
			o.cfg.Logger.Error("family failed",
				zap.String("family", family),
				zap.Error(err))
			_ = o.cfg.Writer.WriteError(&report.ErrorRecord{Family: family, Message: err.Error()})
			if single {
				// A failed run still terminates its record stream with a
				// summary so consumers see final tallies.
				rep.Duration = time.Since(start)
				o.writeSummary(rep, dryRun)
				return rep, err
			}
			continue
		}
		rep.FamiliesProcessed++
	}

	rep.Duration = time.Since(start)
	o.writeSummary(rep, dryRun)
	return rep, nil
}

func (o *Orchestrator) writeSummary(rep *Report, dryRun bool) {
	_ = o.cfg.Writer.WriteSummary(&report.SummaryRecord{
		ArchivesCreated:     rep.ArchivesCreated,
		UniqueFilesArchived: rep.UniqueFilesArchived,
		JobsWithSharedMSA:   rep.JobsWithSharedMSA,
		BytesSaved:          rep.BytesSaved,
		Failures:            rep.Failures,
		Families:            rep.FamiliesProcessed,
		DryRun:              dryRun,
		Duration:            rep.Duration.Round(time.Millisecond).String(),
	})
}

// processFamily runs the per-family state machine:
// DISCOVER -> BUILD -> VERIFY -> COMMIT-INDEX, with early DONE on an empty
// candidate set. The family is never rebuilt within the same run.
func (o *Orchestrator) processFamily(ctx context.Context, family string, dryRun bool, rep *Report) error {
	// Recomputed fresh every run, never memoized.
	shared, err := o.cfg.Scanner.CountSharedMSAJobs(ctx, family)
	if err != nil {
		return err
	}
	rep.JobsWithSharedMSA += shared

	candidates, err := o.cfg.Scanner.FindUniqueFiles(ctx, family, o.cfg.Index)
	if err != nil {
		return err
	}

	if len(candidates) == 0 {
		fmt.Fprintf(o.cfg.Stdout, "  no unique MSA data (likely all jobs reuse a shared alignment)\n")
		_ = o.cfg.Writer.WriteSkip(&report.SkipRecord{Family: family, Reason: report.SkipEmpty})
		return nil
	}

	if dryRun {
		fmt.Fprintf(o.cfg.Stdout, "  would archive %d file(s):\n", len(candidates))
		for _, c := range candidates {
			fmt.Fprintf(o.cfg.Stdout, "    %s/%s (%s)\n", c.JobName, c.FileName, bytefmt.ByteSize(uint64(c.Size)))
			_ = o.cfg.Writer.WriteCandidate(&report.CandidateRecord{
				Family:   family,
				Job:      c.JobName,
				File:     c.FileName,
				Size:     c.Size,
				WouldArc: true,
			})
		}
		rep.UniqueFilesArchived += len(candidates)
		return nil
	}

	lock, err := acquireFamilyLock(o.cfg.LockDir, family)
	if err != nil {
		if errors.Is(err, ErrFamilyLocked) {
			o.cfg.Logger.Warn("skipping locked family", zap.String("family", family))
			_ = o.cfg.Writer.WriteSkip(&report.SkipRecord{Family: family, Reason: report.SkipLocked})
		}
		return err
	}
	defer func() { _ = lock.release() }()

	// Membership was checked before the lock for cheapness. Another process
	// may have committed this family between that scan and the lock, so
	// re-read the index from disk and re-filter before building.
	if err := o.cfg.Index.Reload(); err != nil {
		return err
	}
	candidates = o.filterArchived(candidates)
	if len(candidates) == 0 {
		_ = o.cfg.Writer.WriteSkip(&report.SkipRecord{Family: family, Reason: report.SkipEmpty})
		return nil
	}

	res, err := o.cfg.Builder.Build(ctx, family, candidates)
	if err != nil {
		return err
	}
	if res == nil {
		return nil
	}

	if err := o.cfg.Index.Append(res.Rows); err != nil {
		// The archive exists but its rows did not commit. Remove it so the
		// all-or-nothing contract holds and a re-run rebuilds cleanly.
		_ = os.Remove(res.Path)
		return fmt.Errorf("commit index rows for %s: %w", res.Name, err)
	}

	rep.ArchivesCreated++
	rep.UniqueFilesArchived += res.FileCount
	rep.BytesSaved += res.BytesSaved()

	o.cfg.Logger.Info("archive published",
		zap.String("family", family),
		zap.String("archive", res.Name),
		zap.Int("files", res.FileCount),
		zap.Int64("archived_bytes", res.ArchivedBytes),
		zap.Int64("compressed_bytes", res.CompressedBytes))
	fmt.Fprintf(o.cfg.Stdout, "  %s: %d file(s), %s -> %s\n",
		res.Name, res.FileCount,
		bytefmt.ByteSize(uint64(res.ArchivedBytes)),
		bytefmt.ByteSize(uint64(res.CompressedBytes)))

	return o.cfg.Writer.WriteArchive(&report.ArchiveRecord{
		Family:          family,
		Archive:         res.Name,
		FileCount:       res.FileCount,
		ArchivedBytes:   res.ArchivedBytes,
		CompressedBytes: res.CompressedBytes,
		BytesSaved:      res.BytesSaved(),
	})
}

func (o *Orchestrator) filterArchived(candidates []corpus.Candidate) []corpus.Candidate {
	out := candidates[:0]
	for _, c := range candidates {
		if !o.cfg.Index.IsArchived(c.JobName, c.FileName) {
			out = append(out, c)
		}
	}
	return out
}
