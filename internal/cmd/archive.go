package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/foldops/msarchive/internal/observability"
	"github.com/foldops/msarchive/pkg/archive"
	"github.com/foldops/msarchive/pkg/corpus"
	"github.com/foldops/msarchive/pkg/dedupindex"
	"github.com/foldops/msarchive/pkg/orchestrator"
	"github.com/foldops/msarchive/pkg/report"
)

var archiveCmd = &cobra.Command{
	Use:   "archive [family]",
	Short: "Archive unique MSA data for one family or all families",
	Long: `Archive unique MSA data files into per-family tar.gz archives.

With a family argument only that family is processed; with --all every
family discovered under the configured roots is processed in turn.
Already-archived files (per the master index) are skipped, so runs are
idempotent and safe to repeat after interruption.

Examples:
  msarchive archive SETD6 --roots /data/jobs --output /archive/msa
  msarchive archive --all --dry-run
  msarchive archive --all --report run.jsonl`,
	Args: cobra.MaximumNArgs(1),
	RunE: runArchive,
}

var (
	archiveAll     bool
	archiveDryRun  bool
	archiveThreads int
	archiveReport  string
)

func init() {
	rootCmd.AddCommand(archiveCmd)

	archiveCmd.Flags().BoolVar(&archiveAll, "all", false, "Process every discovered family")
	archiveCmd.Flags().BoolVar(&archiveDryRun, "dry-run", false, "Preview candidates without writing anything")
	archiveCmd.Flags().IntVar(&archiveThreads, "threads", 0, "Compression threads (default from config)")
	archiveCmd.Flags().StringVar(&archiveReport, "report", "", "Write JSONL run records to this file (or 'stdout')")
}

func runArchive(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	family := ""
	if len(args) == 1 {
		family = args[0]
	}
	if family == "" && !archiveAll {
		return exitError(foundry.ExitInvalidArgument, "Nothing to do", fmt.Errorf("pass a family name or --all"))
	}
	if family != "" && archiveAll {
		return exitError(foundry.ExitInvalidArgument, "Conflicting arguments", fmt.Errorf("--all cannot be combined with a family name"))
	}

	if len(appConfig.Roots) == 0 {
		return exitError(foundry.ExitInvalidArgument, "No corpus roots configured", fmt.Errorf("set --roots or MSARCHIVE_ROOTS"))
	}
	if appConfig.OutputDir == "" {
		return exitError(foundry.ExitInvalidArgument, "No output directory configured", fmt.Errorf("set --output or MSARCHIVE_OUTPUT_DIR"))
	}

	// A dry run must leave the filesystem untouched, including a first-ever
	// run against an output directory that does not exist yet.
	dryRun := archiveDryRun || appConfig.DryRun
	if !dryRun {
		if err := os.MkdirAll(appConfig.OutputDir, 0o755); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to create output directory", err)
		}
	}

	scanCfg := corpus.Config{
		Roots:         appConfig.Roots,
		AlignmentDir:  appConfig.Scan.AlignmentDir,
		UniquePattern: appConfig.Scan.UniquePattern,
		SharedMarker:  appConfig.Scan.SharedMarker,
	}
	scanner, err := corpus.NewScanner(scanCfg)
	if err != nil {
		observability.CLILogger.Error("Failed to create scanner", zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid scan configuration", err)
	}

	indexPath := filepath.Join(appConfig.OutputDir, "master_index.csv")
	var idx *dedupindex.Index
	if dryRun {
		idx, err = dedupindex.OpenReadOnly(indexPath)
	} else {
		idx, err = dedupindex.Open(indexPath)
	}
	if err != nil {
		observability.CLILogger.Error("Failed to open master index", zap.Error(err))
		return exitError(foundry.ExitFileReadError, "Failed to open master index", err)
	}

	threads := archiveThreads
	if threads <= 0 {
		threads = appConfig.Compression.Threads
	}
	builder, err := archive.NewBuilder(archive.Config{
		OutputDir:  appConfig.OutputDir,
		Compressor: archive.SelectCompressor(threads),
	})
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid archive configuration", err)
	}

	runID := uuid.New().String()
	writer, cleanup, err := createReportWriter(archiveReport, runID)
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to create report output", err)
	}
	defer cleanup()

	orch, err := orchestrator.New(orchestrator.Config{
		Scanner: scanner,
		Index:   idx,
		Builder: builder,
		LockDir: appConfig.OutputDir,
		Writer:  writer,
		Logger:  observability.CLILogger,
		Stdout:  os.Stdout,
	})
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid orchestrator configuration", err)
	}

	observability.CLILogger.Info("Starting archive run",
		zap.String("run_id", runID),
		zap.Strings("roots", appConfig.Roots),
		zap.String("output", appConfig.OutputDir),
		zap.Bool("dry_run", dryRun))

	rep, err := orch.Run(ctx, family, dryRun)
	printRunReport(rep, dryRun)

	if err != nil {
		if ctx.Err() != nil {
			return exitError(foundry.ExitSignalInt, "Archive run cancelled", err)
		}
		return exitError(foundry.ExitFileWriteError, "Archive run failed", err)
	}
	if rep.Failures > 0 {
		return exitError(foundry.ExitFileWriteError, "Archive run finished with failures",
			fmt.Errorf("%d of %d families failed", rep.Failures, rep.Failures+rep.FamiliesProcessed))
	}
	return nil
}

func printRunReport(rep *orchestrator.Report, dryRun bool) {
	if rep == nil {
		return
	}
	fmt.Println()
	if dryRun {
		fmt.Println("=== Archive Plan (dry-run) ===")
	} else {
		fmt.Println("=== Archive Report ===")
	}
	fmt.Printf("Families processed:    %d\n", rep.FamiliesProcessed)
	fmt.Printf("Archives created:      %d\n", rep.ArchivesCreated)
	fmt.Printf("Unique files archived: %d\n", rep.UniqueFilesArchived)
	fmt.Printf("Jobs with shared MSA:  %d\n", rep.JobsWithSharedMSA)
	if !dryRun {
		fmt.Printf("Bytes saved:           %s\n", bytefmt.ByteSize(uint64(rep.BytesSaved)))
	}
	if rep.Failures > 0 {
		fmt.Printf("Failures:              %d\n", rep.Failures)
	}
	fmt.Printf("Duration:              %s\n", rep.Duration.Round(time.Millisecond))
}

// createReportWriter builds the JSONL record writer for --report.
func createReportWriter(dest, runID string) (report.Writer, func(), error) {
	if dest == "" {
		return report.Discard{}, func() {}, nil
	}
	if dest == "stdout" {
		w := report.NewJSONLWriter(os.Stdout, runID)
		return w, func() { _ = w.Close() }, nil
	}

	path := strings.TrimPrefix(dest, "file:")
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create report file %s: %w", path, err)
	}
	w := report.NewJSONLWriter(f, runID)
	return w, func() {
		_ = w.Close()
		_ = f.Close()
	}, nil
}
