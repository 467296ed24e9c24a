package cmd

import (
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/foldops/msarchive/internal/observability"
	"github.com/foldops/msarchive/pkg/corpus"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete alignment JSONs for the jobs named in a list file",
	Long: `Delete the JSON files under the alignment directory of every job
named in a list file (one job name per line). Typical targets are
single-protein/ligand jobs whose alignments are never consumed.

Only JSON files are removed; ranking tables and other outputs survive.
Jobs on the list without an alignment directory are skipped.

Examples:
  msarchive clean --list single_ligand_jobs.list --roots /data/jobs
  msarchive clean --list single_ligand_jobs.list --dry-run`,
	Args: cobra.NoArgs,
	RunE: runClean,
}

var (
	cleanList   string
	cleanDryRun bool
)

func init() {
	rootCmd.AddCommand(cleanCmd)

	cleanCmd.Flags().StringVar(&cleanList, "list", "", "Job-name list file, one job per line")
	cleanCmd.Flags().BoolVar(&cleanDryRun, "dry-run", false, "Preview deletions without removing anything")
}

func runClean(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if cleanList == "" {
		return exitError(foundry.ExitInvalidArgument, "No job list configured", fmt.Errorf("set --list"))
	}
	if len(appConfig.Roots) == 0 {
		return exitError(foundry.ExitInvalidArgument, "No corpus roots configured", fmt.Errorf("set --roots or MSARCHIVE_ROOTS"))
	}

	jobs, err := corpus.ReadJobList(cleanList)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to read job list", err)
	}

	scanner, err := corpus.NewScanner(corpus.Config{
		Roots:         appConfig.Roots,
		AlignmentDir:  appConfig.Scan.AlignmentDir,
		UniquePattern: appConfig.Scan.UniquePattern,
		SharedMarker:  appConfig.Scan.SharedMarker,
	})
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid scan configuration", err)
	}

	dryRun := cleanDryRun || appConfig.DryRun
	st, err := scanner.CleanAlignmentJSONs(ctx, jobs, dryRun, os.Stdout)
	if err != nil {
		if ctx.Err() != nil {
			return exitError(foundry.ExitSignalInt, "Cleanup cancelled", err)
		}
		return exitError(foundry.ExitFileWriteError, "Cleanup failed", err)
	}

	observability.CLILogger.Info("Cleanup completed",
		zap.Int("jobs_listed", st.JobsListed),
		zap.Int("jobs_matched", st.JobsMatched),
		zap.Int("files_removed", st.FilesRemoved),
		zap.Int("warnings", st.Warnings),
		zap.Bool("dry_run", dryRun))

	fmt.Println()
	if dryRun {
		fmt.Println("=== Clean Plan (dry-run) ===")
	} else {
		fmt.Println("=== Clean Summary ===")
	}
	fmt.Printf("Jobs listed:   %d\n", st.JobsListed)
	fmt.Printf("Jobs matched:  %d\n", st.JobsMatched)
	if dryRun {
		fmt.Printf("Would remove:  %d file(s)\n", st.FilesRemoved)
	} else {
		fmt.Printf("Files removed: %d\n", st.FilesRemoved)
	}
	if st.Warnings > 0 {
		fmt.Printf("Warnings:      %d\n", st.Warnings)
	}
	return nil
}
