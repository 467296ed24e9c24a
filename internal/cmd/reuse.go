package cmd

import (
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/foldops/msarchive/internal/observability"
	"github.com/foldops/msarchive/pkg/reuse"
)

var reuseCmd = &cobra.Command{
	Use:   "reuse",
	Short: "Borrow finished MSAs for pending jobs with the same entry pair",
	Long: `Walk the pending job list and, for each job missing alignment
output, merge the MSA of a finished sibling job (same entry pair) into
the job's input. Jobs that still miss are triaged into msa_array_jobs.csv
(one MSA computation per entry pair) and waiting_for_msa.csv (duplicates
that reuse the array job's result).

Examples:
  msarchive reuse --jobs-dir /data/jobs --csv /data/folding_jobs.csv
  msarchive reuse --jobs-dir /data/jobs --dry-run`,
	Args: cobra.NoArgs,
	RunE: runReuse,
}

var (
	reuseJobsDir string
	reuseMainCSV string
	reuseDryRun  bool
)

func init() {
	rootCmd.AddCommand(reuseCmd)

	reuseCmd.Flags().StringVar(&reuseJobsDir, "jobs-dir", "", "Top of the jobs tree")
	reuseCmd.Flags().StringVar(&reuseMainCSV, "csv", "", "Pending job list CSV")
	reuseCmd.Flags().BoolVar(&reuseDryRun, "dry-run", false, "Preview copies and triage without writing")
}

func runReuse(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	jobsDir := reuseJobsDir
	if jobsDir == "" {
		jobsDir = appConfig.Reuse.JobsDir
	}
	if jobsDir == "" {
		return exitError(foundry.ExitInvalidArgument, "No jobs directory configured", fmt.Errorf("set --jobs-dir or MSARCHIVE_REUSE_JOBS_DIR"))
	}
	mainCSV := reuseMainCSV
	if mainCSV == "" {
		mainCSV = appConfig.Reuse.MainCSV
	}

	engine, err := reuse.New(reuse.Config{
		JobsDir: jobsDir,
		MainCSV: mainCSV,
		Logger:  observability.CLILogger,
		Stdout:  os.Stdout,
	})
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid reuse configuration", err)
	}

	stats, err := engine.Run(ctx, reuseDryRun)
	if err != nil {
		if ctx.Err() != nil {
			return exitError(foundry.ExitSignalInt, "Reuse pass cancelled", err)
		}
		return exitError(foundry.ExitFileReadError, "Reuse pass failed", err)
	}

	observability.CLILogger.Info("Reuse pass completed",
		zap.Int("copied", stats.Copied),
		zap.Int("skipped", stats.Skipped),
		zap.Int("warnings", stats.Warnings),
		zap.Int("to_generate", stats.ToGenerate),
		zap.Int("waiting", stats.Waiting))

	fmt.Println()
	fmt.Println("=== Reuse Summary ===")
	fmt.Printf("MSAs copied:       %d\n", stats.Copied)
	fmt.Printf("Jobs skipped:      %d\n", stats.Skipped)
	fmt.Printf("Warnings:          %d\n", stats.Warnings)
	fmt.Printf("MSAs to generate:  %d\n", stats.ToGenerate)
	fmt.Printf("Jobs waiting:      %d\n", stats.Waiting)
	return nil
}
