package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/foldops/msarchive/pkg/corpus"
	"github.com/foldops/msarchive/pkg/jobname"
)

var familiesCmd = &cobra.Command{
	Use:   "families",
	Short: "List job families discovered under the configured roots",
	Long: `List every job family found under the configured corpus roots,
with per-family job counts.

Examples:
  msarchive families --roots /data/jobs
  msarchive families --roots /data/jobs --roots /data/jobs_heldout`,
	Args: cobra.NoArgs,
	RunE: runFamilies,
}

func init() {
	rootCmd.AddCommand(familiesCmd)
}

func runFamilies(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if len(appConfig.Roots) == 0 {
		return exitError(foundry.ExitInvalidArgument, "No corpus roots configured", fmt.Errorf("set --roots or MSARCHIVE_ROOTS"))
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

	families, err := scanner.DiscoverFamilies(ctx)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to scan corpus roots", err)
	}

	counts := make(map[string]int, len(families))
	for _, root := range appConfig.Roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				counts[jobname.Family(entry.Name())]++
			}
		}
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FAMILY\tJOBS")
	for _, family := range families {
		fmt.Fprintf(w, "%s\t%d\n", family, counts[family])
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("\n%d families\n", len(families))
	return nil
}
