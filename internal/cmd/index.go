package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/foldops/msarchive/pkg/dedupindex"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Inspect the master archive index",
	Long: `Inspect the master index (master_index.csv) that records every
archived MSA data file.

The index lives in the archive output directory and is plain CSV, so it
also greps fine; these subcommands add filtering and aggregation.`,
}

func init() {
	rootCmd.AddCommand(indexCmd)
}

// openIndex opens the master index from the configured output directory.
func openIndex() (*dedupindex.Index, error) {
	if appConfig.OutputDir == "" {
		return nil, exitError(foundry.ExitInvalidArgument, "No output directory configured", fmt.Errorf("set --output or MSARCHIVE_OUTPUT_DIR"))
	}
	idx, err := dedupindex.Open(filepath.Join(appConfig.OutputDir, "master_index.csv"))
	if err != nil {
		return nil, exitError(foundry.ExitFileReadError, "Failed to open master index", err)
	}
	return idx, nil
}
