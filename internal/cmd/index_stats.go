package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"code.cloudfoundry.org/bytefmt"
	"github.com/spf13/cobra"
)

var indexStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show master index statistics",
	Long: `Display aggregate statistics for the master index: row count,
distinct archives and jobs, total archived bytes, and the date range.

Examples:
  msarchive index stats
  msarchive index stats --json`,
	Args: cobra.NoArgs,
	RunE: runIndexStats,
}

var indexStatsJSON bool

func init() {
	indexCmd.AddCommand(indexStatsCmd)
	indexStatsCmd.Flags().BoolVar(&indexStatsJSON, "json", false, "Output as JSON")
}

func runIndexStats(cmd *cobra.Command, args []string) error {
	idx, err := openIndex()
	if err != nil {
		return err
	}
	st := idx.Summarize()

	if indexStatsJSON {
		out := struct {
			Path             string `json:"path"`
			Rows             int    `json:"rows"`
			DistinctArchives int    `json:"distinct_archives"`
			DistinctJobs     int    `json:"distinct_jobs"`
			TotalBytes       int64  `json:"total_bytes"`
			FirstDate        string `json:"first_date,omitempty"`
			LastDate         string `json:"last_date,omitempty"`
		}{
			Path:             idx.Path(),
			Rows:             st.Rows,
			DistinctArchives: st.DistinctArchives,
			DistinctJobs:     st.DistinctJobs,
			TotalBytes:       st.TotalBytes,
			FirstDate:        st.FirstDate,
			LastDate:         st.LastDate,
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Printf("Index: %s\n\n", idx.Path())
	fmt.Printf("Rows:              %d\n", st.Rows)
	fmt.Printf("Distinct archives: %d\n", st.DistinctArchives)
	fmt.Printf("Distinct jobs:     %d\n", st.DistinctJobs)
	fmt.Printf("Archived bytes:    %s\n", bytefmt.ByteSize(uint64(st.TotalBytes)))
	if st.FirstDate != "" {
		fmt.Printf("Date range:        %s .. %s\n", st.FirstDate, st.LastDate)
	}
	return nil
}
