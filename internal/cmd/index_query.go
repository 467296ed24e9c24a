package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var indexQueryCmd = &cobra.Command{
	Use:   "query <substring>",
	Short: "Find index rows by archive, job, or file name",
	Long: `Find index rows whose archive name, job directory, or json
filename contains the given substring.

Examples:
  # Where did SETD6-A's data go?
  msarchive index query SETD6-A

  # Everything packed into one archive
  msarchive index query SETD6_2026_08_24.tar.gz

  # JSONL for scripting
  msarchive index query SETD6 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runIndexQuery,
}

var indexQueryJSON bool

func init() {
	indexCmd.AddCommand(indexQueryCmd)
	indexQueryCmd.Flags().BoolVar(&indexQueryJSON, "json", false, "Emit JSONL records instead of a table")
}

// indexRowRecord is the JSONL output format for query results.
type indexRowRecord struct {
	Type string             `json:"type"`
	TS   string             `json:"ts"`
	Data indexRowRecordData `json:"data"`
}

type indexRowRecordData struct {
	ArchiveName  string `json:"archive_name"`
	JobDirectory string `json:"job_directory"`
	JSONFilename string `json:"json_filename"`
	SizeBytes    int64  `json:"file_size_bytes"`
	DateArchived string `json:"date_archived"`
}

func runIndexQuery(cmd *cobra.Command, args []string) error {
	idx, err := openIndex()
	if err != nil {
		return err
	}

	rows := idx.Query(args[0])

	if indexQueryJSON {
		now := time.Now().UTC().Format(time.RFC3339Nano)
		enc := json.NewEncoder(os.Stdout)
		for _, row := range rows {
			record := indexRowRecord{
				Type: "msarchive.index.row.v1",
				TS:   now,
				Data: indexRowRecordData{
					ArchiveName:  row.ArchiveName,
					JobDirectory: row.JobName,
					JSONFilename: row.FileName,
					SizeBytes:    row.FileSize,
					DateArchived: row.DateArchived,
				},
			}
			if err := enc.Encode(record); err != nil {
				return fmt.Errorf("encode record: %w", err)
			}
		}
		fmt.Fprintf(os.Stderr, "Matched %d rows\n", len(rows))
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ARCHIVE\tJOB\tFILE\tSIZE\tDATE")
	for _, row := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			row.ArchiveName, row.JobName, row.FileName, row.FileSize, row.DateArchived)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d rows\n", len(rows))
	return nil
}
