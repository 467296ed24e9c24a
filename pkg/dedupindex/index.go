// Package dedupindex maintains the append-only ledger of archived MSA files.
//
// The index is a flat CSV, one row per archived file. It is deliberately a
// plain text format: operators diagnose storage questions with grep and awk,
// not specialized tooling. The engine only ever appends rows; rewriting or
// deleting rows is an operator action (rebuild from archive contents).
package dedupindex

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Header is the first line of every index file.
const Header = "archive_name,job_directory,json_filename,file_size_bytes,date_archived"

// DateLayout is the date format used in index rows (distinct from the
// underscore-separated date embedded in archive filenames).
const DateLayout = "2006-01-02"

// ErrNoRows is returned by Append when called with an empty row set.
var ErrNoRows = errors.New("dedupindex: no rows to append")

// ErrReadOnly is returned by Append on an index opened with OpenReadOnly.
var ErrReadOnly = errors.New("dedupindex: index is read-only")

// Row is one archived file: which archive holds it, which job produced it,
// its size on disk, and the day it was archived.
type Row struct {
	ArchiveName  string
	JobName      string
	FileName     string
	FileSize     int64
	DateArchived string // YYYY-MM-DD
}

// Index provides membership tests and appends against the on-disk CSV.
//
// Reads are safe from concurrent goroutines. Appends from concurrent
// processes are individually atomic (full staged rewrite plus rename) but
// same-family concurrent runs can still race membership-check-then-commit;
// that hazard is handled one level up by the orchestrator's family locks.
type Index struct {
	path     string
	readOnly bool

	mu   sync.RWMutex
	rows []Row
	seen map[string]string // job "/" file -> archive name
}

// Open loads the index at path, creating it with a header row if absent.
//
// A malformed trailing line (crash during a historical write) is tolerated
// and ignored; everything before it is loaded normally.
func Open(path string) (*Index, error) {
	ix := &Index{path: path, seen: make(map[string]string)}

	err := ix.loadFile()
	if errors.Is(err, os.ErrNotExist) {
		if err := ix.writeAll(nil); err != nil {
			return nil, fmt.Errorf("dedupindex: initialize %s: %w", path, err)
		}
		return ix, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dedupindex: read %s: %w", path, err)
	}
	return ix, nil
}

// OpenReadOnly loads the index at path without ever writing to disk. A
// missing file yields an empty index rather than creating one, so dry-run
// inspection of a corpus that has never been archived leaves no trace.
// Append on the returned index fails with ErrReadOnly.
func OpenReadOnly(path string) (*Index, error) {
	ix := &Index{path: path, readOnly: true, seen: make(map[string]string)}

	if err := ix.loadFile(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("dedupindex: read %s: %w", path, err)
	}
	return ix, nil
}

// Path returns the on-disk location of the index file.
func (ix *Index) Path() string {
	return ix.path
}

// loadFile reads the on-disk index into ix. The caller holds the write lock
// (or is a constructor with the sole reference).
func (ix *Index) loadFile() error {
	f, err := os.Open(ix.path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return ix.load(f)
}

func (ix *Index) load(r io.Reader) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	first := true
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			// Dangling partial line from an interrupted write. Rows read
			// so far are valid; stop here rather than failing the open.
			return nil
		}
		if first {
			first = false
			if len(rec) > 0 && rec[0] == "archive_name" {
				continue
			}
		}
		if len(rec) != 5 {
			continue
		}
		size, err := strconv.ParseInt(rec[3], 10, 64)
		if err != nil || size < 0 {
			continue
		}
		row := Row{
			ArchiveName:  rec[0],
			JobName:      rec[1],
			FileName:     rec[2],
			FileSize:     size,
			DateArchived: rec[4],
		}
		ix.rows = append(ix.rows, row)
		ix.seen[memberKey(row.JobName, row.FileName)] = row.ArchiveName
	}
}

// Reload discards the in-memory state and re-reads the index file, picking
// up rows committed by other processes since this handle was opened. The
// orchestrator calls it after taking a family lock so membership reflects
// every commit that happened before the lock was acquired. A file that has
// vanished reloads as empty.
func (ix *Index) Reload() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.rows = nil
	ix.seen = make(map[string]string)

	err := ix.loadFile()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("dedupindex: reload %s: %w", ix.path, err)
	}
	return nil
}

// IsArchived reports whether the (job, file) pair already has an index row.
func (ix *Index) IsArchived(job, file string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.seen[memberKey(job, file)]
	return ok
}

// LookupArchive returns the archive holding (job, file), if any.
func (ix *Index) LookupArchive(job, file string) (string, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	name, ok := ix.seen[memberKey(job, file)]
	return name, ok
}

// Len returns the number of loaded data rows.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.rows)
}

// Append commits rows to the index in one pass.
//
// The updated index is staged to a temporary file in the same directory and
// renamed over the previous version, so a failure mid-write leaves the prior
// valid index intact. All rows of one call become visible together.
func (ix *Index) Append(rows []Row) error {
	if len(rows) == 0 {
		return ErrNoRows
	}
	if ix.readOnly {
		return ErrReadOnly
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := ix.writeAll(rows); err != nil {
		return err
	}

	for _, row := range rows {
		ix.rows = append(ix.rows, row)
		ix.seen[memberKey(row.JobName, row.FileName)] = row.ArchiveName
	}
	return nil
}

// writeAll stages header + existing rows + extra rows and atomically
// replaces the index file. Caller holds the write lock (or is Open).
func (ix *Index) writeAll(extra []Row) error {
	dir := filepath.Dir(ix.path)
	tmp, err := os.CreateTemp(dir, ".master_index-*.tmp")
	if err != nil {
		return fmt.Errorf("dedupindex: stage: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	w := csv.NewWriter(tmp)
	if err := w.Write(strings.Split(Header, ",")); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("dedupindex: write header: %w", err)
	}
	writeRow := func(row Row) error {
		return w.Write([]string{
			row.ArchiveName,
			row.JobName,
			row.FileName,
			strconv.FormatInt(row.FileSize, 10),
			row.DateArchived,
		})
	}
	for _, row := range ix.rows {
		if err := writeRow(row); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("dedupindex: write row: %w", err)
		}
	}
	for _, row := range extra {
		if err := writeRow(row); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("dedupindex: write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("dedupindex: flush: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("dedupindex: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("dedupindex: close: %w", err)
	}
	if err := os.Rename(tmpName, ix.path); err != nil {
		return fmt.Errorf("dedupindex: publish: %w", err)
	}
	return nil
}

// Query returns all rows whose archive, job, or file name contains substr.
// A linear scan is intentional; the index stays small enough for grep and
// the query surface must not require a database.
func (ix *Index) Query(substr string) []Row {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var out []Row
	for _, row := range ix.rows {
		if strings.Contains(row.ArchiveName, substr) ||
			strings.Contains(row.JobName, substr) ||
			strings.Contains(row.FileName, substr) {
			out = append(out, row)
		}
	}
	return out
}

// Stats summarizes the ledger for operator reporting.
type Stats struct {
	Rows             int
	DistinctArchives int
	DistinctJobs     int
	TotalBytes       int64
	FirstDate        string
	LastDate         string
}

// Summarize computes aggregate statistics over all loaded rows.
func (ix *Index) Summarize() Stats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	archives := make(map[string]struct{})
	jobs := make(map[string]struct{})
	var dates []string

	st := Stats{Rows: len(ix.rows)}
	for _, row := range ix.rows {
		archives[row.ArchiveName] = struct{}{}
		jobs[row.JobName] = struct{}{}
		st.TotalBytes += row.FileSize
		dates = append(dates, row.DateArchived)
	}
	st.DistinctArchives = len(archives)
	st.DistinctJobs = len(jobs)
	if len(dates) > 0 {
		sort.Strings(dates)
		st.FirstDate = dates[0]
		st.LastDate = dates[len(dates)-1]
	}
	return st
}

func memberKey(job, file string) string {
	return job + "/" + file
}
