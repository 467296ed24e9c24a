// Package report provides JSONL output for archiving runs.
//
// Output is structured as typed record envelopes. Each line is a
// self-contained JSON object that can be parsed independently, so a run's
// record stream can be tailed, grepped, or post-processed without state.
package report

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for JSONL output.
const (
	// TypeCandidate identifies archiving-candidate records (dry run).
	TypeCandidate = "msarchive.candidate.v1"

	// TypeArchive identifies records for a published archive.
	TypeArchive = "msarchive.archive.v1"

	// TypeSkip identifies records for families skipped without building.
	TypeSkip = "msarchive.skip.v1"

	// TypeError identifies per-family failure records.
	TypeError = "msarchive.error.v1"

	// TypeSummary identifies the final run summary record.
	TypeSummary = "msarchive.summary.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	// Type identifies the record type (e.g., "msarchive.archive.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created.
	TS time.Time `json:"ts"`

	// RunID is the correlation ID for this archiving run.
	RunID string `json:"run_id"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// CandidateRecord is the payload for one archiving candidate.
type CandidateRecord struct {
	Family   string `json:"family"`
	Job      string `json:"job"`
	File     string `json:"file"`
	Size     int64  `json:"size_bytes"`
	WouldArc bool   `json:"would_archive"`
}

// ArchiveRecord is the payload for one published archive.
type ArchiveRecord struct {
	Family          string `json:"family"`
	Archive         string `json:"archive"`
	FileCount       int    `json:"file_count"`
	ArchivedBytes   int64  `json:"archived_bytes"`
	CompressedBytes int64  `json:"compressed_bytes"`
	BytesSaved      int64  `json:"bytes_saved"`
}

// SkipRecord is the payload for a family processed without an archive.
type SkipRecord struct {
	Family string `json:"family"`
	Reason string `json:"reason"`
}

// Skip reasons.
const (
	// SkipEmpty means no unique files were found; the family likely
	// reuses a shared alignment throughout.
	SkipEmpty = "no_candidates"

	// SkipLocked means another run holds the family lock.
	SkipLocked = "family_locked"
)

// ErrorRecord is the payload for a per-family failure. Failures are
// records, not run aborts: the run continues with the next family.
type ErrorRecord struct {
	Family  string `json:"family"`
	Message string `json:"message"`
}

// SummaryRecord is the payload emitted once at the end of a run.
type SummaryRecord struct {
	ArchivesCreated     int    `json:"archives_created"`
	UniqueFilesArchived int    `json:"unique_files_archived"`
	JobsWithSharedMSA   int    `json:"jobs_with_shared_msa"`
	BytesSaved          int64  `json:"bytes_saved"`
	Failures            int    `json:"failures"`
	Families            int    `json:"families"`
	DryRun              bool   `json:"dry_run"`
	Duration            string `json:"duration"`
}

// ErrWriterClosed is returned when writing to a closed writer.
var ErrWriterClosed = errors.New("report: writer is closed")
