package report

import (
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Writer emits run records.
//
// Implementations must be safe for concurrent use; the orchestrator may be
// running one instance per family in separate processes, but a single
// process also writes from its progress and summary paths.
type Writer interface {
	WriteCandidate(rec *CandidateRecord) error
	WriteArchive(rec *ArchiveRecord) error
	WriteSkip(rec *SkipRecord) error
	WriteError(rec *ErrorRecord) error
	WriteSummary(rec *SummaryRecord) error
	Close() error
}

// JSONLWriter writes records as newline-delimited JSON to an io.Writer.
// Writes are serialized with a mutex so lines never interleave.
type JSONLWriter struct {
	w     io.Writer
	runID string

	mu     sync.Mutex
	closed bool
}

// NewJSONLWriter creates a writer tagging every record with runID.
// The caller retains ownership of w.
func NewJSONLWriter(w io.Writer, runID string) *JSONLWriter {
	return &JSONLWriter{w: w, runID: runID}
}

func (jw *JSONLWriter) WriteCandidate(rec *CandidateRecord) error {
	return jw.writeRecord(TypeCandidate, rec)
}

func (jw *JSONLWriter) WriteArchive(rec *ArchiveRecord) error {
	return jw.writeRecord(TypeArchive, rec)
}

func (jw *JSONLWriter) WriteSkip(rec *SkipRecord) error {
	return jw.writeRecord(TypeSkip, rec)
}

func (jw *JSONLWriter) WriteError(rec *ErrorRecord) error {
	return jw.writeRecord(TypeError, rec)
}

func (jw *JSONLWriter) WriteSummary(rec *SummaryRecord) error {
	return jw.writeRecord(TypeSummary, rec)
}

// Close marks the writer as closed. The underlying io.Writer is not
// closed; the caller owns it.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	jw.closed = true
	return nil
}

func (jw *JSONLWriter) writeRecord(recordType string, data any) error {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return err
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()

	if jw.closed {
		return ErrWriterClosed
	}

	record := Record{
		Type:  recordType,
		TS:    time.Now().UTC(),
		RunID: jw.runID,
		Data:  dataBytes,
	}
	line, err := json.Marshal(record)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	// io.Writer may return a short write with nil error; loop so a JSONL
	// line is never silently truncated.
	for len(line) > 0 {
		n, err := jw.w.Write(line)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		line = line[n:]
	}
	return nil
}

// Discard is a Writer that drops all records. Used when no record stream
// was requested.
type Discard struct{}

func (Discard) WriteCandidate(*CandidateRecord) error { return nil }
func (Discard) WriteArchive(*ArchiveRecord) error     { return nil }
func (Discard) WriteSkip(*SkipRecord) error           { return nil }
func (Discard) WriteError(*ErrorRecord) error         { return nil }
func (Discard) WriteSummary(*SummaryRecord) error     { return nil }
func (Discard) Close() error                          { return nil }

// Compile-time interface checks.
var (
	_ Writer = (*JSONLWriter)(nil)
	_ Writer = Discard{}
)
