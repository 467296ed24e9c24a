package archive

import (
	"compress/gzip"
	"io"

	"github.com/klauspost/pgzip"
)

// Compressor produces the gzip stream an archive is written through.
//
// Implementations must emit standard gzip output: which compressor packed
// an archive is invisible to readers, and any standard tool can list or
// extract the result.
type Compressor interface {
	// Name identifies the implementation for logging.
	Name() string

	// NewWriter wraps w in a gzip-compressing writer. The caller must
	// Close the returned writer to flush the gzip trailer.
	NewWriter(w io.Writer) (io.WriteCloser, error)
}

// ParallelGzip compresses with klauspost/pgzip, splitting input into blocks
// compressed on multiple goroutines. Output is standard gzip.
type ParallelGzip struct {
	threads int
}

// pgzip block size. Alignment files run tens to hundreds of megabytes, so
// 1 MiB blocks keep all workers busy without excessive buffering.
const parallelBlockSize = 1 << 20

func (c *ParallelGzip) Name() string { return "pgzip" }

func (c *ParallelGzip) NewWriter(w io.Writer) (io.WriteCloser, error) {
	gz := pgzip.NewWriter(w)
	if err := gz.SetConcurrency(parallelBlockSize, c.threads); err != nil {
		_ = gz.Close()
		return nil, err
	}
	return gz, nil
}

// StdGzip is the single-threaded fallback using compress/gzip.
type StdGzip struct{}

func (StdGzip) Name() string { return "gzip" }

func (StdGzip) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return gzip.NewWriter(w), nil
}

// SelectCompressor picks the parallel implementation when more than one
// compression thread is requested, otherwise the stdlib fallback.
func SelectCompressor(threads int) Compressor {
	if threads > 1 {
		return &ParallelGzip{threads: threads}
	}
	return StdGzip{}
}
