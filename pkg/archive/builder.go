// Package archive stages, packs, and verifies per-family MSA archives.
//
// An archive is an immutable gzip-compressed tarball named
// {family}_{YYYY_MM_DD}.tar.gz (numeric suffix on same-day collisions),
// holding one subdirectory per contributing job. The builder copies
// candidates into a scratch tree mirroring that layout, compresses it,
// verifies the result is listable, and only then surfaces index rows —
// a failed verification deletes the archive and commits nothing.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/foldops/msarchive/pkg/corpus"
	"github.com/foldops/msarchive/pkg/dedupindex"
)

// NameDateLayout is the date token embedded in archive filenames. It is
// deliberately a different token from the dashed date written to index rows.
const NameDateLayout = "2006_01_02"

// ErrVerifyFailed wraps verification failures; the partial archive has
// already been deleted when this is returned.
var ErrVerifyFailed = errors.New("archive: verification failed")

// Config configures a Builder.
type Config struct {
	// OutputDir is where finished archives are published. It must exist.
	OutputDir string

	// Compressor packs the tar stream. Defaults to the stdlib fallback.
	Compressor Compressor

	// Now supplies the archive date; overridable for tests.
	Now func() time.Time
}

// Result describes one successfully built archive.
type Result struct {
	// Name is the published archive filename.
	Name string

	// Path is the full path of the archive under OutputDir.
	Path string

	// FileCount is the number of alignment files packed.
	FileCount int

	// ArchivedBytes is the total uncompressed size staged.
	ArchivedBytes int64

	// CompressedBytes is the final size of the tarball.
	CompressedBytes int64

	// Rows are the index rows for this archive, ready to append after the
	// caller accepts the result.
	Rows []dedupindex.Row
}

// BytesSaved is the deduplication saving for reporting, clamped to zero.
func (r *Result) BytesSaved() int64 {
	if saved := r.ArchivedBytes - r.CompressedBytes; saved > 0 {
		return saved
	}
	return 0
}

// Builder packs candidate sets into archives.
type Builder struct {
	cfg Config
}

// NewBuilder validates cfg and returns a Builder.
func NewBuilder(cfg Config) (*Builder, error) {
	if cfg.OutputDir == "" {
		return nil, fmt.Errorf("archive: output dir is required")
	}
	if cfg.Compressor == nil {
		cfg.Compressor = StdGzip{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Builder{cfg: cfg}, nil
}

// Build packs candidates into one archive for family.
//
// An empty candidate set is a no-op: Build returns (nil, nil) and nothing
// is written. On success the archive is on disk and verified, and the
// caller commits the returned Rows to the index. On error no archive file
// remains and no rows are returned.
func (b *Builder) Build(ctx context.Context, family string, candidates []corpus.Candidate) (*Result, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	scratch, err := os.MkdirTemp(b.cfg.OutputDir, ".scratch-"+family+"-")
	if err != nil {
		return nil, fmt.Errorf("archive: create scratch: %w", err)
	}
	defer func() { _ = os.RemoveAll(scratch) }()

	staged, stagedBytes, err := b.stage(ctx, scratch, candidates)
	if err != nil {
		return nil, err
	}

	partial, err := b.pack(ctx, family, scratch, staged)
	if err != nil {
		return nil, err
	}

	if err := b.verify(partial, len(staged)); err != nil {
		_ = os.Remove(partial)
		return nil, fmt.Errorf("%w: %s: %v", ErrVerifyFailed, family, err)
	}

	info, err := os.Stat(partial)
	if err != nil {
		_ = os.Remove(partial)
		return nil, fmt.Errorf("archive: stat packed file: %w", err)
	}

	name, path, err := b.publish(family, partial)
	if err != nil {
		_ = os.Remove(partial)
		return nil, err
	}

	date := b.cfg.Now().Format(dedupindex.DateLayout)
	rows := make([]dedupindex.Row, 0, len(candidates))
	for _, c := range candidates {
		rows = append(rows, dedupindex.Row{
			ArchiveName:  name,
			JobName:      c.JobName,
			FileName:     c.FileName,
			FileSize:     c.Size,
			DateArchived: date,
		})
	}

	return &Result{
		Name:            name,
		Path:            path,
		FileCount:       len(candidates),
		ArchivedBytes:   stagedBytes,
		CompressedBytes: info.Size(),
		Rows:            rows,
	}, nil
}

// stagedFile is one entry of the scratch tree, named job/file.
type stagedFile struct {
	relPath string
	size    int64
}

// stage copies candidates into scratch/{job}/{file}. Originals are never
// moved: other processes may still be reading them, and they must survive
// for re-verification.
func (b *Builder) stage(ctx context.Context, scratch string, candidates []corpus.Candidate) ([]stagedFile, int64, error) {
	var staged []stagedFile
	var total int64

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		rel := filepath.Join(c.JobName, c.FileName)
		dst := filepath.Join(scratch, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return nil, 0, fmt.Errorf("archive: stage %s: %w", rel, err)
		}
		n, err := copyFile(dst, c.FilePath)
		if err != nil {
			return nil, 0, fmt.Errorf("archive: stage %s: %w", rel, err)
		}
		staged = append(staged, stagedFile{relPath: rel, size: n})
		total += n
	}
	return staged, total, nil
}

// pack writes the scratch tree into a gzip-compressed tar at a dot-prefixed
// partial path under OutputDir, returning that path.
func (b *Builder) pack(ctx context.Context, family, scratch string, staged []stagedFile) (string, error) {
	out, err := os.CreateTemp(b.cfg.OutputDir, "."+family+"-*.tar.gz.partial")
	if err != nil {
		return "", fmt.Errorf("archive: create partial: %w", err)
	}
	partial := out.Name()

	fail := func(err error) (string, error) {
		_ = out.Close()
		_ = os.Remove(partial)
		return "", err
	}

	gz, err := b.cfg.Compressor.NewWriter(out)
	if err != nil {
		return fail(fmt.Errorf("archive: compressor: %w", err))
	}
	tw := tar.NewWriter(gz)

	for _, sf := range staged {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		if err := writeTarEntry(tw, filepath.Join(scratch, sf.relPath), sf.relPath); err != nil {
			return fail(fmt.Errorf("archive: pack %s: %w", sf.relPath, err))
		}
	}

	if err := tw.Close(); err != nil {
		return fail(fmt.Errorf("archive: close tar: %w", err))
	}
	if err := gz.Close(); err != nil {
		return fail(fmt.Errorf("archive: close gzip: %w", err))
	}
	if err := out.Sync(); err != nil {
		return fail(fmt.Errorf("archive: sync: %w", err))
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(partial)
		return "", fmt.Errorf("archive: close: %w", err)
	}
	return partial, nil
}

// verify reads the packed archive back with the stdlib gzip reader and
// walks every tar entry. Reading with the standard decoder, not the
// compressor that wrote it, is what proves format compatibility.
func (b *Builder) verify(path string, wantFiles int) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer func() { _ = gz.Close() }()

	tr := tar.NewReader(gz)
	files := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if hdr.Typeflag == tar.TypeReg {
			if _, err := io.Copy(io.Discard, tr); err != nil {
				return err
			}
			files++
		}
	}
	if files != wantFiles {
		return fmt.Errorf("entry count mismatch: packed %d, expected %d", files, wantFiles)
	}
	return nil
}

// publish renames the verified partial to its final collision-free name.
// Same-day reruns get a numeric suffix rather than overwriting.
func (b *Builder) publish(family, partial string) (string, string, error) {
	base := family + "_" + b.cfg.Now().Format(NameDateLayout)

	for n := 0; ; n++ {
		name := base + ".tar.gz"
		if n > 0 {
			name = fmt.Sprintf("%s_%d.tar.gz", base, n)
		}
		path := filepath.Join(b.cfg.OutputDir, name)
		if _, err := os.Stat(path); err == nil {
			continue
		} else if !os.IsNotExist(err) {
			return "", "", fmt.Errorf("archive: probe name %s: %w", name, err)
		}
		if err := os.Rename(partial, path); err != nil {
			return "", "", fmt.Errorf("archive: publish %s: %w", name, err)
		}
		return name, path, nil
	}
}

func writeTarEntry(tw *tar.Writer, path, relPath string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, info.Name())
	if err != nil {
		return err
	}
	hdr.Name = filepath.ToSlash(relPath)
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	_, err = io.Copy(tw, f)
	return err
}

func copyFile(dst, src string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	if err != nil {
		_ = out.Close()
		return n, err
	}
	return n, out.Close()
}
