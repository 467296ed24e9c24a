package uploader

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config configures a mirror run.
type Config struct {
	// Store is the upload destination (required).
	Store ObjectStore

	// SourceDir is the archive output directory to mirror (required).
	SourceDir string

	// Prefix is prepended to every object key, e.g. "msa-archives/2026".
	Prefix string

	// Include globs select files to mirror, relative to SourceDir.
	// Default: archives and the master index.
	Include []string

	// Concurrency is the number of parallel uploads. Default 4.
	Concurrency int

	// RateLimit caps store requests per second. Zero means unlimited.
	// Shared site gateways throttle hard, so runs from cluster login nodes
	// should set this.
	RateLimit float64

	// AlwaysUpload lists relative paths re-uploaded even when the remote
	// size matches, for files that are rewritten in place. Default:
	// the master index.
	AlwaysUpload []string

	Logger *zap.Logger
}

// DefaultInclude matches published archives and the master index.
var DefaultInclude = []string{"*.tar.gz", "master_index.csv"}

// Summary aggregates one mirror run.
type Summary struct {
	Uploaded      int64
	Skipped       int64
	BytesUploaded int64
	Errors        int64
	Duration      time.Duration
}

// Uploader mirrors a directory of published archives to an ObjectStore.
type Uploader struct {
	cfg     Config
	limiter *rate.Limiter
	always  map[string]struct{}

	uploaded atomic.Int64
	skipped  atomic.Int64
	bytes    atomic.Int64
	errs     atomic.Int64
}

// New validates cfg and returns an Uploader.
func New(cfg Config) (*Uploader, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("uploader: store is required")
	}
	if cfg.SourceDir == "" {
		return nil, fmt.Errorf("uploader: source dir is required")
	}
	if len(cfg.Include) == 0 {
		cfg.Include = DefaultInclude
	}
	for _, pattern := range cfg.Include {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("uploader: invalid include pattern %q", pattern)
		}
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.AlwaysUpload == nil {
		cfg.AlwaysUpload = []string{"master_index.csv"}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	u := &Uploader{
		cfg:     cfg,
		always:  make(map[string]struct{}, len(cfg.AlwaysUpload)),
		limiter: rate.NewLimiter(rate.Inf, 1),
	}
	for _, rel := range cfg.AlwaysUpload {
		u.always[rel] = struct{}{}
	}
	if cfg.RateLimit > 0 {
		u.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return u, nil
}

type mirrorItem struct {
	rel  string
	abs  string
	size int64
}

// Run mirrors SourceDir to the store and returns a summary. Per-file
// failures are counted and logged; only a failure to enumerate the source
// aborts the run.
func (u *Uploader) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()

	items, err := u.collect()
	if err != nil {
		return nil, err
	}

	workCh := make(chan mirrorItem)
	var wg sync.WaitGroup
	for i := 0; i < u.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range workCh {
				if err := u.mirrorOne(ctx, item); err != nil {
					u.errs.Add(1)
					u.cfg.Logger.Error("upload failed",
						zap.String("file", item.rel),
						zap.Error(err))
				}
			}
		}()
	}

feed:
	for _, item := range items {
		select {
		case workCh <- item:
		case <-ctx.Done():
			break feed
		}
	}
	close(workCh)
	wg.Wait()

	summary := &Summary{
		Uploaded:      u.uploaded.Load(),
		Skipped:       u.skipped.Load(),
		BytesUploaded: u.bytes.Load(),
		Errors:        u.errs.Load(),
		Duration:      time.Since(start),
	}
	return summary, ctx.Err()
}

// collect enumerates mirrorable files. Dot-prefixed names are never
// mirrored: partial archives, scratch dirs, and lock files all use the
// dot prefix convention.
func (u *Uploader) collect() ([]mirrorItem, error) {
	entries, err := os.ReadDir(u.cfg.SourceDir)
	if err != nil {
		return nil, fmt.Errorf("uploader: read source dir: %w", err)
	}

	var items []mirrorItem
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if !u.included(name) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		items = append(items, mirrorItem{
			rel:  name,
			abs:  filepath.Join(u.cfg.SourceDir, name),
			size: info.Size(),
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].rel < items[j].rel })
	return items, nil
}

func (u *Uploader) included(name string) bool {
	for _, pattern := range u.cfg.Include {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

func (u *Uploader) key(rel string) string {
	if u.cfg.Prefix == "" {
		return rel
	}
	return path.Join(u.cfg.Prefix, rel)
}

func (u *Uploader) mirrorOne(ctx context.Context, item mirrorItem) error {
	key := u.key(item.rel)

	if _, force := u.always[item.rel]; !force {
		if err := u.limiter.Wait(ctx); err != nil {
			return err
		}
		info, err := u.cfg.Store.Head(ctx, key)
		if err == nil && info.Size == item.size {
			u.skipped.Add(1)
			u.cfg.Logger.Debug("already mirrored", zap.String("key", key))
			return nil
		}
		if err != nil && !IsNotFound(err) {
			return err
		}
	}

	f, err := os.Open(item.abs)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if err := u.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := u.cfg.Store.PutObject(ctx, key, f, item.size); err != nil {
		return err
	}

	u.uploaded.Add(1)
	u.bytes.Add(item.size)
	u.cfg.Logger.Info("uploaded",
		zap.String("key", key),
		zap.Int64("bytes", item.size))
	return nil
}

// DrainReader consumes the remainder of r. Stores that require fully-read
// bodies on error paths can use this.
func DrainReader(r io.Reader) {
	_, _ = io.Copy(io.Discard, r)
}
