// Package uploader mirrors the archive output directory to object storage.
//
// Archives are immutable once published, so mirroring is cheap: an object
// whose remote size matches the local file is skipped. The master index is
// small and rewritten in place, so it is always re-uploaded.
package uploader

import (
	"context"
	"errors"
	"io"
)

// Sentinel errors mapped from store-specific failures.
var (
	ErrNotFound           = errors.New("uploader: object not found")
	ErrAccessDenied       = errors.New("uploader: access denied")
	ErrInvalidCredentials = errors.New("uploader: invalid credentials")
	ErrThrottled          = errors.New("uploader: request throttled")
	ErrStoreUnavailable   = errors.New("uploader: store unavailable")
)

// ObjectInfo is the remote metadata used for skip decisions.
type ObjectInfo struct {
	Key  string
	Size int64
	ETag string
}

// ObjectStore is the destination of a mirror run.
type ObjectStore interface {
	// Head returns metadata for key, or an error wrapping ErrNotFound.
	Head(ctx context.Context, key string) (*ObjectInfo, error)

	// PutObject uploads body under key. body is read exactly once.
	PutObject(ctx context.Context, key string, body io.Reader, contentLength int64) error
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
