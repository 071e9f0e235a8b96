// Package blobstore persists imported DICOM files under their catalog storage
// path. The import pipeline and the download path only see Store; the backend is
// chosen once at startup.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/synaptica-ai/dicom-catalog/pkg/common/config"
)

const (
	BackendLocal = "local"
	BackendGCS   = "gcs"
)

var (
	ErrNotFound    = errors.New("blob not found")
	ErrUnavailable = errors.New("blob store unavailable")
)

// Store reads and writes whole blobs addressed by forward-slash relative paths.
type Store interface {
	// Write replaces the content at path with everything read from r and
	// returns the size the backend reports for the stored object.
	Write(ctx context.Context, path string, r io.Reader) (int64, error)
	// Read returns the full content at path, or ErrNotFound.
	Read(ctx context.Context, path string) ([]byte, error)
}

// New builds the Store selected by cfg.StorageBackend.
func New(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.StorageBackend {
	case BackendLocal, "":
		return NewLocalStore(cfg.StorageBasePath)
	case BackendGCS:
		return NewGCSStore(ctx, GCSOptions{
			Bucket:          cfg.GCSBucket,
			Endpoint:        cfg.GCSEndpoint,
			CredentialsFile: cfg.GCSCredentialsFile,
		})
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.StorageBackend)
	}
}

func unavailable(op, path string, err error) error {
	return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, op, path, err)
}
