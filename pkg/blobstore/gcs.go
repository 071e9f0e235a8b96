package blobstore

import (
	"context"
	"errors"
	"io"

	"cloud.google.com/go/storage"
	"github.com/synaptica-ai/dicom-catalog/pkg/common/logger"
	"google.golang.org/api/option"
)

type GCSOptions struct {
	Bucket string
	// Endpoint overrides the API endpoint, e.g. for a local emulator. Without
	// credentials the client then skips authentication.
	Endpoint        string
	CredentialsFile string
}

// GCSStore keeps blobs as objects in a single Cloud Storage bucket, using the
// storage path as the object name.
type GCSStore struct {
	client *storage.Client
	bucket *storage.BucketHandle
}

func NewGCSStore(ctx context.Context, opts GCSOptions) (*GCSStore, error) {
	if opts.Bucket == "" {
		return nil, errors.New("gcs blob store requires a bucket")
	}

	var clientOpts []option.ClientOption
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint))
	}
	switch {
	case opts.CredentialsFile != "":
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	case opts.Endpoint != "":
		clientOpts = append(clientOpts, option.WithoutAuthentication())
	}

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, unavailable("connect", opts.Bucket, err)
	}

	logger.Log.WithField("bucket", opts.Bucket).Info("Using GCS blob store")
	return &GCSStore{client: client, bucket: client.Bucket(opts.Bucket)}, nil
}

// Write uploads r as the object at path. A failed copy cancels the upload
// instead of closing the writer, since Close would commit the partial object.
func (s *GCSStore) Write(ctx context.Context, path string, r io.Reader) (int64, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := s.bucket.Object(path).NewWriter(ctx)
	w.ContentType = "application/dicom"

	if _, err := io.Copy(w, r); err != nil {
		cancel()
		return 0, unavailable("write", path, err)
	}
	if err := w.Close(); err != nil {
		return 0, unavailable("write", path, err)
	}
	return w.Attrs().Size, nil
}

func (s *GCSStore) Read(ctx context.Context, path string) ([]byte, error) {
	rd, err := s.bucket.Object(path).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("read", path, err)
	}
	defer rd.Close()

	data, err := io.ReadAll(rd)
	if err != nil {
		return nil, unavailable("read", path, err)
	}
	return data, nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}
