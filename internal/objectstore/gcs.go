package objectstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"github.com/googleapis/gax-go/v2"
)

// GCSOptions tunes the GCS store.
type GCSOptions struct {
	// ChunkSize is the resumable upload chunk size; 0 keeps the SDK default.
	ChunkSize      int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Logger         *slog.Logger
}

// GCSStore stores objects in one Google Cloud Storage bucket.
type GCSStore struct {
	bucket     *storage.BucketHandle
	bucketName string
	chunkSize  int
	logger     *slog.Logger
}

// NewGCSStore wraps a bucket handle. The SDK retryer is limited to
// idempotent calls; whole-upload retries are left to the caller.
func NewGCSStore(bucket *storage.BucketHandle, bucketName string, opts GCSOptions) *GCSStore {
	backoff := gax.Backoff{
		Initial:    opts.InitialBackoff,
		Max:        opts.MaxBackoff,
		Multiplier: 2,
	}
	if backoff.Initial <= 0 {
		backoff.Initial = time.Second
	}
	if backoff.Max <= 0 {
		backoff.Max = 30 * time.Second
	}

	return &GCSStore{
		bucket: bucket.Retryer(
			storage.WithBackoff(backoff),
			storage.WithPolicy(storage.RetryIdempotent),
		),
		bucketName: bucketName,
		chunkSize:  opts.ChunkSize,
		logger:     opts.Logger,
	}
}

// Upload streams localPath to objectPath. The local file is opened before
// any request is made, so a missing file never creates an object.
func (s *GCSStore) Upload(ctx context.Context, objectPath, localPath string) (*Object, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("open video: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat video: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	contentType := ContentTypeFor(localPath)
	w := s.bucket.Object(objectPath).NewWriter(ctx)
	w.ContentType = contentType
	if s.chunkSize > 0 {
		w.ChunkSize = s.chunkSize
	}

	start := time.Now()
	if _, err := io.Copy(w, f); err != nil {
		// Cancelling the writer's context aborts the upload.
		cancel()
		_ = w.Close()
		return nil, fmt.Errorf("upload write failed for %q: %w", objectPath, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("upload close failed for %q: %w", objectPath, err)
	}

	obj := &Object{
		Bucket:      s.bucketName,
		Path:        objectPath,
		Size:        info.Size(),
		ContentType: contentType,
	}
	if attrs := w.Attrs(); attrs != nil {
		obj.Size = attrs.Size
		obj.Generation = attrs.Generation
	}

	if s.logger != nil {
		s.logger.Info("object uploaded",
			"bucket", s.bucketName,
			"object", objectPath,
			"bytes", obj.Size,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return obj, nil
}

// MakePublic adds an allUsers READER entry to the object ACL.
func (s *GCSStore) MakePublic(ctx context.Context, objectPath string) error {
	acl := s.bucket.Object(objectPath).ACL()
	if err := acl.Set(ctx, storage.AllUsers, storage.RoleReader); err != nil {
		return fmt.Errorf("set public ACL on %q: %w", objectPath, err)
	}
	return nil
}

func (s *GCSStore) PublicURL(objectPath string) string {
	return PublicURL(s.bucketName, objectPath)
}
