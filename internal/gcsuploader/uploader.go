// Package gcsuploader stores batch artifacts in Google Cloud Storage.
package gcsuploader

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

const uploadTimeout = 2 * time.Minute

// GCSArtifactStore uploads batch input files under a bucket prefix and
// reads batch output back by gs:// URI.
type GCSArtifactStore struct {
	client *storage.Client
	reader objectReader
	bucket string
	prefix string
}

// NewGCSArtifactStore creates a store with its own storage client. It
// assumes Application Default Credentials are configured.
func NewGCSArtifactStore(ctx context.Context, bucket, prefix string) (*GCSArtifactStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewGCSArtifactStore: create storage client: %w", err)
	}
	return NewGCSArtifactStoreWithClient(client, bucket, prefix), nil
}

// NewGCSArtifactStoreWithClient creates a store around an existing client.
func NewGCSArtifactStoreWithClient(client *storage.Client, bucket, prefix string) *GCSArtifactStore {
	return &GCSArtifactStore{
		client: client,
		reader: clientReader{client: client},
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

// Close releases the storage client.
func (s *GCSArtifactStore) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

// ObjectName returns the object path name is stored under.
func (s *GCSArtifactStore) ObjectName(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// OutputPrefix returns the gs:// URI batch output should be written under.
func (s *GCSArtifactStore) OutputPrefix() string {
	return BuildGCSURI(s.bucket, s.prefix)
}

// Upload writes data to the bucket and returns its gs:// URI.
func (s *GCSArtifactStore) Upload(ctx context.Context, name string, data []byte) (string, error) {
	objectName := s.ObjectName(name)

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = "application/jsonl"

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("GCSArtifactStore.Upload: write %s: %w", objectName, err)
	}
	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("GCSArtifactStore.Upload: finalize %s: %w", objectName, err)
	}

	return BuildGCSURI(s.bucket, objectName), nil
}

// BuildGCSURI joins a bucket and object path into a gs:// URI.
func BuildGCSURI(bucket, object string) string {
	object = strings.TrimPrefix(object, "/")
	if object == "" {
		return "gs://" + bucket
	}
	return "gs://" + bucket + "/" + object
}

// ParseGCSURI splits gs://bucket/path into bucket and path. The path may be
// empty when the URI names a whole bucket.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	// uri example: gs://my-bucket/path/to/file.jsonl
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}

	trimmed := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if parts[0] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no bucket): %s", uri)
	}
	if len(parts) == 1 {
		return parts[0], "", nil
	}
	return parts[0], strings.TrimSuffix(parts[1], "/"), nil
}

// ExtractFilenameFromGCSURI extracts the filename from a GCS URI.
// e.g., "gs://bucket/folder/file.csv" → "file.csv"
func ExtractFilenameFromGCSURI(uri string) string {
	trimmed := strings.TrimPrefix(uri, "gs://")

	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 {
		return trimmed
	}

	return path.Base(parts[1])
}
