package gcsuploader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// objectReader is the read side of a bucket used by Download.
type objectReader interface {
	ReadObject(ctx context.Context, bucket, object string) ([]byte, error)
	ListObjects(ctx context.Context, bucket, prefix string) ([]string, error)
}

// Download returns the bytes behind a gs:// URI. A URI naming a single
// object is read directly. Otherwise it is treated as an output directory
// and every .jsonl object below it is concatenated in name order.
func (s *GCSArtifactStore) Download(ctx context.Context, uri string) ([]byte, error) {
	bucket, object, err := ParseGCSURI(uri)
	if err != nil {
		return nil, fmt.Errorf("GCSArtifactStore.Download: %w", err)
	}

	if object != "" {
		data, err := s.reader.ReadObject(ctx, bucket, object)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("GCSArtifactStore.Download: %w", err)
		}
	}

	listPrefix := ""
	if object != "" {
		listPrefix = object + "/"
	}
	all, err := s.reader.ListObjects(ctx, bucket, listPrefix)
	if err != nil {
		return nil, fmt.Errorf("GCSArtifactStore.Download: %w", err)
	}
	var names []string
	for _, name := range all {
		if IsOutputShard(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		return nil, fmt.Errorf("GCSArtifactStore.Download: no output found under %s: %w", uri, storage.ErrObjectNotExist)
	}

	var buf bytes.Buffer
	for _, name := range names {
		data, err := s.reader.ReadObject(ctx, bucket, name)
		if err != nil {
			return nil, fmt.Errorf("GCSArtifactStore.Download: %w", err)
		}
		buf.Write(data)
		if len(data) > 0 && data[len(data)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes(), nil
}

// clientReader reads objects through a storage client.
type clientReader struct {
	client *storage.Client
}

func (r clientReader) ReadObject(ctx context.Context, bucket, object string) ([]byte, error) {
	rc, err := r.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading object %s/%s: %w", bucket, object, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading bytes of %s/%s: %w", bucket, object, err)
	}
	return data, nil
}

func (r clientReader) ListObjects(ctx context.Context, bucket, prefix string) ([]string, error) {
	var names []string
	it := r.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("listing %s/%s: %w", bucket, prefix, err)
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}

// IsOutputShard reports whether an object holds batch output lines.
func IsOutputShard(name string) bool {
	return strings.HasSuffix(name, ".jsonl")
}
