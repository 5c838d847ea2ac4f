package gcsuploader

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockObjectReader is a mock implementation of objectReader for testing.
type MockObjectReader struct {
	ReadObjectFunc  func(ctx context.Context, bucket, object string) ([]byte, error)
	ListObjectsFunc func(ctx context.Context, bucket, prefix string) ([]string, error)
}

func (m *MockObjectReader) ReadObject(ctx context.Context, bucket, object string) ([]byte, error) {
	if m.ReadObjectFunc != nil {
		return m.ReadObjectFunc(ctx, bucket, object)
	}
	return nil, storage.ErrObjectNotExist
}

func (m *MockObjectReader) ListObjects(ctx context.Context, bucket, prefix string) ([]string, error) {
	if m.ListObjectsFunc != nil {
		return m.ListObjectsFunc(ctx, bucket, prefix)
	}
	return nil, nil
}

func newTestStore(reader objectReader) *GCSArtifactStore {
	return &GCSArtifactStore{reader: reader, bucket: "bucket", prefix: "categorizer"}
}

func TestDownload_SingleObject(t *testing.T) {
	reader := &MockObjectReader{
		ReadObjectFunc: func(ctx context.Context, bucket, object string) ([]byte, error) {
			assert.Equal(t, "bucket", bucket)
			assert.Equal(t, "output/b1/predictions.jsonl", object)
			return []byte("line\n"), nil
		},
		ListObjectsFunc: func(ctx context.Context, bucket, prefix string) ([]string, error) {
			t.Fatal("an existing object must not be listed")
			return nil, nil
		},
	}

	data, err := newTestStore(reader).Download(context.Background(), "gs://bucket/output/b1/predictions.jsonl")
	require.NoError(t, err)
	assert.Equal(t, "line\n", string(data))
}

func TestDownload_ConcatenatesShardsInNameOrder(t *testing.T) {
	objects := map[string]string{
		"output/b1/prediction-00002.jsonl": `{"key":"c"}`,
		"output/b1/prediction-00001.jsonl": "{\"key\":\"a\"}\n{\"key\":\"b\"}\n",
		"output/b1/incremental/state.json": `{"ignored":true}`,
		"output/b1/prediction-00003.jsonl": "",
	}
	var listed string
	reader := &MockObjectReader{
		ReadObjectFunc: func(ctx context.Context, bucket, object string) ([]byte, error) {
			data, ok := objects[object]
			if !ok {
				return nil, storage.ErrObjectNotExist
			}
			return []byte(data), nil
		},
		ListObjectsFunc: func(ctx context.Context, bucket, prefix string) ([]string, error) {
			listed = prefix
			var names []string
			for name := range objects {
				names = append(names, name)
			}
			return names, nil
		},
	}

	data, err := newTestStore(reader).Download(context.Background(), "gs://bucket/output/b1/")
	require.NoError(t, err)
	assert.Equal(t, "output/b1/", listed)
	assert.Equal(t, "{\"key\":\"a\"}\n{\"key\":\"b\"}\n{\"key\":\"c\"}\n", string(data))
}

func TestDownload_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("no shards", func(t *testing.T) {
		reader := &MockObjectReader{
			ListObjectsFunc: func(ctx context.Context, bucket, prefix string) ([]string, error) {
				return []string{"output/b1/state.json"}, nil
			},
		}
		_, err := newTestStore(reader).Download(ctx, "gs://bucket/output/b1")
		assert.ErrorIs(t, err, storage.ErrObjectNotExist)
	})

	t.Run("read failure is not treated as a directory", func(t *testing.T) {
		reader := &MockObjectReader{
			ReadObjectFunc: func(ctx context.Context, bucket, object string) ([]byte, error) {
				return nil, errors.New("permission denied")
			},
		}
		_, err := newTestStore(reader).Download(ctx, "gs://bucket/output/b1.jsonl")
		assert.ErrorContains(t, err, "permission denied")
	})

	t.Run("listing failure", func(t *testing.T) {
		reader := &MockObjectReader{
			ListObjectsFunc: func(ctx context.Context, bucket, prefix string) ([]string, error) {
				return nil, errors.New("quota exceeded")
			},
		}
		_, err := newTestStore(reader).Download(ctx, "gs://bucket/output/b1")
		assert.ErrorContains(t, err, "quota exceeded")
	})

	t.Run("invalid uri", func(t *testing.T) {
		_, err := newTestStore(&MockObjectReader{}).Download(ctx, "s3://bucket/x")
		assert.Error(t, err)
	})
}
