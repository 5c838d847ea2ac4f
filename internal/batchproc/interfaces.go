package batchproc

import "context"

// ArtifactStore stores batch input files and fetches batch output.
type ArtifactStore interface {
	// Upload stores data under name and returns a locator the gateway
	// accepts as batch input.
	Upload(ctx context.Context, name string, data []byte) (string, error)

	// Download returns the content behind locator. A locator may name a
	// single file or a prefix holding several output shards.
	Download(ctx context.Context, locator string) ([]byte, error)
}

// CreateBatchRequest registers one remote batch job.
type CreateBatchRequest struct {
	DisplayName  string
	InputLocator string
	// OutputPrefix is where the remote service writes results. Only
	// backends that write to a bucket use it.
	OutputPrefix string
}

// RemoteBatch is the remote view of a batch job.
type RemoteBatch struct {
	Name          string
	State         string // raw state, e.g. JOB_STATE_RUNNING
	OutputLocator string // empty until results are available
}

// BatchGateway registers and polls remote batch jobs.
type BatchGateway interface {
	CreateBatch(ctx context.Context, req CreateBatchRequest) (*RemoteBatch, error)
	GetBatch(ctx context.Context, name string) (*RemoteBatch, error)
}
