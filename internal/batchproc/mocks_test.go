package batchproc_test

import (
	"context"
	"sync"

	"github.com/dvloznov/finance-categorizer/internal/batchproc"
)

// MockGateway is a mock implementation of batchproc.BatchGateway
type MockGateway struct {
	CreateBatchFunc func(ctx context.Context, req batchproc.CreateBatchRequest) (*batchproc.RemoteBatch, error)
	GetBatchFunc    func(ctx context.Context, name string) (*batchproc.RemoteBatch, error)

	mu       sync.Mutex
	created  []batchproc.CreateBatchRequest
	getCalls []string
}

func (m *MockGateway) CreateBatch(ctx context.Context, req batchproc.CreateBatchRequest) (*batchproc.RemoteBatch, error) {
	m.mu.Lock()
	m.created = append(m.created, req)
	m.mu.Unlock()
	if m.CreateBatchFunc != nil {
		return m.CreateBatchFunc(ctx, req)
	}
	return &batchproc.RemoteBatch{Name: "batches/remote-1", State: "JOB_STATE_PENDING"}, nil
}

func (m *MockGateway) GetBatch(ctx context.Context, name string) (*batchproc.RemoteBatch, error) {
	m.mu.Lock()
	m.getCalls = append(m.getCalls, name)
	m.mu.Unlock()
	if m.GetBatchFunc != nil {
		return m.GetBatchFunc(ctx, name)
	}
	return &batchproc.RemoteBatch{Name: name, State: "JOB_STATE_PENDING"}, nil
}

// MockArtifacts is a mock implementation of batchproc.ArtifactStore
type MockArtifacts struct {
	UploadFunc   func(ctx context.Context, name string, data []byte) (string, error)
	DownloadFunc func(ctx context.Context, locator string) ([]byte, error)

	mu        sync.Mutex
	uploads   map[string][]byte
	downloads []string
}

func (m *MockArtifacts) Upload(ctx context.Context, name string, data []byte) (string, error) {
	m.mu.Lock()
	if m.uploads == nil {
		m.uploads = make(map[string][]byte)
	}
	m.uploads[name] = data
	m.mu.Unlock()
	if m.UploadFunc != nil {
		return m.UploadFunc(ctx, name, data)
	}
	return "files/" + name, nil
}

func (m *MockArtifacts) Download(ctx context.Context, locator string) ([]byte, error) {
	m.mu.Lock()
	m.downloads = append(m.downloads, locator)
	m.mu.Unlock()
	if m.DownloadFunc != nil {
		return m.DownloadFunc(ctx, locator)
	}
	return nil, nil
}
