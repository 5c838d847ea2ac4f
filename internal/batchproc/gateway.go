package batchproc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dvloznov/finance-categorizer/internal/config"
	"google.golang.org/genai"
)

const (
	defaultRequestTimeout = 60 * time.Second
	jsonlMIMEType         = "application/jsonl"
)

// NewGenAIClient creates a genai client for the configured backend. The
// Gemini API backend falls back to GEMINI_API_KEY / GOOGLE_API_KEY when no
// key is configured; Vertex AI uses Application Default Credentials.
func NewGenAIClient(ctx context.Context, cfg config.GatewayConfig) (*genai.Client, error) {
	cc := &genai.ClientConfig{}
	switch cfg.Backend {
	case config.GatewayVertex:
		cc.Backend = genai.BackendVertexAI
		cc.Project = cfg.Project
		cc.Location = cfg.Location
	default:
		cc.Backend = genai.BackendGeminiAPI
		cc.APIKey = cfg.APIKey
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("NewGenAIClient: create genai client: %w", err)
	}
	return client, nil
}

// RetryPolicy bounds remote calls: each attempt gets Timeout, and transient
// failures are retried MaxRetries times with exponential backoff.
type RetryPolicy struct {
	Timeout    time.Duration
	MaxRetries int
	// NewBackOff overrides the backoff schedule. Nil means exponential.
	NewBackOff func() backoff.BackOff
}

// IsRetryable reports whether err is a transient remote failure: HTTP 429,
// any 5xx, or a per-attempt deadline.
func IsRetryable(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func callWithRetry[T any](ctx context.Context, p RetryPolicy, op func(context.Context) (T, error)) (T, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	var b backoff.BackOff
	if p.NewBackOff != nil {
		b = p.NewBackOff()
	} else {
		b = backoff.NewExponentialBackOff()
	}

	return backoff.Retry(ctx, func() (T, error) {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		v, err := op(callCtx)
		if err != nil && !IsRetryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(p.MaxRetries+1)),
	)
}

// GenAIGateway registers and polls batch jobs through the genai Batches API.
type GenAIGateway struct {
	client *genai.Client
	model  string
	vertex bool
	retry  RetryPolicy
}

// NewGenAIGateway creates a gateway. With vertex set, input and output are
// GCS locations; otherwise input is a Files API name.
func NewGenAIGateway(client *genai.Client, model string, vertex bool, retry RetryPolicy) *GenAIGateway {
	return &GenAIGateway{
		client: client,
		model:  model,
		vertex: vertex,
		retry:  retry,
	}
}

// CreateBatch implements BatchGateway.
func (g *GenAIGateway) CreateBatch(ctx context.Context, req CreateBatchRequest) (*RemoteBatch, error) {
	src := &genai.BatchJobSource{}
	jobCfg := &genai.CreateBatchJobConfig{DisplayName: req.DisplayName}
	if g.vertex {
		src.Format = "jsonl"
		src.GCSURI = []string{req.InputLocator}
		jobCfg.Dest = &genai.BatchJobDestination{Format: "jsonl", GCSURI: req.OutputPrefix}
	} else {
		src.FileName = req.InputLocator
	}

	job, err := callWithRetry(ctx, g.retry, func(ctx context.Context) (*genai.BatchJob, error) {
		return g.client.Batches.Create(ctx, g.model, src, jobCfg)
	})
	if err != nil {
		return nil, fmt.Errorf("GenAIGateway.CreateBatch: %w", err)
	}
	return remoteBatch(job), nil
}

// GetBatch implements BatchGateway.
func (g *GenAIGateway) GetBatch(ctx context.Context, name string) (*RemoteBatch, error) {
	job, err := callWithRetry(ctx, g.retry, func(ctx context.Context) (*genai.BatchJob, error) {
		return g.client.Batches.Get(ctx, name, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("GenAIGateway.GetBatch: %s: %w", name, err)
	}
	return remoteBatch(job), nil
}

func remoteBatch(job *genai.BatchJob) *RemoteBatch {
	rb := &RemoteBatch{Name: job.Name, State: string(job.State)}
	if job.Dest != nil {
		if job.Dest.FileName != "" {
			rb.OutputLocator = job.Dest.FileName
		} else if job.Dest.GCSURI != "" {
			rb.OutputLocator = job.Dest.GCSURI
		}
	}
	return rb
}

// GenAIFileStore keeps batch artifacts in the Gemini Files API.
type GenAIFileStore struct {
	client *genai.Client
	retry  RetryPolicy
}

// NewGenAIFileStore creates a Files API artifact store.
func NewGenAIFileStore(client *genai.Client, retry RetryPolicy) *GenAIFileStore {
	return &GenAIFileStore{client: client, retry: retry}
}

// Upload implements ArtifactStore and returns the file name, e.g. files/abc123.
func (s *GenAIFileStore) Upload(ctx context.Context, name string, data []byte) (string, error) {
	file, err := callWithRetry(ctx, s.retry, func(ctx context.Context) (*genai.File, error) {
		return s.client.Files.Upload(ctx, bytes.NewReader(data), &genai.UploadFileConfig{
			MIMEType:    jsonlMIMEType,
			DisplayName: name,
		})
	})
	if err != nil {
		return "", fmt.Errorf("GenAIFileStore.Upload: %s: %w", name, err)
	}
	return file.Name, nil
}

// Download implements ArtifactStore.
func (s *GenAIFileStore) Download(ctx context.Context, locator string) ([]byte, error) {
	data, err := callWithRetry(ctx, s.retry, func(ctx context.Context) ([]byte, error) {
		file, err := s.client.Files.Get(ctx, locator, nil)
		if err != nil {
			return nil, err
		}
		return s.client.Files.Download(ctx, genai.NewDownloadURIFromFile(file), nil)
	})
	if err != nil {
		return nil, fmt.Errorf("GenAIFileStore.Download: %s: %w", locator, err)
	}
	return data, nil
}

// Ensure adapters implement the interfaces.
var (
	_ BatchGateway  = (*GenAIGateway)(nil)
	_ ArtifactStore = (*GenAIFileStore)(nil)
)
