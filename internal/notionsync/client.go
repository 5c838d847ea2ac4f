package notionsync

import (
	"context"
	"fmt"
	"time"

	"github.com/jomei/notionapi"
	"golang.org/x/time/rate"
)

// Notion allows an average of three requests per second per integration.
const (
	defaultRequestInterval = 350 * time.Millisecond
	defaultRequestBurst    = 3
)

// NotionClient is the concrete implementation of NotionService using the
// Notion SDK. Every call waits on a shared rate limiter.
type NotionClient struct {
	client  *notionapi.Client
	limiter *rate.Limiter
}

// NewNotionClient creates a new NotionClient with the provided API token.
func NewNotionClient(token string) *NotionClient {
	return &NotionClient{
		client:  notionapi.NewClient(notionapi.Token(token)),
		limiter: rate.NewLimiter(rate.Every(defaultRequestInterval), defaultRequestBurst),
	}
}

func (n *NotionClient) wait(ctx context.Context, op string) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: waiting for rate limiter: %w", op, err)
	}
	return nil
}

// CreatePage creates a new page in a Notion database with the given properties.
func (n *NotionClient) CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
	if err := n.wait(ctx, "CreatePage"); err != nil {
		return nil, err
	}

	req := &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(databaseID),
		},
		Properties: properties,
	}

	page, err := n.client.Page.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("CreatePage: %w", err)
	}
	return page, nil
}

// UpdatePage updates an existing Notion page with the given properties.
func (n *NotionClient) UpdatePage(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error) {
	if err := n.wait(ctx, "UpdatePage"); err != nil {
		return nil, err
	}

	page, err := n.client.Page.Update(ctx, notionapi.PageID(pageID), &notionapi.PageUpdateRequest{
		Properties: properties,
	})
	if err != nil {
		return nil, fmt.Errorf("UpdatePage: %w", err)
	}
	return page, nil
}

// QueryDatabase queries a Notion database with the given filter.
func (n *NotionClient) QueryDatabase(ctx context.Context, databaseID string, filter *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	if err := n.wait(ctx, "QueryDatabase"); err != nil {
		return nil, err
	}

	resp, err := n.client.Database.Query(ctx, notionapi.DatabaseID(databaseID), filter)
	if err != nil {
		return nil, fmt.Errorf("QueryDatabase: %w", err)
	}
	return resp, nil
}

var _ NotionService = (*NotionClient)(nil)
