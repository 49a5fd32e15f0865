package client

import (
	"context"
	"net/http"

	"github.com/celestiaorg/crawlctl/pkg/api/v1/routes"
	"github.com/celestiaorg/crawlctl/pkg/models"
)

// ListCrawlTasks retrieves every crawl task in server order
func (c *APIClient) ListCrawlTasks(ctx context.Context) ([]models.CrawlTask, error) {
	var tasks []models.CrawlTask
	if err := c.executeRequest(ctx, "list crawl tasks", http.MethodGet, routes.ListCrawlTasksURL(), nil, &tasks); err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []models.CrawlTask{}
	}
	return tasks, nil
}

// GetBrokenLinks retrieves the broken links found by the last crawl of a task
func (c *APIClient) GetBrokenLinks(ctx context.Context, id int64) ([]models.BrokenLink, error) {
	var links []models.BrokenLink
	if err := c.executeRequest(ctx, "get broken links", http.MethodGet, routes.GetBrokenLinksURL(id), nil, &links); err != nil {
		return nil, err
	}
	if links == nil {
		links = []models.BrokenLink{}
	}
	return links, nil
}

// CreateCrawlTask registers a URL and returns the server's record
func (c *APIClient) CreateCrawlTask(ctx context.Context, url string) (*models.CrawlTask, error) {
	var task models.CrawlTask
	req := models.CreateCrawlTaskRequest{URL: url}
	if err := c.executeRequest(ctx, "create crawl task", http.MethodPost, routes.CreateCrawlTaskURL(), req, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// StartCrawl runs a crawl and blocks until the service reports completion.
// Cancelling ctx abandons the call.
func (c *APIClient) StartCrawl(ctx context.Context, id int64) (*models.CrawlResponse, error) {
	var resp models.CrawlResponse
	if err := c.executeRequestWithTimeout(ctx, "start crawl", http.MethodPost, routes.StartCrawlURL(id), nil, &resp, c.crawlTimeout); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateCrawlTaskStatus sets the status of a crawl task
func (c *APIClient) UpdateCrawlTaskStatus(ctx context.Context, id int64, status models.CrawlStatus) error {
	req := models.UpdateStatusRequest{Status: status}
	return c.executeRequest(ctx, "update crawl task status", http.MethodPatch, routes.UpdateCrawlTaskStatusURL(id), req, nil)
}

// DeleteCrawlTask deletes a crawl task and returns the service's message
func (c *APIClient) DeleteCrawlTask(ctx context.Context, id int64) (string, error) {
	var resp models.MessageResponse
	if err := c.executeRequest(ctx, "delete crawl task", http.MethodDelete, routes.DeleteCrawlTaskURL(id), nil, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}
