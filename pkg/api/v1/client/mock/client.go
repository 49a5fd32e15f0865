package mock

import (
	"context"
	"sync"

	"github.com/celestiaorg/crawlctl/pkg/api/v1/client"
	"github.com/celestiaorg/crawlctl/pkg/models"
)

// Method names accepted by CallCount
const (
	MethodAPIKey                = "APIKey"
	MethodGenerateAPIKey        = "GenerateAPIKey"
	MethodListCrawlTasks        = "ListCrawlTasks"
	MethodGetBrokenLinks        = "GetBrokenLinks"
	MethodCreateCrawlTask       = "CreateCrawlTask"
	MethodStartCrawl            = "StartCrawl"
	MethodUpdateCrawlTaskStatus = "UpdateCrawlTaskStatus"
	MethodDeleteCrawlTask       = "DeleteCrawlTask"
)

// IDCall records a call made with a task id
type IDCall struct {
	Ctx context.Context
	ID  int64
}

// StatusCall records a status update
type StatusCall struct {
	Ctx    context.Context
	ID     int64
	Status models.CrawlStatus
}

// CreateCall records a create call
type CreateCall struct {
	Ctx context.Context
	URL string
}

// MockClient implements the Client interface for testing. It is safe for
// concurrent use; read recorded calls through the accessor methods.
type MockClient struct {
	// Function fields that can be set to mock behavior
	APIKeyFn                func(ctx context.Context) (string, error)
	GenerateAPIKeyFn        func(ctx context.Context) (string, error)
	ListCrawlTasksFn        func(ctx context.Context) ([]models.CrawlTask, error)
	GetBrokenLinksFn        func(ctx context.Context, id int64) ([]models.BrokenLink, error)
	CreateCrawlTaskFn       func(ctx context.Context, url string) (*models.CrawlTask, error)
	StartCrawlFn            func(ctx context.Context, id int64) (*models.CrawlResponse, error)
	UpdateCrawlTaskStatusFn func(ctx context.Context, id int64, status models.CrawlStatus) error
	DeleteCrawlTaskFn       func(ctx context.Context, id int64) (string, error)

	mu                         sync.Mutex
	counts                     map[string]int
	createCrawlTaskCalls       []CreateCall
	startCrawlCalls            []IDCall
	updateCrawlTaskStatusCalls []StatusCall
	deleteCrawlTaskCalls       []IDCall
	getBrokenLinksCalls        []IDCall
}

// Ensure MockClient implements Client interface
var _ client.Client = (*MockClient)(nil)

func (m *MockClient) record(method string, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = make(map[string]int)
	}
	m.counts[method]++
	if fn != nil {
		fn()
	}
}

// CallCount returns how many times a method was called
func (m *MockClient) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[method]
}

// TotalCalls returns the number of calls across every method
func (m *MockClient) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.counts {
		total += n
	}
	return total
}

// CreateCrawlTaskCalls returns the recorded create calls
func (m *MockClient) CreateCrawlTaskCalls() []CreateCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CreateCall(nil), m.createCrawlTaskCalls...)
}

// StartCrawlCalls returns the recorded crawl calls
func (m *MockClient) StartCrawlCalls() []IDCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]IDCall(nil), m.startCrawlCalls...)
}

// UpdateCrawlTaskStatusCalls returns the recorded status updates
func (m *MockClient) UpdateCrawlTaskStatusCalls() []StatusCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]StatusCall(nil), m.updateCrawlTaskStatusCalls...)
}

// DeleteCrawlTaskCalls returns the recorded delete calls
func (m *MockClient) DeleteCrawlTaskCalls() []IDCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]IDCall(nil), m.deleteCrawlTaskCalls...)
}

// GetBrokenLinksCalls returns the recorded broken links calls
func (m *MockClient) GetBrokenLinksCalls() []IDCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]IDCall(nil), m.getBrokenLinksCalls...)
}

// APIKey mocks the APIKey method
func (m *MockClient) APIKey(ctx context.Context) (string, error) {
	m.record(MethodAPIKey, nil)
	if m.APIKeyFn != nil {
		return m.APIKeyFn(ctx)
	}
	return "mock-api-key", nil
}

// GenerateAPIKey mocks the GenerateAPIKey method
func (m *MockClient) GenerateAPIKey(ctx context.Context) (string, error) {
	m.record(MethodGenerateAPIKey, nil)
	if m.GenerateAPIKeyFn != nil {
		return m.GenerateAPIKeyFn(ctx)
	}
	return "mock-api-key", nil
}

// ListCrawlTasks mocks the ListCrawlTasks method
func (m *MockClient) ListCrawlTasks(ctx context.Context) ([]models.CrawlTask, error) {
	m.record(MethodListCrawlTasks, nil)
	if m.ListCrawlTasksFn != nil {
		return m.ListCrawlTasksFn(ctx)
	}
	return []models.CrawlTask{}, nil
}

// GetBrokenLinks mocks the GetBrokenLinks method
func (m *MockClient) GetBrokenLinks(ctx context.Context, id int64) ([]models.BrokenLink, error) {
	m.record(MethodGetBrokenLinks, func() {
		m.getBrokenLinksCalls = append(m.getBrokenLinksCalls, IDCall{Ctx: ctx, ID: id})
	})
	if m.GetBrokenLinksFn != nil {
		return m.GetBrokenLinksFn(ctx, id)
	}
	return []models.BrokenLink{}, nil
}

// CreateCrawlTask mocks the CreateCrawlTask method
func (m *MockClient) CreateCrawlTask(ctx context.Context, url string) (*models.CrawlTask, error) {
	m.record(MethodCreateCrawlTask, func() {
		m.createCrawlTaskCalls = append(m.createCrawlTaskCalls, CreateCall{Ctx: ctx, URL: url})
	})
	if m.CreateCrawlTaskFn != nil {
		return m.CreateCrawlTaskFn(ctx, url)
	}
	return &models.CrawlTask{ID: 1, URL: url, Status: models.CrawlStatusPending}, nil
}

// StartCrawl mocks the StartCrawl method
func (m *MockClient) StartCrawl(ctx context.Context, id int64) (*models.CrawlResponse, error) {
	m.record(MethodStartCrawl, func() {
		m.startCrawlCalls = append(m.startCrawlCalls, IDCall{Ctx: ctx, ID: id})
	})
	if m.StartCrawlFn != nil {
		return m.StartCrawlFn(ctx, id)
	}
	return &models.CrawlResponse{Message: "Crawl completed", Status: string(models.CrawlStatusSuccess)}, nil
}

// UpdateCrawlTaskStatus mocks the UpdateCrawlTaskStatus method
func (m *MockClient) UpdateCrawlTaskStatus(ctx context.Context, id int64, status models.CrawlStatus) error {
	m.record(MethodUpdateCrawlTaskStatus, func() {
		m.updateCrawlTaskStatusCalls = append(m.updateCrawlTaskStatusCalls, StatusCall{Ctx: ctx, ID: id, Status: status})
	})
	if m.UpdateCrawlTaskStatusFn != nil {
		return m.UpdateCrawlTaskStatusFn(ctx, id, status)
	}
	return nil
}

// DeleteCrawlTask mocks the DeleteCrawlTask method
func (m *MockClient) DeleteCrawlTask(ctx context.Context, id int64) (string, error) {
	m.record(MethodDeleteCrawlTask, func() {
		m.deleteCrawlTaskCalls = append(m.deleteCrawlTaskCalls, IDCall{Ctx: ctx, ID: id})
	})
	if m.DeleteCrawlTaskFn != nil {
		return m.DeleteCrawlTaskFn(ctx, id)
	}
	return "Deleted", nil
}
