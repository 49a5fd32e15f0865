// Package client provides the API client for interacting with the crawl service
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	fiber "github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"golang.org/x/sync/singleflight"

	"github.com/celestiaorg/crawlctl/internal/metrics"
	"github.com/celestiaorg/crawlctl/pkg/api/v1/routes"
	"github.com/celestiaorg/crawlctl/pkg/models"
)

// DefaultTimeout is the default timeout for API requests
const DefaultTimeout = 30 * time.Second

// DefaultCrawlTimeout is the default timeout for a crawl call
const DefaultCrawlTimeout = 5 * time.Minute

// RequestIDHeader carries a unique id per call
const RequestIDHeader = "X-Request-ID"

// Client is the interface for API client
type Client interface {
	// Credential
	APIKey(ctx context.Context) (string, error)
	GenerateAPIKey(ctx context.Context) (string, error)

	// Crawl tasks
	ListCrawlTasks(ctx context.Context) ([]models.CrawlTask, error)
	GetBrokenLinks(ctx context.Context, id int64) ([]models.BrokenLink, error)
	CreateCrawlTask(ctx context.Context, url string) (*models.CrawlTask, error)
	StartCrawl(ctx context.Context, id int64) (*models.CrawlResponse, error)
	UpdateCrawlTaskStatus(ctx context.Context, id int64, status models.CrawlStatus) error
	DeleteCrawlTask(ctx context.Context, id int64) (string, error)
}

var _ Client = &APIClient{}

// KeyStore persists the API key between calls
type KeyStore interface {
	Get(ctx context.Context) (string, error)
	Set(ctx context.Context, value string) error
}

// Options contains configuration options for the API client
type Options struct {
	// BaseURL is the base URL of the crawl service
	BaseURL string

	// Timeout is the request timeout
	Timeout time.Duration

	// CrawlTimeout is the timeout of the crawl call
	CrawlTimeout time.Duration

	// Credentials stores the API key; nil keeps it in memory only
	Credentials KeyStore
}

// DefaultOptions returns the default client options
func DefaultOptions() *Options {
	return &Options{
		BaseURL:      routes.DefaultBaseURL,
		Timeout:      DefaultTimeout,
		CrawlTimeout: DefaultCrawlTimeout,
	}
}

// APIClient implements the Client interface
type APIClient struct {
	baseURL      string
	timeout      time.Duration
	crawlTimeout time.Duration
	keys         KeyStore

	mu     sync.RWMutex
	apiKey string
	group  singleflight.Group
}

// NewClient creates a new API client with the given options
func NewClient(opts *Options) (*APIClient, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	u, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL: unsupported scheme %q", u.Scheme)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	crawlTimeout := opts.CrawlTimeout
	if crawlTimeout <= 0 {
		crawlTimeout = DefaultCrawlTimeout
	}

	return &APIClient{
		baseURL:      opts.BaseURL,
		timeout:      timeout,
		crawlTimeout: crawlTimeout,
		keys:         opts.Credentials,
	}, nil
}

// createAgent creates a new Fiber Agent for the given method and endpoint
func (c *APIClient) createAgent(ctx context.Context, method, endpoint, apiKey string, body interface{}, timeout time.Duration) (*fiber.Agent, error) {
	fullURL := c.baseURL + endpoint

	var agent *fiber.Agent
	switch method {
	case http.MethodGet:
		agent = fiber.Get(fullURL)
	case http.MethodPost:
		agent = fiber.Post(fullURL)
	case http.MethodPatch:
		agent = fiber.Patch(fullURL)
	case http.MethodDelete:
		agent = fiber.Delete(fullURL)
	default:
		return nil, fmt.Errorf("unsupported HTTP method: %s", method)
	}

	// Set timeout from context or client default
	if deadline, ok := ctx.Deadline(); ok {
		agent.Timeout(time.Until(deadline))
	} else {
		agent.Timeout(timeout)
	}

	agent.Set("Content-Type", "application/json")
	agent.Set("Accept", "application/json")
	agent.Set(RequestIDHeader, uuid.NewString())
	if apiKey != "" {
		agent.Set("Authorization", "Bearer "+apiKey)
	}

	if body != nil {
		agent.JSON(body)
	}

	return agent, nil
}

type agentResult struct {
	statusCode int
	body       []byte
	errs       []error
}

// dialedConns records the connections one agent opens so a cancelled call
// can close them and unblock the agent
type dialedConns struct {
	mu     sync.Mutex
	conns  []net.Conn
	closed bool
}

func (d *dialedConns) dial(addr string) (net.Conn, error) {
	conn, err := fasthttp.Dial(addr)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		_ = conn.Close()
		return nil, context.Canceled
	}
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *dialedConns) closeAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	for _, conn := range d.conns {
		_ = conn.Close()
	}
	d.conns = nil
}

// doRequest sends the HTTP request and processes the response. The agent runs
// on its own goroutine; a cancelled context closes its connection and returns
// right away.
func (c *APIClient) doRequest(ctx context.Context, op string, agent *fiber.Agent, v interface{}) error {
	start := time.Now()
	defer func() {
		metrics.TransportDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	conns := &dialedConns{}
	if agent.HostClient != nil {
		agent.HostClient.Dial = conns.dial
	}

	done := make(chan agentResult, 1)
	go func() {
		statusCode, body, errs := agent.Bytes()
		done <- agentResult{statusCode: statusCode, body: body, errs: errs}
	}()

	var res agentResult
	select {
	case <-ctx.Done():
		conns.closeAll()
		metrics.TransportRequests.WithLabelValues(op, metrics.OutcomeCancelled).Inc()
		return fmt.Errorf("%s: %w", op, ctx.Err())
	case res = <-done:
	}

	if len(res.errs) > 0 {
		metrics.TransportRequests.WithLabelValues(op, metrics.OutcomeFailure).Inc()
		return &NetworkError{Op: op, Err: res.errs[0]}
	}

	if res.statusCode < 200 || res.statusCode >= 300 {
		metrics.TransportRequests.WithLabelValues(op, metrics.OutcomeFailure).Inc()
		return &TransportError{
			StatusCode: res.statusCode,
			Message:    errorMessage(res.statusCode, res.body),
		}
	}

	metrics.TransportRequests.WithLabelValues(op, metrics.OutcomeSuccess).Inc()

	if v != nil && len(res.body) > 0 {
		if err := json.Unmarshal(res.body, v); err != nil {
			return &NetworkError{Op: op, Err: fmt.Errorf("error decoding response: %w", err)}
		}
	}

	return nil
}

// errorMessage extracts the remote message from an error body
func errorMessage(statusCode int, body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return genericMessage(statusCode)
}

func genericMessage(statusCode int) string {
	return fmt.Sprintf("Error: %d", statusCode)
}

// send issues one call with an explicit key, without credential handling
func (c *APIClient) send(ctx context.Context, op, method, endpoint, apiKey string, body, response interface{}, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	agent, err := c.createAgent(ctx, method, endpoint, apiKey, body, timeout)
	if err != nil {
		return err
	}

	return c.doRequest(ctx, op, agent, response)
}

// executeRequest resolves the API key and sends an authenticated call
func (c *APIClient) executeRequest(ctx context.Context, op, method, endpoint string, body, response interface{}) error {
	return c.executeRequestWithTimeout(ctx, op, method, endpoint, body, response, c.timeout)
}

func (c *APIClient) executeRequestWithTimeout(ctx context.Context, op, method, endpoint string, body, response interface{}, timeout time.Duration) error {
	apiKey, err := c.APIKey(ctx)
	if err != nil {
		return err
	}
	return c.send(ctx, op, method, endpoint, apiKey, body, response, timeout)
}
