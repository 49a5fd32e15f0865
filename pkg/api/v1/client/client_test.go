// Package client provides unit tests for the crawl service API client.
//
// The tests use httptest to create a server that simulates the crawl service,
// allowing the client to be tested without a real service.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celestiaorg/crawlctl/pkg/models"
)

const testAPIKey = "test-key"

// testServer simulates the crawl service endpoints the client talks to
type testServer struct {
	*httptest.Server

	keyCalls  atomic.Int32
	keyDelay  time.Duration
	keyBody   string
	crawlGate chan struct{}
	closing   chan struct{}
	aborted   chan struct{}

	mu         sync.Mutex
	lastAuth   string
	lastReqID  string
	lastStatus string
}

func newTestServer(t *testing.T, configure ...func(*testServer)) *testServer {
	ts := &testServer{
		keyBody: `{"api_key":"` + testAPIKey + `"}`,
		closing: make(chan struct{}),
		aborted: make(chan struct{}, 1),
	}
	for _, fn := range configure {
		fn(ts)
	}
	ts.Server = httptest.NewServer(http.HandlerFunc(ts.handle))
	t.Cleanup(func() {
		close(ts.closing)
		ts.Close()
	})
	return ts
}

func (ts *testServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/api/api-key" {
		ts.keyCalls.Add(1)
		if ts.keyDelay > 0 {
			time.Sleep(ts.keyDelay)
		}
		_, _ = w.Write([]byte(ts.keyBody))
		return
	}

	ts.mu.Lock()
	ts.lastAuth = r.Header.Get("Authorization")
	ts.lastReqID = r.Header.Get(RequestIDHeader)
	ts.mu.Unlock()

	if r.Header.Get("Authorization") != "Bearer "+testAPIKey {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"Invalid API key"}`))
		return
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/crawl-tasks":
		_, _ = w.Write([]byte(`[{"id":1,"url":"https://a.example","status":"pending"},{"id":2,"url":"https://b.example","status":"success","page_title":"B"}]`))
	case r.Method == http.MethodPost && r.URL.Path == "/api/crawl-tasks":
		var req models.CreateCrawlTaskRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		_, _ = w.Write([]byte(`{"id":3,"url":"` + req.URL + `","status":"pending"}`))
	case r.Method == http.MethodPatch && r.URL.Path == "/api/crawl-tasks/1":
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		ts.mu.Lock()
		ts.lastStatus = req["status"]
		ts.mu.Unlock()
		_, _ = w.Write([]byte(`{"message":"Updated"}`))
	case r.Method == http.MethodPost && r.URL.Path == "/api/crawl-tasks/1/crawl":
		if ts.crawlGate != nil {
			select {
			case <-ts.crawlGate:
			case <-r.Context().Done():
				ts.aborted <- struct{}{}
				return
			case <-ts.closing:
				return
			}
		}
		_, _ = w.Write([]byte(`{"message":"Crawl completed","status":"success"}`))
	case r.Method == http.MethodGet && r.URL.Path == "/api/crawl-tasks/1/broken-links":
		_, _ = w.Write([]byte(`[{"url":"https://a.example/missing","status_code":404}]`))
	case r.Method == http.MethodDelete && r.URL.Path == "/api/crawl-tasks/1":
		_, _ = w.Write([]byte(`{"message":"Deleted"}`))
	case r.URL.Path == "/api/crawl-tasks/404":
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Task not found"}`))
	case r.URL.Path == "/api/crawl-tasks/500":
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`not json`))
	case r.URL.Path == "/api/crawl-tasks/502/broken-links":
		_, _ = w.Write([]byte(`{invalid json`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (ts *testServer) client(t *testing.T, store KeyStore) *APIClient {
	c, err := NewClient(&Options{
		BaseURL:     ts.URL,
		Timeout:     5 * time.Second,
		Credentials: store,
	})
	require.NoError(t, err)
	return c
}

type memoryKeyStore struct {
	mu     sync.Mutex
	value  string
	setErr error
}

func (s *memoryKeyStore) Get(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.value == "" {
		return "", errors.New("not found")
	}
	return s.value, nil
}

func (s *memoryKeyStore) Set(_ context.Context, v string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return s.setErr
	}
	s.value = v
	return nil
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name       string
		opts       *Options
		wantErr    bool
		validateFn func(t *testing.T, c *APIClient)
	}{
		{
			name: "nil options",
			validateFn: func(t *testing.T, c *APIClient) {
				expected := DefaultOptions()
				assert.Equal(t, expected.BaseURL, c.baseURL)
				assert.Equal(t, expected.Timeout, c.timeout)
				assert.Equal(t, expected.CrawlTimeout, c.crawlTimeout)
			},
		},
		{
			name: "valid options",
			opts: &Options{BaseURL: "http://example.com", Timeout: 10 * time.Second},
			validateFn: func(t *testing.T, c *APIClient) {
				assert.Equal(t, "http://example.com", c.baseURL)
				assert.Equal(t, 10*time.Second, c.timeout)
				assert.Equal(t, DefaultCrawlTimeout, c.crawlTimeout)
			},
		},
		{
			name:    "invalid base URL",
			opts:    &Options{BaseURL: "://invalid-url"},
			wantErr: true,
		},
		{
			name:    "unsupported scheme",
			opts:    &Options{BaseURL: "ftp://example.com"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(tt.opts)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, c)
				return
			}
			require.NoError(t, err)
			if tt.validateFn != nil {
				tt.validateFn(t, c)
			}
		})
	}
}

func TestAPIClient_Endpoints(t *testing.T) {
	ts := newTestServer(t)
	c := ts.client(t, nil)
	ctx := context.Background()

	t.Run("list", func(t *testing.T) {
		tasks, err := c.ListCrawlTasks(ctx)
		require.NoError(t, err)
		require.Len(t, tasks, 2)
		assert.Equal(t, int64(1), tasks[0].ID)
		assert.Equal(t, models.CrawlStatusSuccess, tasks[1].Status)
		assert.Equal(t, "B", tasks[1].Title())
	})

	t.Run("create", func(t *testing.T) {
		task, err := c.CreateCrawlTask(ctx, "https://c.example")
		require.NoError(t, err)
		assert.Equal(t, int64(3), task.ID)
		assert.Equal(t, "https://c.example", task.URL)
		assert.Equal(t, models.CrawlStatusPending, task.Status)
	})

	t.Run("update status", func(t *testing.T) {
		require.NoError(t, c.UpdateCrawlTaskStatus(ctx, 1, models.CrawlStatusInProgress))
		ts.mu.Lock()
		defer ts.mu.Unlock()
		assert.Equal(t, "in_progress", ts.lastStatus)
	})

	t.Run("crawl", func(t *testing.T) {
		resp, err := c.StartCrawl(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "Crawl completed", resp.Message)
	})

	t.Run("broken links", func(t *testing.T) {
		links, err := c.GetBrokenLinks(ctx, 1)
		require.NoError(t, err)
		require.Len(t, links, 1)
		assert.Equal(t, 404, links[0].StatusCode)
	})

	t.Run("delete", func(t *testing.T) {
		msg, err := c.DeleteCrawlTask(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "Deleted", msg)
	})

	t.Run("headers", func(t *testing.T) {
		_, err := c.ListCrawlTasks(ctx)
		require.NoError(t, err)
		ts.mu.Lock()
		defer ts.mu.Unlock()
		assert.Equal(t, "Bearer "+testAPIKey, ts.lastAuth)
		assert.NotEmpty(t, ts.lastReqID)
	})

	assert.Equal(t, int32(1), ts.keyCalls.Load(), "key should be acquired once and cached")
}

func TestAPIClient_Errors(t *testing.T) {
	ts := newTestServer(t)
	c := ts.client(t, nil)
	ctx := context.Background()

	t.Run("remote message", func(t *testing.T) {
		_, err := c.DeleteCrawlTask(ctx, 404)
		var terr *TransportError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, http.StatusNotFound, terr.StatusCode)
		assert.Equal(t, "Task not found", terr.Message)
		assert.True(t, IsStatus(err, http.StatusNotFound))
	})

	t.Run("generic message", func(t *testing.T) {
		err := c.UpdateCrawlTaskStatus(ctx, 500, models.CrawlStatusFailed)
		var terr *TransportError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, "Error: 500", terr.Message)
	})

	t.Run("undecodable body", func(t *testing.T) {
		_, err := c.GetBrokenLinks(ctx, 502)
		var nerr *NetworkError
		require.ErrorAs(t, err, &nerr)
		assert.Contains(t, nerr.Error(), "error decoding response")
	})

	t.Run("unreachable service", func(t *testing.T) {
		dead := httptest.NewServer(http.NotFoundHandler())
		dead.Close()
		dc, err := NewClient(&Options{BaseURL: dead.URL, Timeout: time.Second})
		require.NoError(t, err)

		_, err = dc.ListCrawlTasks(ctx)
		var nerr *NetworkError
		require.ErrorAs(t, err, &nerr)
		assert.Equal(t, "create api key", nerr.Op)
	})
}

func TestAPIClient_StartCrawlCancellation(t *testing.T) {
	ts := newTestServer(t, func(ts *testServer) { ts.crawlGate = make(chan struct{}) })
	c := ts.client(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.StartCrawl(ctx, 1)
		errCh <- err
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled crawl call did not return")
	}

	select {
	case <-ts.aborted:
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled crawl call left its connection open")
	}
}

func TestAPIClient_APIKey(t *testing.T) {
	t.Run("concurrent first calls share one acquisition", func(t *testing.T) {
		ts := newTestServer(t, func(ts *testServer) { ts.keyDelay = 100 * time.Millisecond })
		c := ts.client(t, nil)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				key, err := c.APIKey(context.Background())
				assert.NoError(t, err)
				assert.Equal(t, testAPIKey, key)
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), ts.keyCalls.Load())
	})

	t.Run("stored key is used without a credential call", func(t *testing.T) {
		ts := newTestServer(t)
		store := &memoryKeyStore{value: testAPIKey}
		c := ts.client(t, store)

		_, err := c.ListCrawlTasks(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int32(0), ts.keyCalls.Load())
	})

	t.Run("acquired key is persisted", func(t *testing.T) {
		ts := newTestServer(t)
		store := &memoryKeyStore{}
		c := ts.client(t, store)

		_, err := c.APIKey(context.Background())
		require.NoError(t, err)
		assert.Equal(t, testAPIKey, store.value)
	})

	t.Run("persist failure still returns the key", func(t *testing.T) {
		ts := newTestServer(t)
		store := &memoryKeyStore{setErr: errors.New("disk full")}
		c := ts.client(t, store)

		key, err := c.APIKey(context.Background())
		require.NoError(t, err)
		assert.Equal(t, testAPIKey, key)
	})

	t.Run("missing key in response", func(t *testing.T) {
		ts := newTestServer(t, func(ts *testServer) { ts.keyBody = `{}` })
		c := ts.client(t, nil)

		_, err := c.ListCrawlTasks(context.Background())
		assert.ErrorIs(t, err, ErrMissingAPIKey)
	})

	t.Run("generate always calls the service", func(t *testing.T) {
		ts := newTestServer(t)
		c := ts.client(t, &memoryKeyStore{value: "old-key"})

		key, err := c.GenerateAPIKey(context.Background())
		require.NoError(t, err)
		assert.Equal(t, testAPIKey, key)
		assert.Equal(t, int32(1), ts.keyCalls.Load())

		cached, err := c.APIKey(context.Background())
		require.NoError(t, err)
		assert.Equal(t, testAPIKey, cached)
	})
	t.Run("generate does not join an in-flight acquisition", func(t *testing.T) {
		ts := newTestServer(t, func(ts *testServer) { ts.keyDelay = 200 * time.Millisecond })
		c := ts.client(t, nil)

		acquired := make(chan error, 1)
		go func() {
			_, err := c.APIKey(context.Background())
			acquired <- err
		}()
		time.Sleep(50 * time.Millisecond)

		_, err := c.GenerateAPIKey(context.Background())
		require.NoError(t, err)
		require.NoError(t, <-acquired)
		assert.Equal(t, int32(2), ts.keyCalls.Load())
	})
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "boom", errorMessage(400, []byte(`{"message":"boom"}`)))
	assert.Equal(t, "Invalid ID", errorMessage(400, []byte(`{"error":"Invalid ID"}`)))
	assert.Equal(t, "Error: 503", errorMessage(503, []byte(`<html>`)))
	assert.Equal(t, "Error: 401", errorMessage(401, nil))
	assert.True(t, strings.HasPrefix(errorMessage(418, []byte(`{}`)), "Error: "))
}
