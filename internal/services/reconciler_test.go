package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celestiaorg/crawlctl/internal/events"
	"github.com/celestiaorg/crawlctl/internal/registry"
	"github.com/celestiaorg/crawlctl/pkg/api/v1/client"
	"github.com/celestiaorg/crawlctl/pkg/api/v1/client/mock"
	"github.com/celestiaorg/crawlctl/pkg/models"
)

func seededRegistry() *registry.Registry {
	reg := registry.New()
	reg.Upsert(pending(1, "https://a.example"))
	reg.Upsert(models.CrawlTask{ID: 2, URL: "https://b.example", Status: models.CrawlStatusInProgress})
	return reg
}

func TestReconciler_TickReplacesRegistry(t *testing.T) {
	mc := &mock.MockClient{
		ListCrawlTasksFn: func(context.Context) ([]models.CrawlTask, error) {
			return []models.CrawlTask{
				{ID: 9, URL: "https://z.example", Status: models.CrawlStatusSuccess},
				{ID: 2, URL: "https://b.example", Status: models.CrawlStatusFailed},
			}, nil
		},
	}
	reg := seededRegistry()
	rec := &recorder{}
	r := NewReconciler(mc, reg, rec, time.Hour)

	require.NoError(t, r.Tick(context.Background()))

	assert.Equal(t, []int64{9, 2}, reg.IDs(), "server order is adopted")
	task, ok := reg.Get(2)
	require.True(t, ok)
	assert.Equal(t, models.CrawlStatusFailed, task.Status)

	var refreshed []events.Event
	for _, e := range rec.events {
		if e.Type == events.EventTasksRefreshed {
			refreshed = append(refreshed, e)
		}
	}
	require.Len(t, refreshed, 1)
	assert.Equal(t, 2, refreshed[0].Count)
}

func TestReconciler_FailedTickLeavesRegistry(t *testing.T) {
	mc := &mock.MockClient{
		ListCrawlTasksFn: func(context.Context) ([]models.CrawlTask, error) {
			return nil, &client.TransportError{StatusCode: 503, Message: "Service Unavailable"}
		},
	}
	reg := seededRegistry()
	before := reg.List()
	rec := &recorder{}
	r := NewReconciler(mc, reg, rec, time.Hour)

	err := r.Tick(context.Background())
	require.Error(t, err)

	assert.Equal(t, before, reg.List())
	assert.Equal(t, []string{"Failed to load jobs: Service Unavailable"}, rec.notifications(events.LevelError))
}

func TestReconciler_TickToleratesUnrecognizedStatuses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/api-key":
			_, _ = w.Write([]byte(`{"api_key":"k"}`))
		case "/api/crawl-tasks":
			_, _ = w.Write([]byte(`[
				{"id":2,"url":"https://b.example","status":"success"},
				{"id":3,"url":"https://c.example","status":null},
				{"id":4,"url":"https://d.example","status":"queued"}
			]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c, err := client.NewClient(&client.Options{BaseURL: srv.URL, Timeout: 5 * time.Second})
	require.NoError(t, err)

	reg := seededRegistry()
	rec := &recorder{}
	r := NewReconciler(c, reg, rec, time.Hour)
	defer r.Stop()

	require.NoError(t, r.Tick(context.Background()))
	assert.Equal(t, []int64{2, 3, 4}, reg.IDs())
	assert.Empty(t, reg.InProgress(), "stale in-progress job 2 is replaced")

	task, ok := reg.Get(3)
	require.True(t, ok)
	assert.Equal(t, models.CrawlStatus(""), task.Status)
	task, _ = reg.Get(4)
	assert.Equal(t, models.CrawlStatus("queued"), task.Status)
	assert.Empty(t, rec.notifications(events.LevelError))
}

func TestReconciler_TicksDoNotOverlap(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	mc := &mock.MockClient{
		ListCrawlTasksFn: func(context.Context) ([]models.CrawlTask, error) {
			entered <- struct{}{}
			<-release
			return nil, nil
		},
	}
	r := NewReconciler(mc, registry.New(), nil, time.Hour)

	first := make(chan error, 1)
	go func() { first <- r.Tick(context.Background()) }()
	<-entered

	assert.ErrorIs(t, r.Tick(context.Background()), ErrTickInFlight)
	assert.Equal(t, 1, mc.CallCount(mock.MethodListCrawlTasks))

	close(release)
	require.NoError(t, <-first)
}

func TestReconciler_StopIsIdempotent(t *testing.T) {
	mc := &mock.MockClient{}
	r := NewReconciler(mc, registry.New(), nil, time.Hour)
	require.NoError(t, r.Start(context.Background()))

	r.Stop()
	r.Stop()

	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("third Stop blocked")
	}

	assert.ErrorIs(t, r.Tick(context.Background()), ErrReconcilerStopped)
	assert.ErrorIs(t, r.Start(context.Background()), ErrReconcilerStopped)
}

func TestReconciler_StopAbortsInFlightTick(t *testing.T) {
	entered := make(chan struct{}, 1)
	mc := &mock.MockClient{
		ListCrawlTasksFn: func(ctx context.Context) ([]models.CrawlTask, error) {
			entered <- struct{}{}
			<-ctx.Done()
			return []models.CrawlTask{pending(42, "https://late.example")}, nil
		},
	}
	reg := seededRegistry()
	before := reg.List()
	rec := &recorder{}
	r := NewReconciler(mc, reg, rec, time.Hour)

	tickErr := make(chan error, 1)
	go func() { tickErr <- r.Tick(context.Background()) }()
	<-entered

	r.Stop()

	assert.ErrorIs(t, <-tickErr, ErrReconcilerStopped)
	assert.Equal(t, before, reg.List(), "no mutation after Stop")
	assert.Empty(t, rec.notifications(events.LevelError))
}

func TestReconciler_StartPolls(t *testing.T) {
	var calls atomic.Int32
	mc := &mock.MockClient{
		ListCrawlTasksFn: func(context.Context) ([]models.CrawlTask, error) {
			n := calls.Add(1)
			if n == 2 {
				return nil, errors.New("connection reset")
			}
			return []models.CrawlTask{pending(int64(n), "https://example.com")}, nil
		},
	}
	reg := registry.New()
	r := NewReconciler(mc, reg, nil, 20*time.Millisecond)

	require.NoError(t, r.Start(context.Background()))
	assert.ErrorIs(t, r.Start(context.Background()), ErrReconcilerStarted)

	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	r.Stop()

	after := calls.Load()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, after, calls.Load(), "no ticks after Stop")
	assert.Equal(t, 1, reg.Len())
}

func TestReconciler_ContextCancelStops(t *testing.T) {
	var calls atomic.Int32
	mc := &mock.MockClient{
		ListCrawlTasksFn: func(context.Context) ([]models.CrawlTask, error) {
			calls.Add(1)
			return nil, nil
		},
	}
	r := NewReconciler(mc, registry.New(), nil, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.Start(ctx))
	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, time.Second, 5*time.Millisecond)
	cancel()

	assert.Eventually(t, func() bool {
		return errors.Is(r.Tick(context.Background()), ErrReconcilerStopped)
	}, time.Second, 5*time.Millisecond)
}

func TestReconciler_DefaultInterval(t *testing.T) {
	r := NewReconciler(&mock.MockClient{}, registry.New(), nil, 0)
	assert.Equal(t, DefaultPollInterval, r.Interval())
	assert.Equal(t, 3*time.Second, r.Interval())
}
