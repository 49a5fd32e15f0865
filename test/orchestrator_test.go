package test

import (
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celestiaorg/crawlctl/internal/events"
	"github.com/celestiaorg/crawlctl/internal/registry"
	"github.com/celestiaorg/crawlctl/internal/services"
	"github.com/celestiaorg/crawlctl/pkg/api/v1/client"
	"github.com/celestiaorg/crawlctl/pkg/api/v1/routes"
	"github.com/celestiaorg/crawlctl/pkg/models"
)

var allRoutes = []string{
	routes.CreateAPIKey,
	routes.ListCrawlTasks,
	routes.GetBrokenLinks,
	routes.CreateCrawlTask,
	routes.StartCrawl,
	routes.UpdateCrawlTaskStatus,
	routes.DeleteCrawlTask,
}

func totalCalls(s *Suite) int {
	total := 0
	for _, name := range allRoutes {
		total += s.Service.Calls(name)
	}
	return total
}

func statusesFor(s *Suite, id int64) []models.CrawlStatus {
	var out []models.CrawlStatus
	for _, u := range s.Service.StatusUpdates() {
		if u.ID == id {
			out = append(out, u.Status)
		}
	}
	return out
}

func loadRegistry(t *testing.T, s *Suite, o *services.Orchestrator) {
	t.Helper()
	tasks, err := s.APIClient.ListCrawlTasks(s.Context())
	require.NoError(t, err)
	o.Registry().Replace(tasks)
}

func TestCredentialAcquiredOnce(t *testing.T) {
	suite := NewSuite(t)
	defer suite.Cleanup()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := suite.APIClient.ListCrawlTasks(suite.Context())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, suite.Service.Calls(routes.CreateAPIKey))
	assert.Equal(t, 8, suite.Service.Calls(routes.ListCrawlTasks))

	stored, err := suite.Credentials.Get(suite.Context())
	require.NoError(t, err)
	assert.Equal(t, suite.Service.IssuedKey(), stored)
}

func TestRevokedKeyIsReported(t *testing.T) {
	suite := NewSuite(t)
	defer suite.Cleanup()

	_, err := suite.APIClient.ListCrawlTasks(suite.Context())
	require.NoError(t, err)

	// another client rotates the key
	other, err := client.NewClient(&client.Options{BaseURL: suite.Server.URL})
	require.NoError(t, err)
	_, err = other.GenerateAPIKey(suite.Context())
	require.NoError(t, err)

	_, err = suite.APIClient.ListCrawlTasks(suite.Context())
	var terr *client.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, http.StatusUnauthorized, terr.StatusCode)
	assert.Equal(t, "Invalid API key", terr.Message)
}

func TestAdd(t *testing.T) {
	t.Run("invalid input never reaches the service", func(t *testing.T) {
		suite := NewSuite(t)
		defer suite.Cleanup()
		o := suite.NewOrchestrator(nil)

		for _, input := range []string{"not-a-url", "ftp://x", ""} {
			_, err := o.Add(suite.Context(), input)
			var verr *services.ValidationError
			assert.ErrorAs(t, err, &verr)
		}
		assert.Equal(t, 0, totalCalls(suite))
	})

	t.Run("valid URL creates one task", func(t *testing.T) {
		suite := NewSuite(t)
		defer suite.Cleanup()
		o := suite.NewOrchestrator(nil)

		task, err := o.Add(suite.Context(), "https://example.com")
		require.NoError(t, err)

		assert.Equal(t, 1, suite.Service.Calls(routes.CreateCrawlTask))
		assert.Equal(t, 1, o.Registry().Len())
		remote, ok := suite.Service.Task(task.ID)
		require.True(t, ok)
		assert.Equal(t, remote.Status, task.Status)
		assert.Equal(t, "https://example.com", remote.URL)
	})
}

func TestStartSelectedIndependentOutcomes(t *testing.T) {
	suite := NewSuite(t)
	defer suite.Cleanup()

	suite.Service.Seed(
		models.CrawlTask{ID: 1, URL: "https://a.example"},
		models.CrawlTask{ID: 2, URL: "https://b.example"},
	)
	suite.Service.FailCrawl(2, http.StatusBadGateway, "upstream unreachable")

	o := suite.NewOrchestrator(nil)
	loadRegistry(t, suite, o)
	o.ToggleSelection(1, true)
	o.ToggleSelection(2, true)

	assert.Equal(t, 2, o.StartSelected(suite.Context()))
	assert.Empty(t, o.Selection())
	o.Wait()

	local1, _ := o.Registry().Get(1)
	local2, _ := o.Registry().Get(2)
	assert.Equal(t, models.CrawlStatusSuccess, local1.Status)
	assert.Equal(t, models.CrawlStatusFailed, local2.Status)

	assert.Equal(t, []models.CrawlStatus{models.CrawlStatusInProgress, models.CrawlStatusSuccess}, statusesFor(suite, 1))
	assert.Equal(t, []models.CrawlStatus{models.CrawlStatusInProgress, models.CrawlStatusFailed}, statusesFor(suite, 2))

	remote1, _ := suite.Service.Task(1)
	assert.Equal(t, models.CrawlStatusSuccess, remote1.Status)
	assert.Equal(t, "Page 1", remote1.Title())
}

func TestStopRunningCrawl(t *testing.T) {
	suite := NewSuite(t)
	defer suite.Cleanup()

	suite.Service.Seed(models.CrawlTask{ID: 3, URL: "https://c.example"})
	started, release := suite.Service.BlockCrawls()
	defer release()

	var mu sync.Mutex
	var notes []events.Event
	o := suite.NewOrchestrator(events.PublisherFunc(func(e events.Event) {
		mu.Lock()
		defer mu.Unlock()
		if e.Type == events.EventNotification {
			notes = append(notes, e)
		}
	}))
	loadRegistry(t, suite, o)
	task, _ := o.Registry().Get(3)

	o.StartAsync(suite.Context(), task)
	assert.Equal(t, int64(3), <-started)

	require.NoError(t, o.Stop(suite.Context(), 3))
	o.Wait()

	assert.False(t, o.Tracker().IsActive(3))
	local, _ := o.Registry().Get(3)
	assert.Equal(t, models.CrawlStatusFailed, local.Status)
	assert.Equal(t, []models.CrawlStatus{models.CrawlStatusInProgress, models.CrawlStatusFailed}, statusesFor(suite, 3))

	mu.Lock()
	defer mu.Unlock()
	for _, n := range notes {
		assert.NotEqual(t, events.LevelError, n.Level, "unexpected error notification: %s", n.Message)
	}
}

func TestDelete(t *testing.T) {
	suite := NewSuite(t)
	defer suite.Cleanup()

	suite.Service.Seed(
		models.CrawlTask{ID: 4, URL: "https://d.example"},
		models.CrawlTask{ID: 5, URL: "https://e.example"},
		models.CrawlTask{ID: 6, URL: "https://f.example"},
	)
	o := suite.NewOrchestrator(nil)
	loadRegistry(t, suite, o)

	require.NoError(t, o.Delete(suite.Context(), 5))
	_, ok := suite.Service.Task(5)
	assert.False(t, ok)
	assert.Equal(t, []int64{4, 6}, o.Registry().IDs())

	o.SelectAll()
	require.NoError(t, o.DeleteSelected(suite.Context()))
	assert.Equal(t, 0, o.Registry().Len())
	assert.Empty(t, o.Selection())
	assert.Equal(t, 3, suite.Service.Calls(routes.DeleteCrawlTask))
}

func TestReconcilerAgainstService(t *testing.T) {
	suite := NewSuite(t)
	defer suite.Cleanup()

	suite.Service.Seed(
		models.CrawlTask{ID: 1, URL: "https://a.example", Status: models.CrawlStatusSuccess},
		models.CrawlTask{ID: 2, URL: "https://b.example"},
	)

	var mu sync.Mutex
	var errorsSeen []string
	reg := registry.New()
	r := services.NewReconciler(suite.APIClient, reg, events.PublisherFunc(func(e events.Event) {
		if e.Type == events.EventNotification && e.Level == events.LevelError {
			mu.Lock()
			errorsSeen = append(errorsSeen, e.Message)
			mu.Unlock()
		}
	}), 0)
	defer r.Stop()

	require.NoError(t, r.Tick(suite.Context()))
	assert.Equal(t, []int64{1, 2}, reg.IDs())
	before := reg.List()

	suite.Service.FailRoute(routes.ListCrawlTasks, http.StatusServiceUnavailable, "maintenance")
	require.Error(t, r.Tick(suite.Context()))
	assert.Equal(t, before, reg.List())

	mu.Lock()
	assert.Equal(t, []string{"Failed to load jobs: maintenance"}, errorsSeen)
	mu.Unlock()

	suite.Service.FailRoute(routes.ListCrawlTasks, 0, "")
	suite.Service.Seed(models.CrawlTask{ID: 7, URL: "https://g.example"})
	require.NoError(t, r.Tick(suite.Context()))
	assert.Equal(t, []int64{1, 2, 7}, reg.IDs())
}

func TestBrokenLinks(t *testing.T) {
	suite := NewSuite(t)
	defer suite.Cleanup()

	suite.Service.Seed(models.CrawlTask{ID: 1, URL: "https://a.example"})
	suite.Service.SeedBrokenLinks(1, models.BrokenLink{URL: "https://a.example/gone", StatusCode: 410})

	links, err := suite.APIClient.GetBrokenLinks(suite.Context(), 1)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, 410, links[0].StatusCode)

	links, err = suite.APIClient.GetBrokenLinks(suite.Context(), 2)
	require.NoError(t, err)
	assert.Empty(t, links)
}
