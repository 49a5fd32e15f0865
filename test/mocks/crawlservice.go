// Package mocks provides fake implementations of the services crawlctl talks to
package mocks

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	fiber "github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/celestiaorg/crawlctl/internal/logger"
	"github.com/celestiaorg/crawlctl/pkg/api/v1/routes"
	"github.com/celestiaorg/crawlctl/pkg/models"
)

// StatusUpdate records one PATCH received by the fake service
type StatusUpdate struct {
	ID     int64
	Status models.CrawlStatus
}

type failure struct {
	status  int
	message string
}

// CrawlService is an in-memory crawl service. It serves the same routes as
// the real service, so the real API client can be pointed at it.
type CrawlService struct {
	mu            sync.Mutex
	apiKey        string
	nextID        int64
	order         []int64
	tasks         map[int64]models.CrawlTask
	brokenLinks   map[int64][]models.BrokenLink
	calls         map[string]int
	statusUpdates []StatusUpdate
	failures      map[string]failure
	crawlFailures map[int64]failure
	crawlGate     chan struct{}
	crawlStarted  chan int64

	closing   chan struct{}
	closeOnce sync.Once
}

var _ routes.Handlers = (*CrawlService)(nil)

// NewCrawlService creates an empty fake service
func NewCrawlService() *CrawlService {
	return &CrawlService{
		tasks:         make(map[int64]models.CrawlTask),
		brokenLinks:   make(map[int64][]models.BrokenLink),
		calls:         make(map[string]int),
		failures:      make(map[string]failure),
		crawlFailures: make(map[int64]failure),
		closing:       make(chan struct{}),
	}
}

// NewApp returns a fiber app serving the fake service
func (s *CrawlService) NewApp() *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	app.Use(logger.APILogger())
	app.Use(s.count)
	app.Use(s.authenticate)
	routes.RegisterRoutes(app, s)
	return app
}

// Close releases every blocked crawl
func (s *CrawlService) Close() {
	s.closeOnce.Do(func() { close(s.closing) })
}

// Seed adds tasks as if they had been created earlier
func (s *CrawlService) Seed(tasks ...models.CrawlTask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, task := range tasks {
		if task.Status == "" {
			task.Status = models.CrawlStatusPending
		}
		if _, ok := s.tasks[task.ID]; !ok {
			s.order = append(s.order, task.ID)
		}
		s.tasks[task.ID] = task
		if task.ID > s.nextID {
			s.nextID = task.ID
		}
	}
}

// SeedBrokenLinks sets the broken links reported for a task
func (s *CrawlService) SeedBrokenLinks(id int64, links ...models.BrokenLink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.brokenLinks[id] = links
}

// Task returns the stored task
func (s *CrawlService) Task(id int64) (models.CrawlTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	return task, ok
}

// IssuedKey returns the last issued API key
func (s *CrawlService) IssuedKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apiKey
}

// Calls returns how many requests reached the named route
func (s *CrawlService) Calls(routeName string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[routeName]
}

// StatusUpdates returns every PATCH received, in order
func (s *CrawlService) StatusUpdates() []StatusUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StatusUpdate(nil), s.statusUpdates...)
}

// FailRoute makes every call to the named route answer with status and message.
// A zero status clears the failure.
func (s *CrawlService) FailRoute(routeName string, status int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.failures, routeName)
		return
	}
	s.failures[routeName] = failure{status: status, message: message}
}

// FailCrawl makes the crawl of id answer with status and message
func (s *CrawlService) FailCrawl(id int64, status int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.crawlFailures[id] = failure{status: status, message: message}
}

// BlockCrawls holds every crawl until the returned release function is
// called or the service is closed. Each blocked crawl id is sent on started.
func (s *CrawlService) BlockCrawls() (started <-chan int64, release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gate := make(chan struct{})
	ch := make(chan int64, 16)
	s.crawlGate = gate
	s.crawlStarted = ch
	var once sync.Once
	return ch, func() { once.Do(func() { close(gate) }) }
}

func (s *CrawlService) count(c *fiber.Ctx) error {
	err := c.Next()
	if name := c.Route().Name; name != "" {
		s.mu.Lock()
		s.calls[name]++
		s.mu.Unlock()
	}
	return err
}

func (s *CrawlService) authenticate(c *fiber.Ctx) error {
	if c.Path() == routes.CreateAPIKeyURL() {
		return c.Next()
	}

	header := c.Get(fiber.HeaderAuthorization)
	if !strings.HasPrefix(header, "Bearer ") {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	s.mu.Lock()
	valid := s.apiKey != "" && strings.TrimPrefix(header, "Bearer ") == s.apiKey
	s.mu.Unlock()
	if !valid {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid API key"})
	}
	return c.Next()
}

// injected answers with the configured failure for the route, if any
func (s *CrawlService) injected(c *fiber.Ctx, routeName string) (bool, error) {
	s.mu.Lock()
	f, ok := s.failures[routeName]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, c.Status(f.status).JSON(fiber.Map{"error": f.message})
}

func taskID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid ID"})
	}
	return id, nil
}

// CreateAPIKey issues a new key and revokes the previous one
func (s *CrawlService) CreateAPIKey(c *fiber.Ctx) error {
	if handled, err := s.injected(c, routes.CreateAPIKey); handled {
		return err
	}
	key := uuid.NewString()
	s.mu.Lock()
	s.apiKey = key
	s.mu.Unlock()
	return c.JSON(models.APIKeyResponse{APIKey: key})
}

// ListCrawlTasks returns every task in creation order
func (s *CrawlService) ListCrawlTasks(c *fiber.Ctx) error {
	if handled, err := s.injected(c, routes.ListCrawlTasks); handled {
		return err
	}
	s.mu.Lock()
	tasks := make([]models.CrawlTask, 0, len(s.order))
	for _, id := range s.order {
		tasks = append(tasks, s.tasks[id])
	}
	s.mu.Unlock()
	return c.JSON(tasks)
}

// GetBrokenLinks returns the broken links of a task
func (s *CrawlService) GetBrokenLinks(c *fiber.Ctx) error {
	if handled, err := s.injected(c, routes.GetBrokenLinks); handled {
		return err
	}
	id, err := taskID(c)
	if id == 0 {
		return err
	}
	s.mu.Lock()
	links := append([]models.BrokenLink{}, s.brokenLinks[id]...)
	s.mu.Unlock()
	return c.JSON(links)
}

// CreateCrawlTask stores a new pending task
func (s *CrawlService) CreateCrawlTask(c *fiber.Ctx) error {
	if handled, err := s.injected(c, routes.CreateCrawlTask); handled {
		return err
	}
	var req models.CreateCrawlTaskRequest
	if err := c.BodyParser(&req); err != nil || req.URL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	}

	s.mu.Lock()
	s.nextID++
	task := models.CrawlTask{
		ID:        s.nextID,
		URL:       req.URL,
		Status:    models.CrawlStatusPending,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	s.tasks[task.ID] = task
	s.order = append(s.order, task.ID)
	s.mu.Unlock()

	return c.JSON(task)
}

// StartCrawl simulates a crawl and records its analysis on the task
func (s *CrawlService) StartCrawl(c *fiber.Ctx) error {
	if handled, err := s.injected(c, routes.StartCrawl); handled {
		return err
	}
	id, err := taskID(c)
	if id == 0 {
		return err
	}

	s.mu.Lock()
	_, exists := s.tasks[id]
	f, failing := s.crawlFailures[id]
	gate, started := s.crawlGate, s.crawlStarted
	s.mu.Unlock()

	if !exists {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Task not found"})
	}

	if gate != nil {
		started <- id
		select {
		case <-gate:
		case <-s.closing:
		}
	}

	if failing {
		return c.Status(f.status).JSON(fiber.Map{"error": f.message})
	}

	s.mu.Lock()
	task, exists := s.tasks[id]
	if exists {
		title := fmt.Sprintf("Page %d", id)
		version := "HTML5"
		h1, h2, h3, internal, external, broken := 1, 2, 3, 10, 5, len(s.brokenLinks[id])
		login := false
		task.PageTitle = &title
		task.HTMLVersion = &version
		task.H1Count, task.H2Count, task.H3Count = &h1, &h2, &h3
		task.InternalLinks, task.ExternalLinks, task.BrokenLinks = &internal, &external, &broken
		task.HasLoginForm = &login
		s.tasks[id] = task
	}
	s.mu.Unlock()

	return c.JSON(models.CrawlResponse{Message: "Crawl completed", Status: string(models.CrawlStatusSuccess)})
}

// UpdateCrawlTaskStatus records the new status
func (s *CrawlService) UpdateCrawlTaskStatus(c *fiber.Ctx) error {
	if handled, err := s.injected(c, routes.UpdateCrawlTaskStatus); handled {
		return err
	}
	id, err := taskID(c)
	if id == 0 {
		return err
	}
	var req models.UpdateStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	s.mu.Lock()
	s.statusUpdates = append(s.statusUpdates, StatusUpdate{ID: id, Status: req.Status})
	if task, ok := s.tasks[id]; ok {
		task.Status = req.Status
		s.tasks[id] = task
	}
	s.mu.Unlock()

	return c.JSON(models.MessageResponse{Message: "Updated"})
}

// DeleteCrawlTask removes a task
func (s *CrawlService) DeleteCrawlTask(c *fiber.Ctx) error {
	if handled, err := s.injected(c, routes.DeleteCrawlTask); handled {
		return err
	}
	id, err := taskID(c)
	if id == 0 {
		return err
	}

	s.mu.Lock()
	if _, ok := s.tasks[id]; ok {
		delete(s.tasks, id)
		delete(s.brokenLinks, id)
		for i, existing := range s.order {
			if existing == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()

	return c.JSON(models.MessageResponse{Message: "Deleted"})
}
