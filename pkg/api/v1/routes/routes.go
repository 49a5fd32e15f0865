// Package routes defines the crawl service routes and URL structure
package routes

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	fiber "github.com/gofiber/fiber/v2"
)

/*

Routes are ordered GET, POST, PATCH, DELETE. Within a method, param urls
(ie /:id) go last so fiber does not read a static segment as the param.

*/

// API base configuration
const (
	// DefaultPort is the default port of the crawl service
	DefaultPort = "8080"
	// APIPrefix is the prefix for all crawl service endpoints
	APIPrefix = "/api"
)

// DefaultBaseURL is the default base URL of the crawl service
var DefaultBaseURL = fmt.Sprintf("http://localhost:%s", DefaultPort)

// Route names for lookup
const (
	// Credential routes
	CreateAPIKey = "CreateAPIKey"

	// Crawl task routes
	ListCrawlTasks        = "ListCrawlTasks"
	GetBrokenLinks        = "GetBrokenLinks"
	CreateCrawlTask       = "CreateCrawlTask"
	StartCrawl            = "StartCrawl"
	UpdateCrawlTaskStatus = "UpdateCrawlTaskStatus"
	DeleteCrawlTask       = "DeleteCrawlTask"
)

// Handlers serves the crawl service endpoints
type Handlers interface {
	CreateAPIKey(c *fiber.Ctx) error
	ListCrawlTasks(c *fiber.Ctx) error
	GetBrokenLinks(c *fiber.Ctx) error
	CreateCrawlTask(c *fiber.Ctx) error
	StartCrawl(c *fiber.Ctx) error
	UpdateCrawlTaskStatus(c *fiber.Ctx) error
	DeleteCrawlTask(c *fiber.Ctx) error
}

// routeCache stores extracted routes for use prior to compilation
var (
	routeCache     map[string]string
	routeCacheMu   sync.RWMutex
	routeCacheInit sync.Once
)

// RegisterRoutes configures all the crawl service routes
func RegisterRoutes(app *fiber.App, h Handlers) {
	api := app.Group(APIPrefix)

	api.Post("/api-key", h.CreateAPIKey).Name(CreateAPIKey)

	tasks := api.Group("/crawl-tasks")
	tasks.Get("/", h.ListCrawlTasks).Name(ListCrawlTasks)
	tasks.Get("/:id/broken-links", h.GetBrokenLinks).Name(GetBrokenLinks)
	tasks.Post("/", h.CreateCrawlTask).Name(CreateCrawlTask)
	tasks.Post("/:id/crawl", h.StartCrawl).Name(StartCrawl)
	tasks.Patch("/:id", h.UpdateCrawlTaskStatus).Name(UpdateCrawlTaskStatus)
	tasks.Delete("/:id", h.DeleteCrawlTask).Name(DeleteCrawlTask)
}

// noopHandlers lets the route cache register routes without a backing service
type noopHandlers struct{}

func (noopHandlers) CreateAPIKey(*fiber.Ctx) error          { return nil }
func (noopHandlers) ListCrawlTasks(*fiber.Ctx) error        { return nil }
func (noopHandlers) GetBrokenLinks(*fiber.Ctx) error        { return nil }
func (noopHandlers) CreateCrawlTask(*fiber.Ctx) error       { return nil }
func (noopHandlers) StartCrawl(*fiber.Ctx) error            { return nil }
func (noopHandlers) UpdateCrawlTaskStatus(*fiber.Ctx) error { return nil }
func (noopHandlers) DeleteCrawlTask(*fiber.Ctx) error       { return nil }

// initRouteCache initializes the route cache by creating a mock app and extracting routes
func initRouteCache() {
	routeCacheInit.Do(func() {
		cache := make(map[string]string)

		app := fiber.New()
		RegisterRoutes(app, noopHandlers{})

		for _, route := range app.GetRoutes() {
			if route.Name != "" {
				cache[route.Name] = route.Path
			}
		}

		routeCacheMu.Lock()
		routeCache = cache
		routeCacheMu.Unlock()
	})
}

// GetRoute returns the route pattern for the given route name
func GetRoute(name string) string {
	initRouteCache()

	routeCacheMu.RLock()
	defer routeCacheMu.RUnlock()
	return routeCache[name]
}

// BuildURL builds a URL for the given route name and parameters
func BuildURL(routeName string, params map[string]string, queryParams url.Values) string {
	route := GetRoute(routeName)
	if route == "" {
		return ""
	}

	for param, value := range params {
		route = strings.ReplaceAll(route, ":"+param, url.PathEscape(value))
	}

	// Remove trailing slash if it's a base endpoint with no parameters
	if strings.HasSuffix(route, "/") && !strings.Contains(route, ":") {
		route = strings.TrimSuffix(route, "/")
	}

	if len(queryParams) > 0 {
		route = fmt.Sprintf("%s?%s", route, queryParams.Encode())
	}

	return route
}

func idParam(id int64) map[string]string {
	return map[string]string{"id": strconv.FormatInt(id, 10)}
}

// Credential route helpers

// CreateAPIKeyURL returns the URL for issuing an API key
func CreateAPIKeyURL() string {
	return BuildURL(CreateAPIKey, nil, nil)
}

// Crawl task route helpers

// ListCrawlTasksURL returns the URL for listing crawl tasks
func ListCrawlTasksURL() string {
	return BuildURL(ListCrawlTasks, nil, nil)
}

// GetBrokenLinksURL returns the URL for the broken links of a task
func GetBrokenLinksURL(id int64) string {
	return BuildURL(GetBrokenLinks, idParam(id), nil)
}

// CreateCrawlTaskURL returns the URL for creating a crawl task
func CreateCrawlTaskURL() string {
	return BuildURL(CreateCrawlTask, nil, nil)
}

// StartCrawlURL returns the URL for running a crawl
func StartCrawlURL(id int64) string {
	return BuildURL(StartCrawl, idParam(id), nil)
}

// UpdateCrawlTaskStatusURL returns the URL for updating a task status
func UpdateCrawlTaskStatusURL(id int64) string {
	return BuildURL(UpdateCrawlTaskStatus, idParam(id), nil)
}

// DeleteCrawlTaskURL returns the URL for deleting a crawl task
func DeleteCrawlTaskURL(id int64) string {
	return BuildURL(DeleteCrawlTask, idParam(id), nil)
}
