package test

import (
	"net/http/httptest"
	"time"

	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/celestiaorg/crawlctl/internal/credentials"
	"github.com/celestiaorg/crawlctl/pkg/api/v1/client"
)

// testClientTimeout is the timeout for test API client requests
const testClientTimeout = 5 * time.Second

// SetupServer puts the suite's fake service behind a real HTTP server and
// points a real API client at it
func SetupServer(suite *Suite) {
	suite.App = suite.Service.NewApp()

	// Create test server using adaptor to convert Fiber app to http.Handler
	suite.Server = httptest.NewServer(adaptor.FiberApp(suite.App))

	suite.Credentials = credentials.NewMemoryStore()
	apiClient, err := client.NewClient(&client.Options{
		BaseURL:      suite.Server.URL,
		Timeout:      testClientTimeout,
		CrawlTimeout: testClientTimeout,
		Credentials:  suite.Credentials,
	})
	suite.Require().NoError(err, "Failed to create API client")
	suite.APIClient = apiClient

	// blocked crawls must be released before the server can close
	originalCleanup := suite.cleanup
	suite.cleanup = func() {
		suite.Service.Close()
		if suite.Server != nil {
			suite.Server.Close()
		}
		if originalCleanup != nil {
			originalCleanup()
		}
	}
}
