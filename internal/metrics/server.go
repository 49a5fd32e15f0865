package metrics

import (
	fiber "github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/celestiaorg/crawlctl/internal/logger"
)

// Path is where the metrics endpoint is mounted
const Path = "/metrics"

// NewApp returns a fiber app serving the default Prometheus registry
func NewApp() *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	app.Use(logger.APILogger())
	app.Get(Path, adaptor.HTTPHandler(promhttp.Handler()))
	return app
}
