// Package constants provides centralized definitions of constants used throughout the application
package constants

// Environment variable names
const (
	// EnvServerAddress is the base URL of the crawl service
	EnvServerAddress = "CRAWLCTL_SERVER_ADDRESS"

	// EnvRequestTimeout bounds every call except the crawl call
	EnvRequestTimeout = "CRAWLCTL_REQUEST_TIMEOUT"

	// EnvCrawlTimeout bounds the crawl call, which can run for minutes
	EnvCrawlTimeout = "CRAWLCTL_CRAWL_TIMEOUT"

	// EnvPollInterval is the reconciliation interval
	EnvPollInterval = "CRAWLCTL_POLL_INTERVAL"

	// EnvCredentialBackend selects where the API key is kept (memory, badger or redis)
	EnvCredentialBackend = "CRAWLCTL_CREDENTIAL_BACKEND"

	// EnvCredentialPath is the badger directory for the API key
	EnvCredentialPath = "CRAWLCTL_CREDENTIAL_PATH"

	// EnvRedisURL is the redis connection URL used by the redis credential backend
	EnvRedisURL = "CRAWLCTL_REDIS_URL"

	// EnvMetricsAddr is the listen address of the session metrics endpoint, empty disables it
	EnvMetricsAddr = "CRAWLCTL_METRICS_ADDR"

	// EnvLogLevel is the logrus level name
	EnvLogLevel = "LOG_LEVEL"

	// EnvLogFormat selects json or text log output
	EnvLogFormat = "LOG_FORMAT"
)
