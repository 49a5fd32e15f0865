// Package config loads crawlctl settings from the environment and an optional .env file
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/celestiaorg/crawlctl/internal/constants"
)

// Default values used when the environment leaves a setting unset
const (
	DefaultServerAddress     = "http://localhost:8080"
	DefaultRequestTimeout    = 30 * time.Second
	DefaultCrawlTimeout      = 5 * time.Minute
	DefaultPollInterval      = 3 * time.Second
	DefaultCredentialBackend = "badger"
)

// Config holds the client settings
type Config struct {
	ServerAddress     string
	RequestTimeout    time.Duration
	CrawlTimeout      time.Duration
	PollInterval      time.Duration
	CredentialBackend string
	CredentialPath    string
	RedisURL          string
	MetricsAddr       string
	LogLevel          string
	LogFormat         string
}

// GetEnv retrieves the value of an environment variable with a fallback value if not set
func GetEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// GetDurationEnv parses a duration environment variable, returning fallback when unset
func GetDurationEnv(key string, fallback time.Duration) (time.Duration, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid duration for %s: must be positive", key)
	}
	return d, nil
}

// DefaultCredentialPath returns the badger directory under the user's home
func DefaultCredentialPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "crawlctl", "credentials")
	}
	return filepath.Join(home, ".crawlctl", "credentials")
}

// Load reads an optional .env file and builds the config from the environment.
// Values already present in the environment win over the .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}
	return FromEnv()
}

// FromEnv builds the config from the current environment only
func FromEnv() (*Config, error) {
	cfg := &Config{
		ServerAddress:     GetEnv(constants.EnvServerAddress, DefaultServerAddress),
		CredentialBackend: GetEnv(constants.EnvCredentialBackend, DefaultCredentialBackend),
		CredentialPath:    GetEnv(constants.EnvCredentialPath, DefaultCredentialPath()),
		RedisURL:          GetEnv(constants.EnvRedisURL, ""),
		MetricsAddr:       GetEnv(constants.EnvMetricsAddr, ""),
		LogLevel:          GetEnv(constants.EnvLogLevel, "info"),
		LogFormat:         GetEnv(constants.EnvLogFormat, "json"),
	}

	var err error
	if cfg.RequestTimeout, err = GetDurationEnv(constants.EnvRequestTimeout, DefaultRequestTimeout); err != nil {
		return nil, err
	}
	if cfg.CrawlTimeout, err = GetDurationEnv(constants.EnvCrawlTimeout, DefaultCrawlTimeout); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = GetDurationEnv(constants.EnvPollInterval, DefaultPollInterval); err != nil {
		return nil, err
	}

	if cfg.ServerAddress == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	return cfg, nil
}
