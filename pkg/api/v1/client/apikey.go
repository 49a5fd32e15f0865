package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/celestiaorg/crawlctl/internal/logger"
	"github.com/celestiaorg/crawlctl/pkg/api/v1/routes"
	"github.com/celestiaorg/crawlctl/pkg/models"
)

const (
	acquireKey  = "api_key"
	generateKey = "generate"
)

// APIKey returns the cached API key. On first use it loads the key from the
// credential store, and failing that issues one credential call. Concurrent
// first calls share a single acquisition.
func (c *APIClient) APIKey(ctx context.Context) (string, error) {
	if key := c.cachedKey(); key != "" {
		return key, nil
	}

	v, err, _ := c.group.Do(acquireKey, func() (interface{}, error) {
		if key := c.cachedKey(); key != "" {
			return key, nil
		}
		if key := c.loadStoredKey(ctx); key != "" {
			c.setCachedKey(key)
			return key, nil
		}
		return c.acquireKey(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// GenerateAPIKey always asks the crawl service for a key and replaces the cached one
func (c *APIClient) GenerateAPIKey(ctx context.Context) (string, error) {
	v, err, _ := c.group.Do(generateKey, func() (interface{}, error) {
		return c.acquireKey(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *APIClient) acquireKey(ctx context.Context) (string, error) {
	var resp models.APIKeyResponse
	if err := c.send(ctx, "create api key", http.MethodPost, routes.CreateAPIKeyURL(), "", nil, &resp, c.timeout); err != nil {
		var terr *TransportError
		if errors.As(err, &terr) && terr.Message == genericMessage(terr.StatusCode) {
			terr.Message = fmt.Sprintf("Server responded with %d", terr.StatusCode)
		}
		return "", err
	}
	if resp.APIKey == "" {
		return "", ErrMissingAPIKey
	}

	c.setCachedKey(resp.APIKey)
	if c.keys != nil {
		if err := c.keys.Set(ctx, resp.APIKey); err != nil {
			logger.Warnf("Failed to persist API key: %v", err)
		}
	}
	logger.Debug("Acquired API key")
	return resp.APIKey, nil
}

func (c *APIClient) loadStoredKey(ctx context.Context) string {
	if c.keys == nil {
		return ""
	}
	key, err := c.keys.Get(ctx)
	if err != nil {
		logger.Debugf("No stored API key: %v", err)
		return ""
	}
	return key
}

func (c *APIClient) cachedKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey
}

func (c *APIClient) setCachedKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = key
}
