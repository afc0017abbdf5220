package llms

import (
	"time"

	"github.com/smartrag/smartrag/pkg/registry"
)

// ClientCache memoizes clients by credential pair so repeated requests
// with the same key and endpoint reuse one transport. Entries live for
// the process lifetime unless cleared by the admin endpoint.
type ClientCache struct {
	clients    *registry.BaseRegistry[*Client]
	timeout    time.Duration
	maxRetries int
}

type CacheInfo struct {
	Size int      `json:"cache_size"`
	Keys []string `json:"keys"`
}

func NewClientCache(timeout time.Duration, maxRetries int) *ClientCache {
	return &ClientCache{
		clients:    registry.NewBaseRegistry[*Client](),
		timeout:    timeout,
		maxRetries: maxRetries,
	}
}

// cacheKey is the first ten characters of the api key joined with the
// base URL. The prefix keeps full credentials out of cache listings.
func cacheKey(apiKey, baseURL string) string {
	prefix := apiKey
	if len(prefix) > 10 {
		prefix = prefix[:10]
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return prefix + "_" + baseURL
}

func (c *ClientCache) Get(apiKey, baseURL string) *Client {
	client, _ := c.clients.GetOrCreate(cacheKey(apiKey, baseURL), func() (*Client, error) {
		return NewClient(apiKey, baseURL,
			WithTimeout(c.timeout),
			WithMaxRetries(c.maxRetries),
		), nil
	})
	return client
}

func (c *ClientCache) Info() CacheInfo {
	return CacheInfo{
		Size: c.clients.Count(),
		Keys: c.clients.Names(),
	}
}

// Clear evicts every cached client and returns how many were removed.
func (c *ClientCache) Clear() int {
	return c.clients.Clear()
}
