package vectordb

import (
	"fmt"
	"time"

	"github.com/smartrag/smartrag/pkg/registry"
)

// ClientCache keeps one REST client per (normalized url, collection,
// vector size) so request handlers reuse connections.
type ClientCache struct {
	clients *registry.BaseRegistry[*Client]
	timeout time.Duration
}

func NewClientCache(timeout time.Duration) *ClientCache {
	return &ClientCache{
		clients: registry.NewBaseRegistry[*Client](),
		timeout: timeout,
	}
}

func (c *ClientCache) Get(rawURL, collection string, vectorSize int) *Client {
	key := fmt.Sprintf("%s|%s|%d", NormalizeURL(rawURL), collection, vectorSize)
	client, _ := c.clients.GetOrCreate(key, func() (*Client, error) {
		return NewClient(rawURL, collection, vectorSize, c.timeout), nil
	})
	return client
}

func (c *ClientCache) Size() int {
	return c.clients.Count()
}

func (c *ClientCache) Clear() int {
	return c.clients.Clear()
}
