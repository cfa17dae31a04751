package wsclient

import (
	"context"
	"sync"

	"github.com/ayanrajpoot10/echtun/internal/doh"
)

// ECHCache holds the ECH ConfigList fetched for one domain, cached for the
// lifetime of the ingress process and refreshed only on an ECH-naming dial
// failure (§3 Data Model: ECHConfigList).
type ECHCache struct {
	mu     sync.RWMutex
	list   []byte
	dohURL string
	domain string

	// fetch performs the actual DoH round trip; overridden in tests.
	fetch func(ctx context.Context, dohURL, domain string) ([]byte, error)
}

// NewECHCache returns an empty cache that will fetch domain's ECH
// ConfigList from dohURL on first use.
func NewECHCache(client *doh.Client, dohURL, domain string) *ECHCache {
	return &ECHCache{
		dohURL: dohURL,
		domain: domain,
		fetch:  client.FetchECHConfigList,
	}
}

// Get returns the cached ECH ConfigList, fetching it on first call.
func (c *ECHCache) Get(ctx context.Context) ([]byte, error) {
	c.mu.RLock()
	if c.list != nil {
		defer c.mu.RUnlock()
		return c.list, nil
	}
	c.mu.RUnlock()
	return c.Refresh(ctx)
}

// Refresh unconditionally re-fetches the ECH ConfigList and updates the
// cache.
func (c *ECHCache) Refresh(ctx context.Context) ([]byte, error) {
	list, err := c.fetch(ctx, c.dohURL, c.domain)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.list = list
	c.mu.Unlock()
	return list, nil
}
