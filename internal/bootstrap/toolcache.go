package bootstrap

import (
	"context"
	"sync"
	"time"

	"github.com/samelhousseini/gpt-realtime-agents/internal/protocol"
)

// ToolCache memoizes tool definitions across sessions. Definitions change
// rarely; refetching them on every reconnect adds bootstrap latency for no
// benefit. The cache has an explicit owner and lifetime instead of living
// in package-level state. A zero ttl means definitions never expire and
// only Invalidate forces a refetch.
type ToolCache struct {
	client *Client
	ttl    time.Duration

	mu        sync.Mutex
	tools     []protocol.Tool
	choice    string
	fetchedAt time.Time
}

func NewToolCache(client *Client, ttl time.Duration) *ToolCache {
	return &ToolCache{client: client, ttl: ttl}
}

// Get returns cached definitions, fetching on first use, after Invalidate,
// or past an optional ttl.
func (c *ToolCache) Get(ctx context.Context) ([]protocol.Tool, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tools != nil && (c.ttl <= 0 || time.Since(c.fetchedAt) < c.ttl) {
		return c.tools, c.choice, nil
	}

	tools, choice, err := c.client.FetchTools(ctx)
	if err != nil {
		// Serve stale definitions over failing the whole bootstrap.
		if c.tools != nil {
			return c.tools, c.choice, nil
		}
		return nil, "", err
	}
	c.tools = tools
	c.choice = choice
	c.fetchedAt = time.Now()
	return c.tools, c.choice, nil
}

// Invalidate drops the cached definitions; the next Get refetches.
func (c *ToolCache) Invalidate() {
	c.mu.Lock()
	c.tools = nil
	c.choice = ""
	c.fetchedAt = time.Time{}
	c.mu.Unlock()
}
