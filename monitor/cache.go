package monitor

import (
	"sync"

	"github.com/onnwee/arkpop/db"
)

// Entry is the cached view of one monitored server.
type Entry struct {
	Status db.Status
	Name   string
}

// StatusCache mirrors last_known_status for servers the tracker has observed since start.
// The registry is authoritative; the cache only saves a read per server per tick.
type StatusCache struct {
	mu sync.RWMutex
	m  map[string]Entry
}

func NewStatusCache() *StatusCache {
	return &StatusCache{m: make(map[string]Entry)}
}

func (c *StatusCache) Get(serverID string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.m[serverID]
	return e, ok
}

func (c *StatusCache) Set(serverID string, e Entry) {
	c.mu.Lock()
	c.m[serverID] = e
	c.mu.Unlock()
}

func (c *StatusCache) Delete(serverID string) {
	c.mu.Lock()
	delete(c.m, serverID)
	c.mu.Unlock()
}

func (c *StatusCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

// Reset replaces the contents with entries.
func (c *StatusCache) Reset(entries map[string]Entry) {
	c.mu.Lock()
	c.m = entries
	if c.m == nil {
		c.m = make(map[string]Entry)
	}
	c.mu.Unlock()
}
