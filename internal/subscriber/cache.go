package subscriber

import "sync"

// View names a cached list a client keeps per account.
type View string

const (
	ViewThreads View = "threads"
	ViewDrafts  View = "drafts"
)

type cacheKey struct {
	accountID string
	view      View
}

// ViewCache is a small per-account cache of fetched views. It implements
// Invalidator, so a Controller can evict exactly the views an event affects
// instead of blanket-clearing everything.
type ViewCache struct {
	mu      sync.Mutex
	entries map[cacheKey]any
}

func NewViewCache() *ViewCache {
	return &ViewCache{entries: make(map[cacheKey]any)}
}

// Get returns the cached value for (accountID, view), if any.
func (c *ViewCache) Get(accountID string, view View) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[cacheKey{accountID, view}]
	return v, ok
}

// Put stores a fetched view.
func (c *ViewCache) Put(accountID string, view View, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey{accountID, view}] = value
}

// Invalidate evicts one view for one account. Evicting an absent entry is a
// no-op.
func (c *ViewCache) Invalidate(accountID string, view View) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, cacheKey{accountID, view})
}

func (c *ViewCache) InvalidateThreads(accountID string) {
	c.Invalidate(accountID, ViewThreads)
}

func (c *ViewCache) InvalidateDrafts(accountID string) {
	c.Invalidate(accountID, ViewDrafts)
}
