package discovery

import (
	"sort"
	"sync"
	"time"
)

// CacheEntry is the published view of one service. Entries are immutable;
// every update swaps in a new one.
type CacheEntry struct {
	ServiceName         string
	Snapshot            CatalogSnapshot
	LastRefreshedAt     time.Time
	NextRefreshDeadline time.Time

	passing []ServiceInstance
}

// Passing returns the passing instances of the entry.
func (e *CacheEntry) Passing() []ServiceInstance { return e.passing }

// Overdue reports whether the entry missed its expected refresh.
func (e *CacheEntry) Overdue(now time.Time) bool {
	return !e.NextRefreshDeadline.IsZero() && now.After(e.NextRefreshDeadline)
}

// InstanceCache holds the latest snapshot per service. The reconciler is the
// single writer per service; any number of readers see either the previous
// or the next entry, never a partial one. Reads never touch the network.
type InstanceCache struct {
	mu               sync.RWMutex
	entries          map[string]*CacheEntry
	refreshWindow    time.Duration
	stalenessCeiling time.Duration
}

// NewInstanceCache creates a cache. refreshWindow is how long after a refresh
// the next one is expected; stalenessCeiling is how long an entry may go
// without any refresh before EvictStale drops it (0 disables eviction).
func NewInstanceCache(refreshWindow, stalenessCeiling time.Duration) *InstanceCache {
	return &InstanceCache{
		entries:          make(map[string]*CacheEntry),
		refreshWindow:    refreshWindow,
		stalenessCeiling: stalenessCeiling,
	}
}

// Get returns the passing instances of a service ordered by instance ID, and
// whether the service has been populated at least once. An unknown service
// yields an empty result and false.
func (c *InstanceCache) Get(serviceName string) ([]ServiceInstance, bool) {
	entry := c.load(serviceName)
	if entry == nil {
		return []ServiceInstance{}, false
	}
	out := make([]ServiceInstance, len(entry.passing))
	copy(out, entry.passing)
	return out, true
}

// GetFiltered is Get with a caller-supplied filter instead of PassingOnly.
func (c *InstanceCache) GetFiltered(serviceName string, f Filter) ([]ServiceInstance, bool) {
	entry := c.load(serviceName)
	if entry == nil {
		return []ServiceInstance{}, false
	}
	return entry.Snapshot.filter(f), true
}

// Entry returns the current entry for a service.
func (c *InstanceCache) Entry(serviceName string) (*CacheEntry, bool) {
	entry := c.load(serviceName)
	return entry, entry != nil
}

// IsWarm reports whether the service has been populated.
func (c *InstanceCache) IsWarm(serviceName string) bool {
	return c.load(serviceName) != nil
}

// Services returns the cached service names, sorted.
func (c *InstanceCache) Services() []string {
	c.mu.RLock()
	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	c.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Put publishes snap for its service. A snapshot older than the current one
// is discarded and Put returns false, so readers never go back in time.
func (c *InstanceCache) Put(snap CatalogSnapshot, now time.Time) bool {
	return c.store(snap, now, false)
}

// Replace publishes snap even if its index is lower than the current one.
// The reconciler uses it when the registry resets its index.
func (c *InstanceCache) Replace(snap CatalogSnapshot, now time.Time) {
	c.store(snap, now, true)
}

// Touch records a refresh that confirmed the current snapshot.
func (c *InstanceCache) Touch(serviceName string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, ok := c.entries[serviceName]
	if !ok {
		return false
	}
	next := *prev
	next.LastRefreshedAt = now
	next.NextRefreshDeadline = c.deadline(now)
	c.entries[serviceName] = &next
	return true
}

// Remove drops a service from the cache.
func (c *InstanceCache) Remove(serviceName string) {
	c.mu.Lock()
	delete(c.entries, serviceName)
	c.mu.Unlock()
}

// EvictStale drops every entry that has not been refreshed within the
// staleness ceiling and returns the evicted service names. Entries that keep
// being refreshed survive any registry outage shorter than the ceiling.
func (c *InstanceCache) EvictStale(now time.Time) []string {
	if c.stalenessCeiling <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var evicted []string
	for name, entry := range c.entries {
		if now.Sub(entry.LastRefreshedAt) > c.stalenessCeiling {
			delete(c.entries, name)
			evicted = append(evicted, name)
		}
	}
	sort.Strings(evicted)
	return evicted
}

func (c *InstanceCache) load(serviceName string) *CacheEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[serviceName]
}

func (c *InstanceCache) store(snap CatalogSnapshot, now time.Time, force bool) bool {
	// Build the entry before taking the lock so the swap is a single assignment.
	entry := &CacheEntry{
		ServiceName:         snap.ServiceName,
		Snapshot:            snap,
		LastRefreshedAt:     now,
		NextRefreshDeadline: c.deadline(now),
		passing:             snap.filter(PassingOnly),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.entries[snap.ServiceName]; ok && !force && snap.Index < prev.Snapshot.Index {
		return false
	}
	c.entries[snap.ServiceName] = entry
	return true
}

func (c *InstanceCache) deadline(now time.Time) time.Time {
	if c.refreshWindow <= 0 {
		return time.Time{}
	}
	return now.Add(c.refreshWindow)
}
