package engine

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/metriclens/metriclens/internal/core"
)

// ResponseCache memoizes repeated lookups with identical effective
// parameters within one run. It is bounded; inserting past capacity evicts
// the single oldest entry (strict FIFO, never LRU). Entries carry no TTL:
// a new run gets a fresh, empty cache.
type ResponseCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]cacheEntry
	order    []string
}

type cacheEntry struct {
	value      any
	insertedAt time.Time
}

const defaultCacheCapacity = 50

// NewResponseCache builds a cache bounded to the given capacity.
func NewResponseCache(capacity int) *ResponseCache {
	if capacity < 1 {
		capacity = defaultCacheCapacity
	}
	return &ResponseCache{
		capacity: capacity,
		entries:  make(map[string]cacheEntry, capacity),
	}
}

// Get returns the cached value for key, if present.
func (c *ResponseCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return entry.value, true
}

// Put stores value under key. Re-putting an existing key replaces its value
// without changing its insertion position.
func (c *ResponseCache) Put(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok {
		c.entries[key] = cacheEntry{value: value, insertedAt: entry.insertedAt}
		return
	}

	if len(c.order) >= c.capacity {
		oldest := c.order[0]
		// Copy down instead of reslicing so the backing array stays at
		// capacity regardless of total insertions.
		copy(c.order, c.order[1:])
		c.order = c.order[:len(c.order)-1]
		delete(c.entries, oldest)
	}

	c.entries[key] = cacheEntry{value: value, insertedAt: time.Now().UTC()}
	c.order = append(c.order, key)
}

// Len returns the current number of cached entries.
func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

// CacheKey builds a deterministic composite key from every field a call
// result depends on. Id and statistic sets are sorted so that two logically
// identical requests hash identically regardless of call order.
func CacheKey(endpoint string, ids []string, timeframe core.DateRange, statistics []string, metricID string) string {
	sortedIDs := append([]string(nil), ids...)
	sort.Strings(sortedIDs)
	sortedStats := append([]string(nil), statistics...)
	sort.Strings(sortedStats)

	var sb strings.Builder
	sb.WriteString(endpoint)
	sb.WriteByte('\n')
	sb.WriteString(strings.Join(sortedIDs, ","))
	sb.WriteByte('\n')
	sb.WriteString(timeframe.Start.UTC().Format(time.RFC3339))
	sb.WriteByte('|')
	sb.WriteString(timeframe.End.UTC().Format(time.RFC3339))
	sb.WriteByte('\n')
	sb.WriteString(strings.Join(sortedStats, ","))
	sb.WriteByte('\n')
	sb.WriteString(metricID)

	sum := sha256.Sum256([]byte(sb.String()))
	return fmt.Sprintf("%s:%x", endpoint, sum[:12])
}
