package cache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/superfluid-org/super-rpc/clock"
	"github.com/superfluid-org/super-rpc/rpctypes"
)

// memoryTier is the bounded in-memory LRU tier. It wraps hashicorp/golang-lru
// behind a mutex and stores *rpctypes.CacheEntry values; the entries'
// read/write counters and the age check are maintained by Manager, not here.
type memoryTier struct {
	mu    sync.Mutex
	lru   *lru.Cache[string, *rpctypes.CacheEntry]
	clock clock.Clock
}

func newMemoryTier(capacity int, clk clock.Clock) *memoryTier {
	if capacity < 1 {
		capacity = 1
	}
	c, _ := lru.New[string, *rpctypes.CacheEntry](capacity)
	return &memoryTier{lru: c, clock: clk}
}

// get returns the entry for key, marking it most-recently-used, or ok=false
// on a miss. The caller is responsible for age checks (invariant 4) since the
// applicable maxAge is a policy decision, not a memory-tier concern.
func (m *memoryTier) get(key string) (*rpctypes.CacheEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lru.Get(key)
}

// put inserts or replaces an entry, making it most-recently-used.
func (m *memoryTier) put(key string, entry *rpctypes.CacheEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lru.Add(key, entry)
}

func (m *memoryTier) delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lru.Remove(key)
}

func (m *memoryTier) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lru.Contains(key)
}

func (m *memoryTier) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lru.Len()
}

func (m *memoryTier) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lru.Purge()
}

// iterateOldestFirst invokes fn for every entry in least-recently-used (i.e.
// oldest-first) order, so a sweeper can stop early once it reaches entries
// young enough to keep. fn returning false stops iteration.
func (m *memoryTier) iterateOldestFirst(fn func(key string, entry *rpctypes.CacheEntry) bool) {
	m.mu.Lock()
	keys := m.lru.Keys()
	entries := make(map[string]*rpctypes.CacheEntry, len(keys))
	for _, k := range keys {
		if v, ok := m.lru.Peek(k); ok {
			entries[k] = v
		}
	}
	m.mu.Unlock()

	for _, k := range keys {
		e, ok := entries[k]
		if !ok {
			continue
		}
		if !fn(k, e) {
			return
		}
	}
}
