// Package cache implements the two-tier (memory LRU + persistent KV) cache
// manager, the cacheability policy, and the response validator.
package cache

import (
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/sirupsen/logrus"

	"github.com/superfluid-org/super-rpc/clock"
	"github.com/superfluid-org/super-rpc/metrics"
	"github.com/superfluid-org/super-rpc/rpctypes"
)

// cacheHitRatio tracks the rolling share of lookups served from either
// cache tier, exposed under go-ethereum/metrics' default registry.
var cacheHitRatio = metrics.GetOrRegisterPercentage(nil, "cache/hitratio")

const (
	// DuplicateTriggerWindow is the horizon within which a repeat lookup of
	// the same key is considered a correlated burst (spec §4.5).
	DuplicateTriggerWindow = 100 * time.Millisecond
	minDuplicateDelay      = 50 * time.Millisecond
	randomExtraDelay       = 100 * time.Millisecond

	duplicateWindowShards = 16
)

// Config configures a Manager's two tiers and TTL defaults.
type Config struct {
	MaxSize          int
	EnablePersistent bool
	DBFile           string
	RedisAddr        string
	LatestTickTTL    time.Duration
	HistoricalTTL    time.Duration
}

// Manager is the cache manager of spec §4.5: two-tier read-through with
// promotion, write-through, TTL evaluation, a periodic sweeper and the
// duplicate-delay throttle.
type Manager struct {
	memory *memoryTier
	kv     kvStore
	clock  clock.Clock

	dupShards [duplicateWindowShards]*dupShard

	sweepStop chan struct{}
	sweepOnce sync.Once

	latestTickTTL time.Duration
	historicalTTL time.Duration
}

type dupShard struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

// NewManager builds a cache manager from the given configuration. A
// persistent-tier construction failure is logged and degrades to
// memory-only operation rather than failing startup, matching spec §7's
// PersistentCacheIoError policy.
func NewManager(cfg Config, clk clock.Clock) *Manager {
	m := &Manager{
		memory:        newMemoryTier(cfg.MaxSize, clk),
		clock:         clk,
		latestTickTTL: cfg.LatestTickTTL,
		historicalTTL: cfg.HistoricalTTL,
	}
	for i := range m.dupShards {
		m.dupShards[i] = &dupShard{seen: make(map[string]time.Time)}
	}

	switch {
	case cfg.RedisAddr != "":
		client, err := newRedisClient(cfg.RedisAddr)
		if err != nil {
			logrus.WithError(err).WithField("redisAddr", cfg.RedisAddr).
				Error("failed to connect to redis, falling back to memory-only")
			m.kv = nopKV{}
		} else {
			m.kv = newRedisKV(client, "")
		}
	case cfg.EnablePersistent:
		store, err := newSQLiteKV(cfg.DBFile)
		if err != nil {
			logrus.WithError(err).WithField("dbFile", cfg.DBFile).
				Error("failed to open persistent cache store, falling back to memory-only")
			m.kv = nopKV{}
		} else {
			m.kv = store
		}
	default:
		m.kv = nopKV{}
	}

	return m
}

// LatestTickTTL and HistoricalTTL expose the manager's configured TTL
// defaults to the cacheability policy.
func (m *Manager) LatestTickTTL() time.Duration { return m.latestTickTTL }
func (m *Manager) HistoricalTTL() time.Duration { return m.historicalTTL }

// Lookup implements spec §4.5's lookup contract: memory tier first, then
// persistent tier with promotion on hit; expired entries found on either
// tier are deleted before returning a miss (invariant 4).
func (m *Manager) Lookup(key string, maxAge time.Duration, requestID rpctypes.RpcID) (*rpctypes.RpcResponse, bool) {
	now := m.clock.Now()

	if entry, ok := m.memory.get(key); ok {
		if m.expired(entry, maxAge, now) {
			m.memory.delete(key)
			m.kv.Delete(key)
			cacheHitRatio.Mark(false)
			return nil, false
		}
		entry.ReadCount++
		resp, err := entry.ToResponse(requestID)
		if err != nil {
			cacheHitRatio.Mark(false)
			return nil, false
		}
		cacheHitRatio.Mark(true)
		return resp, true
	}

	row, err := m.kv.Get(key)
	if err != nil {
		logrus.WithError(err).WithField("key", key).Warn("persistent cache read failed")
		cacheHitRatio.Mark(false)
		return nil, false
	}
	if row == nil {
		cacheHitRatio.Mark(false)
		return nil, false
	}

	entry := &rpctypes.CacheEntry{Payload: row.Payload, InsertedAt: row.InsertedAt}
	if m.expired(entry, maxAge, now) {
		m.kv.Delete(key)
		cacheHitRatio.Mark(false)
		return nil, false
	}

	entry.ReadCount++
	m.memory.put(key, entry) // promotion

	resp, err := entry.ToResponse(requestID)
	if err != nil {
		cacheHitRatio.Mark(false)
		return nil, false
	}
	cacheHitRatio.Mark(true)
	return resp, true
}

func (m *Manager) expired(entry *rpctypes.CacheEntry, maxAge time.Duration, now time.Time) bool {
	if maxAge == Infinite || maxAge <= 0 {
		return false
	}
	return now.Sub(entry.InsertedAt) > maxAge
}

// Store writes a response envelope to both tiers (persistent best-effort,
// then memory), per spec invariant 6.
func (m *Manager) Store(key string, resp *rpctypes.RpcResponse) {
	payload, err := json.Marshal(resp)
	if err != nil {
		logrus.WithError(err).WithField("key", key).Warn("failed to encode cache entry")
		return
	}

	now := m.clock.Now()
	if err := m.kv.Put(key, payload, now); err != nil {
		logrus.WithError(err).WithField("key", key).Warn("persistent cache write failed")
	}

	entry := &rpctypes.CacheEntry{Payload: payload, InsertedAt: now, OriginalSize: len(payload)}
	if existing, ok := m.memory.get(key); ok {
		entry.WriteCount = existing.WriteCount + 1
	} else {
		entry.WriteCount = 1
	}
	m.memory.put(key, entry)
}

// Invalidate removes key from both tiers.
func (m *Manager) Invalidate(key string) {
	m.memory.delete(key)
	if err := m.kv.Delete(key); err != nil {
		logrus.WithError(err).WithField("key", key).Warn("persistent cache invalidate failed")
	}
}

// Clear empties the memory tier; used by the /cache/clear operational
// endpoint.
func (m *Manager) Clear() {
	m.memory.clear()
}

// HandleDuplicateWindow implements spec §4.5's duplicate throttle: if key
// was seen within DuplicateTriggerWindow, sleeps a randomised short delay
// before returning, giving a concurrent sibling time to populate the cache.
func (m *Manager) HandleDuplicateWindow(key string) {
	shard := m.dupShards[dupShardIndex(key)]
	now := m.clock.Now()

	shard.mu.Lock()
	last, seen := shard.seen[key]
	shard.seen[key] = now
	shard.mu.Unlock()

	if seen && now.Sub(last) < DuplicateTriggerWindow {
		delay := minDuplicateDelay + time.Duration(rand.Int63n(int64(randomExtraDelay)))
		time.Sleep(delay)
	}
}

func dupShardIndex(key string) uint64 {
	return xxhash.Sum64String(key) % duplicateWindowShards
}

// MemorySize reports current memory-tier occupancy for the stats endpoint.
func (m *Manager) MemorySize() int { return m.memory.size() }

// PersistentStats reports persistent-tier occupancy for the stats endpoint.
func (m *Manager) PersistentStats() (count int64, minTs, maxTs time.Time) {
	s, err := m.kv.Stats()
	if err != nil {
		return 0, time.Time{}, time.Time{}
	}
	return s.Count, s.MinTs, s.MaxTs
}

// StartSweeper runs the hourly TTL sweep of spec §4.5. maxAge<=0 disables
// the sweep entirely ("infinite retention"); per-entry finite TTLs assigned
// by the policy (e.g. eth_blockNumber) still rely on opportunistic deletion
// at Lookup time in that case (§9 open question resolution, see DESIGN.md).
func (m *Manager) StartSweeper(maxAge time.Duration, interval time.Duration) {
	m.sweepOnce.Do(func() {
		m.sweepStop = make(chan struct{})
		if maxAge <= 0 {
			return
		}
		go m.sweepLoop(maxAge, interval)
	})
}

func (m *Manager) sweepLoop(maxAge, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweep(maxAge)
		case <-m.sweepStop:
			return
		}
	}
}

func (m *Manager) sweep(maxAge time.Duration) {
	cutoff := m.clock.Now().Add(-maxAge)

	var toDelete []string
	m.memory.iterateOldestFirst(func(key string, entry *rpctypes.CacheEntry) bool {
		if entry.InsertedAt.Before(cutoff) {
			toDelete = append(toDelete, key)
			return true
		}
		// oldest-first iteration: once we reach a young entry, everything
		// after it is younger still.
		return false
	})
	for _, key := range toDelete {
		m.memory.delete(key)
	}

	if n, err := m.kv.DeleteOlderThan(cutoff); err != nil {
		logrus.WithError(err).Warn("persistent cache sweep failed")
	} else if n > 0 {
		logrus.WithField("count", n).Debug("swept stale persistent cache entries")
	}
}

// Close stops the sweeper and releases the persistent tier handle.
func (m *Manager) Close() error {
	if m.sweepStop != nil {
		close(m.sweepStop)
	}
	return m.kv.Close()
}
