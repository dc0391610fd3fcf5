package cache

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// MemoryCache is an in-process cache shared by every caller holding it.
//
// Stored items are kept as-is and the same pointer is handed back on every
// hit, so large payloads are decoded once and shared; callers must treat the
// returned values as read-only. Each entry is evicted by a timer firing at its
// cached_until, and reads past that instant miss even if the timer has not run.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	clock   clock.Clock
	logger  *zap.Logger
}

type memoryEntry struct {
	item      Item
	expiresAt time.Time
	timer     *clock.Timer
}

// NewMemoryCache creates an empty in-process cache. A nil clock uses the wall clock.
func NewMemoryCache(clk clock.Clock, logger *zap.Logger) *MemoryCache {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryCache{
		entries: make(map[string]*memoryEntry),
		clock:   clk,
		logger:  logger,
	}
}

// Lookup returns the live entry stored under key
func (mc *MemoryCache) Lookup(_ context.Context, key string) (Item, error) {
	mc.mu.RLock()
	ent, ok := mc.entries[key]
	mc.mu.RUnlock()

	if !ok {
		return nil, nil
	}

	if !mc.clock.Now().Before(ent.expiresAt) {
		mc.logger.Debug("cache item expired, removing", zap.String("key", key))
		mc.evict(key, ent)
		return nil, nil
	}

	mc.logger.Debug("cache item retrieved successfully", zap.String("key", key))
	return ent.item, nil
}

// Store inserts item under key until its cached_until
func (mc *MemoryCache) Store(_ context.Context, key string, item Item) error {
	meta := item.Metadata()
	ttl := meta.TTLRemaining(mc.clock.Now())
	if ttl <= 0 {
		mc.logger.Debug("skipping expired cache item", zap.String("key", key))
		return nil
	}

	ent := &memoryEntry{
		item:      item,
		expiresAt: meta.ExpiresAt(),
	}

	mc.mu.Lock()
	if old, ok := mc.entries[key]; ok && old.timer != nil {
		old.timer.Stop()
	}
	ent.timer = mc.clock.AfterFunc(ttl, func() {
		mc.evict(key, ent)
	})
	mc.entries[key] = ent
	mc.mu.Unlock()

	mc.logger.Debug("cache item set successfully",
		zap.String("key", key),
		zap.Duration("ttl", ttl))

	return nil
}

// Len returns the number of entries physically held, expired or not
func (mc *MemoryCache) Len() int {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return len(mc.entries)
}

// Close stops every pending expiry timer and drops all entries
func (mc *MemoryCache) Close() error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	for key, ent := range mc.entries {
		if ent.timer != nil {
			ent.timer.Stop()
		}
		delete(mc.entries, key)
	}
	return nil
}

// evict removes key only if it still maps to ent, so a timer belonging to a
// replaced entry cannot drop its successor.
func (mc *MemoryCache) evict(key string, ent *memoryEntry) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if cur, ok := mc.entries[key]; ok && cur == ent {
		delete(mc.entries, key)
	}
}
