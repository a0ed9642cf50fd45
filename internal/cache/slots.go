package cache

import (
	"sync"
	"time"

	"cartbroker/internal/models"
)

type slotEntry struct {
	slots     []models.Slot
	expiresAt time.Time
}

// SlotCache keeps materialized slot lists for a short time. It is emptied
// whenever reservations change.
type SlotCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	clock   func() time.Time
	entries map[string]slotEntry
}

func NewSlotCache(ttl time.Duration, clock func() time.Time) *SlotCache {
	if ttl <= 0 {
		ttl = models.SlotCacheTTL
	}
	if clock == nil {
		clock = time.Now
	}
	return &SlotCache{ttl: ttl, clock: clock, entries: make(map[string]slotEntry)}
}

func (c *SlotCache) Get(key string) ([]models.Slot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.clock().Before(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return append([]models.Slot(nil), e.slots...), true
}

func (c *SlotCache) Put(key string, slots []models.Slot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = slotEntry{
		slots:     append([]models.Slot(nil), slots...),
		expiresAt: c.clock().Add(c.ttl),
	}
}

func (c *SlotCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}

func (c *SlotCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
