package utxo

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"swapscope/internal/model"
)

// DefaultMaxEntries bounds the cache when no size is configured.
const DefaultMaxEntries = 100_000

// Stats is a point-in-time snapshot of cache occupancy.
type Stats struct {
	Size        int
	MaxSize     int
	Utilization float64
}

// Cache maps (txHash, outputIndex) to the decoded output. Eviction is
// strictly by first insertion; reads do not promote entries. Entries are
// kept when spent as inputs so that rollback reprocessing can still
// resolve them.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]model.Utxo
	order   []string
	maxSize int
	logger  *zap.Logger
}

// NewCache builds a cache bounded to maxSize entries.
func NewCache(maxSize int, logger *zap.Logger) (*Cache, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("cache size must be greater than zero")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		entries: make(map[string]model.Utxo),
		order:   make([]string, 0, maxSize),
		maxSize: maxSize,
		logger:  logger,
	}, nil
}

// AddOutputs inserts every output of a transaction. Keys already present
// are left untouched, so repeated calls for the same transaction are
// idempotent and do not disturb eviction order.
func (c *Cache) AddOutputs(txHash string, outputs []model.Utxo) {
	if len(outputs) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, out := range outputs {
		key := out.Ref.Key()
		if _, ok := c.entries[key]; ok {
			continue
		}
		for len(c.entries) >= c.maxSize {
			c.evictOldestLocked()
		}
		c.entries[key] = out
		c.order = append(c.order, key)
	}
}

// Get returns the cached output for a single reference.
func (c *Cache) Get(ref model.UtxoRef) (model.Utxo, bool) {
	c.mu.RLock()
	out, ok := c.entries[ref.Key()]
	c.mu.RUnlock()
	return out, ok
}

// GetMany returns the subset of refs present in the cache, keyed by
// reference.
func (c *Cache) GetMany(refs []model.UtxoRef) map[model.UtxoRef]model.Utxo {
	found := make(map[model.UtxoRef]model.Utxo, len(refs))

	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, ref := range refs {
		if out, ok := c.entries[ref.Key()]; ok {
			found[ref] = out
		}
	}
	return found
}

// RemoveSpent explicitly drops an entry. Normal operation relies on size
// eviction instead; this exists for callers that know an output can never
// be referenced again.
func (c *Cache) RemoveSpent(ref model.UtxoRef) {
	key := ref.Key()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		return
	}
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Stats reports current occupancy.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	size := len(c.entries)
	c.mu.RUnlock()

	return Stats{
		Size:        size,
		MaxSize:     c.maxSize,
		Utilization: float64(size) / float64(c.maxSize) * 100,
	}
}

func (c *Cache) evictOldestLocked() {
	if len(c.order) == 0 {
		return
	}
	key := c.order[0]
	c.order = c.order[1:]
	delete(c.entries, key)
}
