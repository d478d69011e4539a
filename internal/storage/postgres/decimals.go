package postgres

import (
	"context"
	"fmt"
	"sync"
)

// DecimalsCache keeps the registered asset decimals in memory for the
// hot pricing path. Refresh reloads it from the asset table.
type DecimalsCache struct {
	store *Store

	mu       sync.RWMutex
	decimals map[string]int32
}

func NewDecimalsCache(store *Store) *DecimalsCache {
	return &DecimalsCache{
		store:    store,
		decimals: make(map[string]int32),
	}
}

// Refresh reloads every asset with known decimals.
func (c *DecimalsCache) Refresh(ctx context.Context) error {
	rows, err := c.store.pool.Query(ctx, `SELECT unit, decimals FROM asset WHERE decimals IS NOT NULL`)
	if err != nil {
		return fmt.Errorf("query asset decimals: %w", err)
	}
	defer rows.Close()

	loaded := make(map[string]int32)
	for rows.Next() {
		var (
			unit     string
			decimals int32
		)
		if err := rows.Scan(&unit, &decimals); err != nil {
			return fmt.Errorf("scan asset decimals: %w", err)
		}
		loaded[unit] = decimals
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate asset decimals: %w", err)
	}

	c.mu.Lock()
	c.decimals = loaded
	c.mu.Unlock()
	return nil
}

// DecimalsFor reports the cached decimals of a unit.
func (c *DecimalsCache) DecimalsFor(unit string) (int32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.decimals[unit]
	return d, ok
}
