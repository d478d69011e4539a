package resolver

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"swapscope/internal/metrics"
	"swapscope/internal/model"
	"swapscope/internal/utxo"
)

// statsLogInterval controls how often cumulative hit-rate stats are logged.
const statsLogInterval = 100

// Hybrid serves UTXO lookups from the in-process cache and falls back to
// a configured provider for the misses.
type Hybrid struct {
	cache    *utxo.Cache
	fallback Provider
	logger   *zap.Logger

	calls  atomic.Uint64
	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewHybrid composes the cache with a fallback provider.
func NewHybrid(cache *utxo.Cache, fallback Provider, logger *zap.Logger) *Hybrid {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hybrid{cache: cache, fallback: fallback, logger: logger}
}

// ResolveInputs returns the outputs for refs in input order. Cached
// entries are used directly; the remainder is fetched from the fallback
// in one call. Refs that neither source can resolve are omitted.
func (h *Hybrid) ResolveInputs(ctx context.Context, refs []model.UtxoRef) ([]model.Utxo, error) {
	if len(refs) == 0 {
		return nil, nil
	}

	cached := h.cache.GetMany(refs)

	missed := make([]model.UtxoRef, 0, len(refs)-len(cached))
	for _, ref := range refs {
		if _, ok := cached[ref]; !ok {
			missed = append(missed, ref)
		}
	}

	h.hits.Add(uint64(len(cached)))
	h.misses.Add(uint64(len(missed)))
	metrics.UtxoCacheHits.Add(float64(len(cached)))
	metrics.UtxoCacheMisses.Add(float64(len(missed)))

	fetched := make(map[model.UtxoRef]model.Utxo, len(missed))
	if len(missed) > 0 {
		outputs, err := h.fallback.ResolveInputs(ctx, missed)
		if err != nil {
			return nil, fmt.Errorf("%w: resolve %d inputs via fallback: %v", ErrChainData, len(missed), err)
		}
		if len(outputs) != len(missed) {
			metrics.UtxoResolutionCountMismatch.Inc()
			h.logger.Warn("fallback returned unexpected output count",
				zap.Int("requested", len(missed)),
				zap.Int("returned", len(outputs)),
			)
		}
		fetched = alignFetched(missed, outputs)
	}

	resolved := make([]model.Utxo, 0, len(refs))
	missing := 0
	for _, ref := range refs {
		if out, ok := cached[ref]; ok {
			resolved = append(resolved, out)
			continue
		}
		if out, ok := fetched[ref]; ok {
			resolved = append(resolved, out)
			continue
		}
		missing++
	}
	if missing > 0 {
		metrics.UtxoResolutionMissing.Inc()
		h.logger.Warn("unresolved inputs after fallback merge",
			zap.Int("requested", len(refs)),
			zap.Int("missing", missing),
		)
	}

	h.maybeLogStats()

	return resolved, nil
}

// FindBlockNearest delegates to the fallback provider.
func (h *Hybrid) FindBlockNearest(ctx context.Context, slot uint64) (model.BlockPoint, error) {
	return h.fallback.FindBlockNearest(ctx, slot)
}

// alignFetched matches fallback outputs to the requested refs. When the
// response carries reference metadata on every element it is matched by
// key; otherwise positional alignment with the miss set is assumed.
func alignFetched(missed []model.UtxoRef, outputs []model.Utxo) map[model.UtxoRef]model.Utxo {
	keyed := len(outputs) > 0
	for _, out := range outputs {
		if out.Ref.TxHash == "" {
			keyed = false
			break
		}
	}

	fetched := make(map[model.UtxoRef]model.Utxo, len(outputs))
	if keyed {
		byRef := make(map[model.UtxoRef]model.Utxo, len(outputs))
		for _, out := range outputs {
			byRef[out.Ref] = out
		}
		for _, ref := range missed {
			if out, ok := byRef[ref]; ok {
				fetched[ref] = out
			}
		}
		return fetched
	}

	for i, ref := range missed {
		if i >= len(outputs) {
			break
		}
		out := outputs[i]
		out.Ref = ref
		fetched[ref] = out
	}
	return fetched
}

func (h *Hybrid) maybeLogStats() {
	calls := h.calls.Add(1)
	stats := h.cache.Stats()
	metrics.UtxoCacheSize.Set(float64(stats.Size))

	if calls%statsLogInterval != 0 {
		return
	}

	hits := h.hits.Load()
	misses := h.misses.Load()
	total := hits + misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.logger.Info("utxo resolution stats",
		zap.Uint64("calls", calls),
		zap.Uint64("hits", hits),
		zap.Uint64("misses", misses),
		zap.Float64("hit_rate_pct", hitRate),
		zap.Int("cache_size", stats.Size),
		zap.Float64("cache_utilization_pct", stats.Utilization),
	)
}
