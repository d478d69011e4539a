package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"swapscope/internal/metrics"
	"swapscope/internal/model"
	"swapscope/internal/utxo"
)

// Store is the persistence surface the dispatcher writes through.
type Store interface {
	PersistPrices(ctx context.Context, prices []model.Price) error
	PersistPoolReserves(ctx context.Context, reserves []model.PoolReserve) error
	RefreshViews(ctx context.Context) error
	LoadSyncPoint(ctx context.Context) (uint64, bool, error)
	SaveSyncPoint(ctx context.Context, timeSeconds uint64) error
}

// PricePublisher pushes individual price points to an external sink.
type PricePublisher interface {
	PublishPrice(ctx context.Context, price model.Price) error
}

// ChainControl is the dispatcher's handle on the chain-sync session.
type ChainControl interface {
	SignalBlockProcessed()
	SignalRollbackProcessed()
	Restart(ctx context.Context, timeSeconds uint64) error
	IsSynced() bool
}

// Dispatcher is the single consumer of the event bus. It routes every
// event type and owns the block-completion contract: each BlockReceived
// leads to exactly one block-processed signal, emitted from the
// pool-reserves path when the block had no swaps and from the prices
// path otherwise.
type Dispatcher struct {
	bus            *Bus
	cache          *utxo.Cache
	swaps          *SwapProcessor
	prices         *PriceProcessor
	store          Store
	publisher      PricePublisher
	chain          ChainControl
	slotTimeOffset uint64
	logger         *zap.Logger
}

// DispatcherOptions wires the dispatcher's collaborators. Publisher is
// optional; everything else is required.
type DispatcherOptions struct {
	Bus            *Bus
	Cache          *utxo.Cache
	SwapProcessor  *SwapProcessor
	PriceProcessor *PriceProcessor
	Store          Store
	Publisher      PricePublisher
	Chain          ChainControl
	SlotTimeOffset uint64
	Logger         *zap.Logger
}

// NewDispatcher validates the wiring and builds the dispatcher.
func NewDispatcher(opts DispatcherOptions) (*Dispatcher, error) {
	if opts.Bus == nil {
		return nil, fmt.Errorf("bus is required")
	}
	if opts.Cache == nil {
		return nil, fmt.Errorf("utxo cache is required")
	}
	if opts.SwapProcessor == nil {
		return nil, fmt.Errorf("swap processor is required")
	}
	if opts.PriceProcessor == nil {
		return nil, fmt.Errorf("price processor is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Chain == nil {
		return nil, fmt.Errorf("chain control is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		bus:            opts.Bus,
		cache:          opts.Cache,
		swaps:          opts.SwapProcessor,
		prices:         opts.PriceProcessor,
		store:          opts.Store,
		publisher:      opts.Publisher,
		chain:          opts.Chain,
		slotTimeOffset: opts.SlotTimeOffset,
		logger:         logger,
	}, nil
}

// Run consumes the bus until the context is cancelled or the bus is
// closed. Handler errors are logged and counted; the loop continues.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-d.bus.Events():
			if !ok {
				return nil
			}
			if err := d.handle(ctx, event); err != nil {
				metrics.EventProcessingFailed.Inc()
				d.logger.Error("event handling failed", zap.String("event", fmt.Sprintf("%T", event)), zap.Error(err))
			}
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, event model.Event) error {
	switch ev := event.(type) {
	case model.BlockReceived:
		return d.handleBlockReceived(ctx, ev)
	case model.SwapsComputed:
		return d.handleSwapsComputed(ctx, ev)
	case model.PoolReservesComputed:
		return d.handlePoolReservesComputed(ctx, ev)
	case model.PricesCalculated:
		return d.handlePricesCalculated(ctx, ev)
	case model.Rollback:
		return d.handleRollback(ctx, ev)
	default:
		return fmt.Errorf("unhandled event type %T", event)
	}
}

// handleBlockReceived caches the block's outputs and starts the derived
// event chain. On failure it does NOT signal block-processed, leaving
// the sync loop blocked so the failure surfaces deterministically.
func (d *Dispatcher) handleBlockReceived(ctx context.Context, ev model.BlockReceived) error {
	for _, tx := range ev.Block.Txs {
		d.cache.AddOutputs(tx.Hash, tx.Outputs)
	}
	metrics.UtxoCacheSize.Set(float64(d.cache.Stats().Size))

	swapsEvent, reservesEvent, err := d.swaps.Process(ctx, ev.Block)
	if err != nil {
		return fmt.Errorf("process block %d: %w", ev.Block.Slot, err)
	}

	if err := d.bus.Publish(ctx, swapsEvent); err != nil {
		return fmt.Errorf("publish swaps event: %w", err)
	}
	if err := d.bus.Publish(ctx, reservesEvent); err != nil {
		return fmt.Errorf("publish reserves event: %w", err)
	}
	metrics.BlocksProcessed.Inc()
	return nil
}

// handleSwapsComputed derives prices. Blocks without swaps publish
// nothing; the reserves path owns their completion signal.
func (d *Dispatcher) handleSwapsComputed(ctx context.Context, ev model.SwapsComputed) error {
	if len(ev.Swaps) == 0 {
		return nil
	}
	pricesEvent := d.prices.Process(ev)
	if err := d.bus.Publish(ctx, pricesEvent); err != nil {
		return fmt.Errorf("publish prices event: %w", err)
	}
	return nil
}

// handlePoolReservesComputed persists the snapshots. When the block had
// no swaps this path signals completion, persist failure included; the
// block is done as far as the sync loop is concerned.
func (d *Dispatcher) handlePoolReservesComputed(ctx context.Context, ev model.PoolReservesComputed) error {
	if !ev.HasSwaps {
		defer d.completeBlock(ctx, ev.Slot)
	}

	if len(ev.Reserves) == 0 {
		return nil
	}
	if err := d.store.PersistPoolReserves(ctx, ev.Reserves); err != nil {
		metrics.PoolReservePersistFailed.Inc()
		return fmt.Errorf("persist pool reserves at slot %d: %w", ev.Slot, err)
	}
	return nil
}

// handlePricesCalculated persists and optionally republishes prices.
// This path always signals completion, even when persistence fails.
func (d *Dispatcher) handlePricesCalculated(ctx context.Context, ev model.PricesCalculated) error {
	defer d.completeBlock(ctx, ev.Slot)

	if err := d.store.PersistPrices(ctx, ev.Prices); err != nil {
		metrics.PricePersistFailed.Inc()
		return fmt.Errorf("persist prices at slot %d: %w", ev.Slot, err)
	}

	if d.chain.IsSynced() {
		if err := d.store.RefreshViews(ctx); err != nil {
			d.logger.Warn("refresh views failed", zap.Uint64("slot", ev.Slot), zap.Error(err))
		}
	}

	if d.publisher != nil {
		for _, price := range ev.Prices {
			if err := d.publisher.PublishPrice(ctx, price); err != nil {
				metrics.PricePublishFailed.Inc()
				d.logger.Warn("publish price failed",
					zap.String("asset", price.AssetUnit),
					zap.String("tx", price.TxHash),
					zap.Error(err),
				)
			}
		}
	}
	return nil
}

// handleRollback restarts the sync session from the safe point. The
// persisted sync point may lag the rollback point, so the earlier of
// the two wins.
func (d *Dispatcher) handleRollback(ctx context.Context, ev model.Rollback) error {
	metrics.RollbacksHandled.Inc()

	reinitTime := slotToTime(ev.Point.Slot, d.slotTimeOffset)
	persisted, ok, err := d.store.LoadSyncPoint(ctx)
	if err != nil {
		return fmt.Errorf("load sync point: %w", err)
	}
	if ok && persisted < reinitTime {
		reinitTime = persisted
	}

	d.logger.Info("rollback",
		zap.Uint64("rollback_slot", ev.Point.Slot),
		zap.String("rollback_hash", ev.Point.Hash),
		zap.Uint64("reinit_time", reinitTime),
	)

	if err := d.chain.Restart(ctx, reinitTime); err != nil {
		return fmt.Errorf("restart sync: %w", err)
	}
	d.chain.SignalRollbackProcessed()
	return nil
}

// completeBlock checkpoints the sync point and releases the barrier.
func (d *Dispatcher) completeBlock(ctx context.Context, slot uint64) {
	if err := d.store.SaveSyncPoint(ctx, slotToTime(slot, d.slotTimeOffset)); err != nil {
		d.logger.Warn("save sync point failed", zap.Uint64("slot", slot), zap.Error(err))
	}
	d.chain.SignalBlockProcessed()
}
