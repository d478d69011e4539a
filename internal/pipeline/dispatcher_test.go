package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"swapscope/internal/dex"
	"swapscope/internal/model"
	"swapscope/internal/utxo"
)

type fakeStore struct {
	mu                 sync.Mutex
	prices             [][]model.Price
	reserves           [][]model.PoolReserve
	persistPricesErr   error
	persistReservesErr error
	syncPoint          uint64
	syncPointSet       bool
	savedPoints        []uint64
	refreshCalls       int
}

func (f *fakeStore) PersistPrices(_ context.Context, prices []model.Price) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.persistPricesErr != nil {
		return f.persistPricesErr
	}
	f.prices = append(f.prices, prices)
	return nil
}

func (f *fakeStore) PersistPoolReserves(_ context.Context, reserves []model.PoolReserve) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.persistReservesErr != nil {
		return f.persistReservesErr
	}
	f.reserves = append(f.reserves, reserves)
	return nil
}

func (f *fakeStore) RefreshViews(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	return nil
}

func (f *fakeStore) LoadSyncPoint(context.Context) (uint64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.syncPoint, f.syncPointSet, nil
}

func (f *fakeStore) SaveSyncPoint(_ context.Context, timeSeconds uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.savedPoints = append(f.savedPoints, timeSeconds)
	return nil
}

func (f *fakeStore) priceBatches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prices)
}

func (f *fakeStore) reserveBatches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reserves)
}

type fakeChain struct {
	mu           sync.Mutex
	blockSignals chan struct{}
	rollbackDone chan struct{}
	restarts     []uint64
	synced       bool
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		blockSignals: make(chan struct{}, 16),
		rollbackDone: make(chan struct{}, 16),
	}
}

func (f *fakeChain) SignalBlockProcessed()    { f.blockSignals <- struct{}{} }
func (f *fakeChain) SignalRollbackProcessed() { f.rollbackDone <- struct{}{} }

func (f *fakeChain) Restart(_ context.Context, timeSeconds uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts = append(f.restarts, timeSeconds)
	return nil
}

func (f *fakeChain) IsSynced() bool { return f.synced }

type fakeResolver struct {
	outputs map[model.UtxoRef]model.Utxo
}

func (f *fakeResolver) ResolveInputs(_ context.Context, refs []model.UtxoRef) ([]model.Utxo, error) {
	resolved := make([]model.Utxo, 0, len(refs))
	for _, ref := range refs {
		if out, ok := f.outputs[ref]; ok {
			resolved = append(resolved, out)
		}
	}
	return resolved, nil
}

func newTestDispatcher(t *testing.T, store *fakeStore, chainCtl *fakeChain) (*Dispatcher, *Bus) {
	t.Helper()
	bus, err := NewBus(DefaultBusCapacity)
	if err != nil {
		t.Fatalf("new bus: %v", err)
	}
	cache, err := utxo.NewCache(100, nil)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	classifiers, err := dex.Build(nil, nil)
	if err != nil {
		t.Fatalf("build classifiers: %v", err)
	}
	dispatcher, err := NewDispatcher(DispatcherOptions{
		Bus:            bus,
		Cache:          cache,
		SwapProcessor:  NewSwapProcessor(classifiers, &fakeResolver{}, 0, nil),
		PriceProcessor: NewPriceProcessor(nil, 0, nil),
		Store:          store,
		Chain:          chainCtl,
	})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	return dispatcher, bus
}

func waitSignal(t *testing.T, ch chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for signal")
	}
}

func assertNoSignal(t *testing.T, ch chan struct{}) {
	t.Helper()
	select {
	case <-ch:
		t.Fatalf("unexpected signal")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEmptyBlockSignalsOnceWithoutWrites(t *testing.T) {
	store := &fakeStore{}
	chainCtl := newFakeChain()
	dispatcher, bus := newTestDispatcher(t, store, chainCtl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		dispatcher.Run(ctx)
	}()

	block := model.Block{Hash: "b1", Slot: 1_000_000}
	if err := bus.Publish(ctx, model.BlockReceived{Block: block}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitSignal(t, chainCtl.blockSignals)
	assertNoSignal(t, chainCtl.blockSignals)
	if store.priceBatches() != 0 || store.reserveBatches() != 0 {
		t.Fatalf("empty block must not write prices or reserves")
	}

	cancel()
	<-done
}

func TestReservesPathSignalsWhenNoSwaps(t *testing.T) {
	store := &fakeStore{}
	chainCtl := newFakeChain()
	dispatcher, _ := newTestDispatcher(t, store, chainCtl)

	reserves := []model.PoolReserve{{PoolID: "a:b:minswapv1", Reserve1: 1, Reserve2: 2, Time: 100}}
	event := model.PoolReservesComputed{Slot: 100, Reserves: reserves, HasSwaps: false}
	if err := dispatcher.handle(context.Background(), event); err != nil {
		t.Fatalf("handle: %v", err)
	}

	waitSignal(t, chainCtl.blockSignals)
	if store.reserveBatches() != 1 {
		t.Fatalf("expected one reserve batch, got %d", store.reserveBatches())
	}
}

func TestReservesPathSignalsEvenWhenPersistFails(t *testing.T) {
	store := &fakeStore{persistReservesErr: fmt.Errorf("connection lost")}
	chainCtl := newFakeChain()
	dispatcher, _ := newTestDispatcher(t, store, chainCtl)

	event := model.PoolReservesComputed{
		Slot:     100,
		Reserves: []model.PoolReserve{{PoolID: "a:b:minswapv1"}},
		HasSwaps: false,
	}
	if err := dispatcher.handle(context.Background(), event); err == nil {
		t.Fatalf("expected persist error to propagate")
	}
	waitSignal(t, chainCtl.blockSignals)
}

func TestReservesPathDoesNotSignalWhenSwapsPending(t *testing.T) {
	store := &fakeStore{persistReservesErr: fmt.Errorf("connection lost")}
	chainCtl := newFakeChain()
	dispatcher, _ := newTestDispatcher(t, store, chainCtl)

	event := model.PoolReservesComputed{
		Slot:     100,
		Reserves: []model.PoolReserve{{PoolID: "a:b:minswapv1"}},
		HasSwaps: true,
	}
	dispatcher.handle(context.Background(), event)
	assertNoSignal(t, chainCtl.blockSignals)
}

func TestPricesPathSignalsEvenWhenPersistFails(t *testing.T) {
	store := &fakeStore{persistPricesErr: fmt.Errorf("constraint violation")}
	chainCtl := newFakeChain()
	dispatcher, _ := newTestDispatcher(t, store, chainCtl)

	event := model.PricesCalculated{
		Slot:   100,
		Prices: []model.Price{{AssetUnit: "aa", QuoteAssetUnit: model.LovelaceUnit}},
	}
	if err := dispatcher.handle(context.Background(), event); err == nil {
		t.Fatalf("expected persist error to propagate")
	}
	waitSignal(t, chainCtl.blockSignals)
	assertNoSignal(t, chainCtl.blockSignals)
}

func TestPricesPathPersistsAndRefreshesWhenSynced(t *testing.T) {
	store := &fakeStore{}
	chainCtl := newFakeChain()
	chainCtl.synced = true
	dispatcher, _ := newTestDispatcher(t, store, chainCtl)

	event := model.PricesCalculated{
		Slot:   100,
		Prices: []model.Price{{AssetUnit: "aa", QuoteAssetUnit: model.LovelaceUnit, Price: 0.5}},
	}
	if err := dispatcher.handle(context.Background(), event); err != nil {
		t.Fatalf("handle: %v", err)
	}
	waitSignal(t, chainCtl.blockSignals)
	if store.priceBatches() != 1 {
		t.Fatalf("expected one price batch, got %d", store.priceBatches())
	}
	store.mu.Lock()
	refreshes := store.refreshCalls
	store.mu.Unlock()
	if refreshes != 1 {
		t.Fatalf("expected one view refresh, got %d", refreshes)
	}
}

func TestSwapsComputedWithoutSwapsPublishesNothing(t *testing.T) {
	store := &fakeStore{}
	chainCtl := newFakeChain()
	dispatcher, bus := newTestDispatcher(t, store, chainCtl)

	if err := dispatcher.handle(context.Background(), model.SwapsComputed{Slot: 100}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	select {
	case event := <-bus.Events():
		t.Fatalf("unexpected event %T", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRollbackUsesEarlierOfPersistedAndRollbackPoint(t *testing.T) {
	store := &fakeStore{syncPoint: 80, syncPointSet: true}
	chainCtl := newFakeChain()
	dispatcher, _ := newTestDispatcher(t, store, chainCtl)

	event := model.Rollback{Point: model.BlockPoint{Slot: 90, Hash: "aa"}}
	if err := dispatcher.handle(context.Background(), event); err != nil {
		t.Fatalf("handle: %v", err)
	}

	waitSignal(t, chainCtl.rollbackDone)
	chainCtl.mu.Lock()
	defer chainCtl.mu.Unlock()
	if len(chainCtl.restarts) != 1 || chainCtl.restarts[0] != 80 {
		t.Fatalf("expected restart from persisted point 80, got %v", chainCtl.restarts)
	}
}

func TestRollbackUsesRollbackPointWhenPersistedIsAhead(t *testing.T) {
	store := &fakeStore{syncPoint: 95, syncPointSet: true}
	chainCtl := newFakeChain()
	dispatcher, _ := newTestDispatcher(t, store, chainCtl)

	event := model.Rollback{Point: model.BlockPoint{Slot: 90, Hash: "aa"}}
	if err := dispatcher.handle(context.Background(), event); err != nil {
		t.Fatalf("handle: %v", err)
	}

	waitSignal(t, chainCtl.rollbackDone)
	chainCtl.mu.Lock()
	defer chainCtl.mu.Unlock()
	if len(chainCtl.restarts) != 1 || chainCtl.restarts[0] != 90 {
		t.Fatalf("expected restart from rollback point 90, got %v", chainCtl.restarts)
	}
}
