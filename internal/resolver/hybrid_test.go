package resolver

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"swapscope/internal/model"
	"swapscope/internal/utxo"
)

type fakeFallback struct {
	outputs   func(refs []model.UtxoRef) []model.Utxo
	err       error
	lastCall  []model.UtxoRef
	callCount int
}

func (f *fakeFallback) ResolveInputs(_ context.Context, refs []model.UtxoRef) ([]model.Utxo, error) {
	f.callCount++
	f.lastCall = refs
	if f.err != nil {
		return nil, f.err
	}
	if f.outputs == nil {
		return nil, nil
	}
	return f.outputs(refs), nil
}

func (f *fakeFallback) FindBlockNearest(_ context.Context, slot uint64) (model.BlockPoint, error) {
	return model.BlockPoint{Slot: slot, Hash: "00"}, nil
}

func newTestCache(t *testing.T, size int) *utxo.Cache {
	t.Helper()
	cache, err := utxo.NewCache(size, nil)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	return cache
}

func refFor(i int) model.UtxoRef {
	return model.UtxoRef{TxHash: fmt.Sprintf("tx%02d", i), Index: 0}
}

func outputFor(ref model.UtxoRef) model.Utxo {
	return model.Utxo{Ref: ref, Address: "addr_" + ref.TxHash, Value: model.Value{Lovelace: 5}}
}

func TestHybridAllCached(t *testing.T) {
	cache := newTestCache(t, 10)
	fallback := &fakeFallback{}
	hybrid := NewHybrid(cache, fallback, nil)

	refs := []model.UtxoRef{refFor(0), refFor(1)}
	for _, ref := range refs {
		cache.AddOutputs(ref.TxHash, []model.Utxo{outputFor(ref)})
	}

	resolved, err := hybrid.ResolveInputs(context.Background(), refs)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(resolved) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(resolved))
	}
	if fallback.callCount != 0 {
		t.Fatalf("fallback should not have been called")
	}
	for i, ref := range refs {
		if resolved[i].Ref != ref {
			t.Fatalf("output %d out of order: %+v", i, resolved[i].Ref)
		}
	}
}

func TestHybridPartialHitsPreserveOrder(t *testing.T) {
	cache := newTestCache(t, 10)
	fallback := &fakeFallback{
		outputs: func(refs []model.UtxoRef) []model.Utxo {
			outputs := make([]model.Utxo, 0, len(refs))
			for _, ref := range refs {
				outputs = append(outputs, outputFor(ref))
			}
			return outputs
		},
	}
	hybrid := NewHybrid(cache, fallback, nil)

	refs := make([]model.UtxoRef, 5)
	for i := range refs {
		refs[i] = refFor(i)
	}
	// Cache refs 0, 2, 4; fallback must be asked for 1 and 3.
	for _, i := range []int{0, 2, 4} {
		cache.AddOutputs(refs[i].TxHash, []model.Utxo{outputFor(refs[i])})
	}

	resolved, err := hybrid.ResolveInputs(context.Background(), refs)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(resolved) != 5 {
		t.Fatalf("expected 5 outputs, got %d", len(resolved))
	}
	for i, ref := range refs {
		if resolved[i].Ref != ref {
			t.Fatalf("output %d out of order: got %+v want %+v", i, resolved[i].Ref, ref)
		}
	}
	if len(fallback.lastCall) != 2 {
		t.Fatalf("fallback should have been asked for 2 refs, got %d", len(fallback.lastCall))
	}
}

func TestHybridFallbackShortResponse(t *testing.T) {
	cache := newTestCache(t, 10)
	fallback := &fakeFallback{
		outputs: func(refs []model.UtxoRef) []model.Utxo {
			// Drop the last requested ref.
			outputs := make([]model.Utxo, 0, len(refs)-1)
			for _, ref := range refs[:len(refs)-1] {
				outputs = append(outputs, outputFor(ref))
			}
			return outputs
		},
	}
	hybrid := NewHybrid(cache, fallback, nil)

	refs := make([]model.UtxoRef, 4)
	for i := range refs {
		refs[i] = refFor(i)
	}

	resolved, err := hybrid.ResolveInputs(context.Background(), refs)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(resolved) != 3 {
		t.Fatalf("expected 3 outputs, got %d", len(resolved))
	}
	for i := 0; i < 3; i++ {
		if resolved[i].Ref != refs[i] {
			t.Fatalf("output %d mismatched: %+v", i, resolved[i].Ref)
		}
	}
}

func TestHybridPositionalAlignmentWithoutRefMetadata(t *testing.T) {
	cache := newTestCache(t, 10)
	fallback := &fakeFallback{
		outputs: func(refs []model.UtxoRef) []model.Utxo {
			outputs := make([]model.Utxo, len(refs))
			for i := range refs {
				outputs[i] = model.Utxo{Address: fmt.Sprintf("addr_pos%d", i), Value: model.Value{Lovelace: 5}}
			}
			return outputs
		},
	}
	hybrid := NewHybrid(cache, fallback, nil)

	refs := []model.UtxoRef{refFor(0), refFor(1)}
	resolved, err := hybrid.ResolveInputs(context.Background(), refs)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(resolved) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(resolved))
	}
	for i, ref := range refs {
		if resolved[i].Ref != ref {
			t.Fatalf("positional output %d did not get ref backfilled: %+v", i, resolved[i].Ref)
		}
	}
}

func TestHybridFallbackError(t *testing.T) {
	cache := newTestCache(t, 10)
	fallback := &fakeFallback{err: fmt.Errorf("connection refused")}
	hybrid := NewHybrid(cache, fallback, nil)

	_, err := hybrid.ResolveInputs(context.Background(), []model.UtxoRef{refFor(0)})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !errors.Is(err, ErrChainData) {
		t.Fatalf("expected chain data error, got %v", err)
	}
}

func TestHybridEmptyRefs(t *testing.T) {
	hybrid := NewHybrid(newTestCache(t, 10), &fakeFallback{}, nil)
	resolved, err := hybrid.ResolveInputs(context.Background(), nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(resolved) != 0 {
		t.Fatalf("expected empty result")
	}
}
