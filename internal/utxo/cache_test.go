package utxo

import (
	"fmt"
	"testing"

	"swapscope/internal/model"
)

func makeOutput(txHash string, index uint32) model.Utxo {
	return model.Utxo{
		Ref:     model.UtxoRef{TxHash: txHash, Index: index},
		Address: "addr_test1" + txHash,
		Value:   model.Value{Lovelace: 1_000_000},
	}
}

func TestCacheAddAndGet(t *testing.T) {
	cache, err := NewCache(10, nil)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}

	cache.AddOutputs("aa", []model.Utxo{makeOutput("aa", 0), makeOutput("aa", 1)})

	out, ok := cache.Get(model.UtxoRef{TxHash: "aa", Index: 1})
	if !ok {
		t.Fatalf("expected hit for aa#1")
	}
	if out.Address != "addr_test1aa" {
		t.Fatalf("address mismatch: %s", out.Address)
	}

	if _, ok := cache.Get(model.UtxoRef{TxHash: "aa", Index: 2}); ok {
		t.Fatalf("unexpected hit for aa#2")
	}
}

func TestCacheEvictionIsFIFO(t *testing.T) {
	cache, err := NewCache(3, nil)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}

	for i := 0; i < 3; i++ {
		cache.AddOutputs(fmt.Sprintf("tx%d", i), []model.Utxo{makeOutput(fmt.Sprintf("tx%d", i), 0)})
	}

	// Reads must not promote.
	cache.Get(model.UtxoRef{TxHash: "tx0", Index: 0})

	cache.AddOutputs("tx3", []model.Utxo{makeOutput("tx3", 0)})
	cache.AddOutputs("tx4", []model.Utxo{makeOutput("tx4", 0)})

	if _, ok := cache.Get(model.UtxoRef{TxHash: "tx0", Index: 0}); ok {
		t.Fatalf("tx0 should have been evicted first")
	}
	if _, ok := cache.Get(model.UtxoRef{TxHash: "tx1", Index: 0}); ok {
		t.Fatalf("tx1 should have been evicted second")
	}
	for _, tx := range []string{"tx2", "tx3", "tx4"} {
		if _, ok := cache.Get(model.UtxoRef{TxHash: tx, Index: 0}); !ok {
			t.Fatalf("%s should still be cached", tx)
		}
	}
}

func TestCacheNeverExceedsMaxSize(t *testing.T) {
	cache, err := NewCache(5, nil)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}

	for i := 0; i < 50; i++ {
		outputs := []model.Utxo{
			makeOutput(fmt.Sprintf("tx%d", i), 0),
			makeOutput(fmt.Sprintf("tx%d", i), 1),
		}
		cache.AddOutputs(fmt.Sprintf("tx%d", i), outputs)
		if stats := cache.Stats(); stats.Size > stats.MaxSize {
			t.Fatalf("cache exceeded max size: %d > %d", stats.Size, stats.MaxSize)
		}
	}

	stats := cache.Stats()
	if stats.Size != 5 {
		t.Fatalf("expected full cache, got %d", stats.Size)
	}
	if stats.Utilization != 100 {
		t.Fatalf("expected 100%% utilization, got %f", stats.Utilization)
	}
}

func TestCacheAddIsIdempotent(t *testing.T) {
	cache, err := NewCache(4, nil)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}

	outputs := []model.Utxo{makeOutput("aa", 0), makeOutput("aa", 1)}
	cache.AddOutputs("aa", outputs)
	cache.AddOutputs("aa", outputs)

	if stats := cache.Stats(); stats.Size != 2 {
		t.Fatalf("duplicate add changed size: %d", stats.Size)
	}
}

func TestCacheGetMany(t *testing.T) {
	cache, err := NewCache(10, nil)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}

	cache.AddOutputs("aa", []model.Utxo{makeOutput("aa", 0)})
	cache.AddOutputs("bb", []model.Utxo{makeOutput("bb", 0)})

	refs := []model.UtxoRef{
		{TxHash: "aa", Index: 0},
		{TxHash: "bb", Index: 0},
		{TxHash: "cc", Index: 0},
	}
	found := cache.GetMany(refs)
	if len(found) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(found))
	}
	if _, ok := found[model.UtxoRef{TxHash: "cc", Index: 0}]; ok {
		t.Fatalf("unexpected hit for cc#0")
	}
}

func TestCacheRemoveSpent(t *testing.T) {
	cache, err := NewCache(10, nil)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}

	cache.AddOutputs("aa", []model.Utxo{makeOutput("aa", 0)})
	cache.RemoveSpent(model.UtxoRef{TxHash: "aa", Index: 0})

	if _, ok := cache.Get(model.UtxoRef{TxHash: "aa", Index: 0}); ok {
		t.Fatalf("entry should have been removed")
	}
	if stats := cache.Stats(); stats.Size != 0 {
		t.Fatalf("expected empty cache, got %d", stats.Size)
	}
}

func TestCacheInvalidSize(t *testing.T) {
	if _, err := NewCache(0, nil); err == nil {
		t.Fatalf("expected error for zero size")
	}
}
