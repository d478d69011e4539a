package pipeline

import (
	"context"
	"testing"
	"time"

	"swapscope/internal/model"
)

type fixedDecimals map[string]int32

func (f fixedDecimals) DecimalsFor(unit string) (int32, bool) {
	d, ok := f[unit]
	return d, ok
}

func TestBusPublishBlocksWhenFull(t *testing.T) {
	bus, err := NewBus(1)
	if err != nil {
		t.Fatalf("new bus: %v", err)
	}
	if err := bus.Publish(context.Background(), model.SwapsComputed{Slot: 1}); err != nil {
		t.Fatalf("first publish: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := bus.Publish(ctx, model.SwapsComputed{Slot: 2}); err == nil {
		t.Fatalf("publish into a full bus should block until cancellation")
	}

	// Draining one slot unblocks the next publish.
	<-bus.Events()
	if err := bus.Publish(context.Background(), model.SwapsComputed{Slot: 2}); err != nil {
		t.Fatalf("publish after drain: %v", err)
	}
}

func TestBusRejectsNonPositiveCapacity(t *testing.T) {
	if _, err := NewBus(0); err == nil {
		t.Fatalf("expected error for zero capacity")
	}
}

func TestPriceArithmetic(t *testing.T) {
	tokenUnit := "0be55d262b29f564998ff81efe21bdc0022621c12f15af08d0f2ddb141474958"
	processor := NewPriceProcessor(fixedDecimals{tokenUnit: 0}, 100, nil)

	// Trader paid 10 ADA for 50 tokens: 0.2 ADA per token.
	event := model.SwapsComputed{
		Slot: 1100,
		Swaps: []model.Swap{{
			TxHash:     "aa01",
			Slot:       1100,
			Dex:        "minswapv1",
			Asset1Unit: model.LovelaceUnit,
			Asset2Unit: tokenUnit,
			Amount1:    10_000_000,
			Amount2:    50,
			Operation:  model.OperationBuy,
		}},
	}

	result := processor.Process(event)
	if len(result.Prices) != 1 {
		t.Fatalf("expected 1 price, got %d", len(result.Prices))
	}
	price := result.Prices[0]
	if price.Price != 0.2 {
		t.Fatalf("price = %v, want 0.2", price.Price)
	}
	if price.Time != 1000 {
		t.Fatalf("time = %d, want slot minus offset", price.Time)
	}
	if price.AssetUnit != tokenUnit || price.QuoteAssetUnit != model.LovelaceUnit {
		t.Fatalf("orientation = %s/%s", price.AssetUnit, price.QuoteAssetUnit)
	}
	if price.Outlier != nil {
		t.Fatalf("expected no outlier flag")
	}
	if price.SwapIndex != 0 || price.Provider != "minswapv1" || price.Operation != model.OperationBuy {
		t.Fatalf("price metadata: %+v", price)
	}
}

func TestPriceNormalizesTokenDecimals(t *testing.T) {
	tokenUnit := "0be55d262b29f564998ff81efe21bdc0022621c12f15af08d0f2ddb141474958"
	processor := NewPriceProcessor(fixedDecimals{tokenUnit: 2}, 0, nil)

	event := model.SwapsComputed{
		Slot: 1,
		Swaps: []model.Swap{{
			Asset1Unit: model.LovelaceUnit,
			Asset2Unit: tokenUnit,
			Amount1:    10_000_000,
			Amount2:    5000,
		}},
	}

	result := processor.Process(event)
	if result.Prices[0].Price != 0.2 {
		t.Fatalf("price = %v, want 0.2 with 2-decimal token", result.Prices[0].Price)
	}
}

func TestPriceZeroAmountMarkedOutlier(t *testing.T) {
	processor := NewPriceProcessor(nil, 0, nil)

	event := model.SwapsComputed{
		Slot: 1,
		Swaps: []model.Swap{{
			Asset1Unit: model.LovelaceUnit,
			Asset2Unit: "aabb",
			Amount1:    0,
			Amount2:    7,
		}},
	}

	result := processor.Process(event)
	price := result.Prices[0]
	if price.Outlier == nil || !*price.Outlier {
		t.Fatalf("expected outlier flag")
	}
	if price.Price != 0 {
		t.Fatalf("price = %v, want 0 for outlier", price.Price)
	}
}

func TestPriceSwapIndexIncrements(t *testing.T) {
	processor := NewPriceProcessor(nil, 0, nil)
	event := model.SwapsComputed{
		Slot: 1,
		Swaps: []model.Swap{
			{Asset1Unit: model.LovelaceUnit, Asset2Unit: "aa", Amount1: 1, Amount2: 1},
			{Asset1Unit: model.LovelaceUnit, Asset2Unit: "bb", Amount1: 1, Amount2: 1},
		},
	}
	result := processor.Process(event)
	if result.Prices[0].SwapIndex != 0 || result.Prices[1].SwapIndex != 1 {
		t.Fatalf("swap indexes = %d,%d", result.Prices[0].SwapIndex, result.Prices[1].SwapIndex)
	}
}

func TestSwapProcessorShortCircuitsWithoutPoolOutputs(t *testing.T) {
	resolver := &countingResolver{}
	processor := NewSwapProcessor(nil, resolver, 0, nil)

	block := model.Block{
		Slot: 10,
		Txs: []model.Tx{{
			Hash: "aa",
			Outputs: []model.Utxo{{
				Ref:               model.UtxoRef{TxHash: "aa", Index: 0},
				PaymentCredential: "ffff",
			}},
		}},
	}

	swaps, reserves, err := processor.Process(context.Background(), block)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(swaps.Swaps) != 0 || len(reserves.Reserves) != 0 || reserves.HasSwaps {
		t.Fatalf("expected empty events")
	}
	if resolver.calls != 0 {
		t.Fatalf("resolver must not be called for non-pool transactions")
	}
}

type countingResolver struct {
	calls int
}

func (c *countingResolver) ResolveInputs(_ context.Context, refs []model.UtxoRef) ([]model.Utxo, error) {
	c.calls++
	return nil, nil
}
