package dex

import (
	"fmt"

	"go.uber.org/zap"

	"swapscope/internal/model"
)

// DEX codes as persisted in the provider column.
const (
	CodeMinswapV1 = "minswapv1"
	CodeMinswapV2 = "minswapv2"
)

// Minswap v1 pool validator payment credentials.
var minswapV1PoolHashes = []string{
	"e1317b152faac13426e6a83e06ff88a4d62cce3c1634ab0a5ec13309",
}

// Minswap v2 pool validator payment credential.
var minswapV2PoolHashes = []string{
	"ea07b733d932129c378af627436e7cbc2ef0bf96e0036bb51b3bde6b",
}

// MinswapV1 classifies Minswap v1 pool interactions. The v1 pool datum
// carries the asset pair; reserves are read from the pool UTXO value.
type MinswapV1 struct {
	logger *zap.Logger
}

func NewMinswapV1(logger *zap.Logger) *MinswapV1 {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MinswapV1{logger: logger}
}

func (m *MinswapV1) DexCode() string            { return CodeMinswapV1 }
func (m *MinswapV1) DexName() string            { return "Minswap" }
func (m *MinswapV1) PoolScriptHashes() []string { return minswapV1PoolHashes }

func (m *MinswapV1) ComputeSwaps(tx model.QualifiedTx) []model.Swap {
	return computeSwapsByDelta(tx, minswapV1PoolHashes, decodeMinswapV1Pool, m.logger, CodeMinswapV1)
}

func (m *MinswapV1) ComputePoolReserves(tx model.QualifiedTx) []model.PoolReserve {
	return computeReserves(tx, minswapV1PoolHashes, decodeMinswapV1Pool, m.logger, CodeMinswapV1)
}

// decodeMinswapV1Pool reads the v1 pool datum:
// constr 0 [assetA, assetB, totalLiquidity, rootKLast, ...].
func decodeMinswapV1Pool(out model.Utxo) (poolState, error) {
	datum, err := DecodeDatum(out.Datum)
	if err != nil {
		return poolState{}, err
	}
	if datum.Alternative != 0 || len(datum.Fields) < 4 {
		return poolState{}, fmt.Errorf("unexpected pool datum shape (alt %d, %d fields)", datum.Alternative, len(datum.Fields))
	}

	assetA, err := datum.FieldConstr(0)
	if err != nil {
		return poolState{}, fmt.Errorf("asset a: %w", err)
	}
	unitA, err := assetClassFromConstr(assetA)
	if err != nil {
		return poolState{}, fmt.Errorf("asset a: %w", err)
	}

	assetB, err := datum.FieldConstr(1)
	if err != nil {
		return poolState{}, fmt.Errorf("asset b: %w", err)
	}
	unitB, err := assetClassFromConstr(assetB)
	if err != nil {
		return poolState{}, fmt.Errorf("asset b: %w", err)
	}

	amountA := out.Value.AmountOf(unitA)
	amountB := out.Value.AmountOf(unitB)

	unit1, unit2, reserve1, reserve2 := orderPair(unitA, unitB, amountA, amountB)
	return poolState{
		asset1Unit: unit1,
		asset2Unit: unit2,
		reserve1:   reserve1,
		reserve2:   reserve2,
		ref:        out.Ref,
	}, nil
}

// MinswapV2 classifies Minswap v2 pool interactions. The v2 datum keeps
// the reserves itself, so they are read from the datum rather than from
// the UTXO value (the value additionally carries batching deposits).
type MinswapV2 struct {
	logger *zap.Logger
}

func NewMinswapV2(logger *zap.Logger) *MinswapV2 {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MinswapV2{logger: logger}
}

func (m *MinswapV2) DexCode() string            { return CodeMinswapV2 }
func (m *MinswapV2) DexName() string            { return "Minswap V2" }
func (m *MinswapV2) PoolScriptHashes() []string { return minswapV2PoolHashes }

func (m *MinswapV2) ComputeSwaps(tx model.QualifiedTx) []model.Swap {
	return computeSwapsByDelta(tx, minswapV2PoolHashes, decodeMinswapV2Pool, m.logger, CodeMinswapV2)
}

func (m *MinswapV2) ComputePoolReserves(tx model.QualifiedTx) []model.PoolReserve {
	return computeReserves(tx, minswapV2PoolHashes, decodeMinswapV2Pool, m.logger, CodeMinswapV2)
}

// decodeMinswapV2Pool reads the v2 pool datum:
// constr 0 [batchingStakeCredential, assetA, assetB, totalLiquidity,
// reserveA, reserveB, baseFeeANumerator, baseFeeBNumerator, ...].
func decodeMinswapV2Pool(out model.Utxo) (poolState, error) {
	datum, err := DecodeDatum(out.Datum)
	if err != nil {
		return poolState{}, err
	}
	if datum.Alternative != 0 || len(datum.Fields) < 6 {
		return poolState{}, fmt.Errorf("unexpected pool datum shape (alt %d, %d fields)", datum.Alternative, len(datum.Fields))
	}

	assetA, err := datum.FieldConstr(1)
	if err != nil {
		return poolState{}, fmt.Errorf("asset a: %w", err)
	}
	unitA, err := assetClassFromConstr(assetA)
	if err != nil {
		return poolState{}, fmt.Errorf("asset a: %w", err)
	}

	assetB, err := datum.FieldConstr(2)
	if err != nil {
		return poolState{}, fmt.Errorf("asset b: %w", err)
	}
	unitB, err := assetClassFromConstr(assetB)
	if err != nil {
		return poolState{}, fmt.Errorf("asset b: %w", err)
	}

	reserveA, err := datum.FieldUint(4)
	if err != nil {
		return poolState{}, fmt.Errorf("reserve a: %w", err)
	}
	reserveB, err := datum.FieldUint(5)
	if err != nil {
		return poolState{}, fmt.Errorf("reserve b: %w", err)
	}

	unit1, unit2, reserve1, reserve2 := orderPair(unitA, unitB, reserveA, reserveB)
	return poolState{
		asset1Unit: unit1,
		asset2Unit: unit2,
		reserve1:   reserve1,
		reserve2:   reserve2,
		ref:        out.Ref,
	}, nil
}
