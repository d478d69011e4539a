package dex

import (
	"fmt"

	"go.uber.org/zap"

	"swapscope/internal/model"
)

const CodeSundaeswap = "sundaeswap"

// Sundaeswap v1 pool validator payment credential.
var sundaeswapPoolHashes = []string{
	"4020e7fc2de75a0729c3cc3af715b34d98381e0cdbcfa99c950bc3ac",
}

// Sundaeswap classifies Sundaeswap v1 pool interactions. The datum
// carries the pair nested in its first field; reserves live in the
// pool UTXO value.
type Sundaeswap struct {
	logger *zap.Logger
}

func NewSundaeswap(logger *zap.Logger) *Sundaeswap {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sundaeswap{logger: logger}
}

func (s *Sundaeswap) DexCode() string            { return CodeSundaeswap }
func (s *Sundaeswap) DexName() string            { return "Sundaeswap" }
func (s *Sundaeswap) PoolScriptHashes() []string { return sundaeswapPoolHashes }

func (s *Sundaeswap) ComputeSwaps(tx model.QualifiedTx) []model.Swap {
	return computeSwapsByDelta(tx, sundaeswapPoolHashes, decodeSundaeswapPool, s.logger, CodeSundaeswap)
}

func (s *Sundaeswap) ComputePoolReserves(tx model.QualifiedTx) []model.PoolReserve {
	return computeReserves(tx, sundaeswapPoolHashes, decodeSundaeswapPool, s.logger, CodeSundaeswap)
}

// decodeSundaeswapPool reads the pool datum:
// constr 0 [pair constr 0 [assetA, assetB], identifier, circulatingLP, fee].
func decodeSundaeswapPool(out model.Utxo) (poolState, error) {
	datum, err := DecodeDatum(out.Datum)
	if err != nil {
		return poolState{}, err
	}
	if datum.Alternative != 0 || len(datum.Fields) < 3 {
		return poolState{}, fmt.Errorf("unexpected pool datum shape (alt %d, %d fields)", datum.Alternative, len(datum.Fields))
	}

	pair, err := datum.FieldConstr(0)
	if err != nil {
		return poolState{}, fmt.Errorf("asset pair: %w", err)
	}
	if pair.Alternative != 0 || len(pair.Fields) < 2 {
		return poolState{}, fmt.Errorf("unexpected asset pair shape (alt %d, %d fields)", pair.Alternative, len(pair.Fields))
	}

	assetA, err := pair.FieldConstr(0)
	if err != nil {
		return poolState{}, fmt.Errorf("asset a: %w", err)
	}
	unitA, err := assetClassFromConstr(assetA)
	if err != nil {
		return poolState{}, fmt.Errorf("asset a: %w", err)
	}

	assetB, err := pair.FieldConstr(1)
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
