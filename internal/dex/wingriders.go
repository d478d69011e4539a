package dex

import (
	"fmt"

	"go.uber.org/zap"

	"swapscope/internal/model"
)

const CodeWingriders = "wingriders"

// Wingriders pool validator payment credential.
var wingridersPoolHashes = []string{
	"e6c90a5923713af5786963dee0fdffd830ca7e0c86a041d9e5833e91",
}

// Wingriders classifies Wingriders pool interactions. The pool value
// includes protocol treasury amounts, so the tradable reserves are the
// value amounts minus the treasury fields from the datum.
type Wingriders struct {
	logger *zap.Logger
}

func NewWingriders(logger *zap.Logger) *Wingriders {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Wingriders{logger: logger}
}

func (w *Wingriders) DexCode() string            { return CodeWingriders }
func (w *Wingriders) DexName() string            { return "WingRiders" }
func (w *Wingriders) PoolScriptHashes() []string { return wingridersPoolHashes }

func (w *Wingriders) ComputeSwaps(tx model.QualifiedTx) []model.Swap {
	return computeSwapsByDelta(tx, wingridersPoolHashes, decodeWingridersPool, w.logger, CodeWingriders)
}

func (w *Wingriders) ComputePoolReserves(tx model.QualifiedTx) []model.PoolReserve {
	return computeReserves(tx, wingridersPoolHashes, decodeWingridersPool, w.logger, CodeWingriders)
}

// decodeWingridersPool reads the pool datum:
// constr 0 [requestValidatorHash, assetA, assetB, lastInteraction,
// treasuryA, treasuryB, ...].
func decodeWingridersPool(out model.Utxo) (poolState, error) {
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

	treasuryA, err := datum.FieldUint(4)
	if err != nil {
		return poolState{}, fmt.Errorf("treasury a: %w", err)
	}
	treasuryB, err := datum.FieldUint(5)
	if err != nil {
		return poolState{}, fmt.Errorf("treasury b: %w", err)
	}

	amountA := out.Value.AmountOf(unitA)
	amountB := out.Value.AmountOf(unitB)
	if treasuryA > amountA || treasuryB > amountB {
		return poolState{}, fmt.Errorf("treasury exceeds pool value (%d/%d vs %d/%d)", treasuryA, treasuryB, amountA, amountB)
	}

	unit1, unit2, reserve1, reserve2 := orderPair(unitA, unitB, amountA-treasuryA, amountB-treasuryB)
	return poolState{
		asset1Unit: unit1,
		asset2Unit: unit2,
		reserve1:   reserve1,
		reserve2:   reserve2,
		ref:        out.Ref,
	}, nil
}
