package dex

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"swapscope/internal/model"
)

// Classifier extracts swaps and pool reserve snapshots from a qualified
// transaction for one DEX protocol.
type Classifier interface {
	DexCode() string
	DexName() string
	PoolScriptHashes() []string
	ComputeSwaps(tx model.QualifiedTx) []model.Swap
	ComputePoolReserves(tx model.QualifiedTx) []model.PoolReserve
}

// Factory maps a DEX code to a constructor.
type Factory func(logger *zap.Logger) Classifier

func factories() map[string]Factory {
	return map[string]Factory{
		CodeMinswapV1:  func(l *zap.Logger) Classifier { return NewMinswapV1(l) },
		CodeMinswapV2:  func(l *zap.Logger) Classifier { return NewMinswapV2(l) },
		CodeSundaeswap: func(l *zap.Logger) Classifier { return NewSundaeswap(l) },
		CodeWingriders: func(l *zap.Logger) Classifier { return NewWingriders(l) },
	}
}

// Codes lists every supported DEX code.
func Codes() []string {
	known := factories()
	codes := make([]string, 0, len(known))
	for code := range known {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Build constructs the classifiers named in the allow-list. An empty
// list enables every supported protocol.
func Build(allowList []string, logger *zap.Logger) ([]Classifier, error) {
	known := factories()

	codes := allowList
	if len(codes) == 0 {
		codes = Codes()
	}

	classifiers := make([]Classifier, 0, len(codes))
	seen := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		code = strings.ToLower(strings.TrimSpace(code))
		if code == "" {
			continue
		}
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}

		factory, ok := known[code]
		if !ok {
			return nil, fmt.Errorf("unknown dex code %q (supported: %s)", code, strings.Join(Codes(), ", "))
		}
		classifiers = append(classifiers, factory(logger))
	}
	return classifiers, nil
}

// poolState is one side of a pool interaction: the pool UTXO before or
// after the transaction, reduced to the pair and its reserves.
type poolState struct {
	asset1Unit string
	asset2Unit string
	reserve1   uint64
	reserve2   uint64
	ref        model.UtxoRef
}

// pairKey identifies a pool by its ordered asset pair.
func (p poolState) pairKey() string {
	return p.asset1Unit + "/" + p.asset2Unit
}

// orderPair puts the quote-ish asset first: the native coin when
// present, otherwise lexicographic unit order.
func orderPair(unitA, unitB string, amountA, amountB uint64) (string, string, uint64, uint64) {
	if unitB == model.LovelaceUnit || (unitA != model.LovelaceUnit && unitB < unitA) {
		return unitB, unitA, amountB, amountA
	}
	return unitA, unitB, amountA, amountB
}

// deriveSwap compares pool reserves before and after a transaction.
// Opposite-sign reserve deltas are a swap; same-sign deltas are
// liquidity provision or withdrawal and produce no swap. A delta on one
// side only is an anomaly emitted as a zero-amount swap for downstream
// outlier marking.
func deriveSwap(before, after poolState, tx model.QualifiedTx, dexCode string) (model.Swap, bool) {
	delta1 := int64(after.reserve1) - int64(before.reserve1)
	delta2 := int64(after.reserve2) - int64(before.reserve2)

	if delta1 == 0 && delta2 == 0 {
		return model.Swap{}, false
	}
	if (delta1 > 0 && delta2 > 0) || (delta1 < 0 && delta2 < 0) {
		return model.Swap{}, false
	}

	swap := model.Swap{
		TxHash:     tx.Tx.Hash,
		Slot:       tx.Slot,
		Dex:        dexCode,
		Asset1Unit: after.asset1Unit,
		Asset2Unit: after.asset2Unit,
	}

	switch {
	case delta1 > 0:
		// Pool gained asset1: the trader paid asset1 and bought asset2.
		swap.Operation = model.OperationBuy
		swap.Amount1 = uint64(delta1)
		swap.Amount2 = uint64(-delta2)
	case delta1 < 0:
		swap.Operation = model.OperationSell
		swap.Amount1 = uint64(-delta1)
		swap.Amount2 = uint64(delta2)
	default:
		// One-sided movement. Keep direction from asset2 and let the
		// price processor flag the zero amount.
		if delta2 > 0 {
			swap.Operation = model.OperationSell
			swap.Amount2 = uint64(delta2)
		} else {
			swap.Operation = model.OperationBuy
			swap.Amount2 = uint64(-delta2)
		}
	}
	return swap, true
}

// poolStateDecoder turns a pool UTXO into a poolState.
type poolStateDecoder func(out model.Utxo) (poolState, error)

// matchesAny reports whether the credential is one of the hashes.
func matchesAny(credential string, hashes []string) bool {
	for _, h := range hashes {
		if credential == h {
			return true
		}
	}
	return false
}

// collectPoolStates decodes every pool UTXO in the given set.
func collectPoolStates(outputs []model.Utxo, hashes []string, decode poolStateDecoder, logger *zap.Logger, dexCode string) map[string]poolState {
	states := make(map[string]poolState)
	for _, out := range outputs {
		if !matchesAny(out.PaymentCredential, hashes) {
			continue
		}
		state, err := decode(out)
		if err != nil {
			logger.Warn("skip pool utxo with undecodable datum",
				zap.String("dex", dexCode),
				zap.String("tx", out.Ref.TxHash),
				zap.Uint32("index", out.Ref.Index),
				zap.Error(err),
			)
			continue
		}
		// A transaction touches a pool at most once per pair; the last
		// state wins if the feed ever violates that.
		states[state.pairKey()] = state
	}
	return states
}

// computeSwapsByDelta is the shared swap derivation used by every
// classifier: pair pool outputs with the matching pool inputs and read
// the trade from the reserve movement.
func computeSwapsByDelta(tx model.QualifiedTx, hashes []string, decode poolStateDecoder, logger *zap.Logger, dexCode string) []model.Swap {
	afterStates := collectPoolStates(tx.Tx.Outputs, hashes, decode, logger, dexCode)
	if len(afterStates) == 0 {
		return nil
	}
	beforeStates := collectPoolStates(tx.ResolvedInputs, hashes, decode, logger, dexCode)

	keys := make([]string, 0, len(afterStates))
	for key := range afterStates {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	swaps := make([]model.Swap, 0, len(afterStates))
	for _, key := range keys {
		after := afterStates[key]
		before, ok := beforeStates[key]
		if !ok {
			// Pool creation: no previous state, nothing traded yet.
			continue
		}
		if swap, ok := deriveSwap(before, after, tx, dexCode); ok {
			swaps = append(swaps, swap)
		}
	}
	return swaps
}

// computeReserves is the shared reserve extraction: one snapshot per
// pool output.
func computeReserves(tx model.QualifiedTx, hashes []string, decode poolStateDecoder, logger *zap.Logger, dexCode string) []model.PoolReserve {
	states := collectPoolStates(tx.Tx.Outputs, hashes, decode, logger, dexCode)
	if len(states) == 0 {
		return nil
	}

	keys := make([]string, 0, len(states))
	for key := range states {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	reserves := make([]model.PoolReserve, 0, len(states))
	for _, key := range keys {
		state := states[key]
		reserves = append(reserves, model.PoolReserve{
			PoolID:     model.PoolID(state.asset1Unit, state.asset2Unit, dexCode),
			Asset1Unit: state.asset1Unit,
			Asset2Unit: state.asset2Unit,
			Provider:   dexCode,
			Reserve1:   state.reserve1,
			Reserve2:   state.reserve2,
			TxHash:     tx.Tx.Hash,
		})
	}
	return reserves
}
