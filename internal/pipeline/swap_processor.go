package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"swapscope/internal/dex"
	"swapscope/internal/metrics"
	"swapscope/internal/model"
)

// InputResolver supplies the spent outputs of a transaction.
type InputResolver interface {
	ResolveInputs(ctx context.Context, refs []model.UtxoRef) ([]model.Utxo, error)
}

// SwapProcessor qualifies block transactions against the known pool
// script hashes and runs the classifiers over them.
type SwapProcessor struct {
	classifiers    []dex.Classifier
	byHash         map[string][]dex.Classifier
	resolver       InputResolver
	slotTimeOffset uint64
	logger         *zap.Logger
}

// NewSwapProcessor builds a processor over the given classifiers.
func NewSwapProcessor(classifiers []dex.Classifier, resolver InputResolver, slotTimeOffset uint64, logger *zap.Logger) *SwapProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	byHash := make(map[string][]dex.Classifier)
	for _, classifier := range classifiers {
		for _, hash := range classifier.PoolScriptHashes() {
			byHash[hash] = append(byHash[hash], classifier)
		}
	}
	return &SwapProcessor{
		classifiers:    classifiers,
		byHash:         byHash,
		resolver:       resolver,
		slotTimeOffset: slotTimeOffset,
		logger:         logger,
	}
}

// Process extracts swaps and reserve snapshots from one block. A block
// with no pool interactions short-circuits without resolver calls.
func (p *SwapProcessor) Process(ctx context.Context, block model.Block) (model.SwapsComputed, model.PoolReservesComputed, error) {
	swapsEvent := model.SwapsComputed{Slot: block.Slot}
	reservesEvent := model.PoolReservesComputed{Slot: block.Slot}

	for _, tx := range block.Txs {
		credential, ok := p.qualify(tx)
		if !ok {
			continue
		}

		resolved, err := p.resolver.ResolveInputs(ctx, tx.Inputs)
		if err != nil {
			return model.SwapsComputed{}, model.PoolReservesComputed{}, fmt.Errorf("resolve inputs of %s: %w", tx.Hash, err)
		}

		qualified := model.QualifiedTx{
			Tx:             tx,
			Slot:           block.Slot,
			DexCredential:  credential,
			ResolvedInputs: resolved,
		}

		for _, classifier := range p.matchingClassifiers(tx) {
			swaps := classifier.ComputeSwaps(qualified)
			for _, swap := range swaps {
				metrics.SwapsComputed.WithLabelValues(swap.Dex).Inc()
			}
			swapsEvent.Swaps = append(swapsEvent.Swaps, swaps...)

			reserves := classifier.ComputePoolReserves(qualified)
			for i := range reserves {
				reserves[i].Time = slotToTime(block.Slot, p.slotTimeOffset)
			}
			reservesEvent.Reserves = append(reservesEvent.Reserves, reserves...)
		}
	}

	reservesEvent.HasSwaps = len(swapsEvent.Swaps) > 0
	return swapsEvent, reservesEvent, nil
}

// qualify reports whether any output pays to a known pool script and
// returns the first matched credential.
func (p *SwapProcessor) qualify(tx model.Tx) (string, bool) {
	for _, out := range tx.Outputs {
		if out.PaymentCredential == "" {
			continue
		}
		if _, ok := p.byHash[out.PaymentCredential]; ok {
			return out.PaymentCredential, true
		}
	}
	return "", false
}

// matchingClassifiers returns every classifier with a pool output in
// the transaction, preserving registration order and without repeats.
func (p *SwapProcessor) matchingClassifiers(tx model.Tx) []dex.Classifier {
	matched := make(map[string]struct{})
	for _, out := range tx.Outputs {
		for _, classifier := range p.byHash[out.PaymentCredential] {
			matched[classifier.DexCode()] = struct{}{}
		}
	}

	ordered := make([]dex.Classifier, 0, len(matched))
	for _, classifier := range p.classifiers {
		if _, ok := matched[classifier.DexCode()]; ok {
			ordered = append(ordered, classifier)
		}
	}
	return ordered
}

// slotToTime converts an absolute slot to unix seconds.
func slotToTime(slot, offset uint64) uint64 {
	if offset > slot {
		return 0
	}
	return slot - offset
}
