package pipeline

import (
	"math"

	"go.uber.org/zap"

	"swapscope/internal/model"
)

const lovelaceDecimals = 6

// DecimalsLookup reports the registered decimal places of an asset.
type DecimalsLookup interface {
	DecimalsFor(unit string) (int32, bool)
}

// PriceProcessor converts computed swaps into price points.
type PriceProcessor struct {
	decimals       DecimalsLookup
	slotTimeOffset uint64
	logger         *zap.Logger
}

// NewPriceProcessor builds a processor. A nil decimals lookup treats
// every non-lovelace asset as zero-decimal.
func NewPriceProcessor(decimals DecimalsLookup, slotTimeOffset uint64, logger *zap.Logger) *PriceProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PriceProcessor{decimals: decimals, slotTimeOffset: slotTimeOffset, logger: logger}
}

// Process derives one price per swap. The price is the quote amount per
// unit of the base asset, both normalized by their decimals. Zero
// amounts yield a zero price flagged as an outlier.
func (p *PriceProcessor) Process(event model.SwapsComputed) model.PricesCalculated {
	prices := make([]model.Price, 0, len(event.Swaps))
	for i, swap := range event.Swaps {
		price := model.Price{
			AssetUnit:      swap.Asset2Unit,
			QuoteAssetUnit: swap.Asset1Unit,
			Provider:       swap.Dex,
			Time:           slotToTime(event.Slot, p.slotTimeOffset),
			TxHash:         swap.TxHash,
			SwapIndex:      uint32(i),
			Amount1:        swap.Amount1,
			Amount2:        swap.Amount2,
			Operation:      swap.Operation,
		}

		if swap.Amount1 == 0 || swap.Amount2 == 0 {
			outlier := true
			price.Outlier = &outlier
			p.logger.Warn("zero-amount swap marked as outlier",
				zap.String("tx", swap.TxHash),
				zap.String("dex", swap.Dex),
				zap.String("asset", swap.Asset2Unit),
			)
		} else {
			quote := normalize(swap.Amount1, p.decimalsOf(swap.Asset1Unit))
			base := normalize(swap.Amount2, p.decimalsOf(swap.Asset2Unit))
			price.Price = quote / base
		}

		prices = append(prices, price)
	}
	return model.PricesCalculated{Slot: event.Slot, Prices: prices}
}

func (p *PriceProcessor) decimalsOf(unit string) int32 {
	if unit == model.LovelaceUnit {
		return lovelaceDecimals
	}
	if p.decimals != nil {
		if d, ok := p.decimals.DecimalsFor(unit); ok {
			return d
		}
	}
	return 0
}

func normalize(amount uint64, decimals int32) float64 {
	return float64(amount) / math.Pow10(int(decimals))
}
