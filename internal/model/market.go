package model

import "fmt"

// Swap operation direction: which side of the pair the trader acquired.
const (
	OperationBuy  = 0
	OperationSell = 1
)

// Asset is a row in the asset table.
type Asset struct {
	ID       int64   `json:"id"`
	Unit     string  `json:"unit"`
	PolicyID string  `json:"policy_id,omitempty"`
	Name     string  `json:"name,omitempty"`
	Decimals *int32  `json:"decimals,omitempty"`
	Ticker   *string `json:"ticker,omitempty"`
}

// Swap is a single exchange event extracted from one transaction.
// It lives only through the pipeline and is persisted as a Price.
type Swap struct {
	TxHash     string `json:"tx_hash"`
	Slot       uint64 `json:"slot"`
	Dex        string `json:"dex"`
	Asset1Unit string `json:"asset1_unit"`
	Asset2Unit string `json:"asset2_unit"`
	Amount1    uint64 `json:"amount1"`
	Amount2    uint64 `json:"amount2"`
	Operation  int    `json:"operation"`
}

// Price is the persistent record derived from a Swap.
type Price struct {
	AssetUnit      string  `json:"asset_unit"`
	QuoteAssetUnit string  `json:"quote_asset_unit"`
	Provider       string  `json:"provider"`
	Time           uint64  `json:"time"`
	TxHash         string  `json:"tx_hash"`
	SwapIndex      uint32  `json:"swap_index"`
	Price          float64 `json:"price"`
	Amount1        uint64  `json:"amount1"`
	Amount2        uint64  `json:"amount2"`
	Operation      int     `json:"operation"`
	Outlier        *bool   `json:"outlier,omitempty"`
}

// PoolReserve is a snapshot of a liquidity pool's two reserves.
type PoolReserve struct {
	PoolID     string `json:"pool_id"`
	Asset1Unit string `json:"asset1_unit"`
	Asset2Unit string `json:"asset2_unit"`
	Provider   string `json:"provider"`
	Time       uint64 `json:"time"`
	Reserve1   uint64 `json:"reserve1"`
	Reserve2   uint64 `json:"reserve2"`
	TxHash     string `json:"tx_hash"`
}

// PoolID builds the synthetic pool identifier.
func PoolID(asset1Unit, asset2Unit, dexCode string) string {
	return fmt.Sprintf("%s:%s:%s", asset1Unit, asset2Unit, dexCode)
}
