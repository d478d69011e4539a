package model

import "fmt"

// LovelaceUnit is the unit string for the native coin.
const LovelaceUnit = "lovelace"

// BlockPoint identifies a position on the chain.
type BlockPoint struct {
	Slot uint64 `json:"slot"`
	Hash string `json:"hash"`
}

// UtxoRef references a transaction output by hash and index.
type UtxoRef struct {
	TxHash string `json:"tx_hash"`
	Index  uint32 `json:"index"`
}

// Key returns the canonical cache key for the reference.
func (r UtxoRef) Key() string {
	return fmt.Sprintf("%s#%d", r.TxHash, r.Index)
}

// Value holds the coin and multi-asset amounts of an output.
type Value struct {
	Lovelace uint64            `json:"lovelace"`
	Assets   map[string]uint64 `json:"assets,omitempty"`
}

// AmountOf returns the amount held for a unit, lovelace included.
func (v Value) AmountOf(unit string) uint64 {
	if unit == LovelaceUnit {
		return v.Lovelace
	}
	return v.Assets[unit]
}

// Units lists the non-lovelace units present in the value.
func (v Value) Units() []string {
	units := make([]string, 0, len(v.Assets))
	for unit := range v.Assets {
		units = append(units, unit)
	}
	return units
}

// Utxo is a resolved transaction output.
type Utxo struct {
	Ref               UtxoRef `json:"ref"`
	Address           string  `json:"address"`
	PaymentCredential string  `json:"payment_credential"`
	Value             Value   `json:"value"`
	Datum             []byte  `json:"datum,omitempty"`
	DatumHash         string  `json:"datum_hash,omitempty"`
}

// Tx is a transaction body as delivered by the chain feed.
type Tx struct {
	Hash    string    `json:"hash"`
	Inputs  []UtxoRef `json:"inputs"`
	Outputs []Utxo    `json:"outputs"`
}

// Block is a typed chain block.
type Block struct {
	Hash   string `json:"hash"`
	Slot   uint64 `json:"slot"`
	Height uint64 `json:"height"`
	Txs    []Tx   `json:"txs"`
}

// Point returns the block's chain point.
func (b Block) Point() BlockPoint {
	return BlockPoint{Slot: b.Slot, Hash: b.Hash}
}

// QualifiedTx is a transaction that pays into a known pool script,
// enriched with its resolved inputs.
type QualifiedTx struct {
	Tx             Tx
	Slot           uint64
	DexCredential  string
	ResolvedInputs []Utxo
}
