package chain

import (
	"encoding/hex"
	"fmt"

	lcommon "github.com/blinklabs-io/gouroboros/ledger/common"
	ocommon "github.com/blinklabs-io/gouroboros/protocol/common"

	"swapscope/internal/model"
)

// ledgerBlock is the slice of the ledger block surface the converter
// needs; every era block in the node-to-client protocol satisfies it.
type ledgerBlock interface {
	SlotNumber() uint64
	Hash() string
	BlockNumber() uint64
	Transactions() []lcommon.Transaction
}

// convertBlock maps a ledger block onto the pipeline block model.
func convertBlock(block ledgerBlock) model.Block {
	txs := make([]model.Tx, 0, len(block.Transactions()))
	for _, tx := range block.Transactions() {
		txs = append(txs, convertTx(tx))
	}
	return model.Block{
		Hash:   block.Hash(),
		Slot:   block.SlotNumber(),
		Height: block.BlockNumber(),
		Txs:    txs,
	}
}

func convertTx(tx lcommon.Transaction) model.Tx {
	hash := tx.Hash()

	inputs := make([]model.UtxoRef, 0, len(tx.Inputs()))
	for _, in := range tx.Inputs() {
		inputs = append(inputs, model.UtxoRef{
			TxHash: in.Id().String(),
			Index:  in.Index(),
		})
	}

	outputs := make([]model.Utxo, 0, len(tx.Outputs()))
	for i, out := range tx.Outputs() {
		outputs = append(outputs, convertOutput(hash, uint32(i), out))
	}

	return model.Tx{Hash: hash, Inputs: inputs, Outputs: outputs}
}

func convertOutput(txHash string, index uint32, out lcommon.TransactionOutput) model.Utxo {
	value := model.Value{
		Lovelace: out.Amount(),
		Assets:   make(map[string]uint64),
	}
	if assets := out.Assets(); assets != nil {
		for _, policy := range assets.Policies() {
			for _, name := range assets.Assets(policy) {
				unit := policy.String() + hex.EncodeToString(name)
				value.Assets[unit] = uint64(assets.Asset(policy, name))
			}
		}
	}

	address := out.Address()
	utxo := model.Utxo{
		Ref:               model.UtxoRef{TxHash: txHash, Index: index},
		Address:           address.String(),
		PaymentCredential: hex.EncodeToString(address.PaymentKeyHash().Bytes()),
		Value:             value,
	}
	if datum := out.Datum(); datum != nil {
		utxo.Datum = datum.Cbor()
	}
	if hash := out.DatumHash(); hash != nil {
		utxo.DatumHash = hash.String()
	}
	return utxo
}

// toSyncPoint converts a block point to the wire point type. An empty
// hash means the chain origin.
func toSyncPoint(point model.BlockPoint) (ocommon.Point, error) {
	if point.Hash == "" {
		return ocommon.NewPointOrigin(), nil
	}
	hash, err := hex.DecodeString(point.Hash)
	if err != nil {
		return ocommon.Point{}, fmt.Errorf("decode point hash: %w", err)
	}
	return ocommon.NewPoint(point.Slot, hash), nil
}

func fromSyncPoint(point ocommon.Point) model.BlockPoint {
	return model.BlockPoint{
		Slot: point.Slot,
		Hash: hex.EncodeToString(point.Hash),
	}
}
