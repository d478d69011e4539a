package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"swapscope/internal/cardano"
	"swapscope/internal/model"
)

// DefaultBlockfrostURL is the mainnet API base.
const DefaultBlockfrostURL = "https://cardano-mainnet.blockfrost.io/api/v0"

// nearestProbeLimit bounds how many earlier slots FindBlockNearest will
// probe before giving up. Mainnet produces a block roughly every 20
// slots, so this covers two hours of one-second slots.
const nearestProbeLimit = 7200

// Blockfrost resolves chain data via the Blockfrost HTTP API.
type Blockfrost struct {
	baseURL   string
	projectID string
	client    *http.Client
	timeout   time.Duration
	retry     RetryPolicy
	logger    *zap.Logger
}

// NewBlockfrost builds a Blockfrost-backed provider.
func NewBlockfrost(baseURL, projectID string, timeout time.Duration, retry RetryPolicy, logger *zap.Logger) (*Blockfrost, error) {
	if projectID == "" {
		return nil, fmt.Errorf("blockfrost project id is required")
	}
	if baseURL == "" {
		baseURL = DefaultBlockfrostURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Blockfrost{
		baseURL:   baseURL,
		projectID: projectID,
		client:    &http.Client{},
		timeout:   timeout,
		retry:     retry,
		logger:    logger,
	}, nil
}

type blockfrostAmount struct {
	Unit     string `json:"unit"`
	Quantity string `json:"quantity"`
}

type blockfrostOutput struct {
	Address     string             `json:"address"`
	Amount      []blockfrostAmount `json:"amount"`
	OutputIndex uint32             `json:"output_index"`
	DataHash    *string            `json:"data_hash"`
	InlineDatum *string            `json:"inline_datum"`
}

type blockfrostTxUtxos struct {
	Hash    string             `json:"hash"`
	Outputs []blockfrostOutput `json:"outputs"`
}

type blockfrostBlock struct {
	Hash   string `json:"hash"`
	Slot   uint64 `json:"slot"`
	Height uint64 `json:"height"`
}

// ResolveInputs fetches each referenced transaction's outputs and maps
// them back onto refs in input order.
func (b *Blockfrost) ResolveInputs(ctx context.Context, refs []model.UtxoRef) ([]model.Utxo, error) {
	if len(refs) == 0 {
		return nil, nil
	}

	txHashes := make([]string, 0, len(refs))
	seen := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		if _, ok := seen[ref.TxHash]; ok {
			continue
		}
		seen[ref.TxHash] = struct{}{}
		txHashes = append(txHashes, ref.TxHash)
	}

	outputsByRef := make(map[model.UtxoRef]model.Utxo, len(refs))
	for _, txHash := range txHashes {
		utxos, err := b.fetchTxUtxos(ctx, txHash)
		if err != nil {
			return nil, fmt.Errorf("fetch utxos for %s: %w", txHash, err)
		}
		for _, out := range utxos.Outputs {
			ref := model.UtxoRef{TxHash: txHash, Index: out.OutputIndex}
			converted, err := convertBlockfrostOutput(ref, out)
			if err != nil {
				b.logger.Warn("skip unparsable output", zap.String("tx", txHash), zap.Uint32("index", out.OutputIndex), zap.Error(err))
				continue
			}
			outputsByRef[ref] = converted
		}
	}

	resolved := make([]model.Utxo, 0, len(refs))
	for _, ref := range refs {
		if out, ok := outputsByRef[ref]; ok {
			resolved = append(resolved, out)
		}
	}
	return resolved, nil
}

// FindBlockNearest returns the closest block at or before the slot.
// Blockfrost has no range lookup, so empty slots are probed backwards.
func (b *Blockfrost) FindBlockNearest(ctx context.Context, slot uint64) (model.BlockPoint, error) {
	for i := uint64(0); i <= nearestProbeLimit && i <= slot; i++ {
		block, found, err := b.fetchBlockBySlot(ctx, slot-i)
		if err != nil {
			return model.BlockPoint{}, err
		}
		if found {
			return model.BlockPoint{Slot: block.Slot, Hash: block.Hash}, nil
		}
	}
	return model.BlockPoint{}, fmt.Errorf("no block found at or before slot %d", slot)
}

func (b *Blockfrost) fetchTxUtxos(ctx context.Context, txHash string) (blockfrostTxUtxos, error) {
	var utxos blockfrostTxUtxos
	body, err := b.getWithRetry(ctx, fmt.Sprintf("%s/txs/%s/utxos", b.baseURL, txHash))
	if err != nil {
		return utxos, err
	}
	if err := json.Unmarshal(body, &utxos); err != nil {
		return utxos, fmt.Errorf("decode utxos response: %w", err)
	}
	return utxos, nil
}

func (b *Blockfrost) fetchBlockBySlot(ctx context.Context, slot uint64) (blockfrostBlock, bool, error) {
	var block blockfrostBlock
	body, err := b.getWithRetry(ctx, fmt.Sprintf("%s/blocks/slot/%d", b.baseURL, slot))
	if err != nil {
		if isNotFound(err) {
			return block, false, nil
		}
		return block, false, err
	}
	if err := json.Unmarshal(body, &block); err != nil {
		return block, false, fmt.Errorf("decode block response: %w", err)
	}
	return block, true, nil
}

type httpStatusError struct {
	status int
	url    string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.status, e.url)
}

func isNotFound(err error) bool {
	statusErr, ok := err.(*httpStatusError)
	return ok && statusErr.status == http.StatusNotFound
}

func (b *Blockfrost) getWithRetry(ctx context.Context, url string) ([]byte, error) {
	op := func() ([]byte, error) {
		reqCtx, cancel := context.WithTimeout(ctx, b.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("project_id", b.projectID)

		resp, err := b.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			return io.ReadAll(resp.Body)
		case resp.StatusCode == http.StatusNotFound:
			return nil, backoff.Permanent(&httpStatusError{status: resp.StatusCode, url: url})
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return nil, &httpStatusError{status: resp.StatusCode, url: url}
		default:
			return nil, backoff.Permanent(&httpStatusError{status: resp.StatusCode, url: url})
		}
	}

	return backoff.Retry(ctx, op, b.retry.options(2*b.timeout)...)
}

func convertBlockfrostOutput(ref model.UtxoRef, out blockfrostOutput) (model.Utxo, error) {
	value := model.Value{Assets: make(map[string]uint64)}
	for _, amount := range out.Amount {
		quantity, err := strconv.ParseUint(amount.Quantity, 10, 64)
		if err != nil {
			return model.Utxo{}, fmt.Errorf("parse quantity %q: %w", amount.Quantity, err)
		}
		if amount.Unit == model.LovelaceUnit {
			value.Lovelace = quantity
		} else {
			value.Assets[amount.Unit] = quantity
		}
	}

	credential, err := cardano.PaymentCredential(out.Address)
	if err != nil {
		return model.Utxo{}, err
	}

	converted := model.Utxo{
		Ref:               ref,
		Address:           out.Address,
		PaymentCredential: credential,
		Value:             value,
	}
	if out.DataHash != nil {
		converted.DatumHash = *out.DataHash
	}
	if out.InlineDatum != nil {
		datum, err := decodeHex(*out.InlineDatum)
		if err != nil {
			return model.Utxo{}, fmt.Errorf("decode inline datum: %w", err)
		}
		converted.Datum = datum
	}
	return converted, nil
}
