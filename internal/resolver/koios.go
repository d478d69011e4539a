package resolver

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"swapscope/internal/model"
)

// DefaultKoiosURL is the mainnet API base.
const DefaultKoiosURL = "https://api.koios.rest/api/v1"

// Koios resolves chain data via the Koios HTTP API.
type Koios struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
	retry   RetryPolicy
	logger  *zap.Logger
}

// NewKoios builds a Koios-backed provider.
func NewKoios(baseURL string, timeout time.Duration, retry RetryPolicy, logger *zap.Logger) (*Koios, error) {
	if baseURL == "" {
		baseURL = DefaultKoiosURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Koios{
		baseURL: baseURL,
		client:  &http.Client{},
		timeout: timeout,
		retry:   retry,
		logger:  logger,
	}, nil
}

type koiosAsset struct {
	PolicyID  string `json:"policy_id"`
	AssetName string `json:"asset_name"`
	Quantity  string `json:"quantity"`
}

type koiosPaymentAddr struct {
	Bech32 string `json:"bech32"`
	Cred   string `json:"cred"`
}

type koiosOutput struct {
	PaymentAddr     koiosPaymentAddr `json:"payment_addr"`
	TxIndex         uint32           `json:"tx_index"`
	Value           string           `json:"value"`
	DatumHash       *string          `json:"datum_hash"`
	InlineDatum     *koiosDatum      `json:"inline_datum"`
	AssetList       []koiosAsset     `json:"asset_list"`
}

type koiosDatum struct {
	Bytes string `json:"bytes"`
}

type koiosTxInfo struct {
	TxHash  string        `json:"tx_hash"`
	Outputs []koiosOutput `json:"outputs"`
}

type koiosBlock struct {
	Hash    string `json:"hash"`
	AbsSlot uint64 `json:"abs_slot"`
	Height  uint64 `json:"block_height"`
}

// ResolveInputs fetches the referenced transactions in one batched
// tx_info call and maps outputs back onto refs in input order.
func (k *Koios) ResolveInputs(ctx context.Context, refs []model.UtxoRef) ([]model.Utxo, error) {
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

	payload, err := json.Marshal(map[string]any{
		"_tx_hashes": txHashes,
		"_assets":    true,
		"_scripts":   true,
	})
	if err != nil {
		return nil, fmt.Errorf("encode tx_info request: %w", err)
	}

	body, err := k.postWithRetry(ctx, k.baseURL+"/tx_info", payload)
	if err != nil {
		return nil, fmt.Errorf("tx_info: %w", err)
	}

	var infos []koiosTxInfo
	if err := json.Unmarshal(body, &infos); err != nil {
		return nil, fmt.Errorf("decode tx_info response: %w", err)
	}

	outputsByRef := make(map[model.UtxoRef]model.Utxo, len(refs))
	for _, info := range infos {
		for _, out := range info.Outputs {
			ref := model.UtxoRef{TxHash: info.TxHash, Index: out.TxIndex}
			converted, err := convertKoiosOutput(ref, out)
			if err != nil {
				k.logger.Warn("skip unparsable output", zap.String("tx", info.TxHash), zap.Uint32("index", out.TxIndex), zap.Error(err))
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

// FindBlockNearest queries the blocks view for the newest block at or
// before the slot.
func (k *Koios) FindBlockNearest(ctx context.Context, slot uint64) (model.BlockPoint, error) {
	url := fmt.Sprintf("%s/blocks?abs_slot=lte.%d&order=abs_slot.desc&limit=1", k.baseURL, slot)
	body, err := k.getWithRetry(ctx, url)
	if err != nil {
		return model.BlockPoint{}, fmt.Errorf("blocks query: %w", err)
	}

	var blocks []koiosBlock
	if err := json.Unmarshal(body, &blocks); err != nil {
		return model.BlockPoint{}, fmt.Errorf("decode blocks response: %w", err)
	}
	if len(blocks) == 0 {
		return model.BlockPoint{}, fmt.Errorf("no block found at or before slot %d", slot)
	}
	return model.BlockPoint{Slot: blocks[0].AbsSlot, Hash: blocks[0].Hash}, nil
}

func (k *Koios) postWithRetry(ctx context.Context, url string, payload []byte) ([]byte, error) {
	return k.doWithRetry(ctx, func(reqCtx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
}

func (k *Koios) getWithRetry(ctx context.Context, url string) ([]byte, error) {
	return k.doWithRetry(ctx, func(reqCtx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	})
}

func (k *Koios) doWithRetry(ctx context.Context, build func(context.Context) (*http.Request, error)) ([]byte, error) {
	op := func() ([]byte, error) {
		reqCtx, cancel := context.WithTimeout(ctx, k.timeout)
		defer cancel()

		req, err := build(reqCtx)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		resp, err := k.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			return io.ReadAll(resp.Body)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return nil, &httpStatusError{status: resp.StatusCode, url: req.URL.String()}
		default:
			return nil, backoff.Permanent(&httpStatusError{status: resp.StatusCode, url: req.URL.String()})
		}
	}

	return backoff.Retry(ctx, op, k.retry.options(2*k.timeout)...)
}

func convertKoiosOutput(ref model.UtxoRef, out koiosOutput) (model.Utxo, error) {
	lovelace, err := strconv.ParseUint(out.Value, 10, 64)
	if err != nil {
		return model.Utxo{}, fmt.Errorf("parse value %q: %w", out.Value, err)
	}

	value := model.Value{Lovelace: lovelace, Assets: make(map[string]uint64)}
	for _, asset := range out.AssetList {
		quantity, err := strconv.ParseUint(asset.Quantity, 10, 64)
		if err != nil {
			return model.Utxo{}, fmt.Errorf("parse asset quantity %q: %w", asset.Quantity, err)
		}
		value.Assets[asset.PolicyID+asset.AssetName] = quantity
	}

	converted := model.Utxo{
		Ref:               ref,
		Address:           out.PaymentAddr.Bech32,
		PaymentCredential: out.PaymentAddr.Cred,
		Value:             value,
	}
	if out.DatumHash != nil {
		converted.DatumHash = *out.DatumHash
	}
	if out.InlineDatum != nil && out.InlineDatum.Bytes != "" {
		datum, err := decodeHex(out.InlineDatum.Bytes)
		if err != nil {
			return model.Utxo{}, fmt.Errorf("decode inline datum: %w", err)
		}
		converted.Datum = datum
	}
	return converted, nil
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(s)
}
