package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"swapscope/internal/model"
)

// DBMirror resolves chain data from a local chain-mirror database
// (yaci-store or carp style schema with an address_utxo table).
type DBMirror struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewDBMirror connects to the mirror database.
func NewDBMirror(ctx context.Context, dsn string, logger *zap.Logger) (*DBMirror, error) {
	if dsn == "" {
		return nil, fmt.Errorf("mirror dsn is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect mirror db: %w", err)
	}
	return &DBMirror{pool: pool, logger: logger}, nil
}

// Close releases the connection pool.
func (d *DBMirror) Close() {
	if d.pool != nil {
		d.pool.Close()
	}
}

type mirrorAmount struct {
	Unit     string          `json:"unit"`
	Quantity json.RawMessage `json:"quantity"`
}

// ResolveInputs queries the mirror's address_utxo table with array
// parameters and maps rows back onto refs in input order.
func (d *DBMirror) ResolveInputs(ctx context.Context, refs []model.UtxoRef) ([]model.Utxo, error) {
	if len(refs) == 0 {
		return nil, nil
	}

	hashes := make([]string, len(refs))
	indexes := make([]int32, len(refs))
	for i, ref := range refs {
		hashes[i] = ref.TxHash
		indexes[i] = int32(ref.Index)
	}

	rows, err := d.pool.Query(ctx, `
		SELECT u.tx_hash, u.output_index, u.owner_addr, u.owner_payment_credential,
		       u.lovelace_amount, u.amounts, u.inline_datum
		FROM address_utxo u
		JOIN unnest($1::text[], $2::int[]) AS want(tx_hash, output_index)
		  ON u.tx_hash = want.tx_hash AND u.output_index = want.output_index
	`, hashes, indexes)
	if err != nil {
		return nil, fmt.Errorf("query address_utxo: %w", err)
	}
	defer rows.Close()

	outputsByRef := make(map[model.UtxoRef]model.Utxo, len(refs))
	for rows.Next() {
		var (
			txHash     string
			index      int32
			address    string
			credential string
			lovelace   int64
			amounts    []byte
			datumHex   *string
		)
		if err := rows.Scan(&txHash, &index, &address, &credential, &lovelace, &amounts, &datumHex); err != nil {
			return nil, fmt.Errorf("scan address_utxo row: %w", err)
		}

		ref := model.UtxoRef{TxHash: txHash, Index: uint32(index)}
		out, err := convertMirrorRow(ref, address, credential, lovelace, amounts, datumHex)
		if err != nil {
			d.logger.Warn("skip unparsable mirror row", zap.String("tx", txHash), zap.Int32("index", index), zap.Error(err))
			continue
		}
		outputsByRef[ref] = out
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate address_utxo rows: %w", err)
	}

	resolved := make([]model.Utxo, 0, len(refs))
	for _, ref := range refs {
		if out, ok := outputsByRef[ref]; ok {
			resolved = append(resolved, out)
		}
	}
	return resolved, nil
}

// FindBlockNearest returns the newest mirrored block at or before slot.
func (d *DBMirror) FindBlockNearest(ctx context.Context, slot uint64) (model.BlockPoint, error) {
	var (
		hash      string
		blockSlot int64
	)
	row := d.pool.QueryRow(ctx, `
		SELECT hash, slot FROM block
		WHERE slot <= $1
		ORDER BY slot DESC
		LIMIT 1
	`, int64(slot))
	if err := row.Scan(&hash, &blockSlot); err != nil {
		return model.BlockPoint{}, fmt.Errorf("query nearest block: %w", err)
	}
	return model.BlockPoint{Slot: uint64(blockSlot), Hash: hash}, nil
}

func convertMirrorRow(ref model.UtxoRef, address, credential string, lovelace int64, amounts []byte, datumHex *string) (model.Utxo, error) {
	value := model.Value{Lovelace: uint64(lovelace), Assets: make(map[string]uint64)}

	if len(amounts) > 0 {
		var parsed []mirrorAmount
		if err := json.Unmarshal(amounts, &parsed); err != nil {
			return model.Utxo{}, fmt.Errorf("decode amounts: %w", err)
		}
		for _, amount := range parsed {
			if amount.Unit == model.LovelaceUnit {
				continue
			}
			quantity, err := parseJSONQuantity(amount.Quantity)
			if err != nil {
				return model.Utxo{}, fmt.Errorf("parse quantity for %s: %w", amount.Unit, err)
			}
			value.Assets[amount.Unit] = quantity
		}
	}

	out := model.Utxo{
		Ref:               ref,
		Address:           address,
		PaymentCredential: credential,
		Value:             value,
	}
	if datumHex != nil && *datumHex != "" {
		datum, err := decodeHex(*datumHex)
		if err != nil {
			return model.Utxo{}, fmt.Errorf("decode inline datum: %w", err)
		}
		out.Datum = datum
	}
	return out, nil
}

// parseJSONQuantity accepts both numeric and string encodings, which
// vary across mirror implementations.
func parseJSONQuantity(raw json.RawMessage) (uint64, error) {
	s := string(raw)
	if len(s) >= 2 && s[0] == '"' {
		var unquoted string
		if err := json.Unmarshal(raw, &unquoted); err != nil {
			return 0, err
		}
		s = unquoted
	}
	return strconv.ParseUint(s, 10, 64)
}
