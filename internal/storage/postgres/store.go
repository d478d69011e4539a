package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"swapscope/internal/model"
)

const (
	defaultMaxConns   = 20
	reserveChunkSize  = 500
	syncPointStateKey = "sync_point"
)

// Store provides Postgres persistence for market data.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewStore(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pg dsn: %w", err)
	}
	if cfg.MaxConns == 0 || cfg.MaxConns > defaultMaxConns {
		cfg.MaxConns = defaultMaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool, logger: logger}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// UpsertAssets ensures a row per unit and returns the unit to id map.
func (s *Store) UpsertAssets(ctx context.Context, units []string) (map[string]int64, error) {
	return upsertAssets(ctx, s.pool, units)
}

// UpsertTransactions ensures a row per hash and returns the hash to id
// map.
func (s *Store) UpsertTransactions(ctx context.Context, hashes []string) (map[string]int64, error) {
	return upsertTransactions(ctx, s.pool, hashes)
}

// batcher is satisfied by both the pool and a transaction, so the
// upsert helpers compose into larger transactional operations.
type batcher interface {
	SendBatch(ctx context.Context, batch *pgx.Batch) pgx.BatchResults
}

func upsertAssets(ctx context.Context, q batcher, units []string) (map[string]int64, error) {
	units = dedupeStrings(units)
	if len(units) == 0 {
		return map[string]int64{}, nil
	}

	batch := &pgx.Batch{}
	for _, unit := range units {
		var policy, name any
		if unit != model.LovelaceUnit && len(unit) > 56 {
			policy = unit[:56]
			name = unit[56:]
		}
		batch.Queue(`
			INSERT INTO asset (unit, policy_id, name)
			VALUES ($1, $2, $3)
			ON CONFLICT (unit) DO UPDATE SET unit = EXCLUDED.unit
			RETURNING id
		`, unit, policy, name)
	}

	br := q.SendBatch(ctx, batch)
	defer br.Close()

	ids := make(map[string]int64, len(units))
	for _, unit := range units {
		var id int64
		if err := br.QueryRow().Scan(&id); err != nil {
			return nil, fmt.Errorf("upsert asset %s: %w", unit, err)
		}
		ids[unit] = id
	}
	return ids, nil
}

func upsertTransactions(ctx context.Context, q batcher, hashes []string) (map[string]int64, error) {
	hashes = dedupeStrings(hashes)
	if len(hashes) == 0 {
		return map[string]int64{}, nil
	}

	batch := &pgx.Batch{}
	for _, hash := range hashes {
		batch.Queue(`
			INSERT INTO tx (hash)
			VALUES ($1)
			ON CONFLICT (hash) DO UPDATE SET hash = EXCLUDED.hash
			RETURNING id
		`, hash)
	}

	br := q.SendBatch(ctx, batch)
	defer br.Close()

	ids := make(map[string]int64, len(hashes))
	for _, hash := range hashes {
		var id int64
		if err := br.QueryRow().Scan(&id); err != nil {
			return nil, fmt.Errorf("upsert tx %s: %w", hash, err)
		}
		ids[hash] = id
	}
	return ids, nil
}

// PersistPrices writes the batch and refreshes the latest-price rows,
// all in one transaction.
func (s *Store) PersistPrices(ctx context.Context, prices []model.Price) error {
	if len(prices) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	units := make([]string, 0, len(prices)*2)
	hashes := make([]string, 0, len(prices))
	for _, price := range prices {
		units = append(units, price.AssetUnit, price.QuoteAssetUnit)
		hashes = append(hashes, price.TxHash)
	}
	assetIDs, err := upsertAssets(ctx, tx, units)
	if err != nil {
		return err
	}
	txIDs, err := upsertTransactions(ctx, tx, hashes)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, price := range prices {
		batch.Queue(`
			INSERT INTO price (
				asset_id, quote_asset_id, provider, time, tx_id, swap_index,
				price, amount1, amount2, operation, outlier
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			ON CONFLICT (asset_id, quote_asset_id, time, tx_id, swap_index)
			DO UPDATE SET
				provider = EXCLUDED.provider,
				price = EXCLUDED.price,
				amount1 = EXCLUDED.amount1,
				amount2 = EXCLUDED.amount2,
				operation = EXCLUDED.operation,
				outlier = EXCLUDED.outlier
		`,
			assetIDs[price.AssetUnit],
			assetIDs[price.QuoteAssetUnit],
			price.Provider,
			int64(price.Time),
			txIDs[price.TxHash],
			int32(price.SwapIndex),
			price.Price,
			strconv.FormatUint(price.Amount1, 10),
			strconv.FormatUint(price.Amount2, 10),
			int16(price.Operation),
			price.Outlier,
		)
		batch.Queue(`
			INSERT INTO latest_price (asset_id, quote_asset_id, provider, time, price)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (asset_id, quote_asset_id) DO UPDATE SET
				provider = EXCLUDED.provider,
				time = EXCLUDED.time,
				price = EXCLUDED.price
			WHERE latest_price.time <= EXCLUDED.time
		`,
			assetIDs[price.AssetUnit],
			assetIDs[price.QuoteAssetUnit],
			price.Provider,
			int64(price.Time),
			price.Price,
		)
	}

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("persist prices: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("persist prices: %w", err)
	}

	return tx.Commit(ctx)
}

// PersistPoolReserves resolves surrogate ids, deduplicates by pool and
// time keeping the last occurrence, and writes 500-row chunks, each as
// one composite statement covering both the append table and the
// latest-per-pool table.
func (s *Store) PersistPoolReserves(ctx context.Context, reserves []model.PoolReserve) error {
	reserves = dedupeReservesKeepLast(reserves)
	if len(reserves) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	units := make([]string, 0, len(reserves)*2)
	hashes := make([]string, 0, len(reserves))
	for _, reserve := range reserves {
		units = append(units, reserve.Asset1Unit, reserve.Asset2Unit)
		hashes = append(hashes, reserve.TxHash)
	}
	assetIDs, err := upsertAssets(ctx, tx, units)
	if err != nil {
		return err
	}
	txIDs, err := upsertTransactions(ctx, tx, hashes)
	if err != nil {
		return err
	}

	type reserveRow struct {
		poolID   string
		time     int64
		asset1ID int64
		asset2ID int64
		provider string
		reserve1 string
		reserve2 string
		txID     int64
	}

	rows := make([]reserveRow, 0, len(reserves))
	for _, reserve := range reserves {
		asset1ID, ok1 := assetIDs[reserve.Asset1Unit]
		asset2ID, ok2 := assetIDs[reserve.Asset2Unit]
		txID, ok3 := txIDs[reserve.TxHash]
		if !ok1 || !ok2 || !ok3 {
			s.logger.Warn("drop pool reserve with unresolved dependencies",
				zap.String("pool", reserve.PoolID),
				zap.String("tx", reserve.TxHash),
			)
			continue
		}
		rows = append(rows, reserveRow{
			poolID:   reserve.PoolID,
			time:     int64(reserve.Time),
			asset1ID: asset1ID,
			asset2ID: asset2ID,
			provider: reserve.Provider,
			reserve1: strconv.FormatUint(reserve.Reserve1, 10),
			reserve2: strconv.FormatUint(reserve.Reserve2, 10),
			txID:     txID,
		})
	}

	for start := 0; start < len(rows); start += reserveChunkSize {
		end := start + reserveChunkSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		poolIDs := make([]string, len(chunk))
		times := make([]int64, len(chunk))
		asset1IDs := make([]int64, len(chunk))
		asset2IDs := make([]int64, len(chunk))
		providers := make([]string, len(chunk))
		reserve1s := make([]string, len(chunk))
		reserve2s := make([]string, len(chunk))
		txIDList := make([]int64, len(chunk))
		for i, row := range chunk {
			poolIDs[i] = row.poolID
			times[i] = row.time
			asset1IDs[i] = row.asset1ID
			asset2IDs[i] = row.asset2ID
			providers[i] = row.provider
			reserve1s[i] = row.reserve1
			reserve2s[i] = row.reserve2
			txIDList[i] = row.txID
		}

		_, err := tx.Exec(ctx, `
			WITH incoming AS (
				SELECT * FROM unnest(
					$1::text[], $2::bigint[], $3::bigint[], $4::bigint[],
					$5::text[], $6::numeric[], $7::numeric[], $8::bigint[]
				) AS t(pool_id, time, asset1_id, asset2_id, provider, reserve1, reserve2, tx_id)
			), appended AS (
				INSERT INTO pool_reserve (
					pool_id, time, asset1_id, asset2_id, provider, reserve1, reserve2, tx_id
				)
				SELECT pool_id, time, asset1_id, asset2_id, provider, reserve1, reserve2, tx_id
				FROM incoming
				ON CONFLICT (pool_id, time) DO UPDATE SET
					asset1_id = EXCLUDED.asset1_id,
					asset2_id = EXCLUDED.asset2_id,
					provider = EXCLUDED.provider,
					reserve1 = EXCLUDED.reserve1,
					reserve2 = EXCLUDED.reserve2,
					tx_id = EXCLUDED.tx_id
			)
			INSERT INTO latest_pool_reserve (
				pool_id, time, asset1_id, asset2_id, provider, reserve1, reserve2, tx_id
			)
			SELECT DISTINCT ON (pool_id)
				pool_id, time, asset1_id, asset2_id, provider, reserve1, reserve2, tx_id
			FROM incoming
			ORDER BY pool_id, time DESC
			ON CONFLICT (pool_id) DO UPDATE SET
				time = EXCLUDED.time,
				asset1_id = EXCLUDED.asset1_id,
				asset2_id = EXCLUDED.asset2_id,
				provider = EXCLUDED.provider,
				reserve1 = EXCLUDED.reserve1,
				reserve2 = EXCLUDED.reserve2,
				tx_id = EXCLUDED.tx_id
			WHERE latest_pool_reserve.time <= EXCLUDED.time
		`, poolIDs, times, asset1IDs, asset2IDs, providers, reserve1s, reserve2s, txIDList)
		if err != nil {
			return fmt.Errorf("persist pool reserves: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// RefreshViews refreshes the derived aggregate views.
func (s *Store) RefreshViews(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `REFRESH MATERIALIZED VIEW CONCURRENTLY price_candle_5m`); err != nil {
		return fmt.Errorf("refresh price_candle_5m: %w", err)
	}
	return nil
}

// LoadSyncPoint returns the persisted sync time, if any.
func (s *Store) LoadSyncPoint(ctx context.Context) (uint64, bool, error) {
	var ts int64
	row := s.pool.QueryRow(ctx, `SELECT last_processed_ts FROM indexer_state WHERE name=$1`, syncPointStateKey)
	if err := row.Scan(&ts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(ts), true, nil
}

// SaveSyncPoint upserts the sync time checkpoint.
func (s *Store) SaveSyncPoint(ctx context.Context, timeSeconds uint64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO indexer_state (name, last_processed_ts, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_processed_ts = EXCLUDED.last_processed_ts, updated_at = now()
	`, syncPointStateKey, int64(timeSeconds))
	return err
}

// dedupeReservesKeepLast collapses duplicate (pool id, time) keys.
// Several transactions in one block can touch the same pool in the same
// slot; only the final state may reach the primary key.
func dedupeReservesKeepLast(reserves []model.PoolReserve) []model.PoolReserve {
	byKey := make(map[string]int, len(reserves))
	deduped := make([]model.PoolReserve, 0, len(reserves))
	for _, reserve := range reserves {
		key := reserve.PoolID + "@" + strconv.FormatUint(reserve.Time, 10)
		if at, ok := byKey[key]; ok {
			deduped[at] = reserve
			continue
		}
		byKey[key] = len(deduped)
		deduped = append(deduped, reserve)
	}
	return deduped
}

func dedupeStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
