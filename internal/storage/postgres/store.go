package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"arbScope/internal/model"
)

// Schema creates the tables used by Store.
const Schema = `
CREATE TABLE IF NOT EXISTS pools (
	chain_id BIGINT NOT NULL,
	pool_address TEXT NOT NULL,
	kind TEXT NOT NULL,
	token0 TEXT NOT NULL,
	token1 TEXT NOT NULL,
	fee INTEGER NOT NULL,
	tick_spacing INTEGER NOT NULL,
	first_seen_block BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (chain_id, pool_address)
);
CREATE TABLE IF NOT EXISTS pool_snapshots (
	chain_id BIGINT NOT NULL,
	pool_address TEXT NOT NULL,
	block BIGINT NOT NULL,
	snapshot JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (chain_id, pool_address)
);
CREATE TABLE IF NOT EXISTS opportunities (
	id TEXT PRIMARY KEY,
	chain_id BIGINT NOT NULL,
	cycle_id TEXT NOT NULL,
	block BIGINT NOT NULL,
	input_token TEXT NOT NULL,
	input_amount NUMERIC NOT NULL,
	profit_amount NUMERIC NOT NULL,
	profit NUMERIC NOT NULL,
	swaps JSONB NOT NULL,
	found_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS opportunities_cycle_block ON opportunities (cycle_id, block);
CREATE TABLE IF NOT EXISTS follower_state (
	name TEXT PRIMARY KEY,
	last_processed_block BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

// Store provides Postgres persistence for pools and opportunities.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate creates missing tables.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// UpsertPools inserts or updates pool metadata.
func (s *Store) UpsertPools(ctx context.Context, pools []model.Pool) error {
	if len(pools) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, pool := range pools {
		batch.Queue(`
			INSERT INTO pools (
				chain_id, pool_address, kind, token0, token1, fee, tick_spacing, first_seen_block, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
			ON CONFLICT (chain_id, pool_address)
			DO UPDATE SET
				kind = EXCLUDED.kind,
				token0 = EXCLUDED.token0,
				token1 = EXCLUDED.token1,
				fee = EXCLUDED.fee,
				tick_spacing = EXCLUDED.tick_spacing,
				first_seen_block = LEAST(pools.first_seen_block, EXCLUDED.first_seen_block),
				updated_at = now()
		`,
			int64(pool.ChainID),
			pool.Address,
			pool.Kind,
			pool.Token0,
			pool.Token1,
			pool.Fee,
			pool.TickSpacing,
			int64(pool.FirstSeenBlock),
		)
	}
	return sendBatch(ctx, s.pool, batch, len(pools))
}

// SavePoolSnapshots stores the latest snapshot of each pool.
func (s *Store) SavePoolSnapshots(ctx context.Context, chainID uint64, snapshots []model.PoolSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, snap := range snapshots {
		data, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("marshal snapshot %s: %w", snap.Address, err)
		}
		batch.Queue(`
			INSERT INTO pool_snapshots (chain_id, pool_address, block, snapshot, updated_at)
			VALUES ($1, $2, $3, $4, now())
			ON CONFLICT (chain_id, pool_address)
			DO UPDATE SET block = EXCLUDED.block, snapshot = EXCLUDED.snapshot, updated_at = now()
			WHERE pool_snapshots.block <= EXCLUDED.block
		`,
			int64(chainID),
			snap.Address,
			int64(snap.Block),
			data,
		)
	}
	return sendBatch(ctx, s.pool, batch, len(snapshots))
}

// LoadPoolSnapshot returns the stored snapshot of a pool.
func (s *Store) LoadPoolSnapshot(ctx context.Context, chainID uint64, address string) (model.PoolSnapshot, bool, error) {
	var data []byte
	row := s.pool.QueryRow(ctx, `SELECT snapshot FROM pool_snapshots WHERE chain_id=$1 AND pool_address=$2`, int64(chainID), address)
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.PoolSnapshot{}, false, nil
		}
		return model.PoolSnapshot{}, false, err
	}
	var snap model.PoolSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return model.PoolSnapshot{}, false, fmt.Errorf("decode snapshot %s: %w", address, err)
	}
	return snap, true, nil
}

// PutOpportunities inserts opportunities, ignoring ids already stored.
func (s *Store) PutOpportunities(ctx context.Context, opportunities []model.Opportunity) error {
	if len(opportunities) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, o := range opportunities {
		swaps, err := json.Marshal(o.Swaps)
		if err != nil {
			return fmt.Errorf("marshal swaps %s: %w", o.ID, err)
		}
		batch.Queue(`
			INSERT INTO opportunities (
				id, chain_id, cycle_id, block, input_token, input_amount, profit_amount, profit, swaps, found_at
			) VALUES ($1, $2, $3, $4, $5, $6::text::numeric, $7::text::numeric, $8::text::numeric, $9, $10::text::timestamptz)
			ON CONFLICT (id) DO NOTHING
		`,
			o.ID,
			int64(o.ChainID),
			o.CycleID,
			int64(o.Block),
			o.InputToken,
			o.InputAmount,
			o.ProfitAmount,
			o.Profit,
			swaps,
			o.FoundAt,
		)
	}
	return sendBatch(ctx, s.pool, batch, len(opportunities))
}

// LoadState returns last_processed_block for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var block int64
	row := s.pool.QueryRow(ctx, `SELECT last_processed_block FROM follower_state WHERE name=$1`, name)
	if err := row.Scan(&block); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(block), true, nil
}

// SaveState upserts last_processed_block for a name.
func (s *Store) SaveState(ctx context.Context, name string, block uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO follower_state (name, last_processed_block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_processed_block = EXCLUDED.last_processed_block, updated_at = now()
	`, name, int64(block))
	return err
}

func sendBatch(ctx context.Context, pool *pgxpool.Pool, batch *pgx.Batch, n int) error {
	br := pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}
