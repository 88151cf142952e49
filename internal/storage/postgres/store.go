package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"liquidityVault/internal/indexer"
	"liquidityVault/internal/model"
)

// Store provides Postgres persistence for pools, receipts and replay checkpoints.
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

// UpsertPools inserts or updates pool state.
func (s *Store) UpsertPools(ctx context.Context, pools []model.Pool) error {
	if len(pools) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, pool := range pools {
		balances, err := numerics(pool.Balances)
		if err != nil {
			return fmt.Errorf("pool %s balances: %w", pool.PoolID, err)
		}
		swapFee, err := numeric(pool.SwapFeePercentage)
		if err != nil {
			return fmt.Errorf("pool %s swap fee: %w", pool.PoolID, err)
		}
		decimals := make([]int16, len(pool.Decimals))
		for i, d := range pool.Decimals {
			decimals[i] = int16(d)
		}
		batch.Queue(`
			INSERT INTO vault_pools (
				pool_id, pool_address, specialization, tokens, decimals, balances,
				swap_fee_percentage, last_change_block, paused, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
			ON CONFLICT (pool_id)
			DO UPDATE SET
				balances = EXCLUDED.balances,
				swap_fee_percentage = EXCLUDED.swap_fee_percentage,
				last_change_block = GREATEST(vault_pools.last_change_block, EXCLUDED.last_change_block),
				paused = EXCLUDED.paused,
				updated_at = now()
		`,
			pool.PoolID,
			pool.Address,
			int32(pool.Specialization),
			pool.Tokens,
			decimals,
			balances,
			swapFee,
			int64(pool.LastChangeBlock),
			pool.Paused,
		)
	}
	return s.sendBatch(ctx, batch, len(pools))
}

// InsertReceipts stores receipts. A receipt is unique per pool and lastChangeBlock.
func (s *Store) InsertReceipts(ctx context.Context, receipts []model.ReceiptRecord) error {
	if len(receipts) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range receipts {
		amounts, err := receiptNumerics(r)
		if err != nil {
			return fmt.Errorf("receipt %s/%d: %w", r.PoolID, r.LastChangeBlock, err)
		}
		batch.Queue(`
			INSERT INTO vault_receipts (
				pool_id, last_change_block, request_id, kind, sender, recipient, tokens,
				deltas, raw_deltas, protocol_fee_amounts, raw_protocol_fee_amounts, token_in, token_out,
				amount_in, amount_out, block_number, tx_hash, log_index, created_at
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7,
				$8, $9, $10, $11, $12, $13,
				$14, $15, $16, $17, $18, now()
			)
			ON CONFLICT (pool_id, last_change_block) DO NOTHING
		`,
			r.PoolID,
			int64(r.LastChangeBlock),
			r.RequestID,
			r.Kind,
			r.Sender,
			r.Recipient,
			r.Tokens,
			amounts.deltas,
			amounts.rawDeltas,
			amounts.fees,
			amounts.rawFees,
			r.TokenIn,
			r.TokenOut,
			amounts.amountIn,
			amounts.amountOut,
			int64(r.BlockNumber),
			r.TxHash,
			int64(r.LogIndex),
		)
	}
	return s.sendBatch(ctx, batch, len(receipts))
}

// PutReceipts implements storage.ReceiptSink.
func (s *Store) PutReceipts(ctx context.Context, receipts []model.ReceiptRecord) error {
	return s.InsertReceipts(ctx, receipts)
}

// PutRejections stores rejected settlements.
func (s *Store) PutRejections(ctx context.Context, rejections []model.Rejection) error {
	if len(rejections) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range rejections {
		batch.Queue(`
			INSERT INTO vault_rejections (
				request_id, pool_id, op, block_number, tx_hash, log_index, topic0, error, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		`,
			r.RequestID,
			r.Pool,
			r.Op,
			int64(r.BlockNumber),
			r.TxHash,
			int64(r.LogIndex),
			r.Topic0,
			r.Error,
		)
	}
	return s.sendBatch(ctx, batch, len(rejections))
}

type receiptAmounts struct {
	deltas    []pgtype.Numeric
	rawDeltas []pgtype.Numeric
	fees      []pgtype.Numeric
	rawFees   []pgtype.Numeric
	amountIn  pgtype.Numeric
	amountOut pgtype.Numeric
}

func receiptNumerics(r model.ReceiptRecord) (receiptAmounts, error) {
	var (
		out receiptAmounts
		err error
	)
	if out.deltas, err = numerics(r.Deltas); err != nil {
		return out, err
	}
	if out.rawDeltas, err = numerics(r.RawDeltas); err != nil {
		return out, err
	}
	if out.fees, err = numerics(r.ProtocolFeeAmounts); err != nil {
		return out, err
	}
	if out.rawFees, err = numerics(r.RawProtocolFees); err != nil {
		return out, err
	}
	if out.amountIn, err = numeric(r.AmountIn); err != nil {
		return out, err
	}
	if out.amountOut, err = numeric(r.AmountOut); err != nil {
		return out, err
	}
	return out, nil
}

// numeric parses a decimal integer string. An empty string is SQL NULL.
func numeric(s string) (pgtype.Numeric, error) {
	if s == "" {
		return pgtype.Numeric{}, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return pgtype.Numeric{}, fmt.Errorf("invalid amount %q", s)
	}
	return pgtype.Numeric{Int: v, Valid: true}, nil
}

func numerics(values []string) ([]pgtype.Numeric, error) {
	out := make([]pgtype.Numeric, len(values))
	for i, s := range values {
		if s == "" {
			s = "0"
		}
		n, err := numeric(s)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func (s *Store) sendBatch(ctx context.Context, batch *pgx.Batch, n int) error {
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LoadCheckpoint returns the replay checkpoint stored under name.
func (s *Store) LoadCheckpoint(ctx context.Context, name string) (indexer.Checkpoint, bool, error) {
	if name == "" {
		return indexer.Checkpoint{}, false, fmt.Errorf("checkpoint name required")
	}
	var (
		block     int64
		updatedAt time.Time
		state     []byte
	)
	row := s.pool.QueryRow(ctx, `
		SELECT last_processed_block, updated_at, state
		FROM replay_checkpoints WHERE name=$1
	`, name)
	if err := row.Scan(&block, &updatedAt, &state); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return indexer.Checkpoint{}, false, nil
		}
		return indexer.Checkpoint{}, false, err
	}
	return indexer.Checkpoint{
		LastProcessedBlock: uint64(block),
		UpdatedAt:          updatedAt.UTC().Format(time.RFC3339Nano),
		State:              state,
	}, true, nil
}

// SaveCheckpoint upserts the replay checkpoint stored under name.
func (s *Store) SaveCheckpoint(ctx context.Context, name string, cp indexer.Checkpoint) error {
	if name == "" {
		return fmt.Errorf("checkpoint name required")
	}
	var state []byte
	if len(cp.State) > 0 {
		state = cp.State
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO replay_checkpoints (name, last_processed_block, state, updated_at)
		VALUES ($1, $2, $3::jsonb, now())
		ON CONFLICT (name) DO UPDATE
		SET last_processed_block = EXCLUDED.last_processed_block,
			state = EXCLUDED.state,
			updated_at = now()
	`, name, int64(cp.LastProcessedBlock), state)
	return err
}

// Checkpointer binds the store to one checkpoint name.
func (s *Store) Checkpointer(name string) indexer.Checkpointer {
	return namedCheckpointer{store: s, name: name}
}

type namedCheckpointer struct {
	store *Store
	name  string
}

func (c namedCheckpointer) Load(ctx context.Context) (indexer.Checkpoint, bool, error) {
	return c.store.LoadCheckpoint(ctx, c.name)
}

func (c namedCheckpointer) Save(ctx context.Context, cp indexer.Checkpoint) error {
	return c.store.SaveCheckpoint(ctx, c.name, cp)
}
