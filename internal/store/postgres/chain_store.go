package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marketcore/internal/domain"
)

// ChainStore implements domain.ChainStore using PostgreSQL.
type ChainStore struct {
	pool *pgxpool.Pool
}

// NewChainStore creates a new ChainStore backed by the given connection pool.
func NewChainStore(pool *pgxpool.Pool) *ChainStore {
	return &ChainStore{pool: pool}
}

const chainCols = `id, name, rpc_url, ws_rpc_url, native_symbol, conditional_tokens_address,
	block_process_offset, block_process_range, created_at, updated_at`

func scanChain(row pgx.Row) (domain.Chain, error) {
	var (
		c      domain.Chain
		offset *int64
		rng    int64
	)
	err := row.Scan(&c.ID, &c.Name, &c.RPCURL, &c.WSRPCURL, &c.NativeSymbol, &c.ConditionalTokensAddress,
		&offset, &rng, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return domain.Chain{}, err
	}
	if offset != nil {
		v := uint64(*offset)
		c.BlockProcessOffset = &v
	}
	if rng > 0 {
		c.BlockProcessRange = uint64(rng)
	}
	return c, nil
}

// List returns every configured chain ordered by id.
func (s *ChainStore) List(ctx context.Context) ([]domain.Chain, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+chainCols+` FROM chains ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list chains: %w", err)
	}
	defer rows.Close()

	var chains []domain.Chain
	for rows.Next() {
		c, err := scanChain(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan chain: %w", err)
		}
		chains = append(chains, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list chains rows: %w", err)
	}
	return chains, nil
}

// GetByID retrieves one chain.
func (s *ChainStore) GetByID(ctx context.Context, id int64) (domain.Chain, error) {
	c, err := scanChain(s.pool.QueryRow(ctx, `SELECT `+chainCols+` FROM chains WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Chain{}, fmt.Errorf("postgres: chain %d: %w", id, domain.ErrNotFound)
		}
		return domain.Chain{}, fmt.Errorf("postgres: get chain %d: %w", id, err)
	}
	return c, nil
}

// AdvanceOffset moves the checkpoint to next unless it is already further.
func (s *ChainStore) AdvanceOffset(ctx context.Context, id int64, next uint64) error {
	const query = `
		UPDATE chains
		SET block_process_offset = GREATEST(COALESCE(block_process_offset, 0), $2),
		    updated_at           = NOW()
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, id, int64(next))
	if err != nil {
		return fmt.Errorf("postgres: advance chain %d offset: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: chain %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ResetOffset sets the checkpoint unconditionally. Nil restarts from head.
func (s *ChainStore) ResetOffset(ctx context.Context, id int64, offset *uint64) error {
	var v *int64
	if offset != nil {
		o := int64(*offset)
		v = &o
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE chains SET block_process_offset = $2, updated_at = NOW() WHERE id = $1`, id, v)
	if err != nil {
		return fmt.Errorf("postgres: reset chain %d offset: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: chain %d: %w", id, domain.ErrNotFound)
	}
	return nil
}
