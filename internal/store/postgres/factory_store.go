package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marketcore/internal/domain"
)

// FactoryStore implements domain.FactoryStore using PostgreSQL.
type FactoryStore struct {
	pool *pgxpool.Pool
}

// NewFactoryStore creates a new FactoryStore backed by the given connection pool.
func NewFactoryStore(pool *pgxpool.Pool) *FactoryStore {
	return &FactoryStore{pool: pool}
}

const factoryCols = `id, chain_id, name, address, market_type, factory_abi, market_maker_abi,
	creation_event_name, market_address_field, max_supported_outcomes`

func scanFactory(row pgx.Row) (domain.MarketMakerFactory, error) {
	var f domain.MarketMakerFactory
	var typ string
	err := row.Scan(&f.ID, &f.ChainID, &f.Name, &f.Address, &typ, &f.FactoryABI, &f.MarketMakerABI,
		&f.CreationEventName, &f.MarketAddressField, &f.MaxSupportedOutcomes)
	f.MarketType = domain.MarketType(typ)
	return f, err
}

// GetByID retrieves one factory.
func (s *FactoryStore) GetByID(ctx context.Context, id int64) (domain.MarketMakerFactory, error) {
	f, err := scanFactory(s.pool.QueryRow(ctx, `SELECT `+factoryCols+` FROM market_maker_factories WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MarketMakerFactory{}, fmt.Errorf("postgres: factory %d: %w", id, domain.ErrNotFound)
		}
		return domain.MarketMakerFactory{}, fmt.Errorf("postgres: get factory %d: %w", id, err)
	}
	return f, nil
}

// ListByChain returns the factories deployed on one chain.
func (s *FactoryStore) ListByChain(ctx context.Context, chainID int64) ([]domain.MarketMakerFactory, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+factoryCols+` FROM market_maker_factories WHERE chain_id = $1 ORDER BY id`, chainID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list factories of chain %d: %w", chainID, err)
	}
	defer rows.Close()

	var out []domain.MarketMakerFactory
	for rows.Next() {
		f, err := scanFactory(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan factory: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list factories rows: %w", err)
	}
	return out, nil
}
