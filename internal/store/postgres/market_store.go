package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketcore/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL. Markets are
// always returned with their outcomes in ascending token index order.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketCols = `id, chain_id, factory_id, market_type, question, question_id, condition_id, address,
	collateral_address, collateral_symbol, oracle_name, oracle_type, oracle_address, oracle_owner_id,
	volume, started_at, closed_at, resolved_at, created_at, updated_at`

func scanMarket(row pgx.Row) (domain.PredictionMarket, error) {
	var (
		m          domain.PredictionMarket
		typ        string
		oracleType string
	)
	err := row.Scan(
		&m.ID, &m.ChainID, &m.FactoryID, &typ, &m.Question, &m.QuestionID, &m.ConditionID, &m.Address,
		&m.Collateral.Address, &m.Collateral.Symbol, &m.Oracle.Name, &oracleType, &m.Oracle.Address, &m.Oracle.OwnerID,
		&m.Volume, &m.StartedAt, &m.ClosedAt, &m.ResolvedAt, &m.CreatedAt, &m.UpdatedAt,
	)
	m.Type = domain.MarketType(typ)
	m.Oracle.Type = domain.OracleType(oracleType)
	return m, err
}

// Create inserts a market and its outcomes in one transaction.
func (s *MarketStore) Create(ctx context.Context, m domain.PredictionMarket) (domain.PredictionMarket, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.PredictionMarket{}, fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const insertMarket = `
		INSERT INTO prediction_markets (
			chain_id, factory_id, market_type, question, question_id, condition_id, address,
			collateral_address, collateral_symbol, oracle_name, oracle_type, oracle_address, oracle_owner_id,
			started_at, closed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, volume, created_at, updated_at`
	err = tx.QueryRow(ctx, insertMarket,
		m.ChainID, m.FactoryID, string(m.Type), m.Question, m.QuestionID, m.ConditionID, m.Address,
		m.Collateral.Address, m.Collateral.Symbol, m.Oracle.Name, string(m.Oracle.Type), m.Oracle.Address, m.Oracle.OwnerID,
		m.StartedAt, m.ClosedAt,
	).Scan(&m.ID, &m.Volume, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.PredictionMarket{}, fmt.Errorf("postgres: market %s on chain %d: %w", m.Address, m.ChainID, domain.ErrAlreadyExists)
		}
		return domain.PredictionMarket{}, fmt.Errorf("postgres: insert market: %w", err)
	}

	const insertOutcome = `
		INSERT INTO conditional_tokens (market_id, token_index, title)
		VALUES ($1, $2, $3)
		RETURNING id`
	batch := &pgx.Batch{}
	for _, o := range m.Outcomes {
		batch.Queue(insertOutcome, m.ID, o.TokenIndex, o.Title)
	}
	br := tx.SendBatch(ctx, batch)
	for i := range m.Outcomes {
		m.Outcomes[i].MarketID = m.ID
		if err := br.QueryRow().Scan(&m.Outcomes[i].ID); err != nil {
			_ = br.Close()
			return domain.PredictionMarket{}, fmt.Errorf("postgres: insert outcome %d: %w", m.Outcomes[i].TokenIndex, err)
		}
	}
	if err := br.Close(); err != nil {
		return domain.PredictionMarket{}, fmt.Errorf("postgres: insert outcomes: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.PredictionMarket{}, fmt.Errorf("postgres: commit market: %w", err)
	}
	return m, nil
}

// GetByID retrieves a market by id.
func (s *MarketStore) GetByID(ctx context.Context, id int64) (domain.PredictionMarket, error) {
	return s.getOne(ctx, fmt.Sprintf("market %d", id), `WHERE id = $1`, id)
}

// GetByAddress retrieves a market by its market maker address.
func (s *MarketStore) GetByAddress(ctx context.Context, chainID int64, address string) (domain.PredictionMarket, error) {
	return s.getOne(ctx, fmt.Sprintf("market %s on chain %d", address, chainID),
		`WHERE chain_id = $1 AND lower(address) = lower($2)`, chainID, address)
}

// GetByConditionID retrieves a market by its condition id.
func (s *MarketStore) GetByConditionID(ctx context.Context, chainID int64, conditionID string) (domain.PredictionMarket, error) {
	return s.getOne(ctx, fmt.Sprintf("condition %s on chain %d", conditionID, chainID),
		`WHERE chain_id = $1 AND lower(condition_id) = lower($2)`, chainID, conditionID)
}

func (s *MarketStore) getOne(ctx context.Context, what, where string, args ...any) (domain.PredictionMarket, error) {
	m, err := scanMarket(s.pool.QueryRow(ctx, `SELECT `+marketCols+` FROM prediction_markets `+where, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PredictionMarket{}, fmt.Errorf("postgres: %s: %w", what, domain.ErrNotFound)
		}
		return domain.PredictionMarket{}, fmt.Errorf("postgres: get %s: %w", what, err)
	}
	if m.Outcomes, err = s.outcomes(ctx, m.ID); err != nil {
		return domain.PredictionMarket{}, err
	}
	return m, nil
}

func (s *MarketStore) outcomes(ctx context.Context, marketID int64) ([]domain.ConditionalToken, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, market_id, token_index, title, price, trueness_ratio
		FROM conditional_tokens
		WHERE market_id = $1
		ORDER BY token_index ASC`, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: outcomes of market %d: %w", marketID, err)
	}
	defer rows.Close()

	var out []domain.ConditionalToken
	for rows.Next() {
		var (
			o     domain.ConditionalToken
			ratio decimal.NullDecimal
		)
		if err := rows.Scan(&o.ID, &o.MarketID, &o.TokenIndex, &o.Title, &o.Price, &ratio); err != nil {
			return nil, fmt.Errorf("postgres: scan outcome: %w", err)
		}
		if ratio.Valid {
			r := ratio.Decimal
			o.TruenessRatio = &r
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: outcomes rows: %w", err)
	}
	return out, nil
}

// UpdateOutcomePrice stores the latest price of one outcome.
func (s *MarketStore) UpdateOutcomePrice(ctx context.Context, marketID int64, tokenIndex int, price decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conditional_tokens SET price = $3 WHERE market_id = $1 AND token_index = $2`,
		marketID, tokenIndex, price)
	if err != nil {
		return fmt.Errorf("postgres: update price of market %d outcome %d: %w", marketID, tokenIndex, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: market %d outcome %d: %w", marketID, tokenIndex, domain.ErrNotFound)
	}
	return nil
}

// SetResolution stamps resolvedAt and the trueness ratios if the market is
// not resolved yet. It reports whether anything changed.
func (s *MarketStore) SetResolution(ctx context.Context, marketID int64, resolvedAt time.Time, ratios []decimal.Decimal) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE prediction_markets SET resolved_at = $2, updated_at = NOW()
		WHERE id = $1 AND resolved_at IS NULL`, marketID, resolvedAt)
	if err != nil {
		return false, fmt.Errorf("postgres: resolve market %d: %w", marketID, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM prediction_markets WHERE id = $1)`, marketID).Scan(&exists); err != nil {
			return false, fmt.Errorf("postgres: check market %d: %w", marketID, err)
		}
		if !exists {
			return false, fmt.Errorf("postgres: market %d: %w", marketID, domain.ErrNotFound)
		}
		return false, nil
	}

	batch := &pgx.Batch{}
	for i, r := range ratios {
		batch.Queue(`UPDATE conditional_tokens SET trueness_ratio = $3 WHERE market_id = $1 AND token_index = $2`, marketID, i, r)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return false, fmt.Errorf("postgres: store trueness ratios of market %d: %w", marketID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("postgres: commit resolution of market %d: %w", marketID, err)
	}
	return true, nil
}
