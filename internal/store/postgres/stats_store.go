package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marketcore/internal/domain"
)

// StatsStore implements domain.StatsStore using PostgreSQL. The trades
// table's unique (chain_id, tx_hash, log_index) key makes replays no-ops.
type StatsStore struct {
	pool *pgxpool.Pool
}

// NewStatsStore creates a new StatsStore backed by the given connection pool.
func NewStatsStore(pool *pgxpool.Pool) *StatsStore {
	return &StatsStore{pool: pool}
}

// ApplyTrade records rec, its participation deltas and the market volume in
// one transaction.
func (s *StatsStore) ApplyTrade(ctx context.Context, rec domain.TradeRecord) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	amounts := make([]string, len(rec.Amounts))
	for i, a := range rec.Amounts {
		amounts[i] = a.String()
	}
	const insertTrade = `
		INSERT INTO trades (chain_id, tx_hash, log_index, block_number, market_id, trader, amounts, net_cost, fee, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (chain_id, tx_hash, log_index) DO NOTHING`
	tag, err := tx.Exec(ctx, insertTrade,
		rec.Ref.ChainID, rec.Ref.TxHash, int64(rec.Ref.LogIndex), int64(rec.Ref.BlockNumber),
		rec.MarketID, rec.Trader, amounts, rec.NetCost, rec.Fee, rec.RecordedAt)
	if err != nil {
		return false, fmt.Errorf("postgres: insert trade %s: %w", rec.Ref, err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	const upsertParticipation = `
		INSERT INTO participations (market_id, token_index, trader, token_amount, trades)
		VALUES ($1, $2, $3, $4, 1)
		ON CONFLICT (market_id, token_index, trader) DO UPDATE SET
			token_amount = participations.token_amount + EXCLUDED.token_amount,
			trades       = participations.trades + 1`
	batch := &pgx.Batch{}
	for i, a := range rec.Amounts {
		if a.IsZero() {
			continue
		}
		batch.Queue(upsertParticipation, rec.MarketID, i, rec.Trader, a)
	}
	batch.Queue(`UPDATE prediction_markets SET volume = volume + $2, updated_at = NOW() WHERE id = $1`,
		rec.MarketID, rec.NetCost.Abs())
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return false, fmt.Errorf("postgres: apply trade %s: %w", rec.Ref, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("postgres: commit trade %s: %w", rec.Ref, err)
	}
	return true, nil
}

// ListParticipations returns every holding in a market.
func (s *StatsStore) ListParticipations(ctx context.Context, marketID int64) ([]domain.Participation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT market_id, token_index, trader, token_amount, trades
		FROM participations
		WHERE market_id = $1
		ORDER BY token_index, trader`, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: participations of market %d: %w", marketID, err)
	}
	defer rows.Close()

	var out []domain.Participation
	for rows.Next() {
		var p domain.Participation
		if err := rows.Scan(&p.MarketID, &p.TokenIndex, &p.Trader, &p.TokenAmount, &p.Trades); err != nil {
			return nil, fmt.Errorf("postgres: scan participation: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: participations rows: %w", err)
	}
	return out, nil
}
