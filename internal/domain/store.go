package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ChainStore persists configured chains and their indexing checkpoint.
type ChainStore interface {
	List(ctx context.Context) ([]Chain, error)
	GetByID(ctx context.Context, id int64) (Chain, error)
	// AdvanceOffset moves the checkpoint forward. It never moves it backwards.
	AdvanceOffset(ctx context.Context, id int64, next uint64) error
	// ResetOffset is the administrative path that may move the checkpoint anywhere.
	ResetOffset(ctx context.Context, id int64, offset *uint64) error
}

// WalletStore persists custodial wallets, at most one per owner.
type WalletStore interface {
	GetByOwner(ctx context.Context, kind OwnerKind, ownerID string) (Wallet, error)
	GetOperator(ctx context.Context) (Wallet, error)
	Create(ctx context.Context, w Wallet) error
	// Replace overwrites the owner's wallet. Without force an existing wallet
	// yields ErrConflict.
	Replace(ctx context.Context, w Wallet, force bool) error
}

// FactoryStore persists market maker factories.
type FactoryStore interface {
	GetByID(ctx context.Context, id int64) (MarketMakerFactory, error)
	ListByChain(ctx context.Context, chainID int64) ([]MarketMakerFactory, error)
}

// MarketStore persists markets. Every read eagerly loads outcomes in
// ascending TokenIndex order.
type MarketStore interface {
	Create(ctx context.Context, m PredictionMarket) (PredictionMarket, error)
	GetByID(ctx context.Context, id int64) (PredictionMarket, error)
	GetByAddress(ctx context.Context, chainID int64, address string) (PredictionMarket, error)
	GetByConditionID(ctx context.Context, chainID int64, conditionID string) (PredictionMarket, error)
	UpdateOutcomePrice(ctx context.Context, marketID int64, tokenIndex int, price decimal.Decimal) error
	// SetResolution stamps resolvedAt and trueness ratios once. It reports
	// false when the market was already resolved.
	SetResolution(ctx context.Context, marketID int64, resolvedAt time.Time, ratios []decimal.Decimal) (bool, error)
}

// StatsStore persists trade statistics.
type StatsStore interface {
	// ApplyTrade records the trade and its participation deltas atomically.
	// It reports false, without changing anything, when the log was already applied.
	ApplyTrade(ctx context.Context, rec TradeRecord) (bool, error)
	ListParticipations(ctx context.Context, marketID int64) ([]Participation, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditQuery selects audit entries. Zero fields do not filter.
type AuditQuery struct {
	Event  string
	Since  time.Time
	Limit  int
	Offset int
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, q AuditQuery) ([]AuditEntry, error)
}
