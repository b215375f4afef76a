// Package settlement drives the market lifecycle on chain: deployment,
// resolution and redemption, and keeps off-chain statistics in step with the
// trade and resolution events the indexer delivers.
package settlement

import (
	"context"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketcore/internal/account"
	"github.com/alanyoungcy/marketcore/internal/amm"
	"github.com/alanyoungcy/marketcore/internal/collateral"
	"github.com/alanyoungcy/marketcore/internal/domain"
	"github.com/alanyoungcy/marketcore/internal/evm"
	"github.com/alanyoungcy/marketcore/internal/gateway"
)

// Accounts resolves the signing accounts settlement needs.
type Accounts interface {
	Operator(ctx context.Context, client evm.Client) (*account.Account, error)
	ForOwner(ctx context.Context, kind domain.OwnerKind, ownerID string, client evm.Client) (*account.Account, error)
}

// Networks gives access to a chain's provider and configuration.
type Networks interface {
	Get(chainID int64) (*evm.Network, error)
}

// Config holds market creation parameters.
type Config struct {
	LMSRFee   uint64
	Whitelist common.Address
}

// Deps are the collaborators of an Orchestrator. Prices, Bus, Archiver, Audit
// and Notifier may be nil.
type Deps struct {
	Gateway  *gateway.Gateway
	Tokens   *collateral.Tokens
	Accounts Accounts
	Networks Networks
	Makers   *amm.Registry
	Markets  domain.MarketStore
	Stats    domain.StatsStore
	Prices   domain.PriceCache
	Bus      domain.SignalBus
	Archiver domain.ChainArchiver
	Audit    domain.AuditStore
	Notifier domain.ResolutionNotifier
}

// Orchestrator implements deploy, resolve and redeem, and the statistics
// update path.
type Orchestrator struct {
	Deps
	cfg    Config
	now    func() time.Time
	logger *slog.Logger
}

// New creates an Orchestrator.
func New(cfg Config, deps Deps, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		Deps:   deps,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With(slog.String("component", "settlement")),
	}
}

func (o *Orchestrator) audit(ctx context.Context, event string, detail map[string]any) {
	if o.Audit == nil {
		return
	}
	if err := o.Audit.Log(ctx, event, detail); err != nil {
		o.logger.WarnContext(ctx, "settlement: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (o *Orchestrator) publish(ctx context.Context, channel string, payload []byte) {
	if o.Bus == nil {
		return
	}
	if err := o.Bus.Publish(ctx, channel, payload); err != nil {
		o.logger.WarnContext(ctx, "settlement: publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

// appendStream writes to a durable stream that consumers can replay.
func (o *Orchestrator) appendStream(ctx context.Context, stream string, payload []byte) {
	if o.Bus == nil {
		return
	}
	if err := o.Bus.StreamAppend(ctx, stream, payload); err != nil {
		o.logger.WarnContext(ctx, "settlement: stream append failed",
			slog.String("stream", stream),
			slog.String("error", err.Error()),
		)
	}
}
