package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketcore/internal/account"
	"github.com/alanyoungcy/marketcore/internal/amm"
	s3blob "github.com/alanyoungcy/marketcore/internal/blob/s3"
	"github.com/alanyoungcy/marketcore/internal/cache/redis"
	"github.com/alanyoungcy/marketcore/internal/collateral"
	"github.com/alanyoungcy/marketcore/internal/config"
	"github.com/alanyoungcy/marketcore/internal/crypto"
	"github.com/alanyoungcy/marketcore/internal/domain"
	"github.com/alanyoungcy/marketcore/internal/evm"
	"github.com/alanyoungcy/marketcore/internal/gateway"
	"github.com/alanyoungcy/marketcore/internal/indexer"
	"github.com/alanyoungcy/marketcore/internal/notify"
	"github.com/alanyoungcy/marketcore/internal/service"
	"github.com/alanyoungcy/marketcore/internal/settlement"
	"github.com/alanyoungcy/marketcore/internal/store/postgres"
)

// Dependencies bundles everything the modes run. It is built once by Wire and
// torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	Chains    domain.ChainStore
	Wallets   domain.WalletStore
	Factories domain.FactoryStore
	Markets   domain.MarketStore
	Stats     domain.StatsStore
	Audit     domain.AuditStore

	// Caches
	Prices      domain.PriceCache
	Decimals    domain.DecimalsCache
	RateLimiter domain.RateLimiter
	Locks       domain.LockManager
	SignalBus   domain.SignalBus

	// Nil unless s3.enabled.
	Archiver domain.ChainArchiver

	Notifier *notify.Notifier

	Networks   *evm.Networks
	Accounts   *account.Adapter
	Gateway    *gateway.Gateway
	Tokens     *collateral.Tokens
	Makers     *amm.Registry
	Settlement *settlement.Orchestrator
	Indexer    *indexer.Indexer
	Core       *service.Core
}

// Wire constructs every dependency from cfg. The cleanup function releases
// them in reverse order and must be called on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		return fail("postgres", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			return fail("postgres migrations", err)
		}
	}

	pool := pgClient.Pool()
	deps.Chains = postgres.NewChainStore(pool)
	deps.Wallets = postgres.NewWalletStore(pool, cfg.Security.OperatorOwnerID)
	deps.Factories = postgres.NewFactoryStore(pool)
	deps.Markets = postgres.NewMarketStore(pool)
	deps.Stats = postgres.NewStatsStore(pool)
	deps.Audit = postgres.NewAuditStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
		KeyPrefix:  cfg.Redis.KeyPrefix,
	})
	if err != nil {
		return fail("redis", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Prices = redis.NewPriceCache(redisClient, cfg.Redis.PriceTTL.Duration)
	deps.Decimals = redis.NewDecimalsCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.Locks = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- S3 archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		if err := s3Client.Health(ctx); err != nil {
			return fail("s3 health", err)
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client))
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Chains and accounts ---
	deps.Networks = evm.NewNetworks(evm.RPCDialer{
		HandshakeTimeout: cfg.Indexer.WSHandshakeTimeout.Duration,
	}, logger)
	closers = append(closers, deps.Networks.Close)

	deps.Accounts = account.NewAdapter(crypto.NewKeyManager(cfg.Security.EncryptionKey), deps.Wallets)
	deps.Gateway = gateway.New(gateway.Config{
		SafetyMarginPct:   cfg.Gas.SafetyMarginPct,
		FundingMultiplier: cfg.Gas.FundingMultiplier,
		FundingLimit:      cfg.Gas.FundingLimit,
		FundingWindow:     cfg.Gas.FundingWindow.Duration,
	}, deps.Accounts, deps.RateLimiter, deps.Audit, logger)

	deps.Tokens, err = collateral.New(deps.Gateway, deps.Decimals, 0, logger)
	if err != nil {
		return fail("collateral", err)
	}

	deps.Makers = amm.NewRegistry()
	deps.Makers.Register(domain.MarketTypeLMSR,
		amm.NewLMSR(deps.Gateway, deps.Tokens, deps.Networks, cfg.Trading.SlippagePct, logger))

	// --- Settlement, indexer, facade ---
	var whitelist common.Address
	if cfg.Trading.WhitelistAddress != "" {
		whitelist = common.HexToAddress(cfg.Trading.WhitelistAddress)
	}
	deps.Settlement = settlement.New(settlement.Config{
		LMSRFee:   cfg.Trading.LMSRFee,
		Whitelist: whitelist,
	}, settlement.Deps{
		Gateway:  deps.Gateway,
		Tokens:   deps.Tokens,
		Accounts: deps.Accounts,
		Networks: deps.Networks,
		Makers:   deps.Makers,
		Markets:  deps.Markets,
		Stats:    deps.Stats,
		Prices:   deps.Prices,
		Bus:      deps.SignalBus,
		Archiver: deps.Archiver,
		Audit:    deps.Audit,
		Notifier: deps.Notifier,
	}, logger)

	deps.Indexer, err = indexer.New(indexer.Config{
		ReconnectDelay: cfg.Indexer.ReconnectDelay.Duration,
		LockTTL:        cfg.Indexer.CatchupLockTTL.Duration,
		ArchiveLogs:    cfg.Indexer.ArchiveLogs,
		DedupCacheSize: cfg.Indexer.DedupCacheSize,
	}, deps.Networks, deps.Chains, deps.Settlement, deps.Locks, deps.Archiver, logger)
	if err != nil {
		return fail("indexer", err)
	}

	deps.Core = service.NewCore(
		deps.Markets,
		deps.Factories,
		deps.Chains,
		deps.Accounts,
		deps.Networks,
		deps.Makers,
		deps.Settlement,
		deps.Indexer,
		logger,
	)

	return deps, cleanup, nil
}
