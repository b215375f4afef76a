// Package config defines the top-level configuration for the market core
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/robfig/cron/v3"
)

// cronParser matches the scheduler the app runs: a leading seconds field
// plus descriptors such as "@every 5m".
var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by MARKETCORE_* environment variables.
type Config struct {
	Security SecurityConfig `toml:"security"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Gas      GasConfig      `toml:"gas"`
	Trading  TradingConfig  `toml:"trading"`
	Indexer  IndexerConfig  `toml:"indexer"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// SecurityConfig holds the server-wide wallet encryption key. An empty key is
// allowed at startup; signing paths fail with a configuration error instead.
type SecurityConfig struct {
	EncryptionKey   string `toml:"encryption_key"`
	OperatorOwnerID string `toml:"operator_owner_id"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
	// PriceTTL expires cached outcome prices of markets that stop trading.
	PriceTTL duration `toml:"price_ttl"`
}

// S3Config holds S3-compatible object storage parameters used for archiving
// receipts and indexed log windows.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// GasConfig controls gas sponsorship of custodial wallets.
type GasConfig struct {
	// SafetyMarginPct inflates every gas estimate before the balance check.
	SafetyMarginPct int `toml:"safety_margin_pct"`
	// FundingMultiplier sizes a top-up as estimate times this factor.
	FundingMultiplier int `toml:"funding_multiplier"`
	// FundingLimit caps top-ups per runner within FundingWindow. Zero disables the cap.
	FundingLimit  int      `toml:"funding_limit"`
	FundingWindow duration `toml:"funding_window"`
}

// TradingConfig holds AMM trading and deployment parameters.
type TradingConfig struct {
	SlippagePct float64 `toml:"slippage_pct"`
	// LMSRFee is the market maker fee in 1e18 fixed point.
	LMSRFee          uint64 `toml:"lmsr_fee"`
	WhitelistAddress string `toml:"whitelist_address"`
}

// IndexerConfig controls the chain indexer.
type IndexerConfig struct {
	ReconnectDelay     duration `toml:"reconnect_delay"`
	WSHandshakeTimeout duration `toml:"ws_handshake_timeout"`
	CatchupCron        string   `toml:"catchup_cron"`
	CatchupLockTTL     duration `toml:"catchup_lock_ttl"`
	ArchiveLogs        bool     `toml:"archive_logs"`
	DedupCacheSize     int      `toml:"dedup_cache_size"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Security: SecurityConfig{
			OperatorOwnerID: "operator",
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "marketcore",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "marketcore",
			PriceTTL:   duration{24 * time.Hour},
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "marketcore-archive",
			ForcePathStyle: true,
		},
		Gas: GasConfig{
			SafetyMarginPct:   20,
			FundingMultiplier: 20,
			FundingLimit:      10,
			FundingWindow:     duration{time.Hour},
		},
		Trading: TradingConfig{
			SlippagePct: 5,
		},
		Indexer: IndexerConfig{
			ReconnectDelay:     duration{10 * time.Second},
			WSHandshakeTimeout: duration{15 * time.Second},
			CatchupCron:        "@every 5m",
			CatchupLockTTL:     duration{10 * time.Minute},
			ArchiveLogs:        false,
			DedupCacheSize:     4096,
		},
		Notify: NotifyConfig{
			Events: []string{"market_resolved", "integrity_failure"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"indexer":  true,
	"checkout": true,
	"full":     true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: indexer, checkout, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Database
	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 || c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must be between 0 and pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Gas
	if c.Gas.SafetyMarginPct < 0 {
		errs = append(errs, "gas: safety_margin_pct must be >= 0")
	}
	if c.Gas.FundingMultiplier < 1 {
		errs = append(errs, "gas: funding_multiplier must be >= 1")
	}
	if c.Gas.FundingLimit < 0 {
		errs = append(errs, "gas: funding_limit must be >= 0")
	}
	if c.Gas.FundingLimit > 0 && c.Gas.FundingWindow.Duration <= 0 {
		errs = append(errs, "gas: funding_window must be positive when funding_limit is set")
	}

	// Trading
	if c.Trading.SlippagePct < 0 || c.Trading.SlippagePct >= 100 {
		errs = append(errs, fmt.Sprintf("trading: slippage_pct must be in [0,100), got %v", c.Trading.SlippagePct))
	}
	if c.Trading.WhitelistAddress != "" && !common.IsHexAddress(c.Trading.WhitelistAddress) {
		errs = append(errs, "trading: whitelist_address is not a hex address")
	}

	// Indexer
	if c.Indexer.ReconnectDelay.Duration <= 0 {
		errs = append(errs, "indexer: reconnect_delay must be positive")
	}
	if c.Indexer.CatchupLockTTL.Duration <= 0 {
		errs = append(errs, "indexer: catchup_lock_ttl must be positive")
	}
	if spec := strings.TrimSpace(c.Indexer.CatchupCron); spec == "" {
		if c.Mode == "full" {
			errs = append(errs, "indexer: catchup_cron is required for mode full")
		}
	} else if _, err := cronParser.Parse(spec); err != nil {
		errs = append(errs, fmt.Sprintf("indexer: catchup_cron %q: %v", spec, err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
