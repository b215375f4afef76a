package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies MARKETCORE_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load. An empty path skips the
// file and uses defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known MARKETCORE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Security ──
	setStr(&cfg.Security.EncryptionKey, "MARKETCORE_SECURITY_ENCRYPTION_KEY")
	setStr(&cfg.Security.OperatorOwnerID, "MARKETCORE_SECURITY_OPERATOR_OWNER_ID")

	// ── Database ──
	setStr(&cfg.Database.DSN, "MARKETCORE_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Database.Host, "MARKETCORE_DATABASE_HOST")
	setInt(&cfg.Database.Port, "MARKETCORE_DATABASE_PORT")
	setStr(&cfg.Database.Database, "MARKETCORE_DATABASE_DATABASE")
	setStr(&cfg.Database.User, "MARKETCORE_DATABASE_USER")
	setStr(&cfg.Database.Password, "MARKETCORE_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "MARKETCORE_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "MARKETCORE_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "MARKETCORE_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "MARKETCORE_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "MARKETCORE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MARKETCORE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MARKETCORE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MARKETCORE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "MARKETCORE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "MARKETCORE_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "MARKETCORE_REDIS_KEY_PREFIX")
	setDuration(&cfg.Redis.PriceTTL, "MARKETCORE_REDIS_PRICE_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "MARKETCORE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "MARKETCORE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MARKETCORE_S3_REGION")
	setStr(&cfg.S3.Bucket, "MARKETCORE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "MARKETCORE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MARKETCORE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "MARKETCORE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "MARKETCORE_S3_FORCE_PATH_STYLE")

	// ── Gas ──
	setInt(&cfg.Gas.SafetyMarginPct, "MARKETCORE_GAS_SAFETY_MARGIN_PCT")
	setInt(&cfg.Gas.FundingMultiplier, "MARKETCORE_GAS_FUNDING_MULTIPLIER")
	setInt(&cfg.Gas.FundingLimit, "MARKETCORE_GAS_FUNDING_LIMIT")
	setDuration(&cfg.Gas.FundingWindow, "MARKETCORE_GAS_FUNDING_WINDOW")

	// ── Trading ──
	setFloat64(&cfg.Trading.SlippagePct, "MARKETCORE_TRADING_SLIPPAGE_PCT")
	setUint64(&cfg.Trading.LMSRFee, "MARKETCORE_TRADING_LMSR_FEE")
	setStr(&cfg.Trading.WhitelistAddress, "MARKETCORE_TRADING_WHITELIST_ADDRESS")

	// ── Indexer ──
	setDuration(&cfg.Indexer.ReconnectDelay, "MARKETCORE_INDEXER_RECONNECT_DELAY")
	setDuration(&cfg.Indexer.WSHandshakeTimeout, "MARKETCORE_INDEXER_WS_HANDSHAKE_TIMEOUT")
	setStr(&cfg.Indexer.CatchupCron, "MARKETCORE_INDEXER_CATCHUP_CRON")
	setDuration(&cfg.Indexer.CatchupLockTTL, "MARKETCORE_INDEXER_CATCHUP_LOCK_TTL")
	setBool(&cfg.Indexer.ArchiveLogs, "MARKETCORE_INDEXER_ARCHIVE_LOGS")
	setInt(&cfg.Indexer.DedupCacheSize, "MARKETCORE_INDEXER_DEDUP_CACHE_SIZE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "MARKETCORE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "MARKETCORE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "MARKETCORE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "MARKETCORE_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "MARKETCORE_MODE")
	setStr(&cfg.LogLevel, "MARKETCORE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
