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
// built-in defaults, applies DCAD_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known DCAD_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setDuration(&cfg.Engine.MinInterval, "DCAD_ENGINE_MIN_INTERVAL")
	setUint32(&cfg.Engine.SwapFeeBP, "DCAD_ENGINE_SWAP_FEE_BP")
	setStr(&cfg.Engine.Custody, "DCAD_ENGINE_CUSTODY")
	setStr(&cfg.Engine.FeeRecipient, "DCAD_ENGINE_FEE_RECIPIENT")
	setStr(&cfg.Engine.Admin, "DCAD_ENGINE_ADMIN")
	setStringSlice(&cfg.Engine.Swappers, "DCAD_ENGINE_SWAPPERS")

	// ── Fees ──
	setUint32(&cfg.Fees.StrategistBP, "DCAD_FEES_STRATEGIST_BP")
	setUint32(&cfg.Fees.HotStrategistBP, "DCAD_FEES_HOT_STRATEGIST_BP")
	setUint32(&cfg.Fees.ReferrerBP, "DCAD_FEES_REFERRER_BP")
	setUint32(&cfg.Fees.MaxFeeBP, "DCAD_FEES_MAX_FEE_BP")

	// ── Strategy / ledger ──
	setStr(&cfg.Strategy.Admin, "DCAD_STRATEGY_ADMIN")
	setStr(&cfg.Strategy.Treasury, "DCAD_STRATEGY_TREASURY")
	setStr(&cfg.Strategy.Custody, "DCAD_STRATEGY_CUSTODY")
	setInt(&cfg.Strategy.MaxHot, "DCAD_STRATEGY_MAX_HOT")
	setInt(&cfg.Strategy.MaxPerProduct, "DCAD_STRATEGY_MAX_PER_PRODUCT")
	setInt(&cfg.Strategy.MaxTotal, "DCAD_STRATEGY_MAX_TOTAL")
	setStr(&cfg.Ledger.Custody, "DCAD_LEDGER_CUSTODY")

	// ── Keeper ──
	setDuration(&cfg.Keeper.Tick, "DCAD_KEEPER_TICK")
	setUint32(&cfg.Keeper.SlippageBP, "DCAD_KEEPER_SLIPPAGE_BP")
	setInt(&cfg.Keeper.Concurrency, "DCAD_KEEPER_CONCURRENCY")
	setDuration(&cfg.Keeper.LockTTL, "DCAD_KEEPER_LOCK_TTL")
	setDuration(&cfg.Keeper.Cooldown, "DCAD_KEEPER_COOLDOWN")

	// ── Exchange ──
	setStr(&cfg.Exchange.Venue, "DCAD_EXCHANGE_VENUE")

	// ── Permit ──
	setStr(&cfg.Permit.Authority, "DCAD_PERMIT_AUTHORITY")
	setInt64(&cfg.Permit.ChainID, "DCAD_PERMIT_CHAIN_ID")
	setStr(&cfg.Permit.AuthorityKey, "DCAD_PERMIT_AUTHORITY_KEY")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "DCAD_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "DCAD_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "DCAD_WALLET_KEY_PASSWORD")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "DCAD_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "DCAD_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "DCAD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "DCAD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "DCAD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "DCAD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "DCAD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "DCAD_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "DCAD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "DCAD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "DCAD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "DCAD_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "DCAD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DCAD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DCAD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "DCAD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "DCAD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "DCAD_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "DCAD_REDIS_KEY_PREFIX")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "DCAD_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "DCAD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "DCAD_S3_REGION")
	setStr(&cfg.S3.Bucket, "DCAD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "DCAD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "DCAD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "DCAD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "DCAD_S3_FORCE_PATH_STYLE")

	// ── Schedules ──
	setStr(&cfg.Archive.Cron, "DCAD_ARCHIVE_CRON")
	setInt(&cfg.Archive.RetentionDays, "DCAD_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Snapshot.Cron, "DCAD_SNAPSHOT_CRON")
	setInt(&cfg.Snapshot.Keep, "DCAD_SNAPSHOT_KEEP")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "DCAD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "DCAD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.WebhookURL, "DCAD_NOTIFY_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "DCAD_NOTIFY_EVENTS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "DCAD_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "DCAD_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "DCAD_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "DCAD_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "DCAD_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "DCAD_SERVER_RATE_WINDOW")

	// ── Top-level ──
	setStr(&cfg.Mode, "DCAD_MODE")
	setStr(&cfg.LogLevel, "DCAD_LOG_LEVEL")
	setDuration(&cfg.JobTimeout, "DCAD_JOB_TIMEOUT")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint32(dst *uint32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			*dst = uint32(n)
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
