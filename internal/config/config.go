// Package config defines the top-level configuration for the DCA engine
// daemon and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by DCAD_* environment variables.
type Config struct {
	Engine     EngineConfig   `toml:"engine"`
	Fees       FeesConfig     `toml:"fees"`
	Strategy   StrategyConfig `toml:"strategy"`
	Ledger     LedgerConfig   `toml:"ledger"`
	Keeper     KeeperConfig   `toml:"keeper"`
	Exchange   ExchangeConfig `toml:"exchange"`
	Products   ProductsConfig `toml:"products"`
	Permit     PermitConfig   `toml:"permit"`
	Wallet     WalletConfig   `toml:"wallet"`
	Postgres   PostgresConfig `toml:"postgres"`
	Redis      RedisConfig    `toml:"redis"`
	S3         S3Config       `toml:"s3"`
	Archive    ArchiveConfig  `toml:"archive"`
	Snapshot   SnapshotConfig `toml:"snapshot"`
	Notify     NotifyConfig   `toml:"notify"`
	Server     ServerConfig   `toml:"server"`
	Mode       string         `toml:"mode"`
	LogLevel   string         `toml:"log_level"`
	JobTimeout duration       `toml:"job_timeout"`
}

// EngineConfig holds pool accrual engine parameters. Addresses are 0x hex.
type EngineConfig struct {
	MinInterval  duration `toml:"min_interval"`
	SwapFeeBP    uint32   `toml:"swap_fee_bp"`
	Custody      string   `toml:"custody"`
	FeeRecipient string   `toml:"fee_recipient"`
	Admin        string   `toml:"admin"`
	// Swappers are allowed to execute swaps besides the keeper's own key.
	Swappers []string `toml:"swappers"`
}

// FeesConfig is the initial fee schedule. Product keys are "dca", "vault",
// "liquidity" and "buy".
type FeesConfig struct {
	Base            map[string]uint32 `toml:"base"`
	NonSubscriber   map[string]uint32 `toml:"non_subscriber"`
	StrategistBP    uint32            `toml:"strategist_bp"`
	HotStrategistBP uint32            `toml:"hot_strategist_bp"`
	ReferrerBP      uint32            `toml:"referrer_bp"`
	MaxFeeBP        uint32            `toml:"max_fee_bp"`
}

// StrategyConfig holds strategy allocator parameters.
type StrategyConfig struct {
	Admin         string `toml:"admin"`
	Treasury      string `toml:"treasury"`
	Custody       string `toml:"custody"`
	MaxHot        int    `toml:"max_hot"`
	MaxPerProduct int    `toml:"max_per_product"`
	MaxTotal      int    `toml:"max_total"`
}

// LedgerConfig holds the reward ledger's custody account.
type LedgerConfig struct {
	Custody string `toml:"custody"`
}

// KeeperConfig holds swap keeper parameters.
type KeeperConfig struct {
	Tick        duration `toml:"tick"`
	SlippageBP  uint32   `toml:"slippage_bp"`
	Concurrency int      `toml:"concurrency"`
	LockTTL     duration `toml:"lock_ttl"`
	Cooldown    duration `toml:"cooldown"`
}

// RateConfig is one fixed exchange hop: Rate output units per input unit.
type RateConfig struct {
	From string `toml:"from"`
	To   string `toml:"to"`
	Rate string `toml:"rate"`
}

// ReserveConfig seeds a token balance on first start. Amount is a base-10
// integer in the token's smallest unit. Holder defaults to the venue.
type ReserveConfig struct {
	Token  string `toml:"token"`
	Holder string `toml:"holder"`
	Amount string `toml:"amount"`
}

// ExchangeConfig configures the fixed-rate exchange venue.
type ExchangeConfig struct {
	Venue    string          `toml:"venue"`
	Rates    []RateConfig    `toml:"rates"`
	Reserves []ReserveConfig `toml:"reserves"`
}

// TargetConfig maps a product target to the token it accepts.
type TargetConfig struct {
	Target string `toml:"target"`
	Asset  string `toml:"asset"`
}

// ProductsConfig lists the non-DCA product targets strategies may use and
// the account each adapter holds receipts in.
type ProductsConfig struct {
	VaultCustody string         `toml:"vault_custody"`
	Vaults       []TargetConfig `toml:"vaults"`
	RangeCustody string         `toml:"range_custody"`
	Ranges       []TargetConfig `toml:"ranges"`
	BuyCustody   string         `toml:"buy_custody"`
	Buys         []string       `toml:"buys"`
}

// PermitConfig holds the subscription permit authority.
type PermitConfig struct {
	Authority string `toml:"authority"`
	ChainID   int64  `toml:"chain_id"`
	// AuthorityKey is only needed to issue permits from the command line.
	AuthorityKey string `toml:"authority_key"`
}

// WalletConfig holds the keeper's swapper key.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters.
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

// ArchiveConfig schedules moving old journal events to S3.
type ArchiveConfig struct {
	Cron          string `toml:"cron"`
	RetentionDays int    `toml:"retention_days"`
}

// SnapshotConfig schedules state snapshots.
type SnapshotConfig struct {
	Cron string `toml:"cron"`
	Keep int    `toml:"keep"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken  string   `toml:"telegram_token"`
	TelegramChatID string   `toml:"telegram_chat_id"`
	WebhookURL     string   `toml:"webhook_url"`
	Events         []string `toml:"events"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
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
		Engine: EngineConfig{
			MinInterval: duration{time.Hour},
		},
		Fees: FeesConfig{
			Base:            map[string]uint32{"dca": 30, "vault": 30, "liquidity": 30, "buy": 30},
			NonSubscriber:   map[string]uint32{"dca": 60, "vault": 60, "liquidity": 60, "buy": 60},
			StrategistBP:    2_000,
			HotStrategistBP: 3_000,
			ReferrerBP:      1_000,
			MaxFeeBP:        2_500,
		},
		Strategy: StrategyConfig{
			MaxHot:        10,
			MaxPerProduct: 20,
			MaxTotal:      20,
		},
		Keeper: KeeperConfig{
			Tick:        duration{time.Minute},
			SlippageBP:  50,
			Concurrency: 4,
			LockTTL:     duration{2 * time.Minute},
			Cooldown:    duration{10 * time.Minute},
		},
		Permit: PermitConfig{
			ChainID: 1,
		},
		Postgres: PostgresConfig{
			Enabled:       true,
			Host:          "localhost",
			Port:          5432,
			Database:      "dcad",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "dcad:",
		},
		S3: S3Config{
			Enabled:        true,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "dcad-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Cron:          "0 3 1 * *",
			RetentionDays: 90,
		},
		Snapshot: SnapshotConfig{
			Cron: "*/5 * * * *",
			Keep: 24,
		},
		Notify: NotifyConfig{
			Events: []string{"pool_paused", "fees_updated", "strategy_hot", "archived"},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   600,
			RateWindow:  duration{time.Minute},
		},
		Mode:       "full",
		LogLevel:   "info",
		JobTimeout: duration{5 * time.Minute},
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"keeper":  true,
	"archive": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validProducts are the keys accepted in the fee maps.
var validProducts = map[string]bool{
	"dca":       true,
	"vault":     true,
	"liquidity": true,
	"buy":       true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	addr := func(field, v string, required bool) {
		if v == "" {
			if required {
				errs = append(errs, field+" must be set")
			}
			return
		}
		if !common.IsHexAddress(v) {
			errs = append(errs, fmt.Sprintf("%s: %q is not a hex address", field, v))
		}
	}

	// Mode
	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: keeper, archive, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Engine
	if c.Engine.MinInterval.Duration <= 0 {
		errs = append(errs, "engine: min_interval must be > 0")
	}
	if c.Engine.SwapFeeBP > 10_000 {
		errs = append(errs, fmt.Sprintf("engine: swap_fee_bp must be <= 10000, got %d", c.Engine.SwapFeeBP))
	}
	addr("engine: custody", c.Engine.Custody, true)
	addr("engine: fee_recipient", c.Engine.FeeRecipient, c.Engine.SwapFeeBP > 0)
	addr("engine: admin", c.Engine.Admin, true)
	for i, s := range c.Engine.Swappers {
		addr(fmt.Sprintf("engine: swappers[%d]", i), s, true)
	}

	// Fees
	for name, rates := range map[string]map[string]uint32{"base": c.Fees.Base, "non_subscriber": c.Fees.NonSubscriber} {
		for p, bp := range rates {
			if !validProducts[p] {
				errs = append(errs, fmt.Sprintf("fees: %s has unknown product %q", name, p))
			}
			if bp > c.Fees.MaxFeeBP {
				errs = append(errs, fmt.Sprintf("fees: %s.%s = %d exceeds max_fee_bp %d", name, p, bp, c.Fees.MaxFeeBP))
			}
		}
	}
	for name, bp := range map[string]uint32{
		"strategist_bp":     c.Fees.StrategistBP,
		"hot_strategist_bp": c.Fees.HotStrategistBP,
		"referrer_bp":       c.Fees.ReferrerBP,
	} {
		if bp > 10_000 {
			errs = append(errs, fmt.Sprintf("fees: %s must be <= 10000, got %d", name, bp))
		}
	}

	// Strategy and ledger
	addr("strategy: admin", c.Strategy.Admin, true)
	addr("strategy: treasury", c.Strategy.Treasury, true)
	addr("strategy: custody", c.Strategy.Custody, true)
	addr("ledger: custody", c.Ledger.Custody, true)
	if c.Strategy.MaxHot < 0 || c.Strategy.MaxPerProduct < 0 || c.Strategy.MaxTotal < 0 {
		errs = append(errs, "strategy: limits must not be negative")
	}

	// Keeper
	if mode == "keeper" || mode == "full" {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
		if c.Keeper.Tick.Duration <= 0 {
			errs = append(errs, "keeper: tick must be > 0")
		}
		if c.Keeper.SlippageBP > 10_000 {
			errs = append(errs, fmt.Sprintf("keeper: slippage_bp must be <= 10000, got %d", c.Keeper.SlippageBP))
		}
	}

	// Exchange
	addr("exchange: venue", c.Exchange.Venue, true)
	for i, r := range c.Exchange.Rates {
		addr(fmt.Sprintf("exchange: rates[%d].from", i), r.From, true)
		addr(fmt.Sprintf("exchange: rates[%d].to", i), r.To, true)
		if d, err := decimal.NewFromString(r.Rate); err != nil || !d.IsPositive() {
			errs = append(errs, fmt.Sprintf("exchange: rates[%d].rate %q must be a positive decimal", i, r.Rate))
		}
	}
	for i, r := range c.Exchange.Reserves {
		addr(fmt.Sprintf("exchange: reserves[%d].token", i), r.Token, true)
		addr(fmt.Sprintf("exchange: reserves[%d].holder", i), r.Holder, false)
		if d, err := decimal.NewFromString(r.Amount); err != nil || !d.IsInteger() || d.IsNegative() {
			errs = append(errs, fmt.Sprintf("exchange: reserves[%d].amount %q must be a non-negative integer", i, r.Amount))
		}
	}

	// Products
	addr("products: vault_custody", c.Products.VaultCustody, len(c.Products.Vaults) > 0)
	addr("products: range_custody", c.Products.RangeCustody, len(c.Products.Ranges) > 0)
	addr("products: buy_custody", c.Products.BuyCustody, len(c.Products.Buys) > 0)
	for kind, targets := range map[string][]TargetConfig{"vaults": c.Products.Vaults, "ranges": c.Products.Ranges} {
		for i, t := range targets {
			addr(fmt.Sprintf("products: %s[%d].target", kind, i), t.Target, true)
			addr(fmt.Sprintf("products: %s[%d].asset", kind, i), t.Asset, true)
		}
	}
	for i, t := range c.Products.Buys {
		addr(fmt.Sprintf("products: buys[%d]", i), t, true)
	}

	// Permit
	addr("permit: authority", c.Permit.Authority, true)
	if c.Permit.ChainID <= 0 {
		errs = append(errs, "permit: chain_id must be positive")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3 and archive
	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}
	if mode == "archive" && (!c.S3.Enabled || !c.Postgres.Enabled) {
		errs = append(errs, "archive: mode archive needs both s3 and postgres enabled")
	}
	if c.Archive.RetentionDays < 1 {
		errs = append(errs, "archive: retention_days must be >= 1")
	}

	// Schedules
	for name, spec := range map[string]string{"archive": c.Archive.Cron, "snapshot": c.Snapshot.Cron} {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			errs = append(errs, fmt.Sprintf("%s: cron %q: %v", name, spec, err))
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
