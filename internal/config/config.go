// Package config defines the top-level configuration for the qupool custody
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by QUPOOL_* environment variables.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Chain     ChainConfig     `toml:"chain"`
	Oracle    OracleConfig    `toml:"oracle"`
	Escrow    EscrowConfig    `toml:"escrow"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// AdminAPIKey guards the /api/admin/* surface.
	AdminAPIKey string `toml:"admin_api_key"`
	// RateLimit caps requests per client IP per RateWindow. Zero disables
	// API rate limiting.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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
}

// S3Config holds S3-compatible object storage parameters for audit exports.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ChainConfig holds the RPC endpoints and resilience parameters for the
// settlement chain.
type ChainConfig struct {
	// Endpoints are tried in order; the pool fails over on error.
	Endpoints   []string `toml:"endpoints"`
	CallTimeout duration `toml:"call_timeout"`
	// BreakerThreshold is the consecutive-failure count that opens the
	// circuit breaker.
	BreakerThreshold int      `toml:"breaker_threshold"`
	BreakerCooldown  duration `toml:"breaker_cooldown"`
	// MasterAddress is the custody address holding pooled funds.
	MasterAddress string `toml:"master_address"`
}

// OracleConfig holds price source endpoints and attestation key material.
type OracleConfig struct {
	BinanceURL    string   `toml:"binance_url"`
	GateURL       string   `toml:"gate_url"`
	MexcURL       string   `toml:"mexc_url"`
	SourceTimeout duration `toml:"source_timeout"`
	// SigningKey is the raw attestation HMAC key. Prefer encrypted_key_path
	// in production.
	SigningKey       string `toml:"signing_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// EscrowConfig holds custody lifecycle parameters.
type EscrowConfig struct {
	// DepositWindow is how long an escrow waits for its deposit.
	DepositWindow duration `toml:"deposit_window"`
	// PayoutFeeBps is the pool fee in basis points taken before payouts.
	PayoutFeeBps int `toml:"payout_fee_bps"`
}

// SchedulerConfig holds reconciliation cycle parameters.
type SchedulerConfig struct {
	AutoStart bool     `toml:"auto_start"`
	Interval  duration `toml:"interval"`
	// SolvencyInterval paces solvency proof generation independently of the
	// reconciliation cycle.
	SolvencyInterval duration `toml:"solvency_interval"`
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
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Postgres: PostgresConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "qupool",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "qupool-audit",
			Prefix:         "audit",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Chain: ChainConfig{
			Endpoints:        []string{"https://rpc.qubic.org"},
			CallTimeout:      duration{10 * time.Second},
			BreakerThreshold: 5,
			BreakerCooldown:  duration{30 * time.Second},
		},
		Oracle: OracleConfig{
			SourceTimeout: duration{5 * time.Second},
		},
		Escrow: EscrowConfig{
			DepositWindow: duration{2 * time.Hour},
			PayoutFeeBps:  200,
		},
		Scheduler: SchedulerConfig{
			AutoStart:        true,
			Interval:         duration{1 * time.Minute},
			SolvencyInterval: duration{1 * time.Hour},
		},
		Notify: NotifyConfig{
			Events: []string{"insolvency", "auto_refund", "oracle_outage", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true, // HTTP API only, no background cycles
	"worker": true, // background cycles only
	"full":   true,
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

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, worker, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Chain
	if len(c.Chain.Endpoints) == 0 {
		errs = append(errs, "chain: at least one rpc endpoint must be configured")
	}
	if c.Chain.BreakerThreshold < 1 {
		errs = append(errs, "chain: breaker_threshold must be >= 1")
	}
	if c.Chain.BreakerCooldown.Duration <= 0 {
		errs = append(errs, "chain: breaker_cooldown must be positive")
	}
	if c.Chain.MasterAddress == "" {
		errs = append(errs, "chain: master_address must not be empty")
	} else if len(c.Chain.MasterAddress) != 60 {
		errs = append(errs, fmt.Sprintf("chain: master_address must be 60 characters, got %d", len(c.Chain.MasterAddress)))
	}

	// Oracle: at least one key source must be specified.
	if c.Oracle.SigningKey == "" && c.Oracle.EncryptedKeyPath == "" {
		errs = append(errs, "oracle: either signing_key or encrypted_key_path must be set")
	}
	if c.Oracle.EncryptedKeyPath != "" && c.Oracle.KeyPassword == "" {
		errs = append(errs, "oracle: key_password is required when encrypted_key_path is set")
	}
	if c.Oracle.SourceTimeout.Duration <= 0 {
		errs = append(errs, "oracle: source_timeout must be positive")
	}

	// Escrow
	if c.Escrow.DepositWindow.Duration <= 0 {
		errs = append(errs, "escrow: deposit_window must be positive")
	}
	if c.Escrow.PayoutFeeBps < 0 || c.Escrow.PayoutFeeBps > 10_000 {
		errs = append(errs, fmt.Sprintf("escrow: payout_fee_bps must be 0-10000, got %d", c.Escrow.PayoutFeeBps))
	}

	// Scheduler
	if c.Scheduler.Interval.Duration <= 0 {
		errs = append(errs, "scheduler: interval must be positive")
	}
	if c.Scheduler.SolvencyInterval.Duration <= 0 {
		errs = append(errs, "scheduler: solvency_interval must be positive")
	}

	// Postgres
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
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
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
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
