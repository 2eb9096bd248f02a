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
// built-in defaults, applies QUPOOL_* environment variable overrides, and
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

// applyEnvOverrides reads well-known QUPOOL_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Server ──
	setBool(&cfg.Server.Enabled, "QUPOOL_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "QUPOOL_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "QUPOOL_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.AdminAPIKey, "QUPOOL_SERVER_ADMIN_API_KEY")
	setInt(&cfg.Server.RateLimit, "QUPOOL_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "QUPOOL_SERVER_RATE_WINDOW")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "QUPOOL_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "QUPOOL_DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "QUPOOL_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "QUPOOL_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "QUPOOL_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "QUPOOL_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "QUPOOL_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "QUPOOL_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "QUPOOL_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "QUPOOL_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "QUPOOL_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "QUPOOL_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "QUPOOL_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "QUPOOL_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "QUPOOL_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "QUPOOL_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "QUPOOL_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "QUPOOL_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "QUPOOL_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "QUPOOL_S3_REGION")
	setStr(&cfg.S3.Bucket, "QUPOOL_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "QUPOOL_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "QUPOOL_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "QUPOOL_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "QUPOOL_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "QUPOOL_S3_FORCE_PATH_STYLE")

	// ── Chain ──
	setStringSlice(&cfg.Chain.Endpoints, "QUPOOL_CHAIN_ENDPOINTS")
	setDuration(&cfg.Chain.CallTimeout, "QUPOOL_CHAIN_CALL_TIMEOUT")
	setInt(&cfg.Chain.BreakerThreshold, "QUPOOL_CHAIN_BREAKER_THRESHOLD")
	setDuration(&cfg.Chain.BreakerCooldown, "QUPOOL_CHAIN_BREAKER_COOLDOWN")
	setStr(&cfg.Chain.MasterAddress, "QUPOOL_CHAIN_MASTER_ADDRESS")

	// ── Oracle ──
	setStr(&cfg.Oracle.BinanceURL, "QUPOOL_ORACLE_BINANCE_URL")
	setStr(&cfg.Oracle.GateURL, "QUPOOL_ORACLE_GATE_URL")
	setStr(&cfg.Oracle.MexcURL, "QUPOOL_ORACLE_MEXC_URL")
	setDuration(&cfg.Oracle.SourceTimeout, "QUPOOL_ORACLE_SOURCE_TIMEOUT")
	setStr(&cfg.Oracle.SigningKey, "QUPOOL_ORACLE_SIGNING_KEY")
	setStr(&cfg.Oracle.EncryptedKeyPath, "QUPOOL_ORACLE_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Oracle.KeyPassword, "QUPOOL_ORACLE_KEY_PASSWORD")

	// ── Escrow ──
	setDuration(&cfg.Escrow.DepositWindow, "QUPOOL_ESCROW_DEPOSIT_WINDOW")
	setInt(&cfg.Escrow.PayoutFeeBps, "QUPOOL_ESCROW_PAYOUT_FEE_BPS")

	// ── Scheduler ──
	setBool(&cfg.Scheduler.AutoStart, "QUPOOL_SCHEDULER_AUTO_START")
	setDuration(&cfg.Scheduler.Interval, "QUPOOL_SCHEDULER_INTERVAL")
	setDuration(&cfg.Scheduler.SolvencyInterval, "QUPOOL_SCHEDULER_SOLVENCY_INTERVAL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "QUPOOL_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "QUPOOL_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "QUPOOL_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "QUPOOL_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "QUPOOL_MODE")
	setStr(&cfg.LogLevel, "QUPOOL_LOG_LEVEL")
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
