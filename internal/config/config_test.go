package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig returns defaults patched just enough to pass validation.
func validConfig() Config {
	cfg := Defaults()
	cfg.Chain.MasterAddress = strings.Repeat("M", 60)
	cfg.Oracle.SigningKey = "deadbeef"
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, "full", cfg.Mode)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 120, cfg.Server.RateLimit)
	assert.Equal(t, time.Minute, cfg.Server.RateWindow.Duration)
	assert.Equal(t, 5, cfg.Chain.BreakerThreshold)
	assert.Equal(t, 2*time.Hour, cfg.Escrow.DepositWindow.Duration)
	assert.Equal(t, 200, cfg.Escrow.PayoutFeeBps)
	assert.Equal(t, time.Hour, cfg.Scheduler.SolvencyInterval.Duration)
}

func TestValidate_OK(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "sidecar"
	cfg.Chain.Endpoints = nil
	cfg.Escrow.PayoutFeeBps = 20000

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "rpc endpoint")
	assert.Contains(t, err.Error(), "payout_fee_bps")
}

func TestValidate_MasterAddress(t *testing.T) {
	cfg := validConfig()
	cfg.Chain.MasterAddress = ""
	assert.ErrorContains(t, cfg.Validate(), "master_address must not be empty")

	cfg.Chain.MasterAddress = "SHORT"
	assert.ErrorContains(t, cfg.Validate(), "must be 60 characters")
}

func TestValidate_OracleKeySource(t *testing.T) {
	cfg := validConfig()
	cfg.Oracle.SigningKey = ""
	assert.ErrorContains(t, cfg.Validate(), "signing_key or encrypted_key_path")

	cfg.Oracle.EncryptedKeyPath = "/etc/qupool/oracle.key"
	assert.ErrorContains(t, cfg.Validate(), "key_password is required")

	cfg.Oracle.KeyPassword = "hunter2"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_PoolBounds(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.PoolMinConns = 50
	assert.ErrorContains(t, cfg.Validate(), "pool_min_conns must not exceed")
}

func TestLoad_TOMLAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
mode = "worker"

[server]
port = 9100

[chain]
endpoints = ["https://rpc-a.example.org", "https://rpc-b.example.org"]
call_timeout = "15s"
master_address = "` + strings.Repeat("M", 60) + `"

[scheduler]
interval = "45s"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "worker", cfg.Mode)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, []string{"https://rpc-a.example.org", "https://rpc-b.example.org"}, cfg.Chain.Endpoints)
	assert.Equal(t, 15*time.Second, cfg.Chain.CallTimeout.Duration)
	assert.Equal(t, 45*time.Second, cfg.Scheduler.Interval.Duration)

	// Untouched sections keep their defaults.
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 200, cfg.Escrow.PayoutFeeBps)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("mode = \"full\"\n"), 0o600))

	t.Setenv("QUPOOL_MODE", "server")
	t.Setenv("QUPOOL_SERVER_PORT", "9200")
	t.Setenv("QUPOOL_CHAIN_ENDPOINTS", "https://one.example.org, https://two.example.org")
	t.Setenv("QUPOOL_ORACLE_SIGNING_KEY", "cafebabe")
	t.Setenv("QUPOOL_ESCROW_DEPOSIT_WINDOW", "90m")
	t.Setenv("QUPOOL_SCHEDULER_AUTO_START", "false")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "server", cfg.Mode)
	assert.Equal(t, 9200, cfg.Server.Port)
	assert.Equal(t, []string{"https://one.example.org", "https://two.example.org"}, cfg.Chain.Endpoints)
	assert.Equal(t, "cafebabe", cfg.Oracle.SigningKey)
	assert.Equal(t, 90*time.Minute, cfg.Escrow.DepositWindow.Duration)
	assert.False(t, cfg.Scheduler.AutoStart)
}

func TestLoad_DatabaseURLAlias(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(""), 0o600))

	t.Setenv("QUPOOL_DATABASE_URL", "postgres://app@db.internal/qupool")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://app@db.internal/qupool", cfg.Postgres.DSN)
}

func TestDurationRoundTrip(t *testing.T) {
	d := duration{90 * time.Second}
	text, err := d.MarshalText()
	require.NoError(t, err)

	var back duration
	require.NoError(t, back.UnmarshalText(text))
	assert.Equal(t, d.Duration, back.Duration)

	assert.Error(t, back.UnmarshalText([]byte("not-a-duration")))
}
