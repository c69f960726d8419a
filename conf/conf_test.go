package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("AGENTPAY_CONFIG", path)
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("AGENTPAY_CONFIG", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8090, cfg.APIServer.Port)
	assert.Equal(t, 2*time.Minute, cfg.APIServer.ExecuteTimeout)
	assert.Equal(t, "sqlite", cfg.DB.Dialect)
	assert.Equal(t, "memory", cfg.Lock.Mode)
	assert.Equal(t, "UTC", cfg.Ledger.Timezone)
	assert.Equal(t, 30, cfg.Grant.MaxExpiryDays)
	assert.Equal(t, "*/1 * * * *", cfg.Reconcile.CRON)
	assert.Equal(t, "memory", cfg.Chain.TokenCache.Mode)
	assert.Equal(t, []string{"GET", "POST", "PUT", "OPTIONS"}, cfg.APIServer.CORS.AllowedMethods)
}

func TestLoad_FileAndEnv(t *testing.T) {
	writeConfig(t, `
server:
  port: 9000
  execute_timeout: 45s
db:
  dialect: postgres
  dsn: postgres://localhost/agentpay
chain:
  rpc_url: http://127.0.0.1:8545
  chain_id: 1337
ledger:
  timezone: Asia/Tokyo
reconcile:
  stale_after: 1h
`)
	t.Setenv("AGENTPAY_AUTH_JWT_SECRET", "from-env")
	t.Setenv("AGENTPAY_SERVER_PORT", "9100")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.APIServer.Port)
	assert.Equal(t, 45*time.Second, cfg.APIServer.ExecuteTimeout)
	assert.Equal(t, "postgres", cfg.DB.Dialect)
	assert.Equal(t, int64(1337), cfg.Chain.ChainID)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, "Asia/Tokyo", cfg.Ledger.Timezone)
	assert.Equal(t, time.Hour, cfg.Reconcile.StaleAfter)

	require.NoError(t, cfg.Validate())
}

func TestLoad_BrokenFile(t *testing.T) {
	writeConfig(t, "server: [not, a, map")

	_, err := Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("AGENTPAY_CONFIG", "")

	cfg, err := Load()
	require.NoError(t, err)

	cfg.APIServer.Port = 0
	cfg.Lock.Mode = "etcd"
	cfg.Ledger.Timezone = "Mars/Olympus"

	err = cfg.Validate()
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "server.port")
	assert.Contains(t, msg, "auth.jwt_secret")
	assert.Contains(t, msg, "chain.rpc_url")
	assert.Contains(t, msg, "lock.mode")
	assert.Contains(t, msg, "ledger.timezone")
}
