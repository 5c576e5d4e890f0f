package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "baba.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store: memory
http:
  addr: ":9000"
auth:
  jwt_secret: from-file
dispatch:
  lanes: 8
  auto_match_window: 15s
  pending_ttl: 10m
log:
  format: console
`), 0o600))

	t.Setenv("BABA_AUTH__JWT_SECRET", "from-env")
	t.Setenv("BABA_DISPATCH__LANES", "32")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, ":9000", cfg.HTTP.Addr)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, 32, cfg.Dispatch.Lanes)
	assert.Equal(t, 15*time.Second, cfg.Dispatch.AutoMatchWindow)
	assert.Equal(t, 10*time.Minute, cfg.Dispatch.PendingTTL)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 5*time.Second, cfg.Dispatch.FleetStatsInterval)
	assert.Equal(t, int64(85), cfg.Dispatch.BaseFare)
}

func TestDefaults(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()
	assert.Equal(t, "postgres", cfg.Store)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 16, cfg.Dispatch.Lanes)
	assert.Zero(t, cfg.Dispatch.AutoMatchWindow)
	assert.Zero(t, cfg.Dispatch.PendingTTL)
	assert.Equal(t, 24*time.Hour, cfg.Redis.TTL)
}

func TestValidate(t *testing.T) {
	cfg := Config{Store: "postgres", MQTT: MQTTConfig{QoS: 3}}
	cfg.SetDefaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db.dsn")
	assert.Contains(t, err.Error(), "jwt_secret")
	assert.Contains(t, err.Error(), "mqtt.qos")

	cfg = Config{Store: "memory", Auth: AuthConfig{JWTSecret: "x"}}
	cfg.SetDefaults()
	assert.NoError(t, cfg.Validate())
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "db.dsn", envKey("BABA_DB__DSN"))
	assert.Equal(t, "dispatch.auto_match_window", envKey("BABA_DISPATCH__AUTO_MATCH_WINDOW"))
}
