package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collabConfig.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
running:
  port: 9000
redis:
  addrs: ["10.0.0.1:7000", "10.0.0.2:7000"]
cache:
  documentTTL: 10m
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Running.Port)
	assert.Equal(t, []string{"10.0.0.1:7000", "10.0.0.2:7000"}, cfg.Redis.Addrs)
	assert.Equal(t, 10*time.Minute, cfg.Cache.DocumentTTL)
	// 未配置的项取默认值
	assert.Equal(t, 2*time.Minute, cfg.Cache.SessionTTL)
	assert.Equal(t, 100, cfg.Collab.HistoryLimit)
	assert.Equal(t, "doc-events", cfg.Kafka.Topic)
}

func TestLoad_EnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collabConfig.yaml")
	require.NoError(t, os.WriteFile(path, []byte("running:\n  port: 9000\n"), 0o644))
	t.Setenv("COLLAB_RUNNING_PORT", "9100")
	t.Setenv("COLLAB_AUTH_JWTSECRET", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Running.Port)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_ShippedConfig(t *testing.T) {
	cfg, err := Load("collabConfig.yaml")
	require.NoError(t, err)
	assert.Equal(t, 8082, cfg.Running.Port)
	assert.Equal(t, 5*time.Second, cfg.Collab.QueueWaitTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Collab.IdleTimeout)
	assert.Equal(t, time.Minute, cfg.Collab.SweepInterval)
	assert.Equal(t, 300*time.Millisecond, cfg.Cache.ReadTimeout)
}
