package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server: {}\n"))
	require.NoError(t, err)

	assert.Equal(t, ":8090", cfg.Server.Addr)
	assert.Equal(t, "./data/listen_engine.db", cfg.Storage.SQLitePath)
	assert.Equal(t, "https://vk.com", cfg.Platform.Endpoints.BaseURL)
	assert.Equal(t, "https://m.vk.com", cfg.Platform.Endpoints.MobileBaseURL)

	assert.Equal(t, float64(8), cfg.Limits.GlobalQPS)
	assert.Equal(t, 10, cfg.Limits.GlobalBurst)
	assert.Equal(t, 4, cfg.Limits.AuthChunkSize)

	assert.Equal(t, 4, cfg.Listener.TaskChunkSize)
	assert.Equal(t, 30, cfg.Listener.AccountChunkSize)
	assert.Equal(t, 35, cfg.Listener.MinListenSec)
	assert.Equal(t, 3, cfg.Listener.ProxyFailureCap)
	assert.Equal(t, 15*time.Second, cfg.Listener.Tick())
	assert.Equal(t, 30*time.Second, cfg.Listener.CooldownMin())
	assert.Equal(t, 90*time.Second, cfg.Listener.CooldownMax())
	assert.Equal(t, 2*time.Minute, cfg.Listener.ValidationGap())

	assert.Equal(t, 15*time.Second, cfg.Platform.Timeout())
	assert.Equal(t, 90*time.Second, cfg.Captcha.SolveTimeout())
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
server:
  addr: ":9000"
listener:
  tickMs: 5000
  minListenSec: 40
limits:
  globalQPS: 2
`))
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Listener.Tick())
	assert.Equal(t, 40, cfg.Listener.MinListenSec)
	assert.Equal(t, float64(2), cfg.Limits.GlobalQPS)
}

func TestLoadRejectsInvertedCooldown(t *testing.T) {
	_, err := Load(writeConfig(t, `
listener:
  cooldownMinMs: 90000
  cooldownMaxMs: 30000
`))
	assert.Error(t, err)
}

func TestLoadRejectsIncompleteEmail(t *testing.T) {
	_, err := Load(writeConfig(t, `
email:
  enabled: true
  host: smtp.example.com
`))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
