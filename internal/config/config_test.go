package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  name: myapp
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "myapp", cfg.Database.Name)
	assert.Equal(t, 2*time.Second, cfg.Election.TimeoutBase)
	assert.Equal(t, 500*time.Millisecond, cfg.Election.HeartbeatInterval)
	assert.Equal(t, 5*time.Second, cfg.Write.ForwardTimeout)
	assert.Equal(t, 256, cfg.Write.ApplyQueueSize)
	assert.Equal(t, 64, cfg.Broadcast.MailboxSize)
	assert.Equal(t, 9380, cfg.Metrics.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadConfigOverrides(t *testing.T) {
	path := writeConfig(t, `
database:
  name: myapp
  data_dir: /var/lib/datasync
election:
  timeout_base: 4s
  heartbeat_interval: 1s
write:
  forward_timeout: 10s
optimistic:
  enabled: true
metrics:
  enabled: true
  coordination_enabled: true
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 4*time.Second, cfg.Election.TimeoutBase)
	assert.Equal(t, time.Second, cfg.Election.HeartbeatInterval)
	assert.Equal(t, 10*time.Second, cfg.Write.ForwardTimeout)
	assert.True(t, cfg.Optimistic.Enabled)
	assert.True(t, cfg.Metrics.CoordinationEnabled)
}

func TestLoadConfigRejectsSlowHeartbeat(t *testing.T) {
	// A heartbeat period at or above half the election timeout lets
	// followers re-elect under a healthy leader.
	path := writeConfig(t, `
election:
  timeout_base: 1s
  heartbeat_interval: 600ms
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "heartbeat_interval")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigMalformedYAML(t *testing.T) {
	path := writeConfig(t, "database: [not a map")
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
}
