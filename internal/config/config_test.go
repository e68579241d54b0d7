package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ExpandsEnvAndAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("BREAKWATCH_TEST_REDIS", "localhost:6390")

	path := filepath.Join(dir, "config.yaml")
	body := `
database:
  path: ` + filepath.Join(dir, "db", "test.db") + `
redis:
  address: ${BREAKWATCH_TEST_REDIS}
scheduler:
  enabled: true
  interval_seconds: 30
  timezone: UTC
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "localhost:6390", cfg.Redis.Address)
	assert.Equal(t, "breakwatch:events", cfg.Redis.Channel)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, 30*time.Second, cfg.SchedulerInterval())
	assert.Equal(t, 64, cfg.Hub.SendBuffer)

	loc, err := cfg.SchedulerLocation()
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())

	_, err = os.Stat(filepath.Join(dir, "db"))
	assert.NoError(t, err, "database directory should be created")
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, 60*time.Second, cfg.SchedulerInterval())
	assert.Equal(t, 2*time.Minute, cfg.SchedulerLockTTL())
	assert.Equal(t, 24*time.Hour, cfg.BackupInterval())

	loc, err := cfg.SchedulerLocation()
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
