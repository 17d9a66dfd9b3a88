package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ohmvision/camconnect/internal/config"
)

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
db:
  host: db.internal
  user: camconnect
  name: camconnect
monitor:
  interval: 15s
  workers: 4
detect:
  rank_window: 0.25
`), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "db.internal", cfg.DB.Host)
	assert.Equal(t, 15*time.Second, cfg.Monitor.Interval)
	assert.Equal(t, 4, cfg.Monitor.Workers)
	assert.Equal(t, 0.25, cfg.Detect.RankWindow)
}

func TestEnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("db:\n  host: from-yaml\n"), 0o644))

	t.Setenv("DB_HOST", "from-env")
	t.Setenv("JWT_SIGNING_KEY", "env-secret")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.DB.Host)
	assert.Equal(t, "env-secret", cfg.Auth.SigningKey)
}

func TestDefaultsWithoutFile(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 60*time.Second, cfg.Monitor.Interval)
	assert.Equal(t, "camconnect.events", cfg.NATS.Subject)
	assert.Empty(t, cfg.DSN())
}

func TestDSN(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.DB.Host = "localhost"
	cfg.DB.User = "u"
	cfg.DB.Password = "p"
	cfg.DB.Name = "cam"
	assert.Equal(t, "postgres://u:p@localhost:5432/cam?sslmode=disable", cfg.DSN())
}

func TestInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o644))
	_, err := config.Load(path)
	assert.Error(t, err)
}
