package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileThenEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
restaurant_id: 3
server:
  port: 8181
auth:
  secret: from-file
store:
  timeout: 2s
kitchen:
  confirm_window: 7s
ordering:
  auto_fire_lowest_course: false
`), 0o600))

	t.Setenv("MAITRED_SERVER_PORT", "8282")
	t.Setenv("MAITRED_STORE_READ_RETRIES", "4")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, uint(3), cfg.RestaurantID)
	assert.Equal(t, 8282, cfg.Server.Port)
	assert.Equal(t, "from-file", cfg.Auth.Secret)
	assert.Equal(t, 2*time.Second, cfg.Store.Timeout)
	assert.Equal(t, 4, cfg.Store.ReadRetries)
	assert.Equal(t, 7*time.Second, cfg.Kitchen.ConfirmWindow)
	assert.False(t, cfg.Ordering.AutoFireLowestCourse)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("MAITRED_AUTH_DISABLED", "true")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.True(t, cfg.Ordering.AutoFireLowestCourse)
	assert.Equal(t, 5*time.Second, cfg.Kitchen.ConfirmWindow)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.Validate())

	cfg.Auth.Secret = "s"
	assert.NoError(t, cfg.Validate())

	cfg.Database.Driver = "mysql"
	assert.Error(t, cfg.Validate())
}
