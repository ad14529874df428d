package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWritesDefaultsOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadNormalizesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: ":9000"
week_start: Monday
session:
  idle_timeout: 5m
alarm:
  policy: exact
users:
  - username: alice
    password: secret
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, "monday", cfg.WeekStart)
	assert.Equal(t, time.Monday, cfg.FirstWeekday())
	assert.Equal(t, 5*time.Minute, cfg.Session.IdleTimeout)
	assert.Equal(t, "exact", cfg.Alarm.Policy)
	assert.Equal(t, "@every 60s", cfg.Alarm.Poll)
	assert.Equal(t, "sqlite", cfg.Store.Type)
	assert.Equal(t, 50, cfg.Notify.InboxSize)

	u, ok := cfg.User("alice")
	require.True(t, ok)
	assert.Equal(t, "secret", u.Password)
	assert.NotNil(t, u.ICS)
	require.NoError(t, cfg.Validate())
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: [unclosed"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"postgres without dsn", func(c *Config) { c.Store.Type = "postgres" }, false},
		{"postgres with dsn", func(c *Config) { c.Store.Type = "postgres"; c.Store.DSN = "postgres://x" }, true},
		{"unknown store", func(c *Config) { c.Store.Type = "redis" }, false},
		{"unknown policy", func(c *Config) { c.Alarm.Policy = "lazy" }, false},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }, false},
		{"user without password", func(c *Config) { c.Users = []UserConfig{{Username: "a"}} }, false},
		{"duplicate user", func(c *Config) {
			c.Users = []UserConfig{{Username: "a", Password: "x"}, {Username: "a", Password: "y"}}
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if tt.ok {
				assert.NoError(t, cfg.Validate())
			} else {
				assert.Error(t, cfg.Validate())
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("SPACECAL_LISTEN", ":7000")
	t.Setenv("SPACECAL_STORE_TYPE", "memory")
	t.Setenv("SPACECAL_ALARM_POLICY", "exact")

	cfg := DefaultConfig()
	cfg.ApplyEnv()
	assert.Equal(t, ":7000", cfg.Listen)
	assert.Equal(t, "memory", cfg.Store.Type)
	assert.Equal(t, "exact", cfg.Alarm.Policy)
}

func TestLocationFallsBackToLocal(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, time.Local, cfg.Location())
	cfg.Timezone = "UTC"
	assert.Equal(t, "UTC", cfg.Location().String())
	cfg.Timezone = "Nowhere/Else"
	assert.Equal(t, time.Local, cfg.Location())
}
