package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ICSConfig describes a single ICS subscription imported into a user's
// calendar.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for caching and logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
}

// UserConfig is one account of the basic-auth identity source. Username
// doubles as the owner id of the user's events.
type UserConfig struct {
	Username string      `yaml:"username" json:"username"`
	Password string      `yaml:"password" json:"password"`
	ICS      []ICSConfig `yaml:"ics" json:"ics"`
}

type LogConfig struct {
	// Level is one of debug, info, error.
	Level string `yaml:"level" json:"level"`
	// Format is console or json.
	Format string `yaml:"format" json:"format"`
}

type StoreConfig struct {
	// Type selects the backend: memory, sqlite or postgres.
	Type string `yaml:"type" json:"type"`
	// Path is the SQLite database file.
	Path string `yaml:"path" json:"path"`
	// DSN is the Postgres connection string.
	DSN string `yaml:"dsn" json:"dsn"`
}

type AlarmConfig struct {
	// Poll is a cron-style schedule for the alarm scan (e.g. "@every 60s").
	Poll string `yaml:"poll" json:"poll"`
	// Policy is exact or catch_up.
	Policy string `yaml:"policy" json:"policy"`
}

type SessionConfig struct {
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
}

type NotifyConfig struct {
	InboxSize int `yaml:"inbox_size" json:"inbox_size"`
}

type ImportConfig struct {
	// Refresh is a cron-style schedule for re-importing configured feeds.
	Refresh string `yaml:"refresh" json:"refresh"`
	// CacheDir holds per-URL ETag/Last-Modified caches.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the Web UI and API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone that decides "today" for the grid and
	// the alarm scan (e.g. "Asia/Seoul"). Empty means the host zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart is the first column of the month grid: "sunday" (default)
	// or "monday".
	WeekStart string `yaml:"week_start" json:"week_start"`

	Log     LogConfig     `yaml:"log" json:"log"`
	Store   StoreConfig   `yaml:"store" json:"store"`
	Alarm   AlarmConfig   `yaml:"alarm" json:"alarm"`
	Session SessionConfig `yaml:"session" json:"session"`
	Notify  NotifyConfig  `yaml:"notify" json:"notify"`
	ICS     ImportConfig  `yaml:"ics" json:"ics"`

	// Users are the accounts allowed through basic auth.
	Users []UserConfig `yaml:"users" json:"users"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:    "127.0.0.1:8080",
		Timezone:  "",
		WeekStart: "sunday",
		Log:       LogConfig{Level: "info", Format: "console"},
		Store:     StoreConfig{Type: "sqlite", Path: "/var/lib/spacecal/events.db"},
		Alarm:     AlarmConfig{Poll: "@every 60s", Policy: "catch_up"},
		Session:   SessionConfig{IdleTimeout: 30 * time.Minute},
		Notify:    NotifyConfig{InboxSize: 50},
		ICS:       ImportConfig{Refresh: "*/30 * * * *", CacheDir: "/var/lib/spacecal/ics-cache"},
		Users:     []UserConfig{},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	c.WeekStart = strings.ToLower(strings.TrimSpace(c.WeekStart))
	switch c.WeekStart {
	case "monday", "sunday":
	default:
		c.WeekStart = def.WeekStart
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
	if c.Store.Type == "" {
		c.Store.Type = def.Store.Type
	}
	if c.Store.Type == "sqlite" && c.Store.Path == "" {
		c.Store.Path = def.Store.Path
	}
	if c.Alarm.Poll == "" {
		c.Alarm.Poll = def.Alarm.Poll
	}
	if c.Alarm.Policy == "" {
		c.Alarm.Policy = def.Alarm.Policy
	}
	if c.Session.IdleTimeout <= 0 {
		c.Session.IdleTimeout = def.Session.IdleTimeout
	}
	if c.Notify.InboxSize <= 0 {
		c.Notify.InboxSize = def.Notify.InboxSize
	}
	if c.ICS.Refresh == "" {
		c.ICS.Refresh = def.ICS.Refresh
	}
	if c.ICS.CacheDir == "" {
		c.ICS.CacheDir = def.ICS.CacheDir
	}
	if c.Users == nil {
		c.Users = []UserConfig{}
	}
	for i := range c.Users {
		if c.Users[i].ICS == nil {
			c.Users[i].ICS = []ICSConfig{}
		}
	}
}

// Validate reports settings that cannot be defaulted away.
func (c *Config) Validate() error {
	switch c.Store.Type {
	case "memory", "sqlite":
	case "postgres":
		if c.Store.DSN == "" {
			return errors.New("store.dsn is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown store.type %q (want memory, sqlite or postgres)", c.Store.Type)
	}
	switch c.Alarm.Policy {
	case "exact", "catch_up":
	default:
		return fmt.Errorf("unknown alarm.policy %q (want exact or catch_up)", c.Alarm.Policy)
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
		}
	}
	seen := make(map[string]bool, len(c.Users))
	for _, u := range c.Users {
		if u.Username == "" || u.Password == "" {
			return errors.New("users need both username and password")
		}
		if seen[u.Username] {
			return fmt.Errorf("duplicate user %q", u.Username)
		}
		seen[u.Username] = true
	}
	return nil
}

// Location resolves Timezone, falling back to the host zone.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// FirstWeekday maps WeekStart to a time.Weekday.
func (c *Config) FirstWeekday() time.Weekday {
	if c.WeekStart == "monday" {
		return time.Monday
	}
	return time.Sunday
}

// User looks up an account by name.
func (c *Config) User(name string) (UserConfig, bool) {
	for _, u := range c.Users {
		if u.Username == name {
			return u, true
		}
	}
	return UserConfig{}, false
}

// ApplyEnv overrides settings from SPACECAL_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("SPACECAL_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("SPACECAL_TIMEZONE"); v != "" {
		c.Timezone = v
	}
	if v := os.Getenv("SPACECAL_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("SPACECAL_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("SPACECAL_STORE_TYPE"); v != "" {
		c.Store.Type = v
	}
	if v := os.Getenv("SPACECAL_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("SPACECAL_STORE_DSN"); v != "" {
		c.Store.DSN = v
	}
	if v := os.Getenv("SPACECAL_ALARM_POLICY"); v != "" {
		c.Alarm.Policy = v
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".spacecal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
