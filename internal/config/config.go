// Package config loads and persists the monitor configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Config is the on-disk configuration. Cursors live here too, so a restart
// resumes where the last run left off.
type Config struct {
	CheckIntervalSeconds       int             `mapstructure:"check_interval_seconds" json:"check_interval_seconds"`
	MaxPostsPerCheck           int             `mapstructure:"max_posts_per_check" json:"max_posts_per_check"`
	NotificationTimeoutSeconds int             `mapstructure:"notification_timeout_seconds" json:"notification_timeout_seconds"`
	DBPath                     string          `mapstructure:"db_path" json:"db_path"`
	APIAddr                    string          `mapstructure:"api_addr" json:"api_addr,omitempty"`
	Accounts                   []AccountConfig `mapstructure:"accounts" json:"accounts"`
	Logging                    LoggingConfig   `mapstructure:"logging" json:"logging"`
}

// AccountConfig is one monitored handle plus its saved cursor. A nil
// LastSeenID means the account has never completed a poll.
type AccountConfig struct {
	Username   string `mapstructure:"username" json:"username"`
	LastSeenID *int64 `mapstructure:"last_seen_id" json:"last_seen_id,omitempty"`
}

// LoggingConfig selects the logger profile.
type LoggingConfig struct {
	Development bool `mapstructure:"development" json:"development"`
}

// CheckInterval returns the poll interval as a duration.
func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSeconds) * time.Second
}

// NotificationTimeout returns the per-dispatch timeout; zero means none.
func (c *Config) NotificationTimeout() time.Duration {
	return time.Duration(c.NotificationTimeoutSeconds) * time.Second
}

// Validate rejects configurations the monitor cannot run with.
func (c *Config) Validate() error {
	if c.CheckIntervalSeconds <= 0 {
		return fmt.Errorf("check_interval_seconds must be positive, got %d", c.CheckIntervalSeconds)
	}
	if c.MaxPostsPerCheck <= 0 {
		return fmt.Errorf("max_posts_per_check must be positive, got %d", c.MaxPostsPerCheck)
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path must not be empty")
	}
	seen := make(map[string]struct{}, len(c.Accounts))
	for _, a := range c.Accounts {
		if a.Username == "" {
			return fmt.Errorf("account with empty username")
		}
		key := strings.ToLower(a.Username)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("duplicate account %q", a.Username)
		}
		seen[key] = struct{}{}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("check_interval_seconds", 300)
	v.SetDefault("max_posts_per_check", 10)
	v.SetDefault("notification_timeout_seconds", 0)
	v.SetDefault("db_path", "postwatch.db")
	v.SetDefault("api_addr", "")
	v.SetDefault("accounts", []AccountConfig{})
	v.SetDefault("logging.development", false)
}

// Manager owns the config file: load, mutate, save. All mutation goes
// through the manager so concurrent cursor saves cannot tear the file.
type Manager struct {
	path string

	mu  sync.Mutex
	cfg Config
}

// NewManager builds a manager for the given file path.
func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// Load reads the config file, creating it with defaults when absent.
func (m *Manager) Load() (*Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(m.path)
	v.SetConfigType("json")
	v.SetEnvPrefix("POSTWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return nil, fmt.Errorf("read config %s: %w", m.path, err)
			}
		}
		// Missing file: materialize the defaults so the user has something
		// to edit.
		if err := v.Unmarshal(&m.cfg); err != nil {
			return nil, fmt.Errorf("unmarshal defaults: %w", err)
		}
		if err := m.saveLocked(); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
		cfg := m.cfg
		return &cfg, nil
	}

	if err := v.Unmarshal(&m.cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config %s: %w", m.path, err)
	}
	if err := m.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", m.path, err)
	}
	cfg := m.cfg
	return &cfg, nil
}

// Save writes the current state back to disk.
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked()
}

func (m *Manager) saveLocked() error {
	data, err := json.MarshalIndent(m.cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if dir := filepath.Dir(m.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(m.path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", m.path, err)
	}
	return nil
}

// SaveCursor records the account's latest processed post id and persists
// the whole file.
func (m *Manager) SaveCursor(username string, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.cfg.Accounts {
		if strings.EqualFold(m.cfg.Accounts[i].Username, username) {
			cursor := id
			m.cfg.Accounts[i].LastSeenID = &cursor
			return m.saveLocked()
		}
	}
	return fmt.Errorf("unknown account %q", username)
}

// AddAccount appends a new handle. Adding an existing handle is an error.
func (m *Manager) AddAccount(username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.cfg.Accounts {
		if strings.EqualFold(a.Username, username) {
			return fmt.Errorf("account %q already monitored", username)
		}
	}
	m.cfg.Accounts = append(m.cfg.Accounts, AccountConfig{Username: username})
	return m.saveLocked()
}

// RemoveAccount drops a handle, matching case-insensitively.
func (m *Manager) RemoveAccount(username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, a := range m.cfg.Accounts {
		if strings.EqualFold(a.Username, username) {
			m.cfg.Accounts = append(m.cfg.Accounts[:i], m.cfg.Accounts[i+1:]...)
			return m.saveLocked()
		}
	}
	return fmt.Errorf("account %q not monitored", username)
}

// Accounts returns a copy of the configured accounts.
func (m *Manager) Accounts() []AccountConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AccountConfig, len(m.cfg.Accounts))
	copy(out, m.cfg.Accounts)
	return out
}
