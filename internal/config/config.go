// Package config loads and holds the backup system's configuration:
// per-customer on-site paths, the offsite archive connection, GPG identity,
// pool sizes, and retention. The on-disk format is JSON; swapping in a
// different loader touches only this package, never a consumer.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ericsson-bur/offsite-backup/internal/observability"
)

// SupportContact is the notification address book. Sending mail is left
// to the caller; the address is carried so one can be wired in.
type SupportContact struct {
	EmailTo  string `json:"email_to"`
	EmailURL string `json:"email_url"`
}

// GPGIdentity names the GPG key material used for volume encryption.
type GPGIdentity struct {
	UserName  string `json:"gpg_user_name"`
	UserEmail string `json:"gpg_user_email"`
	Home      string `json:"gpg_home"`
}

// Config holds all application configuration.
type Config struct {
	Support     SupportContact      `json:"support_contact"`
	GPG         GPGIdentity         `json:"gnupg"`
	Offsite     OffsiteConfig       `json:"offsite_conn"`
	Onsite      OnsiteConfig        `json:"onsite_params"`
	Delay       MaxDelay            `json:"bkp_max_delay"`
	Pools       PoolConfig          `json:"pools"`
	LogRootPath string              `json:"log_root_path"`
	LogLevel    string              `json:"log_level"`
	RsyncSSH    bool                `json:"rsync_ssh"`
	Customers   map[string]Customer `json:"customers"`

	mu sync.RWMutex
}

// MaxDelay is the bkp_max_delay watchdog bound. On the wire it is either
// a bare number of seconds or a string with an s/m/h suffix ("90m").
type MaxDelay time.Duration

func (d *MaxDelay) UnmarshalJSON(data []byte) error {
	var seconds float64
	if err := json.Unmarshal(data, &seconds); err == nil {
		*d = MaxDelay(time.Duration(seconds * float64(time.Second)))
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("bkp_max_delay must be a number of seconds or a suffixed string: %w", err)
	}
	dur, err := ParseMaxDelay(s)
	if err != nil {
		return err
	}
	*d = MaxDelay(dur)
	return nil
}

func (d MaxDelay) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d MaxDelay) Duration() time.Duration {
	return time.Duration(d)
}

// ParseMaxDelay parses a delay string with an s/m/h suffix; a bare
// number is taken as seconds.
func ParseMaxDelay(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	switch s[len(s)-1] {
	case 's', 'm', 'h':
		dur, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("invalid bkp_max_delay %q: %w", s, err)
		}
		return dur, nil
	default:
		seconds, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("invalid bkp_max_delay %q: want a number with an s/m/h suffix", s)
		}
		return time.Duration(seconds) * time.Second, nil
	}
}

// PoolConfig holds the three worker-pool sizes.
type PoolConfig struct {
	Processors int `json:"number_processors"`          // P
	Threads    int `json:"number_threads"`             // T
	Transfer   int `json:"number_transfer_processors"` // X
}

// DefaultConfig returns a configuration with the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		GPG: GPGIdentity{
			UserName:  "BUR Offsite Backup",
			UserEmail: "bur@localhost",
		},
		Offsite: OffsiteConfig{
			RetentionCount: DefaultOffsiteRetention,
		},
		Onsite: OnsiteConfig{
			TempFolder: filepath.Join(os.TempDir(), "bur"),
		},
		Delay:       0,
		Pools:       PoolConfig{Processors: DefaultNumProcessors, Threads: DefaultNumThreads, Transfer: DefaultNumTransferProcs},
		LogRootPath: defaultLogRootPath(),
		LogLevel:    "info",
		RsyncSSH:    false,
		Customers:   make(map[string]Customer),
	}
}

func defaultLogRootPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "backup")
	}
	return filepath.Join(home, "backup")
}

// LoadConfig loads configuration from path, or returns DefaultConfig if the
// file does not exist.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, ".bur", "config.json")
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// Save writes the configuration to path, atomically via a temp file and
// rename.
func (c *Config) Save(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, ".bur", "config.json")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename config file: %w", err)
	}
	return nil
}

// AddCustomer registers a customer under the configuration.
func (c *Config) AddCustomer(cust Customer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Customers[cust.Name] = cust
}

// GetCustomer retrieves a customer by name.
func (c *Config) GetCustomer(name string) (Customer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cust, ok := c.Customers[name]
	return cust, ok
}

// ListCustomers returns every configured customer.
func (c *Config) ListCustomers() []Customer {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Customer, 0, len(c.Customers))
	for _, cust := range c.Customers {
		out = append(out, cust)
	}
	return out
}

// Redact returns a redacted copy of the config suitable for logging. GPG
// home and the offsite SSH user are the sensitive fields.
func (c *Config) Redact() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return map[string]interface{}{
		"gpg_user_email":    c.GPG.UserEmail,
		"gpg_home":          "***REDACTED***",
		"offsite_host":      observability.RedactString(c.Offsite.Host),
		"offsite_user":      "***REDACTED***",
		"retention_count":   c.Offsite.RetentionCount,
		"number_processors": c.Pools.Processors,
		"number_threads":    c.Pools.Threads,
		"number_transfer":   c.Pools.Transfer,
		"rsync_ssh":         c.RsyncSSH,
		"log_level":         c.LogLevel,
		"customers":         len(c.Customers),
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.GPG.UserName == "" {
		cfg.GPG.UserName = defaults.GPG.UserName
	}
	if cfg.GPG.UserEmail == "" {
		cfg.GPG.UserEmail = defaults.GPG.UserEmail
	}
	if cfg.Offsite.RetentionCount == 0 {
		cfg.Offsite.RetentionCount = defaults.Offsite.RetentionCount
	}
	if cfg.Onsite.TempFolder == "" {
		cfg.Onsite.TempFolder = defaults.Onsite.TempFolder
	}
	if cfg.Pools.Processors == 0 {
		cfg.Pools.Processors = defaults.Pools.Processors
	}
	if cfg.Pools.Threads == 0 {
		cfg.Pools.Threads = defaults.Pools.Threads
	}
	if cfg.Pools.Transfer == 0 {
		cfg.Pools.Transfer = defaults.Pools.Transfer
	}
	if cfg.LogRootPath == "" {
		cfg.LogRootPath = defaults.LogRootPath
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaults.LogLevel
	}
	if cfg.Customers == nil {
		cfg.Customers = make(map[string]Customer)
	}
}
