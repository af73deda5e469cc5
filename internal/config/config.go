package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/lattice-run/cloudcode-gateway/internal/logging"
)

// Config is the gateway's mutable runtime configuration: everything
// that is NOT a wire-contract constant (see constants.go).
type Config struct {
	mu sync.RWMutex

	APIKey string `json:"apiKey"`

	Debug   bool   `json:"debug"`
	LogLevel string `json:"logLevel"`

	MaxRetries    int   `json:"maxRetries"`
	MaxWaitMs     int64 `json:"maxWaitMs"`
	QuotaFallback bool  `json:"quotaFallback"`
	QuietMode     bool  `json:"quietMode"`

	AttemptTimeoutSeconds int `json:"attemptTimeoutSeconds"`

	MaxAccounts int `json:"maxAccounts"`

	// Strategy selects the pool-selection policy consulted by the
	// dispatch loop. "sticky" (spec-mandated default) is always
	// available; "round-robin"/"hybrid" are optional (see
	// internal/selector).
	Strategy string `json:"strategy"`

	RedisAddr     string `json:"redisAddr"`
	RedisPassword string `json:"redisPassword"`
	RedisDB       int    `json:"redisDB"`

	Port int    `json:"port"`
	Host string `json:"host"`
}

func Default() *Config {
	return &Config{
		LogLevel:              "info",
		MaxRetries:            DefaultMaxRetries,
		MaxWaitMs:             DefaultMaxWaitMs,
		QuotaFallback:         true,
		AttemptTimeoutSeconds: DefaultAttemptTimeout,
		MaxAccounts:           10,
		Strategy:              "sticky",
		RedisAddr:             "localhost:6379",
		RedisDB:               0,
		Port:                  DefaultPort,
		Host:                  "0.0.0.0",
	}
}

var (
	global     *Config
	globalOnce sync.Once
)

// Get returns the process-wide configuration, loading it on first use.
func Get() *Config {
	globalOnce.Do(func() {
		global = Default()
		if err := global.Load(); err != nil {
			logging.Warn("[Config] load failed: %v", err)
		}
	})
	return global
}

func appConfigDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "cloudcode-gateway")
}

func appConfigFile() string {
	return filepath.Join(appConfigDir(), "config.json")
}

// Load applies file and environment overrides on top of the defaults.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if data, err := os.ReadFile(appConfigFile()); err == nil {
		_ = json.Unmarshal(data, c)
	}
	c.loadEnv()
	logging.SetDebug(c.Debug)
	return nil
}

func (c *Config) loadEnv() {
	if v := os.Getenv("API_KEY"); v != "" {
		c.APIKey = v
	}
	if os.Getenv("DEBUG") == "true" {
		c.Debug = true
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.RedisPassword = v
	}
	if v := os.Getenv("STRATEGY"); v != "" {
		c.Strategy = v
	}
}

// Save persists the current configuration to the app config file.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := os.MkdirAll(appConfigDir(), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(appConfigFile(), data, 0o644)
}

// Snapshot returns a copy safe for concurrent reads by callers that
// don't want to hold the config's own lock.
func (c *Config) Snapshot() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := *c
	cp.mu = sync.RWMutex{}
	return cp
}
