package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Governor struct {
	MaxCallsPerWindow      int            `yaml:"max_calls_per_window"`
	WindowMs               int            `yaml:"window_ms"`
	DailyLimit             int            `yaml:"daily_limit"` // 0 disables the daily cap
	PersistTimeoutMs       int            `yaml:"persist_timeout_ms"`
	CleanupIntervalSeconds int            `yaml:"cleanup_interval_seconds"`
	NonBlocking            bool           `yaml:"non_blocking"`
	CacheTTLSeconds        map[string]int `yaml:"cache_ttl_seconds"` // category -> seconds
}

type Store struct {
	Kind     string `yaml:"kind"` // memory | file | redis
	Path     string `yaml:"path"`
	RedisURL string `yaml:"redis_url"`
	Key      string `yaml:"key"`
}

type Provider struct {
	Adapter           string  `yaml:"adapter"` // mock | alphavantage
	APIKeyEnv         string  `yaml:"api_key_env"`
	BaseURL           string  `yaml:"base_url"`
	TimeoutSeconds    int     `yaml:"timeout_seconds"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type Fallback struct {
	Capacity   int `yaml:"capacity"`
	TTLSeconds int `yaml:"ttl_seconds"`
}

type Server struct {
	Addr                   string `yaml:"addr"`
	ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds"`
}

type Root struct {
	Governor Governor `yaml:"governor"`
	Store    Store    `yaml:"store"`
	Provider Provider `yaml:"provider"`
	Fallback Fallback `yaml:"fallback"`
	Server   Server   `yaml:"server"`
}

// Default returns the configuration used when no file is given. Limits match
// the Alpha Vantage free tier.
func Default() Root {
	var c Root
	applyDefaults(&c)
	return c
}

func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("parse %s: %w", path, err)
	}
	applyDefaults(&c)
	if err := c.Validate(); err != nil {
		return c, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return c, nil
}

func applyDefaults(c *Root) {
	if c.Governor.MaxCallsPerWindow == 0 {
		c.Governor.MaxCallsPerWindow = 5
	}
	if c.Governor.WindowMs == 0 {
		c.Governor.WindowMs = 60000
	}
	if c.Governor.PersistTimeoutMs == 0 {
		c.Governor.PersistTimeoutMs = 2000
	}
	if c.Governor.CleanupIntervalSeconds == 0 {
		c.Governor.CleanupIntervalSeconds = 60
	}

	if c.Store.Kind == "" {
		c.Store.Kind = "file"
	}
	c.Store.Kind = strings.ToLower(c.Store.Kind)
	if c.Store.Path == "" {
		c.Store.Path = "data/governor_quota.json"
	}
	if c.Store.RedisURL == "" {
		c.Store.RedisURL = "redis://localhost:6379/0"
	}

	if c.Provider.Adapter == "" {
		c.Provider.Adapter = "mock"
	}
	if c.Provider.APIKeyEnv == "" {
		c.Provider.APIKeyEnv = "ALPHA_VANTAGE_API_KEY"
	}
	if c.Provider.TimeoutSeconds == 0 {
		c.Provider.TimeoutSeconds = 10
	}
	if c.Provider.RequestsPerSecond == 0 {
		c.Provider.RequestsPerSecond = 1
	}
	if c.Provider.Burst == 0 {
		c.Provider.Burst = 1
	}

	if c.Fallback.Capacity == 0 {
		c.Fallback.Capacity = 512
	}
	if c.Fallback.TTLSeconds == 0 {
		c.Fallback.TTLSeconds = 86400
	}

	if c.Server.Addr == "" {
		c.Server.Addr = ":8095"
	}
	if c.Server.ShutdownTimeoutSeconds == 0 {
		c.Server.ShutdownTimeoutSeconds = 10
	}
}

// Validate rejects settings the governor cannot run with.
func (c Root) Validate() error {
	if c.Governor.MaxCallsPerWindow < 0 {
		return fmt.Errorf("governor.max_calls_per_window must be positive")
	}
	if c.Governor.WindowMs < 0 {
		return fmt.Errorf("governor.window_ms must be positive")
	}
	if c.Governor.DailyLimit < 0 {
		return fmt.Errorf("governor.daily_limit must not be negative")
	}
	for category, secs := range c.Governor.CacheTTLSeconds {
		if secs < 0 {
			return fmt.Errorf("governor.cache_ttl_seconds.%s must not be negative", category)
		}
	}
	switch c.Store.Kind {
	case "memory", "file", "redis":
	default:
		return fmt.Errorf("store.kind %q is not one of memory, file, redis", c.Store.Kind)
	}
	return nil
}
