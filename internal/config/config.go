package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "1h"
// or "90s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// LimiterConfig is one limiter class: at most Capacity tokens, earning
// RefillTokens per RefillPeriod. IdleHorizon bounds how long an untouched
// bucket is kept; zero means twice the refill period.
type LimiterConfig struct {
	Capacity     int      `yaml:"capacity"`
	RefillTokens int      `yaml:"refill_tokens"`
	RefillPeriod Duration `yaml:"refill_period"`
	IdleHorizon  Duration `yaml:"idle_horizon"`
}

// AbuseConfig tunes the contact-form heuristics.
type AbuseConfig struct {
	Threshold     int      `yaml:"threshold"`
	Window        Duration `yaml:"window"`
	BannedPhrases []string `yaml:"banned_phrases"`
}

// CacheConfig tunes the read-through cache.
type CacheConfig struct {
	LoadTimeout Duration `yaml:"load_timeout"`
	MaxAge      Duration `yaml:"max_age"`
}

// ServerConfig holds the HTTP listener and auth settings. JWTSecret has no
// default and must be configured; Validate refuses an empty one so the admin
// routes never verify tokens against a guessable key.
type ServerConfig struct {
	Addr      string `yaml:"addr"`
	JWTSecret string `yaml:"jwt_secret"`
	LogLevel  string `yaml:"log_level"`
}

// StorageConfig points at the backing stores. RedisAddr is optional; when
// empty the abuse volume check reads straight from sqlite.
type StorageConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
	RedisAddr  string `yaml:"redis_addr"`
}

// Config is the full server configuration.
type Config struct {
	Server   ServerConfig             `yaml:"server"`
	Storage  StorageConfig            `yaml:"storage"`
	Limiters map[string]LimiterConfig `yaml:"limiters"`
	Abuse    AbuseConfig              `yaml:"abuse"`
	Cache    CacheConfig              `yaml:"cache"`
}

// Default returns the configuration matching the original deployment:
// public 100/minute, contact 5/hour, admin 30/minute, abuse threshold 5 in
// a trailing hour.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:     ":8080",
			LogLevel: "info",
		},
		Storage: StorageConfig{
			SQLitePath: "portfolio.db",
		},
		Limiters: map[string]LimiterConfig{
			"public":  {Capacity: 100, RefillTokens: 100, RefillPeriod: Duration(time.Minute)},
			"contact": {Capacity: 5, RefillTokens: 5, RefillPeriod: Duration(time.Hour)},
			"admin":   {Capacity: 30, RefillTokens: 30, RefillPeriod: Duration(time.Minute)},
		},
		Abuse: AbuseConfig{
			Threshold:     5,
			Window:        Duration(time.Hour),
			BannedPhrases: []string{"buy now", "click here"},
		},
		Cache: CacheConfig{
			LoadTimeout: Duration(5 * time.Second),
		},
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the admission layer cannot run with.
// Called once at startup so bad wiring fails the process, never a request.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must be set")
	}
	if c.Server.JWTSecret == "" {
		return fmt.Errorf("server.jwt_secret must be set")
	}
	if c.Storage.SQLitePath == "" {
		return fmt.Errorf("storage.sqlite_path must be set")
	}
	for _, name := range []string{"public", "contact", "admin"} {
		if _, ok := c.Limiters[name]; !ok {
			return fmt.Errorf("limiters.%s must be defined", name)
		}
	}
	for name, l := range c.Limiters {
		if l.Capacity < 1 {
			return fmt.Errorf("limiters.%s.capacity must be >= 1", name)
		}
		if l.RefillTokens < 1 {
			return fmt.Errorf("limiters.%s.refill_tokens must be >= 1", name)
		}
		if l.RefillPeriod.Std() <= 0 {
			return fmt.Errorf("limiters.%s.refill_period must be positive", name)
		}
	}
	if c.Abuse.Threshold < 1 {
		return fmt.Errorf("abuse.threshold must be >= 1")
	}
	if c.Abuse.Window.Std() <= 0 {
		return fmt.Errorf("abuse.window must be positive")
	}
	if c.Cache.LoadTimeout.Std() < 0 || c.Cache.MaxAge.Std() < 0 {
		return fmt.Errorf("cache durations must not be negative")
	}
	return nil
}
