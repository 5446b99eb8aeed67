// Package config loads the gateway configuration from YAML, with a .env file
// and environment variables layered on top for secrets and overrides.
// Secrets never live in the YAML file.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/Velodev-io/Project-Aegis-Proto/internal/cardauth"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Redis    RedisConfig    `yaml:"redis"`
	Card     CardConfig     `yaml:"card"`
	Sentinel SentinelConfig `yaml:"sentinel"`
	Governor GovernorConfig `yaml:"governor"`
	Notify   NotifyConfig   `yaml:"notify"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Env  string `yaml:"env"`

	// Ephemeral mode generates random keys at startup instead of requiring
	// them from the environment. Demo and test deployments only.
	Ephemeral bool `yaml:"ephemeral"`

	// RateLimitPerMinute caps API requests per client per minute. Zero
	// disables the limiter.
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
}

type StorageConfig struct {
	// DSN selects the backend: postgres:// for PostgreSQL, a file path or
	// ":memory:" for SQLite, empty for in-memory stores.
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type CardConfig struct {
	// SignatureHeader is the provider's webhook signature header name.
	SignatureHeader string `yaml:"signature_header"`
	DeadlineMs      int    `yaml:"deadline_ms"`
	// MCCFile optionally replaces the built-in MCC table.
	MCCFile string `yaml:"mcc_file"`
	// Bindings maps card tokens to the principal and POA behind them.
	Bindings map[string]cardauth.Binding `yaml:"bindings"`
}

type SentinelConfig struct {
	// PatternsFile optionally replaces the built-in scam pattern tables.
	PatternsFile string `yaml:"patterns_file"`
}

type GovernorConfig struct {
	// RiskFile optionally replaces the built-in category risk tables.
	RiskFile string `yaml:"risk_file"`
}

type NotifyConfig struct {
	Workers  int      `yaml:"workers"`
	Channels []string `yaml:"channels"` // push, sms, email
}

// LoadConfig reads a YAML config file and applies environment overrides.
// A .env file next to the process is honored when present.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	_ = godotenv.Load()
	cfg := &Config{}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyEnv() {
	if v := os.Getenv("AEGIS_PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("AEGIS_ENV"); v != "" {
		c.Server.Env = v
	}
	if v := os.Getenv("AEGIS_EPHEMERAL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Server.Ephemeral = b
		}
	}
	if v := os.Getenv("AEGIS_DATABASE_DSN"); v != "" {
		c.Storage.DSN = v
	}
	if v := os.Getenv("AEGIS_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("AEGIS_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.Env == "" {
		c.Server.Env = "development"
	}
	if c.Card.SignatureHeader == "" {
		c.Card.SignatureHeader = cardauth.DefaultSignatureHeader
	}
	if c.Card.DeadlineMs <= 0 {
		c.Card.DeadlineMs = 100
	}
	if c.Notify.Workers <= 0 {
		c.Notify.Workers = 2
	}
	if len(c.Notify.Channels) == 0 {
		c.Notify.Channels = []string{"push", "sms"}
	}
}
