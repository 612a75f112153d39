// File: internal/config/config.go
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type ServerConfig struct {
	Port           int           `yaml:"port"`
	AdminAPIKey    string        `yaml:"admin_api_key"`
	ServiceAPIKey  string        `yaml:"service_api_key"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type StorageConfig struct {
	Driver string `yaml:"driver"` // postgres | memory
}

type DatabaseConfig struct {
	URL            string `yaml:"url"`
	MaxConns       int32  `yaml:"max_conns"`
	MigrateOnStart bool   `yaml:"migrate_on_start"`
}

type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type SecurityConfig struct {
	EncryptionKey     string        `yaml:"encryption_key"`
	DeviceTokenSecret string        `yaml:"device_token_secret"`
	DeviceTokenTTL    time.Duration `yaml:"device_token_ttl"`
}

type SessionConfig struct {
	ActiveWindow      time.Duration `yaml:"active_window"`
	StaleWindow       time.Duration `yaml:"stale_window"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
}

type ReconcileConfig struct {
	Interval time.Duration `yaml:"interval"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

type RateLimitConfig struct {
	RPS             float64 `yaml:"rps"`
	Burst           int     `yaml:"burst"`
	RedeemPerMinute int     `yaml:"redeem_per_minute"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Storage   StorageConfig   `yaml:"storage"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Security  SecurityConfig  `yaml:"security"`
	Sessions  SessionConfig   `yaml:"sessions"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfigFromFlags parses -config and -dev and loads the file.
func LoadConfigFromFlags() (*Config, error) {
	var configPath string
	var dev bool
	flag.StringVar(&configPath, "config", "config.yaml", "path to config yaml")
	flag.BoolVar(&dev, "dev", false, "development mode")
	flag.Parse()
	return LoadConfig(configPath, dev)
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b, dev)
}

// Parse decodes raw YAML, applies defaults and validates the result.
func Parse(b []byte, dev bool) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	cfg.Runtime.Dev = dev
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port <= 0 {
		c.Server.Port = 8080
	}
	if c.Server.RequestTimeout <= 0 {
		c.Server.RequestTimeout = 10 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if c.Storage.Driver == "" {
		c.Storage.Driver = "postgres"
	}
	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = 10
	}
	c.Redis.TTL = normalizeTTL(c.Redis.TTL)
	if c.Security.DeviceTokenTTL <= 0 {
		c.Security.DeviceTokenTTL = 30 * 24 * time.Hour
	}
	if c.Sessions.ActiveWindow <= 0 {
		c.Sessions.ActiveWindow = time.Hour
	}
	if c.Sessions.StaleWindow <= 0 {
		c.Sessions.StaleWindow = 24 * time.Hour
	}
	if c.Sessions.HeartbeatInterval <= 0 {
		c.Sessions.HeartbeatInterval = 30 * time.Second
	}
	if c.Sessions.SweepInterval <= 0 {
		c.Sessions.SweepInterval = 10 * time.Minute
	}
	if c.Reconcile.Interval <= 0 {
		c.Reconcile.Interval = 15 * time.Minute
	}
	if c.Reconcile.LockTTL <= 0 {
		c.Reconcile.LockTTL = 5 * time.Minute
	}
	if c.RateLimit.RPS <= 0 {
		c.RateLimit.RPS = 20
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 40
	}
	if c.RateLimit.RedeemPerMinute <= 0 {
		c.RateLimit.RedeemPerMinute = 10
	}
}

// Validate performs minimal validation.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "postgres":
		if c.Database.URL == "" {
			return errors.New("database.url is required")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver)
	}
	if c.Redis.Enabled && c.Redis.URL == "" {
		return errors.New("redis.url is required when redis is enabled")
	}
	if c.Server.AdminAPIKey == "" {
		return errors.New("server.admin_api_key is required")
	}
	if c.Server.ServiceAPIKey == "" {
		return errors.New("server.service_api_key is required")
	}
	if c.Security.DeviceTokenSecret == "" {
		return errors.New("security.device_token_secret is required")
	}
	if c.Sessions.StaleWindow < c.Sessions.ActiveWindow {
		return errors.New("sessions.stale_window must not be shorter than sessions.active_window")
	}
	return nil
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
