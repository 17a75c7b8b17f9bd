package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the dispatcher
type Config struct {
	Remote   RemoteConfig   `yaml:"remote"`
	Provider ProviderConfig `yaml:"provider"`
	Session  SessionConfig  `yaml:"session"`
	Redis    RedisConfig    `yaml:"redis"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// RemoteConfig describes how to reach the Computer Use API
type RemoteConfig struct {
	// Base URL of the remote service
	Endpoint string `yaml:"endpoint"`

	// Per-request timeout. UI actions are slow, so this is generous.
	Timeout time.Duration `yaml:"timeout"`

	// Transport retries for requests the caller marked idempotent. Zero disables.
	MaxTransportRetries int `yaml:"max_transport_retries"`

	// Retry rate-limited tasks with exponential backoff
	RetryRateLimited    bool          `yaml:"retry_rate_limited"`
	MaxRateLimitRetries int           `yaml:"max_rate_limit_retries"`
	RateLimitBackoff    time.Duration `yaml:"rate_limit_backoff"`
}

// ProviderConfig is pushed to the remote through /session/config when a
// session is created by the client. Leave empty to use the remote defaults.
type ProviderConfig struct {
	PlannerModel          string `yaml:"planner_model"`
	ActorModel            string `yaml:"actor_model"`
	PlannerProvider       string `yaml:"planner_provider"`
	ActorProvider         string `yaml:"actor_provider"`
	APIKey                string `yaml:"api_key"`
	OnlyNMostRecentImages int    `yaml:"only_n_most_recent_images"`
	CustomSystemPrompt    string `yaml:"custom_system_prompt"`
}

// SessionConfig holds session discipline and persistence settings
type SessionConfig struct {
	// "reject" fails a second concurrent call on a session, "wait" queues it
	Policy string `yaml:"policy"`

	// "memory" or "redis"
	Store string `yaml:"store"`

	// Lifetime of a persisted conversation binding. Zero keeps it forever.
	TTL time.Duration `yaml:"ttl"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// GatewayConfig holds local HTTP gateway settings
type GatewayConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

const (
	PolicyReject = "reject"
	PolicyWait   = "wait"

	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Default returns a configuration with sensible defaults and environment overrides applied
func Default() *Config {
	cfg := defaults()
	applyEnv(cfg)
	return cfg
}

func defaults() *Config {
	return &Config{
		Remote: RemoteConfig{
			Endpoint:            "http://localhost:7888",
			Timeout:             60 * time.Second,
			MaxTransportRetries: 0,
			RetryRateLimited:    false,
			MaxRateLimitRetries: 3,
			RateLimitBackoff:    5 * time.Second,
		},
		Session: SessionConfig{
			Policy: PolicyReject,
			Store:  StoreMemory,
			TTL:    24 * time.Hour,
		},
		Redis: RedisConfig{
			Host:     "localhost",
			Port:     6379,
			DB:       0,
			PoolSize: 10,
		},
		Gateway: GatewayConfig{
			ListenAddr: ":8090",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML configuration file on top of the defaults. Environment
// variables referenced as ${VAR} in the file are expanded, and the usual
// environment overrides win over file values. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Remote.Endpoint = getEnv("SAHAYAK_ENDPOINT", cfg.Remote.Endpoint)
	cfg.Remote.Timeout = getEnvDuration("SAHAYAK_TIMEOUT", cfg.Remote.Timeout)
	cfg.Remote.MaxTransportRetries = getEnvInt("SAHAYAK_MAX_TRANSPORT_RETRIES", cfg.Remote.MaxTransportRetries)
	cfg.Remote.RetryRateLimited = getEnvBool("SAHAYAK_RETRY_RATE_LIMITED", cfg.Remote.RetryRateLimited)

	cfg.Provider.PlannerModel = getEnv("SAHAYAK_PLANNER_MODEL", cfg.Provider.PlannerModel)
	cfg.Provider.ActorModel = getEnv("SAHAYAK_ACTOR_MODEL", cfg.Provider.ActorModel)
	cfg.Provider.PlannerProvider = getEnv("SAHAYAK_PLANNER_PROVIDER", cfg.Provider.PlannerProvider)
	cfg.Provider.ActorProvider = getEnv("SAHAYAK_ACTOR_PROVIDER", cfg.Provider.ActorProvider)
	cfg.Provider.APIKey = getEnv("SAHAYAK_PROVIDER_API_KEY", cfg.Provider.APIKey)

	cfg.Session.Policy = getEnv("SAHAYAK_SESSION_POLICY", cfg.Session.Policy)
	cfg.Session.Store = getEnv("SAHAYAK_SESSION_STORE", cfg.Session.Store)

	cfg.Redis.Host = getEnv("REDIS_HOST", cfg.Redis.Host)
	cfg.Redis.Port = getEnvInt("REDIS_PORT", cfg.Redis.Port)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)

	cfg.Gateway.ListenAddr = getEnv("SAHAYAK_LISTEN_ADDR", cfg.Gateway.ListenAddr)

	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("LOG_FORMAT", cfg.Logging.Format)
}

// Enabled reports whether any provider setting should be pushed to new sessions
func (p ProviderConfig) Enabled() bool {
	return p.PlannerModel != "" || p.ActorModel != "" ||
		p.PlannerProvider != "" || p.ActorProvider != "" || p.APIKey != ""
}

// RedisAddr returns the full Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Remote.Endpoint) == "" {
		return fmt.Errorf("remote endpoint cannot be empty")
	}
	u, err := url.Parse(c.Remote.Endpoint)
	if err != nil {
		return fmt.Errorf("invalid remote endpoint %q: %w", c.Remote.Endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("remote endpoint must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("remote endpoint %q has no host", c.Remote.Endpoint)
	}
	if c.Remote.Timeout <= 0 {
		return fmt.Errorf("remote timeout must be positive")
	}
	if c.Remote.MaxTransportRetries < 0 {
		return fmt.Errorf("max transport retries cannot be negative")
	}
	if c.Remote.RetryRateLimited {
		if c.Remote.MaxRateLimitRetries < 1 {
			return fmt.Errorf("max rate limit retries must be at least 1 when retrying rate limits")
		}
		if c.Remote.RateLimitBackoff <= 0 {
			return fmt.Errorf("rate limit backoff must be positive")
		}
	}

	switch c.Session.Policy {
	case PolicyReject, PolicyWait:
	default:
		return fmt.Errorf("session policy must be %q or %q, got %q", PolicyReject, PolicyWait, c.Session.Policy)
	}

	switch c.Session.Store {
	case StoreMemory:
	case StoreRedis:
		if c.Redis.Host == "" {
			return fmt.Errorf("redis host cannot be empty")
		}
	default:
		return fmt.Errorf("session store must be %q or %q, got %q", StoreMemory, StoreRedis, c.Session.Store)
	}

	if c.Session.TTL < 0 {
		return fmt.Errorf("session ttl cannot be negative")
	}
	return nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
