package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"SAHAYAK_ENDPOINT", "SAHAYAK_TIMEOUT", "SAHAYAK_MAX_TRANSPORT_RETRIES",
	"SAHAYAK_RETRY_RATE_LIMITED", "SAHAYAK_PLANNER_MODEL", "SAHAYAK_ACTOR_MODEL",
	"SAHAYAK_PLANNER_PROVIDER", "SAHAYAK_ACTOR_PROVIDER", "SAHAYAK_PROVIDER_API_KEY",
	"SAHAYAK_SESSION_POLICY", "SAHAYAK_SESSION_STORE", "REDIS_HOST", "REDIS_PORT",
	"REDIS_PASSWORD", "SAHAYAK_LISTEN_ADDR", "LOG_LEVEL", "LOG_FORMAT",
}

// clearEnv blanks every variable the config reads; getEnv treats empty as unset
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

// =============================================================================
// Default() Tests
// =============================================================================

func TestDefault(t *testing.T) {
	clearEnv(t)
	cfg := Default()

	t.Run("Remote defaults", func(t *testing.T) {
		assert.Equal(t, "http://localhost:7888", cfg.Remote.Endpoint)
		assert.Equal(t, 60*time.Second, cfg.Remote.Timeout)
		assert.Equal(t, 0, cfg.Remote.MaxTransportRetries)
		assert.False(t, cfg.Remote.RetryRateLimited)
		assert.Equal(t, 3, cfg.Remote.MaxRateLimitRetries)
		assert.Equal(t, 5*time.Second, cfg.Remote.RateLimitBackoff)
	})

	t.Run("Session defaults", func(t *testing.T) {
		assert.Equal(t, PolicyReject, cfg.Session.Policy)
		assert.Equal(t, StoreMemory, cfg.Session.Store)
		assert.Equal(t, 24*time.Hour, cfg.Session.TTL)
	})

	t.Run("Provider defaults are empty", func(t *testing.T) {
		assert.False(t, cfg.Provider.Enabled())
	})

	t.Run("Redis defaults", func(t *testing.T) {
		assert.Equal(t, "localhost", cfg.Redis.Host)
		assert.Equal(t, 6379, cfg.Redis.Port)
		assert.Equal(t, 10, cfg.Redis.PoolSize)
		assert.Equal(t, "localhost:6379", cfg.Redis.RedisAddr())
	})

	t.Run("Gateway and logging defaults", func(t *testing.T) {
		assert.Equal(t, ":8090", cfg.Gateway.ListenAddr)
		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Equal(t, "text", cfg.Logging.Format)
	})

	require.NoError(t, cfg.Validate())
}

func TestDefault_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("SAHAYAK_ENDPOINT", "https://cu.internal:9000")
	t.Setenv("SAHAYAK_TIMEOUT", "90s")
	t.Setenv("SAHAYAK_MAX_TRANSPORT_RETRIES", "2")
	t.Setenv("SAHAYAK_RETRY_RATE_LIMITED", "true")
	t.Setenv("SAHAYAK_SESSION_POLICY", "wait")
	t.Setenv("SAHAYAK_PLANNER_MODEL", "claude-3-5-sonnet-20241022")
	t.Setenv("REDIS_HOST", "redis.internal")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("LOG_FORMAT", "json")

	cfg := Default()

	assert.Equal(t, "https://cu.internal:9000", cfg.Remote.Endpoint)
	assert.Equal(t, 90*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, 2, cfg.Remote.MaxTransportRetries)
	assert.True(t, cfg.Remote.RetryRateLimited)
	assert.Equal(t, PolicyWait, cfg.Session.Policy)
	assert.True(t, cfg.Provider.Enabled())
	assert.Equal(t, "redis.internal:6380", cfg.Redis.RedisAddr())
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestDefault_IgnoresMalformedEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("SAHAYAK_TIMEOUT", "soon")
	t.Setenv("REDIS_PORT", "not-a-port")
	t.Setenv("SAHAYAK_RETRY_RATE_LIMITED", "maybe")

	cfg := Default()

	assert.Equal(t, 60*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, 6379, cfg.Redis.Port)
	assert.False(t, cfg.Remote.RetryRateLimited)
}

// =============================================================================
// Load() Tests
// =============================================================================

func TestLoad(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEST_PROVIDER_KEY", "sk-test")

	path := filepath.Join(t.TempDir(), "sahayak.yaml")
	content := `
remote:
  endpoint: http://10.0.0.5:7888
  timeout: 2m
provider:
  planner_model: claude-3-5-sonnet-20241022
  planner_provider: anthropic
  api_key: ${TEST_PROVIDER_KEY}
session:
  policy: wait
  store: redis
redis:
  host: cache
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://10.0.0.5:7888", cfg.Remote.Endpoint)
	assert.Equal(t, 2*time.Minute, cfg.Remote.Timeout)
	assert.Equal(t, "sk-test", cfg.Provider.APIKey)
	assert.Equal(t, "anthropic", cfg.Provider.PlannerProvider)
	assert.Equal(t, PolicyWait, cfg.Session.Policy)
	assert.Equal(t, StoreRedis, cfg.Session.Store)
	assert.Equal(t, "cache", cfg.Redis.Host)
	// untouched keys keep defaults
	assert.Equal(t, 6379, cfg.Redis.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	require.NoError(t, cfg.Validate())
}

func TestLoad_EnvWinsOverFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("SAHAYAK_ENDPOINT", "http://override:7888")

	path := filepath.Join(t.TempDir(), "sahayak.yaml")
	require.NoError(t, os.WriteFile(path, []byte("remote:\n  endpoint: http://file:7888\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://override:7888", cfg.Remote.Endpoint)
}

func TestLoad_EmptyPath(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:7888", cfg.Remote.Endpoint)
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("remote: [unterminated"), 0o600))
	_, err = Load(path)
	assert.ErrorContains(t, err, "failed to parse config")
}

// =============================================================================
// Validate() Tests
// =============================================================================

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid defaults", func(c *Config) {}, ""},
		{"empty endpoint", func(c *Config) { c.Remote.Endpoint = " " }, "remote endpoint cannot be empty"},
		{"bad scheme", func(c *Config) { c.Remote.Endpoint = "ftp://host" }, "must be http or https"},
		{"no host", func(c *Config) { c.Remote.Endpoint = "http://" }, "has no host"},
		{"zero timeout", func(c *Config) { c.Remote.Timeout = 0 }, "timeout must be positive"},
		{"negative retries", func(c *Config) { c.Remote.MaxTransportRetries = -1 }, "cannot be negative"},
		{"rate limit retries without budget", func(c *Config) {
			c.Remote.RetryRateLimited = true
			c.Remote.MaxRateLimitRetries = 0
		}, "max rate limit retries"},
		{"rate limit retries without backoff", func(c *Config) {
			c.Remote.RetryRateLimited = true
			c.Remote.RateLimitBackoff = 0
		}, "rate limit backoff"},
		{"unknown policy", func(c *Config) { c.Session.Policy = "queue" }, "session policy"},
		{"unknown store", func(c *Config) { c.Session.Store = "etcd" }, "session store"},
		{"redis store without host", func(c *Config) {
			c.Session.Store = StoreRedis
			c.Redis.Host = ""
		}, "redis host cannot be empty"},
		{"negative ttl", func(c *Config) { c.Session.TTL = -time.Second }, "ttl cannot be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
