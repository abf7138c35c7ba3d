package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration
type Config struct {
	Environment string          `json:"environment"`
	Server      ServerConfig    `json:"server"`
	Redis       RedisConfig     `json:"redis"`
	Breaker     BreakerConfig   `json:"breaker"`
	Executor    ExecutorConfig  `json:"executor"`
	RateLimit   RateLimitConfig `json:"rate_limit"`
	Lock        LockConfig      `json:"lock"`
	Logging     LoggingConfig   `json:"logging"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// RedisConfig contains coordination store connection configuration
type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// BreakerConfig contains circuit breaker thresholds
type BreakerConfig struct {
	Enabled          bool          `json:"enabled"`
	FailMax          int           `json:"fail_max"`
	ResetTimeout     time.Duration `json:"reset_timeout"`
	SuccessThreshold int           `json:"success_threshold"`
}

// ExecutorConfig contains external call executor configuration
type ExecutorConfig struct {
	DefaultTimeout time.Duration `json:"default_timeout"`
}

// EndpointOverride carries a (limit, window) pair for one endpoint class
type EndpointOverride struct {
	Limit  int           `json:"limit"`
	Window time.Duration `json:"window"`
}

// RateLimitConfig contains rate limiter configuration
type RateLimitConfig struct {
	DefaultLimit      int                         `json:"default_limit"`
	DefaultWindow     time.Duration               `json:"default_window"`
	EndpointOverrides map[string]EndpointOverride `json:"endpoint_overrides"`
	TrustedIdentities []string                    `json:"trusted_identities"`
}

// LockConfig contains distributed lock manager configuration
type LockConfig struct {
	AllowLocalFallback bool          `json:"allow_local_fallback"`
	TTL                time.Duration `json:"ttl"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// Load loads configuration from environment variables with sensible defaults.
// A .env file in the working directory is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	environment := getEnvString("ENVIRONMENT", "development")

	config := &Config{
		Environment: environment,
		Server: ServerConfig{
			Host:         getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Redis: RedisConfig{
			Host:     getEnvString("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 10),
		},
		Breaker: BreakerConfig{
			Enabled:          getEnvBool("BREAKER_ENABLED", true),
			FailMax:          getEnvInt("BREAKER_FAIL_MAX", 5),
			ResetTimeout:     getEnvDuration("BREAKER_RESET_TIMEOUT", 30*time.Second),
			SuccessThreshold: getEnvInt("BREAKER_SUCCESS_THRESHOLD", 2),
		},
		Executor: ExecutorConfig{
			DefaultTimeout: getEnvDuration("EXECUTOR_DEFAULT_TIMEOUT", 30*time.Second),
		},
		RateLimit: RateLimitConfig{
			DefaultLimit:      getEnvInt("RATELIMIT_DEFAULT_LIMIT", 100),
			DefaultWindow:     getEnvDuration("RATELIMIT_DEFAULT_WINDOW", time.Minute),
			EndpointOverrides: parseEndpointOverrides(getEnvString("RATELIMIT_ENDPOINT_OVERRIDES", "auth=10:1m,reports=5:5m")),
			TrustedIdentities: parseList(getEnvString("RATELIMIT_TRUSTED_IDENTITIES", "")),
		},
		Lock: LockConfig{
			// A process-local lock only protects this one process. In a
			// multi-process production deployment that is worse than refusing,
			// so the fallback defaults off there.
			AllowLocalFallback: getEnvBool("LOCK_ALLOW_LOCAL_FALLBACK", environment != "production"),
			TTL:                getEnvDuration("LOCK_TTL", 10*time.Minute),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
			Output: getEnvString("LOG_OUTPUT", "stdout"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Breaker.FailMax <= 0 {
		return fmt.Errorf("breaker fail max must be positive")
	}
	if c.Breaker.ResetTimeout <= 0 {
		return fmt.Errorf("breaker reset timeout must be positive")
	}
	if c.Breaker.SuccessThreshold <= 0 {
		return fmt.Errorf("breaker success threshold must be positive")
	}
	if c.Executor.DefaultTimeout <= 0 {
		return fmt.Errorf("executor default timeout must be positive")
	}
	if c.RateLimit.DefaultLimit <= 0 {
		return fmt.Errorf("rate limit default limit must be positive")
	}
	if c.RateLimit.DefaultWindow <= 0 {
		return fmt.Errorf("rate limit default window must be positive")
	}
	if c.Lock.TTL <= 0 {
		return fmt.Errorf("lock TTL must be positive")
	}
	for class, override := range c.RateLimit.EndpointOverrides {
		if override.Limit <= 0 || override.Window <= 0 {
			return fmt.Errorf("rate limit override for %q must have positive limit and window", class)
		}
	}
	return nil
}

// IsProduction reports whether the service runs with production guarantees
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// RedisAddr returns the Redis host:port address
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// parseEndpointOverrides parses "class=limit:window" pairs separated by commas,
// e.g. "auth=10:1m,reports=5:5m". Malformed entries are skipped.
func parseEndpointOverrides(raw string) map[string]EndpointOverride {
	overrides := make(map[string]EndpointOverride)

	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		class, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		limitStr, windowStr, ok := strings.Cut(value, ":")
		if !ok {
			continue
		}

		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			continue
		}
		window, err := time.ParseDuration(windowStr)
		if err != nil {
			continue
		}

		overrides[strings.TrimSpace(class)] = EndpointOverride{Limit: limit, Window: window}
	}

	return overrides
}

// parseList splits a comma-separated value into trimmed entries
func parseList(raw string) []string {
	if raw == "" {
		return nil
	}

	var values []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	return values
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
