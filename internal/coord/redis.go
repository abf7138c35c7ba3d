package coord

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sitesage/sitesage/pkg/config"
	"github.com/sitesage/sitesage/pkg/errors"
)

// incrWithWindowScript increments a window counter and pins its expiry at the
// first write, so later increments never extend the window.
var incrWithWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
    redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {count, ttl}
`)

// releaseIfMatchScript deletes a key only when it still holds the presented
// value, so a stale holder can never release a lock it lost to expiry.
var releaseIfMatchScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisClient wraps the Redis client used as the shared coordination store
type RedisClient struct {
	client *redis.Client
	config *config.RedisConfig
}

// NewRedisClient creates a new coordination store client and verifies
// connectivity before returning it.
func NewRedisClient(cfg *config.RedisConfig) (*RedisClient, error) {
	if cfg == nil {
		return nil, errors.NewValidationError("Redis configuration is required")
	}

	opts := &redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,

		// Connection timeouts
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		// Pool timeouts
		PoolTimeout:     4 * time.Second,
		ConnMaxIdleTime: 5 * time.Minute,

		// Retry configuration
		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.NewInternalError("failed to connect to Redis").WithCause(err)
	}

	return &RedisClient{
		client: client,
		config: cfg,
	}, nil
}

// NewFromClient wraps an existing Redis client. Used by tests that talk to an
// in-memory server.
func NewFromClient(client *redis.Client) *RedisClient {
	return &RedisClient{client: client}
}

// Close closes the Redis connection
func (r *RedisClient) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Health checks the Redis connection health
func (r *RedisClient) Health(ctx context.Context) error {
	if r.client == nil {
		return errors.NewInternalError("Redis client is nil")
	}

	if err := r.client.Ping(ctx).Err(); err != nil {
		return errors.NewInternalError("Redis health check failed").WithCause(err)
	}

	return nil
}

// Client returns the underlying Redis client
func (r *RedisClient) Client() *redis.Client {
	return r.client
}

// Stats returns Redis connection statistics
func (r *RedisClient) Stats() *redis.PoolStats {
	return r.client.PoolStats()
}

// IncrWithWindow atomically increments the counter at key, starting a fixed
// window of the given length when this increment creates the key. It returns
// the post-increment count and the remaining window lifetime.
func (r *RedisClient) IncrWithWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	result, err := incrWithWindowScript.Run(ctx, r.client, []string{key}, window.Milliseconds()).Result()
	if err != nil {
		return 0, 0, errors.NewInternalError("failed to increment window counter").WithCause(err)
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, errors.NewInternalError("unexpected counter script reply")
	}

	count, _ := values[0].(int64)
	ttlMillis, _ := values[1].(int64)
	if ttlMillis < 0 {
		ttlMillis = 0
	}

	return count, time.Duration(ttlMillis) * time.Millisecond, nil
}

// SetIfAbsent stores value at key with the given TTL only when the key does
// not exist. It reports whether the write happened.
func (r *RedisClient) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	created, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, errors.NewInternalError("failed to set key if absent").WithCause(err)
	}
	return created, nil
}

// ReleaseIfMatch deletes key only when it still holds value. It reports
// whether the delete happened; a mismatch is not an error.
func (r *RedisClient) ReleaseIfMatch(ctx context.Context, key, value string) (bool, error) {
	deleted, err := releaseIfMatchScript.Run(ctx, r.client, []string{key}, value).Int64()
	if err != nil {
		return false, errors.NewInternalError("failed to release key").WithCause(err)
	}
	return deleted == 1, nil
}

// Get gets a value by key
func (r *RedisClient) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", errors.NewNotFoundError("key")
		}
		return "", errors.NewInternalError("failed to get Redis key").WithCause(err)
	}
	return val, nil
}

// TTL returns the time to live of a key
func (r *RedisClient) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := r.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, errors.NewInternalError("failed to get Redis key TTL").WithCause(err)
	}
	return ttl, nil
}
