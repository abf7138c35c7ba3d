package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/sitesage/sitesage/internal/coord"
)

// CounterStore increments a windowed request counter and reports how much
// of the current window remains. The window lifetime is fixed when the
// first increment creates the counter.
type CounterStore interface {
	Incr(ctx context.Context, key string, window time.Duration) (count int64, expiresIn time.Duration, err error)
}

// RedisStore counts requests in Redis so that all instances share one view
// of each client's window.
type RedisStore struct {
	client *coord.RedisClient
	prefix string
}

// NewRedisStore creates a shared counter store backed by the given client.
func NewRedisStore(client *coord.RedisClient) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "sitesage:ratelimit:",
	}
}

// Incr atomically increments the counter for key, starting a new window
// when the key does not exist yet.
func (s *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	return s.client.IncrWithWindow(ctx, s.prefix+key, window)
}

type localCounter struct {
	count     int64
	windowEnd time.Time
}

// LocalStore is a process-local counter store used when the shared store
// is unreachable. It applies the same fixed-window semantics, but each
// instance counts only its own traffic.
type LocalStore struct {
	mu       sync.Mutex
	counters map[string]*localCounter
}

// NewLocalStore creates an empty in-memory counter store.
func NewLocalStore() *LocalStore {
	return &LocalStore{
		counters: make(map[string]*localCounter),
	}
}

// Incr increments the counter for key, resetting it when the previous
// window has expired.
func (s *LocalStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok || !now.Before(c.windowEnd) {
		c = &localCounter{windowEnd: now.Add(window)}
		s.counters[key] = c
	}

	c.count++
	return c.count, c.windowEnd.Sub(now), nil
}

// Len returns the number of tracked keys, expired entries included.
func (s *LocalStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters)
}
