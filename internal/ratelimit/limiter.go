package ratelimit

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sitesage/sitesage/pkg/logging"
	"github.com/sitesage/sitesage/pkg/metrics"
)

// Source identifies which counter store produced a decision.
const (
	SourceShared         = "shared"
	SourceMemoryFallback = "memory-fallback"
)

// Decision is the outcome of a single rate limit check. ResetAfter is
// how long until the current window expires; RetryAfter is set only when
// the request was rejected.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAfter time.Duration
	RetryAfter time.Duration
	Source     string
}

// Limiter enforces fixed-window request limits. It prefers the shared
// store and falls back to the process-local store when the shared store
// returns an error, so limiting keeps working during an outage.
type Limiter struct {
	shared   CounterStore
	local    CounterStore
	degraded atomic.Bool
	metrics  *metrics.Metrics
	logger   *logging.Logger
}

// NewLimiter creates a limiter over the given shared store. A nil shared
// store means every decision comes from local memory.
func NewLimiter(shared CounterStore, m *metrics.Metrics) *Limiter {
	return &Limiter{
		shared:  shared,
		local:   NewLocalStore(),
		metrics: m,
		logger:  logging.GetLogger(),
	}
}

// Check counts one request against key and decides whether it is within
// limit for the current window. Request N is allowed when N <= limit.
func (l *Limiter) Check(ctx context.Context, key string, limit int, window time.Duration) Decision {
	count, expiresIn, source := l.incr(ctx, key, window)

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	decision := Decision{
		Allowed:    count <= int64(limit),
		Limit:      limit,
		Remaining:  remaining,
		ResetAfter: ceilSeconds(expiresIn),
		Source:     source,
	}
	if !decision.Allowed {
		decision.RetryAfter = decision.ResetAfter
	}

	l.metrics.RecordRateLimitDecision(source, decision.Allowed)
	return decision
}

func (l *Limiter) incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, string) {
	if l.shared != nil {
		count, expiresIn, err := l.shared.Incr(ctx, key, window)
		if err == nil {
			if l.degraded.CompareAndSwap(true, false) {
				l.logger.Info("Shared rate limit store recovered")
			}
			return count, expiresIn, SourceShared
		}

		// Log the transition once, not on every request of an outage.
		if l.degraded.CompareAndSwap(false, true) {
			l.logger.LogDegradedMode(ctx, "ratelimit", err.Error())
		}
	}

	count, expiresIn, _ := l.local.Incr(ctx, key, window)
	return count, expiresIn, SourceMemoryFallback
}

// Degraded reports whether the last shared store access failed.
func (l *Limiter) Degraded() bool {
	return l.degraded.Load()
}

// ceilSeconds rounds d up to a whole second so clients never retry early.
func ceilSeconds(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Second
	}
	secs := d / time.Second
	if d%time.Second != 0 {
		secs++
	}
	return secs * time.Second
}
