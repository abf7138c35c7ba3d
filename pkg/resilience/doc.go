// Package resilience provides circuit breakers, bounded-time execution,
// and retry logic for calls to SiteSage's external dependencies.
//
// This package implements the following patterns:
//
// # Circuit Breaker Pattern
//
// The circuit breaker pattern prevents cascading failures by tracking
// consecutive failures per dependency and temporarily blocking requests
// once the failure threshold is reached. Breakers are managed by a
// registry keyed by dependency name.
//
//	registry := resilience.NewRegistry(resilience.Config{
//		Enabled:          true,
//		FailMax:          5,
//		ResetTimeout:     30 * time.Second,
//		SuccessThreshold: 2,
//	})
//	cb := registry.Breaker("pagespeed")
//
// # Bounded Execution
//
// The Executor combines a per-call deadline with the circuit breaker
// registry. Every external call goes through Do or DoWithTimeout, which
// short-circuits when the breaker is open, enforces the deadline, and
// records the outcome.
//
//	exec := resilience.NewExecutor(registry, 30*time.Second, metrics)
//	result, err := exec.DoWithTimeout(ctx, "pagespeed", 10*time.Second,
//		func(ctx context.Context) (interface{}, error) {
//			return pagespeed.Analyze(ctx, url)
//		})
//
// # Retry with Exponential Backoff
//
// The retry mechanism automatically retries failed operations with
// exponential backoff and jitter to avoid thundering herd problems.
// Only transient errors are retried; circuit-open and rate-limit
// rejections are surfaced immediately.
//
//	retrier := resilience.NewRetrier(resilience.DefaultRetryConfig())
//	err := retrier.Execute(ctx, func(ctx context.Context) error {
//		return riskyOperation(ctx)
//	})
//
// The package is designed to be thread-safe and can handle high-concurrency
// scenarios typical in distributed systems.
package resilience
