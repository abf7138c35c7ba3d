package resilience

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/sitesage/sitesage/pkg/errors"
	"github.com/sitesage/sitesage/pkg/logging"
	"github.com/sitesage/sitesage/pkg/metrics"
)

// Work is a unit of work executed against an external dependency
type Work func(ctx context.Context) (interface{}, error)

// Result carries the outcome of an asynchronous facade call
type Result struct {
	Value interface{}
	Err   error
}

// Executor composes the timeout executor with the breaker registry into the
// single call contract used by all upstream-dependency call sites.
type Executor struct {
	registry       *Registry
	defaultTimeout time.Duration
	enabled        bool
	metrics        *metrics.Metrics
	logger         *logging.Logger
}

// NewExecutor creates an external call executor over the given registry
func NewExecutor(registry *Registry, defaultTimeout time.Duration, m *metrics.Metrics) *Executor {
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}

	return &Executor{
		registry:       registry,
		defaultTimeout: defaultTimeout,
		enabled:        registry.config.Enabled,
		metrics:        m,
		logger:         logging.GetLogger(),
	}
}

// Do executes fn under the default timeout, guarded by the breaker for name
func (e *Executor) Do(ctx context.Context, name string, fn Work) (interface{}, error) {
	return e.DoWithTimeout(ctx, name, e.defaultTimeout, fn)
}

// DoWithTimeout executes fn under an explicit deadline, guarded by the
// breaker for name. It blocks the caller for at most the timeout and returns
// a typed error distinguishing circuit-open, timeout, and request failures.
func (e *Executor) DoWithTimeout(ctx context.Context, name string, timeout time.Duration, fn Work) (interface{}, error) {
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}

	var cb *CircuitBreaker
	if e.enabled {
		cb = e.registry.Breaker(name)
		if err := cb.allow(); err != nil {
			e.metrics.RecordExternalCall(name, "circuit_open", 0)
			return nil, err
		}
	}

	start := time.Now()
	value, err := runWithDeadline(ctx, timeout, fn)
	duration := time.Since(start)

	switch {
	case err == nil:
		if cb != nil {
			cb.recordSuccess()
			e.metrics.SetCircuitBreakerState(name, int(cb.State()))
		}
		e.metrics.RecordExternalCall(name, "success", duration)
		return value, nil

	case stderrors.Is(err, context.Canceled):
		// The caller walked away; the dependency did not fail. The breaker
		// tracks dependency health, so nothing is recorded against it.
		if cb != nil {
			cb.releaseProbe()
		}
		e.metrics.RecordExternalCall(name, "canceled", duration)
		return nil, err

	case err == context.DeadlineExceeded:
		if cb != nil {
			cb.recordFailure()
			e.metrics.SetCircuitBreakerState(name, int(cb.State()))
		}
		e.metrics.RecordExternalCall(name, "timeout", duration)
		e.logger.WithComponent("executor").WithFields(map[string]interface{}{
			"dependency": name,
			"timeout":    timeout.String(),
		}).Warn("External call abandoned after deadline")
		return nil, errors.NewTimeoutError(name)

	default:
		if cb != nil {
			cb.recordFailure()
			e.metrics.SetCircuitBreakerState(name, int(cb.State()))
		}
		e.metrics.RecordExternalCall(name, "error", duration)
		return nil, errors.NewExternalError(name, "dependency call failed").WithCause(err)
	}
}

// Go is the non-blocking variant of DoWithTimeout. It returns a channel that
// receives exactly one Result; breaker semantics are identical to the
// blocking variant.
func (e *Executor) Go(ctx context.Context, name string, timeout time.Duration, fn Work) <-chan Result {
	out := make(chan Result, 1)

	go func() {
		value, err := e.DoWithTimeout(ctx, name, timeout, fn)
		out <- Result{Value: value, Err: err}
	}()

	return out
}

// States exposes breaker status by dependency name for observability
func (e *Executor) States() map[string]string {
	return e.registry.States()
}

// runWithDeadline runs fn in its own goroutine and waits for its result or
// the deadline, whichever comes first. A timed-out unit of work is abandoned:
// its goroutine keeps running but the result is never awaited, so the result
// channel is buffered to let it finish.
func runWithDeadline(ctx context.Context, timeout time.Duration, fn Work) (interface{}, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value interface{}
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic in unit of work: %v", r)}
			}
		}()
		value, err := fn(callCtx)
		done <- outcome{value: value, err: err}
	}()

	select {
	case o := <-done:
		return o.value, o.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			// The caller's own context ended; report its reason rather
			// than inventing a timeout.
			return nil, ctx.Err()
		}
		return nil, context.DeadlineExceeded
	}
}
