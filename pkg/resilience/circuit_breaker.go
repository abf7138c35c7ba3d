package resilience

import (
	"sync"
	"time"

	"github.com/sitesage/sitesage/pkg/errors"
	"github.com/sitesage/sitesage/pkg/logging"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	// StateClosed - circuit is closed, requests are allowed
	StateClosed CircuitState = iota
	// StateOpen - circuit is open, requests are rejected
	StateOpen
	// StateHalfOpen - circuit is half-open, limited probe requests are allowed
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config holds configuration shared by all breakers in a registry
type Config struct {
	// Enabled toggles breaker consultation. When false every call behaves as
	// if no breaker existed; deadlines still apply.
	Enabled bool
	// FailMax is the number of consecutive failures that opens the circuit
	FailMax int
	// ResetTimeout is how long an open circuit rejects calls before probing
	ResetTimeout time.Duration
	// SuccessThreshold is the number of consecutive half-open successes
	// required to close the circuit again
	SuccessThreshold int
	// OnStateChange is called whenever a breaker changes state
	OnStateChange func(name string, from CircuitState, to CircuitState)
}

// DefaultConfig returns a default breaker configuration
func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		FailMax:          5,
		ResetTimeout:     30 * time.Second,
		SuccessThreshold: 2,
	}
}

// CircuitBreaker tracks the health of one named dependency. State transitions
// are serialized behind its mutex.
type CircuitBreaker struct {
	name             string
	failMax          int
	resetTimeout     time.Duration
	successThreshold int
	onStateChange    func(name string, from CircuitState, to CircuitState)

	mutex               sync.Mutex
	state               CircuitState
	consecutiveFailures int
	halfOpenRequests    int
	halfOpenSuccesses   int
	openedAt            time.Time

	logger *logging.Logger
}

func newCircuitBreaker(name string, config Config) *CircuitBreaker {
	return &CircuitBreaker{
		name:             name,
		failMax:          config.FailMax,
		resetTimeout:     config.ResetTimeout,
		successThreshold: config.SuccessThreshold,
		onStateChange:    config.OnStateChange,
		state:            StateClosed,
		logger:           logging.GetLogger(),
	}
}

// Name returns the dependency name this breaker guards
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() CircuitState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// allow decides whether a call may proceed. It performs the OPEN -> HALF_OPEN
// transition once the reset timeout has elapsed and reserves a probe slot in
// the half-open state.
func (cb *CircuitBreaker) allow() error {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := time.Now()

	switch cb.state {
	case StateOpen:
		if now.Sub(cb.openedAt) < cb.resetTimeout {
			return errors.NewCircuitOpenError(cb.name)
		}
		cb.setState(StateHalfOpen, now)
		cb.halfOpenRequests++
		return nil
	case StateHalfOpen:
		if cb.halfOpenRequests >= cb.successThreshold {
			return errors.NewCircuitOpenError(cb.name)
		}
		cb.halfOpenRequests++
		return nil
	default:
		return nil
	}
}

// releaseProbe returns a reserved half-open probe slot for a call that ended
// without a verdict on the dependency, such as a caller-side cancellation.
func (cb *CircuitBreaker) releaseProbe() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if cb.state == StateHalfOpen && cb.halfOpenRequests > 0 {
		cb.halfOpenRequests--
	}
}

// recordSuccess updates counters after a successful call
func (cb *CircuitBreaker) recordSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.halfOpenSuccesses++
		if cb.halfOpenSuccesses >= cb.successThreshold {
			cb.setState(StateClosed, time.Now())
		}
	case StateClosed:
		cb.consecutiveFailures = 0
	}
}

// recordFailure updates counters after a failed or timed-out call
func (cb *CircuitBreaker) recordFailure() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.consecutiveFailures++
	now := time.Now()

	switch cb.state {
	case StateHalfOpen:
		// A single failed probe reopens the circuit.
		cb.setState(StateOpen, now)
	case StateClosed:
		if cb.consecutiveFailures >= cb.failMax {
			cb.setState(StateOpen, now)
		}
	}
}

// setState transitions the breaker and resets per-state counters.
// Callers must hold the mutex.
func (cb *CircuitBreaker) setState(state CircuitState, now time.Time) {
	if cb.state == state {
		return
	}

	prev := cb.state
	cb.state = state

	switch state {
	case StateOpen:
		cb.openedAt = now
		cb.halfOpenRequests = 0
		cb.halfOpenSuccesses = 0
	case StateClosed:
		cb.consecutiveFailures = 0
		cb.halfOpenRequests = 0
		cb.halfOpenSuccesses = 0
		cb.openedAt = time.Time{}
	case StateHalfOpen:
		cb.halfOpenRequests = 0
		cb.halfOpenSuccesses = 0
	}

	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, prev, state)
	}

	cb.logger.Info("Circuit breaker state changed",
		"name", cb.name,
		"from", prev.String(),
		"to", state.String(),
		"consecutive_failures", cb.consecutiveFailures,
	)
}

// Registry is a process-wide map from dependency name to breaker state.
// Breakers are created lazily on first reference and live for the registry's
// lifetime.
type Registry struct {
	mutex    sync.RWMutex
	breakers map[string]*CircuitBreaker
	config   Config
}

// NewRegistry creates a breaker registry with the given shared configuration
func NewRegistry(config Config) *Registry {
	if config.FailMax <= 0 {
		config.FailMax = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}

	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		config:   config,
	}
}

// Breaker returns the breaker for a dependency name, creating it on first use
func (r *Registry) Breaker(name string) *CircuitBreaker {
	r.mutex.RLock()
	cb, ok := r.breakers[name]
	r.mutex.RUnlock()
	if ok {
		return cb
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if cb, ok = r.breakers[name]; ok {
		return cb
	}

	cb = newCircuitBreaker(name, r.config)
	r.breakers[name] = cb
	return cb
}

// States returns a snapshot of breaker states by dependency name
func (r *Registry) States() map[string]string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	states := make(map[string]string, len(r.breakers))
	for name, cb := range r.breakers {
		states[name] = cb.State().String()
	}
	return states
}

// Reset clears all breakers. Intended for test teardown.
func (r *Registry) Reset() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.breakers = make(map[string]*CircuitBreaker)
}
