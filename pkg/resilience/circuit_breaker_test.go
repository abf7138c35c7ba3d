package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitesage/sitesage/pkg/errors"
)

func testConfig() Config {
	return Config{
		Enabled:          true,
		FailMax:          3,
		ResetTimeout:     50 * time.Millisecond,
		SuccessThreshold: 2,
	}
}

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	registry := NewRegistry(testConfig())

	cb := registry.Breaker("llm")
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_OpensAfterFailMax(t *testing.T) {
	registry := NewRegistry(testConfig())
	cb := registry.Breaker("llm")

	for i := 0; i < 2; i++ {
		require.NoError(t, cb.allow())
		cb.recordFailure()
		assert.Equal(t, StateClosed, cb.State())
	}

	require.NoError(t, cb.allow())
	cb.recordFailure()
	assert.Equal(t, StateOpen, cb.State())

	// Open circuit rejects without attempting the call.
	err := cb.allow()
	require.Error(t, err)
	assert.True(t, errors.IsCircuitOpen(err))
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	registry := NewRegistry(testConfig())
	cb := registry.Breaker("llm")

	cb.recordFailure()
	cb.recordFailure()
	cb.recordSuccess()
	cb.recordFailure()
	cb.recordFailure()

	// Failures were never consecutive enough to trip.
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	registry := NewRegistry(testConfig())
	cb := registry.Breaker("llm")

	for i := 0; i < 3; i++ {
		cb.recordFailure()
	}
	assert.Equal(t, StateOpen, cb.State())

	time.Sleep(60 * time.Millisecond)

	// The next call transitions the breaker to half-open.
	require.NoError(t, cb.allow())
	assert.Equal(t, StateHalfOpen, cb.State())
}

func TestCircuitBreaker_ClosesAfterSuccessThreshold(t *testing.T) {
	registry := NewRegistry(testConfig())
	cb := registry.Breaker("llm")

	for i := 0; i < 3; i++ {
		cb.recordFailure()
	}
	time.Sleep(60 * time.Millisecond)

	require.NoError(t, cb.allow())
	cb.recordSuccess()
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.allow())
	cb.recordSuccess()
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_SingleHalfOpenFailureReopens(t *testing.T) {
	registry := NewRegistry(testConfig())
	cb := registry.Breaker("llm")

	for i := 0; i < 3; i++ {
		cb.recordFailure()
	}
	time.Sleep(60 * time.Millisecond)

	require.NoError(t, cb.allow())
	cb.recordFailure()
	assert.Equal(t, StateOpen, cb.State())

	// The reopen refreshed openedAt, so calls are rejected again.
	err := cb.allow()
	require.Error(t, err)
	assert.True(t, errors.IsCircuitOpen(err))
}

func TestCircuitBreaker_HalfOpenLimitsProbes(t *testing.T) {
	registry := NewRegistry(testConfig())
	cb := registry.Breaker("llm")

	for i := 0; i < 3; i++ {
		cb.recordFailure()
	}
	time.Sleep(60 * time.Millisecond)

	// SuccessThreshold is 2, so two probes are admitted and the third is not.
	require.NoError(t, cb.allow())
	require.NoError(t, cb.allow())
	err := cb.allow()
	require.Error(t, err)
	assert.True(t, errors.IsCircuitOpen(err))
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	var transitions []string
	config := testConfig()
	config.OnStateChange = func(name string, from, to CircuitState) {
		transitions = append(transitions, from.String()+"->"+to.String())
	}

	registry := NewRegistry(config)
	cb := registry.Breaker("search")

	for i := 0; i < 3; i++ {
		cb.recordFailure()
	}
	time.Sleep(60 * time.Millisecond)
	require.NoError(t, cb.allow())
	cb.recordSuccess()
	require.NoError(t, cb.allow())
	cb.recordSuccess()

	assert.Equal(t, []string{
		"CLOSED->OPEN",
		"OPEN->HALF_OPEN",
		"HALF_OPEN->CLOSED",
	}, transitions)
}

func TestRegistry_LazyCreationAndStates(t *testing.T) {
	registry := NewRegistry(testConfig())

	assert.Empty(t, registry.States())

	cb := registry.Breaker("llm")
	assert.Same(t, cb, registry.Breaker("llm"))

	registry.Breaker("search").recordFailure()

	states := registry.States()
	assert.Equal(t, map[string]string{
		"llm":    "CLOSED",
		"search": "CLOSED",
	}, states)
}

func TestRegistry_Reset(t *testing.T) {
	registry := NewRegistry(testConfig())

	cb := registry.Breaker("llm")
	for i := 0; i < 3; i++ {
		cb.recordFailure()
	}
	assert.Equal(t, StateOpen, cb.State())

	registry.Reset()
	assert.Empty(t, registry.States())
	assert.Equal(t, StateClosed, registry.Breaker("llm").State())
}

func TestRegistry_DefaultsAppliedToZeroConfig(t *testing.T) {
	registry := NewRegistry(Config{Enabled: true})
	cb := registry.Breaker("llm")

	assert.Equal(t, 5, cb.failMax)
	assert.Equal(t, 30*time.Second, cb.resetTimeout)
	assert.Equal(t, 1, cb.successThreshold)
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "CLOSED", StateClosed.String())
	assert.Equal(t, "OPEN", StateOpen.String())
	assert.Equal(t, "HALF_OPEN", StateHalfOpen.String())
	assert.Equal(t, "UNKNOWN", CircuitState(42).String())
}
