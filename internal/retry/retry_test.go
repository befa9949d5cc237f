package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/chronoshq/chronos/internal/domain"
)

func policy(strategy domain.RetryStrategy) domain.RetryPolicy {
	return domain.RetryPolicy{
		MaxRetries:    5,
		RetryDelay:    time.Second,
		MaxRetryDelay: time.Hour,
		Strategy:      strategy,
	}
}

func TestDelay_Fixed(t *testing.T) {
	p := policy(domain.RetryStrategyFixed)
	for attempt := 0; attempt < 4; attempt++ {
		assert.Equal(t, time.Second, Delay(p, attempt))
	}
}

func TestDelay_Exponential(t *testing.T) {
	p := policy(domain.RetryStrategyExponential)
	assert.Equal(t, 1*time.Second, Delay(p, 0))
	assert.Equal(t, 2*time.Second, Delay(p, 1))
	assert.Equal(t, 4*time.Second, Delay(p, 2))
	assert.Equal(t, 8*time.Second, Delay(p, 3))
}

func TestDelay_Linear(t *testing.T) {
	p := policy(domain.RetryStrategyLinear)
	assert.Equal(t, 1*time.Second, Delay(p, 0))
	assert.Equal(t, 2*time.Second, Delay(p, 1))
	assert.Equal(t, 3*time.Second, Delay(p, 2))
}

func TestDelay_Fibonacci(t *testing.T) {
	p := policy(domain.RetryStrategyFibonacci)
	want := []time.Duration{1, 1, 2, 3, 5, 8}
	for attempt, w := range want {
		assert.Equal(t, w*time.Second, Delay(p, attempt), "attempt %d", attempt)
	}
}

func TestDelay_ClampedToMax(t *testing.T) {
	p := policy(domain.RetryStrategyExponential)
	p.MaxRetryDelay = 5 * time.Second
	assert.Equal(t, 5*time.Second, Delay(p, 10))
}

func TestDelay_DefaultMaxDelay(t *testing.T) {
	p := policy(domain.RetryStrategyExponential)
	p.MaxRetryDelay = 0
	// 2^30 seconds would be astronomical; default 1h cap applies.
	assert.Equal(t, domain.DefaultMaxDelay, Delay(p, 30))
}

func TestDelay_Jitter(t *testing.T) {
	p := policy(domain.RetryStrategyFixed)
	p.RetryDelay = 10 * time.Second
	p.JitterEnabled = true
	p.JitterFactor = 0.2

	for i := 0; i < 100; i++ {
		d := Delay(p, 0)
		assert.GreaterOrEqual(t, d, 8*time.Second)
		assert.LessOrEqual(t, d, 12*time.Second)
	}
}

func TestDelay_NeverNegative(t *testing.T) {
	p := policy(domain.RetryStrategyFixed)
	p.JitterEnabled = true
	p.JitterFactor = 1.0
	for i := 0; i < 100; i++ {
		assert.GreaterOrEqual(t, Delay(p, 0), time.Duration(0))
	}
}

func TestDelay_LegacyExponentialFlag(t *testing.T) {
	p := domain.RetryPolicy{RetryDelay: time.Second, UseExponentialBackoff: true, MaxRetryDelay: time.Hour}
	assert.Equal(t, 4*time.Second, Delay(p, 2))
}
