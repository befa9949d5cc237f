// Package retry computes backoff delays between execution attempts.
package retry

import (
	"math/rand/v2"
	"time"

	"github.com/chronoshq/chronos/internal/domain"
)

// Delay returns the backoff before attempt k (0-indexed: the delay inserted
// after the k+1-th failure) for the given policy. The raw strategy value is
// clamped to the policy's max delay, then jitter is applied when enabled.
func Delay(p domain.RetryPolicy, attempt int) time.Duration {
	d := baseline(p, attempt)

	maxDelay := p.MaxRetryDelay
	if maxDelay <= 0 {
		maxDelay = domain.DefaultMaxDelay
	}
	if d > maxDelay {
		d = maxDelay
	}

	if p.JitterEnabled {
		d = jitter(d, p.JitterFactor)
	}
	if d < 0 {
		d = 0
	}
	return d
}

// baseline computes the un-jittered delay for attempt k.
func baseline(p domain.RetryPolicy, attempt int) time.Duration {
	base := p.RetryDelay
	if base <= 0 {
		base = domain.DefaultRetryDelay
	}
	if attempt < 0 {
		attempt = 0
	}

	switch p.EffectiveStrategy() {
	case domain.RetryStrategyExponential:
		d := base
		for i := 0; i < attempt; i++ {
			d *= 2
			if d < 0 { // overflow
				return 1<<63 - 1
			}
		}
		return d
	case domain.RetryStrategyLinear:
		return base * time.Duration(attempt+1)
	case domain.RetryStrategyFibonacci:
		return base * time.Duration(fib(attempt+1))
	default:
		return base
	}
}

// jitter multiplies d by a uniform factor in [1-f, 1+f].
func jitter(d time.Duration, factor float64) time.Duration {
	if factor <= 0 {
		factor = domain.DefaultJitter
	}
	mult := 1 - factor + 2*factor*rand.Float64()
	if mult < 0 {
		mult = 0
	}
	return time.Duration(float64(d) * mult)
}

// fib returns the n-th Fibonacci number with fib(1) = fib(2) = 1.
func fib(n int) int64 {
	if n <= 2 {
		return 1
	}
	a, b := int64(1), int64(1)
	for i := 3; i <= n; i++ {
		a, b = b, a+b
	}
	return b
}
