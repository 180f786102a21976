// Package conn owns the single logical session to the Houdini bridge:
// retry policy, the connection state machine, and liveness monitoring.
package conn

import (
	"math"
	"math/rand"
	"time"

	"github.com/scanline-labs/houbridge/rpc"
)

// Backoff delays are scaled by a uniformly random factor in
// [1-jitterFraction, 1+jitterFraction] when jitter is enabled, so a herd
// of clients that lost the same Houdini process does not reconnect in
// lockstep.
const jitterFraction = 0.1

// RetryPolicy is immutable backoff configuration. Construct once at
// startup; a single value may be shared by any number of managers.
type RetryPolicy struct {
	// MaxRetries is the number of attempts made after the first one.
	MaxRetries int
	// BaseDelay is the delay before the second attempt.
	BaseDelay time.Duration
	// MaxDelay caps the computed delay before jitter is applied.
	MaxDelay time.Duration
	// ExponentialBase is the per-attempt growth factor (> 1).
	ExponentialBase float64
	// Jitter randomizes each delay to avoid thundering herds.
	Jitter bool
}

// DefaultRetryPolicy mirrors the bridge's stock reconnect behavior.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      3,
		BaseDelay:       time.Second,
		MaxDelay:        30 * time.Second,
		ExponentialBase: 2.0,
		Jitter:          true,
	}
}

// NextDelay computes the delay to sleep after attempt (zero-based)
// failed: min(MaxDelay, BaseDelay * ExponentialBase^attempt), then
// jitter-scaled when enabled. Pure function of policy and attempt.
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	base := float64(p.BaseDelay) * math.Pow(p.ExponentialBase, float64(attempt))
	if max := float64(p.MaxDelay); base > max {
		base = max
	}

	if p.Jitter {
		// #nosec G404 -- weak randomness is fine for backoff jitter.
		factor := 1 - jitterFraction + 2*jitterFraction*rand.Float64()
		base *= factor
	}

	return time.Duration(base)
}

// IsRetryable reports whether a connect failure is worth another
// attempt. Only the transient network family qualifies; anything else
// terminates the retry loop immediately.
func (p RetryPolicy) IsRetryable(err error) bool {
	return rpc.IsTransient(err)
}
