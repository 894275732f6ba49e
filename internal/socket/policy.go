package socket

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy maps a reconnect attempt number (0-based) to the delay before
// the next dial.
type RetryPolicy func(attempt int) time.Duration

// ConstantDelay retries at a fixed interval, forever. This is the production
// default (see Config) at one second.
func ConstantDelay(d time.Duration) RetryPolicy {
	return func(int) time.Duration { return d }
}

// ExponentialBackoff doubles base per attempt, adds up to 50% jitter to
// spread reconnect storms, and caps at max.
func ExponentialBackoff(base, max time.Duration) RetryPolicy {
	return func(attempt int) time.Duration {
		jitter := rand.Float64() * 0.5 * float64(base)
		d := math.Min(float64(base)*math.Pow(2, float64(attempt))+jitter, float64(max))
		return time.Duration(d)
	}
}
