package engine

import (
	"math/rand"
	"time"
)

const maxBackoff = 2 * time.Minute

// calculateBackoff calculates a backoff duration with jitter.
func calculateBackoff(retryCount int, baseDelay time.Duration) time.Duration {
	if baseDelay <= 0 {
		return 0
	}

	// Exponential backoff: 2^retryCount * baseDelay
	delay := baseDelay * (1 << uint(min(retryCount, 16)))

	// Jitter between 75% and 125% of the computed delay.
	jitterFactor := 0.75 + 0.5*rand.Float64()
	jitter := time.Duration(float64(delay) * jitterFactor)

	if jitter > maxBackoff {
		jitter = maxBackoff
	}

	return jitter
}
