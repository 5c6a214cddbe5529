package session

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig paces reconnect attempts. Earthworm exports expect a fixed
// retry interval, which is a Multiplier of 1 with no jitter.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Delay returns the wait before connect attempt N (1-based) is retried.
func (b BackoffConfig) Delay(attempt int, rng *rand.Rand) time.Duration {
	if b.InitialDelay <= 0 {
		return 0
	}
	delay := float64(b.InitialDelay)
	if attempt > 1 && b.Multiplier > 1 {
		delay *= math.Pow(b.Multiplier, float64(attempt-1))
	}
	if b.MaxDelay > 0 && delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}
	if b.Jitter && rng != nil {
		delay *= 0.5 + rng.Float64()
	}
	return time.Duration(delay)
}
