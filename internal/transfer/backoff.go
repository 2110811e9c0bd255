package transfer

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig stretches retransmission timeouts on repeated attempts.
type BackoffConfig struct {
	Multiplier float64
	MaxDelay   time.Duration
	Jitter     bool
}

// NextBackoffDelay returns the timeout before retry attempt N (1-based)
// given the base timeout for the PDU kind.
func NextBackoffDelay(base time.Duration, cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt <= 1 {
		return base
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	delay := float64(base) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay = delay * f
	}
	return time.Duration(delay)
}
