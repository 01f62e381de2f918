package socket

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/Guliveer/pusher-go/internal/constants"
)

// Backoff computes reconnect delays: min(base*2^attempt + jitter, max), with
// jitter drawn from [0, Jitter) of the exponential term. Jitter below 1
// keeps the sequence non-decreasing.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
	// Rand returns a value in [0, 1). Defaults to math/rand/v2.
	Rand func() float64
}

// DefaultBackoff returns the 1s/30s/20% policy.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:   constants.DefaultReconnectBaseDelay,
		Max:    constants.DefaultReconnectMaxDelay,
		Jitter: constants.ReconnectJitterFraction,
	}
}

// Delay returns the wait before the reconnect following attempt failures.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	maxDelay := float64(b.Max)
	exp := float64(b.Base) * math.Pow(2, float64(attempt))
	if exp >= maxDelay {
		return b.Max
	}

	rnd := b.Rand
	if rnd == nil {
		rnd = rand.Float64
	}
	total := exp + exp*b.Jitter*rnd()
	if total > maxDelay {
		return b.Max
	}
	return time.Duration(total)
}
