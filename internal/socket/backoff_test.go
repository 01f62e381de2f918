package socket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffWithoutJitter(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 30 * time.Second}

	want := []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second,
	}
	for attempt, w := range want {
		assert.Equal(t, w, b.Delay(attempt), "attempt %d", attempt)
	}
}

func TestBackoffJitterBounds(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 30 * time.Second, Jitter: 0.2, Rand: func() float64 { return 0.999 }}

	d := b.Delay(1)
	assert.GreaterOrEqual(t, d, 2*time.Second)
	assert.Less(t, d, 2400*time.Millisecond)
}

func TestBackoffIsMonotone(t *testing.T) {
	lows := Backoff{Base: time.Second, Max: 30 * time.Second, Jitter: 0.2, Rand: func() float64 { return 0 }}
	highs := lows
	highs.Rand = func() float64 { return 0.999 }

	for attempt := 0; attempt < 10; attempt++ {
		assert.LessOrEqual(t, highs.Delay(attempt), lows.Delay(attempt+1), "attempt %d", attempt)
		assert.LessOrEqual(t, highs.Delay(attempt), 30*time.Second)
	}
}

func TestBackoffNegativeAttempt(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 30 * time.Second}
	assert.Equal(t, time.Second, b.Delay(-3))
}

func TestDefaultBackoff(t *testing.T) {
	b := DefaultBackoff()
	assert.Equal(t, time.Second, b.Base)
	assert.Equal(t, 30*time.Second, b.Max)
	assert.InDelta(t, 0.2, b.Jitter, 1e-9)
}
