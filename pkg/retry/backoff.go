package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy defines the interface for different backoff strategies
type BackoffStrategy interface {
	// NextDelay returns the delay before retry number attempt (1-based)
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff implements bounded exponential backoff with jitter.
// Every delay it returns lies in [MinDelay, MaxDelay].
type ExponentialBackoff struct {
	MinDelay     time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64
	// Rand returns a value in [0, 1). Nil uses math/rand.
	Rand func() float64
}

// NewExponentialBackoff returns a backoff bounded by the politeness window
func NewExponentialBackoff(minDelay, maxDelay time.Duration, multiplier float64) *ExponentialBackoff {
	if multiplier < 1 {
		multiplier = 2.0
	}
	return &ExponentialBackoff{
		MinDelay:     minDelay,
		MaxDelay:     maxDelay,
		Multiplier:   multiplier,
		JitterFactor: 0.25,
	}
}

// NextDelay calculates the next delay with exponential growth and jitter
func (eb *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	delay := float64(eb.MinDelay) * math.Pow(eb.Multiplier, float64(attempt-1))

	if eb.JitterFactor > 0 {
		jitter := delay * eb.JitterFactor
		delay += (eb.random() * 2 * jitter) - jitter
	}

	if delay > float64(eb.MaxDelay) {
		delay = float64(eb.MaxDelay)
	}
	if delay < float64(eb.MinDelay) {
		delay = float64(eb.MinDelay)
	}

	return time.Duration(delay)
}

func (eb *ExponentialBackoff) random() float64 {
	if eb.Rand != nil {
		return eb.Rand()
	}
	return rand.Float64()
}

// ConstantBackoff implements constant delay backoff
type ConstantBackoff struct {
	Delay time.Duration
}

// NextDelay returns a constant delay
func (cb *ConstantBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return cb.Delay
}

// Wait waits for the specified duration or until context is cancelled
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
