package reliability

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// DelayStrategy computes the pause before a redelivery attempt.
type DelayStrategy interface {
	// NextDelay returns the delay before redelivering an envelope
	// whose attempt counter currently holds the given value.
	NextDelay(attempt int) time.Duration
}

// FixedDelay pauses the same duration before every redelivery.
type FixedDelay struct {
	Delay time.Duration
}

// NewFixedDelay creates a fixed delay strategy.
func NewFixedDelay(delay time.Duration) *FixedDelay {
	return &FixedDelay{Delay: delay}
}

// NextDelay implements DelayStrategy.
func (f *FixedDelay) NextDelay(attempt int) time.Duration {
	return f.Delay
}

// LinearBackoff grows the delay linearly with the attempt counter.
type LinearBackoff struct {
	Interval time.Duration
	Jitter   bool
}

// NewLinearBackoff creates a linear backoff strategy with jitter.
func NewLinearBackoff(interval time.Duration) *LinearBackoff {
	return &LinearBackoff{Interval: interval, Jitter: true}
}

// NextDelay implements DelayStrategy.
func (l *LinearBackoff) NextDelay(attempt int) time.Duration {
	delay := time.Duration(attempt+1) * l.Interval
	if l.Jitter {
		jitter := time.Duration(rand.Float64() * float64(delay) * 0.3)
		delay = delay + jitter - (delay * 15 / 100)
	}
	return delay
}

// ExponentialBackoff doubles (or multiplies) the delay per attempt,
// capped at MaxInterval.
type ExponentialBackoff struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Jitter          bool
}

// NewExponentialBackoff creates an exponential backoff strategy with
// jitter enabled.
func NewExponentialBackoff(initial, max time.Duration, multiplier float64) *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialInterval: initial,
		MaxInterval:     max,
		Multiplier:      multiplier,
		Jitter:          true,
	}
}

// NextDelay implements DelayStrategy.
func (e *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	delay := float64(e.InitialInterval) * math.Pow(e.Multiplier, float64(attempt))

	if delay > float64(e.MaxInterval) {
		delay = float64(e.MaxInterval)
	}

	if e.Jitter {
		jitter := rand.Float64() * 0.3 * delay // ±15% jitter
		delay = delay + jitter - (0.15 * delay)
	}

	return time.Duration(delay)
}

// Sleep pauses for d or until the context is cancelled, whichever
// comes first. A zero or negative d returns immediately.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
