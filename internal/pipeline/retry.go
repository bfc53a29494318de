package pipeline

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/dgallion1/sectiongen/internal/llm"
)

// Policy is the classification-aware retry schedule.
type Policy struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	Growth          float64
	MaxDelay        time.Duration
	Jitter          time.Duration
	RateLimitDelay  time.Duration // Added on top of the backoff for rate limits
	RateLimitJitter time.Duration

	rand func(n int64) int64
}

// DefaultPolicy matches the configuration defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		BaseDelay:       5 * time.Second,
		Growth:          2,
		MaxDelay:        120 * time.Second,
		Jitter:          3 * time.Second,
		RateLimitDelay:  30 * time.Second,
		RateLimitJitter: 10 * time.Second,
	}
}

// Backoff returns the delay before retrying after the attempt-th failure
// (0-indexed) of the given class: BaseDelay*Growth^attempt capped at
// MaxDelay, plus jitter. Rate limits wait RateLimitDelay longer.
func (p Policy) Backoff(class llm.Class, attempt int) time.Duration {
	growth := p.Growth
	if growth < 1 {
		growth = 1
	}
	d := time.Duration(float64(p.BaseDelay) * math.Pow(growth, float64(attempt)))
	if d > p.MaxDelay || d < 0 {
		d = p.MaxDelay
	}
	if class == llm.ClassRateLimit {
		return d + p.RateLimitDelay + p.jitter(p.RateLimitJitter)
	}
	return d + p.jitter(p.Jitter)
}

func (p Policy) jitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	fn := p.rand
	if fn == nil {
		fn = rand.Int64N
	}
	return time.Duration(fn(int64(limit)))
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
