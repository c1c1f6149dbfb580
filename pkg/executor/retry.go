package executor

import (
	"math"
	"math/rand"
	"time"
)

// Strategy computes the delay before retry attempt n (zero-based: the
// delay after the first failed attempt is DelayFor(0)).
type Strategy interface {
	DelayFor(attempt int) time.Duration
}

// FixedDelay retries at a constant interval.
type FixedDelay struct {
	Delay time.Duration
}

func (s FixedDelay) DelayFor(int) time.Duration { return s.Delay }

// ExponentialBackoff doubles the delay per attempt up to Max, with
// optional full jitter to spread retry storms.
type ExponentialBackoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter bool
}

func (s ExponentialBackoff) DelayFor(attempt int) time.Duration {
	base := s.Base
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	max := s.Max
	if max <= 0 {
		max = 30 * time.Second
	}

	d := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if d > max || d <= 0 {
		d = max
	}
	if s.Jitter {
		d = time.Duration(rand.Int63n(int64(d) + 1))
	}
	return d
}
