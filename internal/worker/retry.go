package worker

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy implements §4.4's uniform backoff: delay for attempt N≥1 is
// min(2^(N-1) + jitter_uniform(0,1), 30) seconds, capped at MaxAttempts
// (1 initial + retries).
type RetryPolicy struct {
	MaxAttempts int
	MaxDelay    time.Duration
	rand        *rand.Rand
}

// DefaultRetryPolicy is 1 initial attempt + 5 retries, capped at 30s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 6,
		MaxDelay:    30 * time.Second,
		rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Delay returns the backoff duration before attempt N (1-indexed; N=1 is
// the first retry after the initial attempt).
func (p RetryPolicy) Delay(attemptN int) time.Duration {
	base := math.Pow(2, float64(attemptN-1))
	jitter := p.jitter()
	seconds := base + jitter
	if seconds > p.MaxDelay.Seconds() {
		seconds = p.MaxDelay.Seconds()
	}
	return time.Duration(seconds * float64(time.Second))
}

func (p RetryPolicy) jitter() float64 {
	if p.rand == nil {
		return 0
	}
	return p.rand.Float64()
}

// Exhausted reports whether attemptN has used up every attempt this
// policy allows (1 initial + MaxAttempts-1 retries).
func (p RetryPolicy) Exhausted(attemptN int) bool {
	return attemptN >= p.MaxAttempts
}
