package resilience

import (
	"math/rand/v2"
	"time"
)

// attemptBackOff waits 2^(n-1) units plus up to one unit of jitter before
// retry n. It implements backoff.BackOff.
type attemptBackOff struct {
	unit    time.Duration
	attempt int
	jitter  func() float64
}

func newAttemptBackOff(unit time.Duration) *attemptBackOff {
	return &attemptBackOff{unit: unit, jitter: rand.Float64}
}

func (b *attemptBackOff) NextBackOff() time.Duration {
	b.attempt++
	return time.Duration(1<<(b.attempt-1))*b.unit + time.Duration(b.jitter()*float64(b.unit))
}

func (b *attemptBackOff) Reset() {
	b.attempt = 0
}
