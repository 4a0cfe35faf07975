package resilience

import (
	"sync/atomic"
)

// TripFunc is called once when a breaker reaches its threshold.
type TripFunc func(name string, consecutive int64, lastErr error)

// Breaker counts consecutive failures on one intake path. It trips at the
// threshold and stays tripped; the host is expected to stop ingestion.
type Breaker struct {
	name      string
	threshold int64
	onTrip    TripFunc

	failures atomic.Int64
	tripped  atomic.Bool
}

// NewBreaker creates a breaker. A threshold below 1 is treated as 1.
func NewBreaker(name string, threshold int, onTrip TripFunc) *Breaker {
	if threshold < 1 {
		threshold = 1
	}
	return &Breaker{name: name, threshold: int64(threshold), onTrip: onTrip}
}

// Name returns the breaker name
func (b *Breaker) Name() string { return b.name }

// Threshold returns the configured trip threshold
func (b *Breaker) Threshold() int64 { return b.threshold }

// Success resets the consecutive failure count.
func (b *Breaker) Success() {
	b.failures.Store(0)
}

// Failure records one failure and reports whether this call tripped the
// breaker. Only the call that crosses the threshold returns true.
func (b *Breaker) Failure(err error) bool {
	n := b.failures.Add(1)
	if n < b.threshold {
		return false
	}
	if !b.tripped.CompareAndSwap(false, true) {
		return false
	}
	if b.onTrip != nil {
		b.onTrip(b.name, n, err)
	}
	return true
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int64 { return b.failures.Load() }

// Tripped reports whether the breaker has tripped.
func (b *Breaker) Tripped() bool { return b.tripped.Load() }
