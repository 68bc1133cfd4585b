package transport

import (
	"errors"
	"sync"
	"time"
)

// ErrPeerSuspended reports that the breaker has tripped for a peer and the
// cool-down has not elapsed yet.
var ErrPeerSuspended = errors.New("transfers to peer suspended")

// Breaker makes repeated-failure fail-fast explicit: after maxFailures
// consecutive failed transfers, further sends are refused until the
// cool-down elapses. It never retries a transfer on the caller's behalf;
// a dropped connection is fatal for that transfer.
type Breaker struct {
	mu          sync.Mutex
	maxFailures int
	cooldown    time.Duration
	failures    int
	trippedAt   time.Time
}

// NewBreaker trips after maxFailures consecutive failures and re-admits
// traffic cooldown later.
func NewBreaker(maxFailures int, cooldown time.Duration) *Breaker {
	return &Breaker{maxFailures: maxFailures, cooldown: cooldown}
}

// Allow reports whether a transfer may start. Once the cool-down has
// elapsed the failure count resets and traffic flows again.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures < b.maxFailures {
		return nil
	}
	if time.Since(b.trippedAt) >= b.cooldown {
		b.failures = 0
		return nil
	}
	return ErrPeerSuspended
}

// Success resets the consecutive-failure count.
func (b *Breaker) Success() {
	b.mu.Lock()
	b.failures = 0
	b.mu.Unlock()
}

// Failure records a failed transfer, tripping the breaker when the limit is
// reached.
func (b *Breaker) Failure() {
	b.mu.Lock()
	b.failures++
	if b.failures == b.maxFailures {
		b.trippedAt = time.Now()
	}
	b.mu.Unlock()
}

// Suspended reports whether sends are currently refused.
func (b *Breaker) Suspended() bool {
	return b.Allow() != nil
}
