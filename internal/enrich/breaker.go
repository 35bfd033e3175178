package enrich

import (
	"sync"
	"time"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// breaker trips after a run of consecutive failures. While open it rejects
// every call; once the reset window elapses the next call runs as a single
// half-open probe whose outcome closes or reopens the circuit.
type breaker struct {
	threshold int
	reset     time.Duration
	now       func() time.Time

	mu       sync.Mutex
	state    breakerState
	failures int
	openedAt time.Time
	everOpen bool
}

func newBreaker(threshold int, reset time.Duration) *breaker {
	return &breaker{threshold: threshold, reset: reset, now: time.Now}
}

// allow reports whether a call may proceed. Moving from open to half-open
// happens here; the caller that sees true after the reset window is the
// probe.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case breakerOpen:
		if b.now().Sub(b.openedAt) < b.reset {
			return false
		}
		b.state = breakerHalfOpen
		return true
	case breakerHalfOpen:
		return false
	default:
		return true
	}
}

func (b *breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = breakerClosed
	b.failures = 0
}

// failure records a failed call and reports whether this one opened the
// circuit.
func (b *breaker) failure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == breakerHalfOpen {
		b.trip()
		return true
	}
	b.failures++
	if b.state == breakerClosed && b.failures >= b.threshold {
		b.trip()
		return true
	}
	return false
}

func (b *breaker) trip() {
	b.state = breakerOpen
	b.openedAt = b.now()
	b.failures = 0
	b.everOpen = true
}

func (b *breaker) everTripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.everOpen
}
