package webhook

import (
	"sync"
	"time"
)

type circuitState int

const (
	stateClosed circuitState = iota
	stateOpen
	stateHalfOpen
)

func (s circuitState) String() string {
	switch s {
	case stateClosed:
		return "closed"
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half_open"
	}
	return "unknown"
}

// breaker stops deliveries to an endpoint after failureThreshold consecutive
// failures, letting one probe through once recoveryTime has passed.
type breaker struct {
	mu               sync.Mutex
	failures         int
	lastFailure      time.Time
	state            circuitState
	failureThreshold int
	recoveryTime     time.Duration
	now              func() time.Time
}

func newBreaker(failureThreshold int, recoveryTime time.Duration) *breaker {
	if failureThreshold < 1 {
		failureThreshold = 1
	}
	return &breaker{
		failureThreshold: failureThreshold,
		recoveryTime:     recoveryTime,
		now:              time.Now,
	}
}

func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == stateOpen {
		if b.now().Sub(b.lastFailure) < b.recoveryTime {
			return false
		}
		b.state = stateHalfOpen
	}
	return true
}

func (b *breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.state = stateClosed
}

func (b *breaker) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()
	if b.state == stateHalfOpen || b.failures >= b.failureThreshold {
		b.state = stateOpen
	}
}

func (b *breaker) current() circuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
