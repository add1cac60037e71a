package feed

import "time"

// ConnState is the gateway connection lifecycle state.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateOpen
	StateReconnectWait
	StateCircuitOpen
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnectWait:
		return "reconnect_wait"
	case StateCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

// Backoff computes reconnect delays: Initial doubling per attempt, capped
// at Max. Attempt counting starts at 1.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// Next returns the delay before the given attempt.
func (b Backoff) Next(attempt int) time.Duration {
	d := b.Initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	if d > b.Max {
		return b.Max
	}
	return d
}

// circuitBreaker counts consecutive connect failures. At maxFailures the
// circuit opens for the cooldown period; when the cooldown elapses the
// counter resets and exactly one attempt is allowed through.
type circuitBreaker struct {
	maxFailures int
	cooldown    time.Duration

	failures  int
	openUntil time.Time
	trips     int // consecutive cooldown cycles without a successful open
}

// allow reports whether a connect attempt may fire at now. Crossing an
// elapsed cooldown boundary resets the failure counter.
func (cb *circuitBreaker) allow(now time.Time) bool {
	if cb.openUntil.IsZero() {
		return true
	}
	if now.Before(cb.openUntil) {
		return false
	}
	cb.openUntil = time.Time{}
	cb.failures = 0
	return true
}

// recordFailure counts a failed attempt and returns true when it opens
// the circuit.
func (cb *circuitBreaker) recordFailure(now time.Time) bool {
	cb.failures++
	if cb.failures < cb.maxFailures {
		return false
	}
	cb.openUntil = now.Add(cb.cooldown)
	cb.trips++
	return true
}

// recordSuccess resets all failure accounting.
func (cb *circuitBreaker) recordSuccess() {
	cb.failures = 0
	cb.trips = 0
	cb.openUntil = time.Time{}
}

// open reports whether the circuit is currently open at now.
func (cb *circuitBreaker) open(now time.Time) bool {
	return !cb.openUntil.IsZero() && now.Before(cb.openUntil)
}
