// Copyright 2025 James Ross

// Package breaker gates a worker's dequeue loop. Repeated job failures —
// a misbehaving store or a handler that keeps erroring — trip the gate,
// which pauses dequeuing for a cooldown; a single probe job then decides
// whether the loop resumes or stays paused.
package breaker

import (
	"sync"
	"time"
)

// State of the dequeue gate.
type State int

const (
	// Closed: jobs flow normally.
	Closed State = iota
	// HalfOpen: cooldown elapsed, exactly one probe job may run.
	HalfOpen
	// Open: tripped; dequeuing is paused until the cooldown elapses.
	Open
)

func (s State) String() string {
	switch s {
	case HalfOpen:
		return "half-open"
	case Open:
		return "open"
	default:
		return "closed"
	}
}

type attempt struct {
	at time.Time
	ok bool
}

// CircuitBreaker tracks job outcomes over a sliding window and trips once
// the failure rate crosses the threshold with enough samples behind it.
type CircuitBreaker struct {
	mu         sync.Mutex
	state      State
	window     time.Duration
	cooldown   time.Duration
	threshold  float64
	minSamples int
	changedAt  time.Time
	attempts   []attempt
	probing    bool
}

func New(window, cooldown time.Duration, threshold float64, minSamples int) *CircuitBreaker {
	return &CircuitBreaker{
		state:      Closed,
		window:     window,
		cooldown:   cooldown,
		threshold:  threshold,
		minSamples: minSamples,
		changedAt:  time.Now(),
	}
}

// State reports the current gate state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Allow reports whether the worker may dequeue another job right now.
// While Open it opens the half-open probe slot once the cooldown has
// elapsed; in HalfOpen only that single slot is ever granted.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case Open:
		if time.Since(cb.changedAt) < cb.cooldown {
			return false
		}
		cb.state = HalfOpen
		cb.changedAt = time.Now()
		cb.probing = true
		return true
	case HalfOpen:
		if cb.probing {
			return false
		}
		cb.probing = true
		return true
	default:
		return true
	}
}

// Record feeds a job outcome back in. A probe outcome settles the
// half-open verdict immediately; otherwise the gate trips when the
// windowed failure rate reaches the threshold.
func (cb *CircuitBreaker) Record(ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	now := time.Now()
	cb.prune(now)
	cb.attempts = append(cb.attempts, attempt{at: now, ok: ok})

	if cb.state == HalfOpen {
		if ok {
			cb.state = Closed
		} else {
			cb.state = Open
		}
		cb.probing = false
		cb.changedAt = now
		return
	}

	if cb.state == Closed && len(cb.attempts) >= cb.minSamples && cb.failureRate() >= cb.threshold {
		cb.state = Open
		cb.changedAt = now
	}
}

func (cb *CircuitBreaker) prune(now time.Time) {
	cutoff := now.Add(-cb.window)
	kept := cb.attempts[:0]
	for _, a := range cb.attempts {
		if a.at.After(cutoff) {
			kept = append(kept, a)
		}
	}
	cb.attempts = kept
}

func (cb *CircuitBreaker) failureRate() float64 {
	if len(cb.attempts) == 0 {
		return 0
	}
	failed := 0
	for _, a := range cb.attempts {
		if !a.ok {
			failed++
		}
	}
	return float64(failed) / float64(len(cb.attempts))
}
