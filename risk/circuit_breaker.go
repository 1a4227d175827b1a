package risk

import (
	"sync"
	"time"

	"github.com/web3guy0/fxengine/internal/clock"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CIRCUIT BREAKER - timed halt after a daily-loss trip
// ═══════════════════════════════════════════════════════════════════════════════

// CircuitBreaker is the risk switch that blocks admissions for a bounded
// time after the daily-loss threshold is crossed (spec §4.3). Unlike the
// source's consecutive-loss trigger, a trip here is driven exclusively by
// the daily-loss gate; it auto-deactivates at activated_at+duration.
type CircuitBreaker struct {
	mu sync.Mutex

	clock    clock.Clock
	duration time.Duration

	active      bool
	reason      string
	activatedAt time.Time
}

// NewCircuitBreaker constructs an inactive breaker with the configured
// auto-reset duration (max_circuit_breaker_duration).
func NewCircuitBreaker(clk clock.Clock, duration time.Duration) *CircuitBreaker {
	return &CircuitBreaker{clock: clk, duration: duration}
}

// Trip activates the breaker with reason, recording the current instant.
func (cb *CircuitBreaker) Trip(reason string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.active = true
	cb.reason = reason
	cb.activatedAt = cb.clock.Now()
}

// IsActive reports whether the breaker currently blocks admission,
// auto-deactivating first if activated_at+duration has elapsed.
func (cb *CircuitBreaker) IsActive() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeExpireLocked()
	return cb.active
}

// Status returns (active, reason, remaining) after applying auto-expiry.
func (cb *CircuitBreaker) Status() (active bool, reason string, remaining time.Duration) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeExpireLocked()
	if !cb.active {
		return false, "", 0
	}
	remaining = cb.activatedAt.Add(cb.duration).Sub(cb.clock.Now())
	if remaining < 0 {
		remaining = 0
	}
	return true, cb.reason, remaining
}

// ForceReset deactivates the breaker immediately regardless of timer state.
func (cb *CircuitBreaker) ForceReset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.active = false
	cb.reason = ""
}

func (cb *CircuitBreaker) maybeExpireLocked() {
	if !cb.active {
		return
	}
	if !cb.clock.Now().Before(cb.activatedAt.Add(cb.duration)) {
		cb.active = false
		cb.reason = ""
	}
}
