package mcpclient

import (
	"sync"
	"time"
)

// breakerState is closed/open/half-open, modeled on gastown's
// RestartTracker (internal/daemon/restart_tracker.go) consecutive-failure
// counter + backoff-until shape, generalized from agent restarts to MCP
// server connection attempts (§4.5.1).
type breakerState string

const (
	breakerClosed   breakerState = "closed"
	breakerOpen     breakerState = "open"
	breakerHalfOpen breakerState = "half_open"
)

const (
	breakerOpenThreshold = 3
	breakerCooldown      = 30 * time.Second
)

// circuitBreaker tracks consecutive connection failures for one server.
type circuitBreaker struct {
	mu                  sync.Mutex
	consecutiveFailures int
	openedAt            time.Time
	lastFailureTime      time.Time
}

func (b *circuitBreaker) state() breakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.consecutiveFailures < breakerOpenThreshold {
		return breakerClosed
	}
	if time.Since(b.openedAt) >= breakerCooldown {
		return breakerHalfOpen
	}
	return breakerOpen
}

// retryAfter returns the remaining cooldown, or 0 if the breaker isn't open.
func (b *circuitBreaker) retryAfter() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	remaining := breakerCooldown - time.Since(b.openedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (b *circuitBreaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures++
	b.lastFailureTime = time.Now()
	if b.consecutiveFailures == breakerOpenThreshold {
		b.openedAt = b.lastFailureTime
	}
}

func (b *circuitBreaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
	b.openedAt = time.Time{}
}
