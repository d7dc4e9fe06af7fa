package retry

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// consecutiveFailureThreshold trips the breaker open after this many
// consecutive failures for a given source+stage key (§4.2).
const consecutiveFailureThreshold = 5

// breakerCooldown is how long the breaker stays open before allowing a
// half-open trial request through (§4.2).
const breakerCooldown = 60 * time.Second

// BreakerManager owns one gobreaker.CircuitBreaker per source+stage key,
// created lazily on first use. It is the optional circuit-breaker wrapper
// described in §4.2: counts consecutive failures, opens after
// consecutiveFailureThreshold, half-opens after breakerCooldown, closes on
// the first half-open success.
type BreakerManager struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBreakerManager builds an empty breaker manager.
func NewBreakerManager() *BreakerManager {
	return &BreakerManager{breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

// breakerFor returns (creating if needed) the breaker for key.
func (m *BreakerManager) breakerFor(key string) *gobreaker.CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cb, ok := m.breakers[key]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        key,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= consecutiveFailureThreshold
		},
	})
	m.breakers[key] = cb
	return cb
}

// Execute runs fn through the breaker identified by key. When the breaker
// is open, fn is not invoked and gobreaker.ErrOpenState is returned.
func (m *BreakerManager) Execute(key string, fn func() (any, error)) (any, error) {
	return m.breakerFor(key).Execute(fn)
}

// State reports the current state of the breaker for key (for dashboards/health).
func (m *BreakerManager) State(key string) gobreaker.State {
	return m.breakerFor(key).State()
}
