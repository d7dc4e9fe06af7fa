package retry

import "time"

// Policy configures retryStage's bounded retry loop (§4.2).
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter is the randomization factor applied symmetrically around the
	// computed backoff delay, e.g. 0.2 means ±20%.
	Jitter float64
}

// Predefined policies from §4.2.
var (
	Conservative = Policy{MaxAttempts: 2, BaseDelay: 500 * time.Millisecond, MaxDelay: 2 * time.Second, Jitter: 0.2}
	Default      = Policy{MaxAttempts: 3, BaseDelay: 1 * time.Second, MaxDelay: 10 * time.Second, Jitter: 0.2}
	Aggressive   = Policy{MaxAttempts: 5, BaseDelay: 500 * time.Millisecond, MaxDelay: 30 * time.Second, Jitter: 0.2}
)
