package enrichment

import "time"

// Backoff is the delay table for one call: wait Initial before the first
// attempt, then Retries[i] before each following attempt.
type Backoff struct {
	Initial time.Duration
	Retries []time.Duration
}

// DefaultBackoff waits 10s, then 15s, 30s and 60s, for four attempts.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial: 10 * time.Second,
		Retries: []time.Duration{15 * time.Second, 30 * time.Second, 60 * time.Second},
	}
}

// Attempts is the total number of attempts the table allows.
func (b Backoff) Attempts() int {
	return 1 + len(b.Retries)
}

// Delay returns the wait before the given 1-based attempt, or false when the
// table has no such attempt.
func (b Backoff) Delay(attempt int) (time.Duration, bool) {
	switch {
	case attempt < 1:
		return 0, false
	case attempt == 1:
		return b.Initial, true
	case attempt-2 < len(b.Retries):
		return b.Retries[attempt-2], true
	default:
		return 0, false
	}
}
