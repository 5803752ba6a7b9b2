package registry

import "time"

// Health tracks probe outcomes for one connection. Values are immutable;
// RecordFailure and Reset return a new value that replaces the old one inside
// the owning Record, so concurrent readers never observe a partial update.
type Health struct {
	ConsecutiveFailures int
	LastFailureTime     *time.Time
}

// RecordFailure returns a Health with the failure counter incremented and the
// failure time stamped.
func (h Health) RecordFailure(now time.Time) Health {
	return Health{
		ConsecutiveFailures: h.ConsecutiveFailures + 1,
		LastFailureTime:     &now,
	}
}

// Reset returns a zeroed Health. A single successful probe clears the
// consecutive-failure streak.
func (h Health) Reset() Health {
	return Health{}
}

// IsUnhealthy reports whether the connection has crossed the configured
// consecutive-failure threshold.
func (h Health) IsUnhealthy(maxFailures int) bool {
	return h.ConsecutiveFailures >= maxFailures
}
