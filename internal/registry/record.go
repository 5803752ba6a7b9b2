package registry

import "time"

// Transport is an open, write-only push channel to one client. The registry
// owns the handle from AddConnection until the connection is removed or
// evicted; Close must be safe to call more than once.
type Transport interface {
	// SendEvent writes a named data event on the stream.
	SendEvent(name string, data []byte) error
	// SendComment writes a comment frame. Clients treat comments as a
	// liveness signal only, which makes them the heartbeat carrier.
	SendComment(text string) error
	// Close tears down the stream. Errors are advisory; the registry
	// swallows them during eviction.
	Close() error
	// Done is closed once the stream has been torn down.
	Done() <-chan struct{}
}

// Record identifies one streaming connection. A connection ID maps to exactly
// one user for its whole lifetime; a user may own any number of records at
// once (tabs, devices).
type Record struct {
	ConnectionID   string
	UserExternalID string
	Health         Health
}

// RecordSuccess returns a copy of the record with its failure streak cleared.
func (r Record) RecordSuccess() Record {
	r.Health = r.Health.Reset()
	return r
}

// RecordFailure returns a copy of the record with one more failure counted.
func (r Record) RecordFailure(now time.Time) Record {
	r.Health = r.Health.RecordFailure(now)
	return r
}

// IsUnhealthy reports whether the record crossed the failure threshold.
func (r Record) IsUnhealthy(maxFailures int) bool {
	return r.Health.IsUnhealthy(maxFailures)
}

// Snapshot pairs a record with its transport for a point-in-time scan.
type Snapshot struct {
	Record    Record
	Transport Transport
}
