// Package registry tracks which streaming connections belong to which user.
//
// Two size-bounded LRU indices back the registry: a user index mapping a
// user's external ID to the set of their connection records, and a connection
// index mapping a connection ID to its live transport handle. Every mutation
// keeps the two indices consistent: removal from one is always mirrored in
// the other, and removal from the connection index closes the transport
// best-effort, so an evicted entry can never leave a dangling handle behind.
package registry

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/cordona/hookrelay/internal/monitoring"
)

// Config bounds the two registry indices.
type Config struct {
	// MaxUsers caps the number of distinct users with cached connection
	// sets. The least recently used user is evicted (connections closed)
	// when the cap is exceeded.
	MaxUsers int
	// MaxConnections caps the total number of live transports.
	MaxConnections int
}

type userEntry struct {
	mu      sync.RWMutex
	records map[string]Record
}

func (e *userEntry) connectionIDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.records))
	for id := range e.records {
		ids = append(ids, id)
	}
	return ids
}

type evictedUser struct {
	userExternalID string
	entry          *userEntry
}

// Registry is the shared connection store. It is safe for concurrent use by
// connect/disconnect handlers, the publisher, and the heartbeat scheduler.
//
// Locking: mu serializes compound mutations (insert/remove across both
// indices and capacity-driven eviction). Lookups and health updates do not
// take mu; they rely on the caches' internal locks plus the per-user entry
// lock, so a probe replacing a health value never contends with the whole
// registry.
type Registry struct {
	mu     sync.Mutex
	users  *lru.Cache[string, *userEntry]
	conns  *lru.Cache[string, Transport]
	logger zerolog.Logger

	// Scratch lists filled by the eviction callbacks. All cache mutations
	// happen while mu is held, so appends here are already serialized.
	pendingUsers []evictedUser
	pendingConns []string
}

// New constructs a registry with the given capacity bounds.
func New(cfg Config, logger zerolog.Logger) (*Registry, error) {
	r := &Registry{logger: logger}

	users, err := lru.NewWithEvict(cfg.MaxUsers, r.onUserEvicted)
	if err != nil {
		return nil, err
	}
	conns, err := lru.NewWithEvict(cfg.MaxConnections, r.onConnEvicted)
	if err != nil {
		return nil, err
	}

	r.users = users
	r.conns = conns
	return r, nil
}

func (r *Registry) onUserEvicted(userExternalID string, entry *userEntry) {
	r.pendingUsers = append(r.pendingUsers, evictedUser{userExternalID: userExternalID, entry: entry})
}

func (r *Registry) onConnEvicted(connectionID string, transport Transport) {
	// Best-effort close; the entry is gone from the index regardless of
	// whether the underlying stream shut down cleanly.
	if transport != nil {
		_ = transport.Close()
	}
	r.pendingConns = append(r.pendingConns, connectionID)
}

// reconcile mirrors eviction side effects across the indices until both
// scratch lists drain. Removals only shrink the caches, so this terminates.
// Must be called with mu held.
func (r *Registry) reconcile() {
	for len(r.pendingUsers) > 0 || len(r.pendingConns) > 0 {
		users := r.pendingUsers
		r.pendingUsers = nil
		for _, evicted := range users {
			ids := evicted.entry.connectionIDs()
			for _, id := range ids {
				r.conns.Remove(id)
			}
			if len(ids) > 0 {
				r.logger.Debug().
					Str("user_external_id", evicted.userExternalID).
					Int("connection_count", len(ids)).
					Msg("User entry evicted, transports closed")
				monitoring.RecordRegistryEviction(monitoring.EvictionCauseUserCapacity, len(ids))
			}
		}

		conns := r.pendingConns
		r.pendingConns = nil
		for _, id := range conns {
			r.removeFromUserSets(id)
		}
	}
}

// removeFromUserSets drops the record for connectionID from whichever user's
// set holds it, invalidating the user entry once its set empties.
// Must be called with mu held.
func (r *Registry) removeFromUserSets(connectionID string) bool {
	for _, userExternalID := range r.users.Keys() {
		entry, ok := r.users.Peek(userExternalID)
		if !ok {
			continue
		}
		entry.mu.Lock()
		_, owns := entry.records[connectionID]
		if owns {
			delete(entry.records, connectionID)
		}
		empty := len(entry.records) == 0
		entry.mu.Unlock()

		if !owns {
			continue
		}
		if empty {
			r.users.Remove(userExternalID)
			r.logger.Debug().
				Str("connection_id", connectionID).
				Str("user_external_id", userExternalID).
				Msg("Removed last connection for user, invalidated user entry")
		} else {
			r.logger.Debug().
				Str("connection_id", connectionID).
				Str("user_external_id", userExternalID).
				Msg("Removed connection for user")
		}
		return true
	}
	return false
}

// AddConnection inserts the record and transport into both indices. There is
// no error path: when either index is at capacity the least recently used
// entry is evicted first (its transports closed), then the insertion applies.
func (r *Registry) AddConnection(userExternalID string, rec Record, transport Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.users.Get(userExternalID)
	if !ok {
		entry = &userEntry{records: make(map[string]Record)}
		r.users.Add(userExternalID, entry)
	}
	entry.mu.Lock()
	entry.records[rec.ConnectionID] = rec
	entry.mu.Unlock()

	r.conns.Add(rec.ConnectionID, transport)
	r.reconcile()

	monitoring.SetActiveConnections(r.conns.Len())
	r.logger.Debug().
		Str("connection_id", rec.ConnectionID).
		Str("user_external_id", userExternalID).
		Int("total_connections", r.conns.Len()).
		Msg("Connection added to registry")
}

// RemoveConnection removes the connection from both indices, closing its
// transport best-effort. Returns false when the connection ID was already
// absent from both, which makes concurrent double-removal a harmless no-op.
func (r *Registry) RemoveConnection(connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	hadTransport := r.conns.Remove(connectionID)
	hadRecord := r.removeFromUserSets(connectionID)
	r.reconcile()

	removed := hadTransport || hadRecord
	if removed {
		monitoring.SetActiveConnections(r.conns.Len())
	}
	return removed
}

// RemoveUserConnection removes the connection only when it is owned by the
// given user. Returns false both when the connection does not exist under
// that user and when it belongs to someone else; callers distinguish the two
// by checking global existence first.
func (r *Registry) RemoveUserConnection(userExternalID, connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.users.Peek(userExternalID)
	if !ok {
		return false
	}

	entry.mu.Lock()
	_, owns := entry.records[connectionID]
	if owns {
		delete(entry.records, connectionID)
	}
	empty := len(entry.records) == 0
	entry.mu.Unlock()

	if !owns {
		return false
	}

	r.conns.Remove(connectionID)
	if empty {
		r.users.Remove(userExternalID)
	}
	r.reconcile()

	monitoring.SetActiveConnections(r.conns.Len())
	r.logger.Debug().
		Str("connection_id", connectionID).
		Str("user_external_id", userExternalID).
		Msg("Connection removed for user")
	return true
}

// GetUserConnections returns a copy of the user's records, or nil when the
// user has no cached connections.
func (r *Registry) GetUserConnections(userExternalID string) []Record {
	entry, ok := r.users.Get(userExternalID)
	if !ok {
		return nil
	}
	entry.mu.RLock()
	defer entry.mu.RUnlock()
	records := make([]Record, 0, len(entry.records))
	for _, rec := range entry.records {
		records = append(records, rec)
	}
	return records
}

// GetTransport returns the live transport for a connection ID.
func (r *Registry) GetTransport(connectionID string) (Transport, bool) {
	return r.conns.Get(connectionID)
}

// UpdateHealth replaces the health value of the matching record wherever it
// is currently indexed. The record is located by scanning the user sets;
// health updates are far less frequent than publishes, so the registry does
// not carry a third index for this. Under racing probes the last write wins,
// which is acceptable for an approximate liveness signal.
func (r *Registry) UpdateHealth(connectionID string, health Health) bool {
	for _, entry := range r.users.Values() {
		entry.mu.Lock()
		rec, ok := entry.records[connectionID]
		if ok {
			rec.Health = health
			entry.records[connectionID] = rec
		}
		entry.mu.Unlock()
		if ok {
			return true
		}
	}
	return false
}

// AllConnections returns a point-in-time snapshot of every record with its
// transport. The registry is never locked for the duration of a probe sweep;
// callers own only the snapshot window, and concurrent additions or removals
// are independent of the copied entries.
func (r *Registry) AllConnections() []Snapshot {
	var snapshots []Snapshot
	for _, entry := range r.users.Values() {
		entry.mu.RLock()
		records := make([]Record, 0, len(entry.records))
		for _, rec := range entry.records {
			records = append(records, rec)
		}
		entry.mu.RUnlock()

		for _, rec := range records {
			transport, ok := r.conns.Peek(rec.ConnectionID)
			if !ok {
				continue
			}
			snapshots = append(snapshots, Snapshot{Record: rec, Transport: transport})
		}
	}
	return snapshots
}

// CountConnections returns the number of live transports.
func (r *Registry) CountConnections() int {
	return r.conns.Len()
}

// CountUsers returns the number of users with at least one cached connection.
func (r *Registry) CountUsers() int {
	return r.users.Len()
}

// Shutdown closes every transport and empties both indices. Used during
// graceful shutdown after the listener stops accepting new streams.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := r.conns.Len()
	r.conns.Purge()
	r.users.Purge()
	r.pendingUsers = nil
	r.pendingConns = nil

	monitoring.SetActiveConnections(0)
	r.logger.Info().
		Int("closed_connections", count).
		Msg("Registry shut down, all transports closed")
}
