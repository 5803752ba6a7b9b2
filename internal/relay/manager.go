// Package relay holds the components that move hook events onto live
// connections: the connection lifecycle manager, the fan-out publisher, and
// the heartbeat scheduler.
package relay

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cordona/hookrelay/internal/monitoring"
	"github.com/cordona/hookrelay/internal/registry"
)

const connectedEventName = "connected"

// DisconnectResult is the three-way outcome of a disconnect request.
// Ownership is enforced at the registry boundary rather than by trusting a
// caller-supplied user ID, so Forbidden is distinct from NotFound.
type DisconnectResult int

const (
	DisconnectSuccess DisconnectResult = iota
	DisconnectNotFound
	DisconnectForbidden
)

type connectionConfirmation struct {
	ConnectionID string `json:"connectionId"`
	Message      string `json:"message"`
}

// Manager accepts new connections, authorizes disconnect requests, and
// performs bulk removal of stale connections.
type Manager struct {
	reg    *registry.Registry
	logger zerolog.Logger
}

// NewManager constructs a lifecycle manager over the given registry.
func NewManager(reg *registry.Registry, logger zerolog.Logger) *Manager {
	return &Manager{reg: reg, logger: logger}
}

// Connect registers the transport under the given user and returns the new
// connection ID. Registration always succeeds; capacity pressure is absorbed
// by registry eviction, not by rejecting the caller. The confirmation event
// is best-effort: a failed send is logged, the registration stands.
func (m *Manager) Connect(userExternalID string, transport registry.Transport) string {
	connectionID := uuid.NewString()
	rec := registry.Record{
		ConnectionID:   connectionID,
		UserExternalID: userExternalID,
	}

	m.reg.AddConnection(userExternalID, rec, transport)
	monitoring.RecordConnectionOpened()

	m.logger.Debug().
		Str("connection_id", connectionID).
		Str("user_external_id", userExternalID).
		Int("total_connections", m.reg.CountConnections()).
		Msg("SSE connection established")

	m.sendConnectionConfirmation(transport, connectionID)
	return connectionID
}

func (m *Manager) sendConnectionConfirmation(transport registry.Transport, connectionID string) {
	payload, err := json.Marshal(connectionConfirmation{
		ConnectionID: connectionID,
		Message:      "connected to hook event stream",
	})
	if err == nil {
		err = transport.SendEvent(connectedEventName, payload)
	}
	if err != nil {
		m.logger.Warn().
			Err(err).
			Str("connection_id", connectionID).
			Msg("Failed to send connection confirmation")
	}
}

// Disconnect removes the connection on behalf of the requesting user.
// Existence is checked globally first so a connection owned by another user
// yields Forbidden rather than NotFound.
func (m *Manager) Disconnect(connectionID, requestingUserID string) DisconnectResult {
	if _, ok := m.reg.GetTransport(connectionID); !ok {
		m.logger.Debug().
			Str("connection_id", connectionID).
			Msg("Connection not found for disconnect")
		return DisconnectNotFound
	}

	if m.reg.RemoveUserConnection(requestingUserID, connectionID) {
		m.logger.Debug().
			Str("connection_id", connectionID).
			Str("user_external_id", requestingUserID).
			Msg("Connection disconnected")
		return DisconnectSuccess
	}

	m.logger.Warn().
		Str("connection_id", connectionID).
		Str("user_external_id", requestingUserID).
		Msg("User attempted to disconnect a connection they do not own")
	return DisconnectForbidden
}

// CleanupStale removes the given connections, closing each transport
// best-effort first. One bad connection never aborts the batch; the return
// value is how many were actually removed. Removing an ID twice is a no-op,
// which makes the concurrent double-removal race harmless.
func (m *Manager) CleanupStale(connectionIDs []string) int {
	removed := 0
	for _, connectionID := range connectionIDs {
		if transport, ok := m.reg.GetTransport(connectionID); ok {
			_ = transport.Close()
		}
		if m.reg.RemoveConnection(connectionID) {
			removed++
			m.logger.Debug().
				Str("connection_id", connectionID).
				Msg("Stale connection removed")
		} else {
			m.logger.Debug().
				Str("connection_id", connectionID).
				Msg("Stale connection already gone")
		}
	}
	if removed > 0 {
		monitoring.RecordStaleRemoved(removed)
	}
	return removed
}
