package relay

import (
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/cordona/hookrelay/internal/monitoring"
	"github.com/cordona/hookrelay/internal/registry"
)

const hookEventName = "hook-event"

// Publisher fans one event out to every live connection of a user.
//
// Delivery is best-effort, at most once per connection, with no redelivery:
// a failed write is logged and skipped, never queued or retried, and a
// publish failure alone never evicts a connection (only heartbeat failures
// count toward eviction).
type Publisher struct {
	reg    *registry.Registry
	logger zerolog.Logger
}

// NewPublisher constructs a publisher over the given registry.
func NewPublisher(reg *registry.Registry, logger zerolog.Logger) *Publisher {
	return &Publisher{reg: reg, logger: logger}
}

// Publish delivers the event to every live connection of the user. A user
// with no open connections is a no-op, not an error.
func (p *Publisher) Publish(userExternalID string, event any) {
	records := p.reg.GetUserConnections(userExternalID)
	if len(records) == 0 {
		p.logger.Debug().
			Str("user_external_id", userExternalID).
			Msg("No active connections for user, event dropped")
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Error().
			Err(err).
			Str("user_external_id", userExternalID).
			Msg("Failed to serialize event")
		return
	}

	delivered := 0
	for _, rec := range records {
		transport, ok := p.reg.GetTransport(rec.ConnectionID)
		if !ok {
			continue
		}
		if err := transport.SendEvent(hookEventName, data); err != nil {
			monitoring.RecordEventFailed()
			p.logger.Warn().
				Err(err).
				Str("connection_id", rec.ConnectionID).
				Msg("Failed to deliver event to connection")
			continue
		}
		delivered++
		monitoring.RecordEventDelivered()
	}

	p.logger.Debug().
		Str("user_external_id", userExternalID).
		Int("connections", len(records)).
		Int("delivered", delivered).
		Msg("Event published")
}
