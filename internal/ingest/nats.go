// Package ingest feeds hook events from a NATS subject into the fan-out
// path, mirroring the HTTP ingest endpoints for deployments where hooks
// arrive over the message bus instead of direct HTTP.
package ingest

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/cordona/hookrelay/internal/hooks"
	"github.com/cordona/hookrelay/internal/work"
)

// Envelope is the bus message shape: attribution plus the pre-shaped event.
type Envelope struct {
	UserExternalID string      `json:"user_external_id"`
	Event          hooks.Event `json:"event"`
}

// Publisher is the fan-out boundary events are handed to.
type Publisher interface {
	Publish(userExternalID string, event any)
}

// Subscriber consumes hook envelopes from NATS and submits fan-out tasks to
// the worker pool. Malformed messages are logged and dropped; the
// subscription never stops on a bad payload.
type Subscriber struct {
	conn      *nats.Conn
	sub       *nats.Subscription
	subject   string
	publisher Publisher
	pool      *work.Pool
	logger    zerolog.Logger
}

// NewSubscriber connects to NATS and subscribes to the configured subject.
func NewSubscriber(url, subject string, publisher Publisher, pool *work.Pool, logger zerolog.Logger) (*Subscriber, error) {
	conn, err := nats.Connect(url, nats.Name("hookrelay"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	s := &Subscriber{
		conn:      conn,
		subject:   subject,
		publisher: publisher,
		pool:      pool,
		logger:    logger,
	}

	sub, err := conn.Subscribe(subject, s.handleMessage)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	s.sub = sub

	logger.Info().
		Str("subject", subject).
		Msg("NATS ingest subscribed")
	return s, nil
}

func (s *Subscriber) handleMessage(msg *nats.Msg) {
	var envelope Envelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		s.logger.Warn().
			Err(err).
			Str("subject", msg.Subject).
			Msg("Dropping malformed hook envelope")
		return
	}
	if envelope.UserExternalID == "" {
		s.logger.Warn().
			Str("subject", msg.Subject).
			Msg("Dropping hook envelope without user attribution")
		return
	}

	s.pool.Submit(func() {
		s.publisher.Publish(envelope.UserExternalID, envelope.Event)
	})
}

// Stop drains the subscription and closes the connection.
func (s *Subscriber) Stop() {
	if s.sub != nil {
		if err := s.sub.Drain(); err != nil {
			s.logger.Warn().Err(err).Msg("Error draining NATS subscription")
		}
	}
	s.conn.Close()
}
