package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/cordona/hookrelay/internal/hooks"
	"github.com/cordona/hookrelay/internal/work"
)

type capturingPublisher struct {
	mu        sync.Mutex
	userIDs   []string
	published []any
}

func (c *capturingPublisher) Publish(userExternalID string, event any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userIDs = append(c.userIDs, userExternalID)
	c.published = append(c.published, event)
}

func (c *capturingPublisher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.published)
}

func newTestSubscriber(t *testing.T) (*Subscriber, *capturingPublisher) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	pool := work.NewPool(1, 16, zerolog.Nop())
	pool.Start(ctx)

	publisher := &capturingPublisher{}
	return &Subscriber{
		subject:   "hooks.events.>",
		publisher: publisher,
		pool:      pool,
		logger:    zerolog.Nop(),
	}, publisher
}

func TestHandleMessagePublishesEnvelope(t *testing.T) {
	sub, publisher := newTestSubscriber(t)

	sub.handleMessage(&nats.Msg{
		Subject: "hooks.events.stop",
		Data: []byte(`{
			"user_external_id": "user-a",
			"event": {
				"id": "evt-1",
				"hookType": "stop",
				"message": "Session finished, ready for your next prompt",
				"timestamp": "2026-08-31T10:00:00Z",
				"userExternalId": "user-a"
			}
		}`),
	})

	assert.Eventually(t, func() bool {
		return publisher.count() == 1
	}, time.Second, time.Millisecond)

	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	assert.Equal(t, "user-a", publisher.userIDs[0])
	event := publisher.published[0].(hooks.Event)
	assert.Equal(t, hooks.TypeStop, event.HookType)
	assert.Equal(t, "evt-1", event.ID)
}

func TestHandleMessageDropsMalformedEnvelope(t *testing.T) {
	sub, publisher := newTestSubscriber(t)

	sub.handleMessage(&nats.Msg{Subject: "hooks.events.stop", Data: []byte("{broken")})
	sub.handleMessage(&nats.Msg{Subject: "hooks.events.stop", Data: []byte(`{"event": {"id": "evt-1"}}`)})

	// Neither the malformed nor the unattributed envelope reaches fan-out.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, publisher.count())
}
