package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cordona/hookrelay/internal/registry"
)

type sentEvent struct {
	name string
	data []byte
}

type fakeTransport struct {
	mu        sync.Mutex
	events    []sentEvent
	comments  []string
	failing   bool
	closed    bool
	closeOnce sync.Once
	done      chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{done: make(chan struct{})}
}

var errTransportDown = errors.New("transport down")

func (f *fakeTransport) SendEvent(name string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errTransportDown
	}
	f.events = append(f.events, sentEvent{name: name, data: data})
	return nil
}

func (f *fakeTransport) SendComment(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errTransportDown
	}
	f.comments = append(f.comments, text)
	return nil
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() {
		close(f.done)
	})
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Done() <-chan struct{} {
	return f.done
}

func (f *fakeTransport) setFailing(failing bool) {
	f.mu.Lock()
	f.failing = failing
	f.mu.Unlock()
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) sentEvents() []sentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentEvent(nil), f.events...)
}

func (f *fakeTransport) commentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.comments)
}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New(registry.Config{MaxUsers: 100, MaxConnections: 100}, zerolog.Nop())
	require.NoError(t, err)
	return reg
}

func TestConnectRegistersAndConfirms(t *testing.T) {
	reg := newTestRegistry(t)
	manager := NewManager(reg, zerolog.Nop())
	transport := newFakeTransport()

	connectionID := manager.Connect("user-a", transport)
	require.NotEmpty(t, connectionID)

	records := reg.GetUserConnections("user-a")
	require.Len(t, records, 1)
	assert.Equal(t, connectionID, records[0].ConnectionID)

	events := transport.sentEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "connected", events[0].name)

	var confirmation struct {
		ConnectionID string `json:"connectionId"`
		Message      string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(events[0].data, &confirmation))
	assert.Equal(t, connectionID, confirmation.ConnectionID)
	assert.NotEmpty(t, confirmation.Message)
}

func TestConnectSurvivesConfirmationFailure(t *testing.T) {
	reg := newTestRegistry(t)
	manager := NewManager(reg, zerolog.Nop())
	transport := newFakeTransport()
	transport.setFailing(true)

	connectionID := manager.Connect("user-a", transport)

	// The registration stands even though the confirmation send failed.
	_, ok := reg.GetTransport(connectionID)
	assert.True(t, ok)
}

func TestDisconnectThreeWayOutcome(t *testing.T) {
	reg := newTestRegistry(t)
	manager := NewManager(reg, zerolog.Nop())
	transport := newFakeTransport()
	connectionID := manager.Connect("user-a", transport)

	assert.Equal(t, DisconnectNotFound, manager.Disconnect("no-such-conn", "user-a"))
	assert.Equal(t, DisconnectForbidden, manager.Disconnect(connectionID, "user-b"))

	// Forbidden attempt left the connection in place.
	_, ok := reg.GetTransport(connectionID)
	require.True(t, ok)

	assert.Equal(t, DisconnectSuccess, manager.Disconnect(connectionID, "user-a"))
	assert.True(t, transport.isClosed())

	// A second attempt by the owner now sees NotFound.
	assert.Equal(t, DisconnectNotFound, manager.Disconnect(connectionID, "user-a"))
}

func TestCleanupStaleCountsAndTolerersRepeats(t *testing.T) {
	reg := newTestRegistry(t)
	manager := NewManager(reg, zerolog.Nop())

	t1 := newFakeTransport()
	t2 := newFakeTransport()
	id1 := manager.Connect("user-a", t1)
	id2 := manager.Connect("user-a", t2)

	removed := manager.CleanupStale([]string{id1, "ghost", id2, id1})
	assert.Equal(t, 2, removed)
	assert.True(t, t1.isClosed())
	assert.True(t, t2.isClosed())
	assert.Equal(t, 0, reg.CountConnections())

	// Whole batch again: everything already gone.
	assert.Equal(t, 0, manager.CleanupStale([]string{id1, id2}))
}

func TestPublishNoConnectionsIsNoOp(t *testing.T) {
	reg := newTestRegistry(t)
	publisher := NewPublisher(reg, zerolog.Nop())

	// Must not panic or mutate anything.
	publisher.Publish("nobody", map[string]string{"k": "v"})
	assert.Equal(t, 0, reg.CountConnections())
}

func TestPublishFansOutToAllUserConnections(t *testing.T) {
	reg := newTestRegistry(t)
	manager := NewManager(reg, zerolog.Nop())
	publisher := NewPublisher(reg, zerolog.Nop())

	t1 := newFakeTransport()
	t2 := newFakeTransport()
	other := newFakeTransport()
	manager.Connect("user-a", t1)
	manager.Connect("user-a", t2)
	manager.Connect("user-b", other)

	publisher.Publish("user-a", map[string]string{"message": "done"})

	for _, transport := range []*fakeTransport{t1, t2} {
		events := transport.sentEvents()
		require.Len(t, events, 2) // confirmation + hook event
		assert.Equal(t, "hook-event", events[1].name)
		assert.JSONEq(t, `{"message":"done"}`, string(events[1].data))
	}

	// user-b only ever saw its confirmation.
	assert.Len(t, other.sentEvents(), 1)
}

func TestPublishFailureSkipsConnectionWithoutEviction(t *testing.T) {
	reg := newTestRegistry(t)
	manager := NewManager(reg, zerolog.Nop())
	publisher := NewPublisher(reg, zerolog.Nop())

	healthy := newFakeTransport()
	broken := newFakeTransport()
	manager.Connect("user-a", healthy)
	brokenID := manager.Connect("user-a", broken)
	broken.setFailing(true)

	publisher.Publish("user-a", map[string]string{"message": "done"})

	// The healthy connection got the event; the broken one stays registered
	// untouched, with its health unchanged.
	require.Len(t, healthy.sentEvents(), 2)
	_, ok := reg.GetTransport(brokenID)
	assert.True(t, ok)
	for _, rec := range reg.GetUserConnections("user-a") {
		assert.Equal(t, 0, rec.Health.ConsecutiveFailures)
	}
}

func newTestHeartbeat(reg *registry.Registry, manager *Manager, maxFailures int) *Heartbeat {
	return NewHeartbeat(HeartbeatConfig{
		Interval:         time.Second,
		Jitter:           false,
		MaxFailures:      maxFailures,
		ProbeConcurrency: 4,
	}, reg, manager, zerolog.Nop())
}

func TestHeartbeatCycleProbesAllConnections(t *testing.T) {
	reg := newTestRegistry(t)
	manager := NewManager(reg, zerolog.Nop())
	heartbeat := newTestHeartbeat(reg, manager, 3)

	transports := make([]*fakeTransport, 5)
	for i := range transports {
		transports[i] = newFakeTransport()
		manager.Connect(fmt.Sprintf("user-%d", i%2), transports[i])
	}

	summary := heartbeat.RunCycle(context.Background())
	assert.Equal(t, 5, summary.Probed)
	assert.Equal(t, 5, summary.Successes)
	assert.Equal(t, 0, summary.Failures)
	assert.Equal(t, 0, summary.StaleRemoved)

	for _, transport := range transports {
		assert.Equal(t, 1, transport.commentCount())
	}
}

func TestHeartbeatEmptyRegistryCycle(t *testing.T) {
	reg := newTestRegistry(t)
	manager := NewManager(reg, zerolog.Nop())
	heartbeat := newTestHeartbeat(reg, manager, 3)

	summary := heartbeat.RunCycle(context.Background())
	assert.Equal(t, CycleSummary{}, summary)
}

func TestHeartbeatSuccessResetsFailureCount(t *testing.T) {
	reg := newTestRegistry(t)
	manager := NewManager(reg, zerolog.Nop())
	heartbeat := newTestHeartbeat(reg, manager, 3)

	transport := newFakeTransport()
	connectionID := manager.Connect("user-a", transport)
	transport.setFailing(true)

	// maxFailures-1 consecutive failures: still registered.
	heartbeat.RunCycle(context.Background())
	heartbeat.RunCycle(context.Background())
	records := reg.GetUserConnections("user-a")
	require.Len(t, records, 1)
	assert.Equal(t, 2, records[0].Health.ConsecutiveFailures)

	// One success wipes the streak.
	transport.setFailing(false)
	heartbeat.RunCycle(context.Background())
	records = reg.GetUserConnections("user-a")
	require.Len(t, records, 1)
	assert.Equal(t, 0, records[0].Health.ConsecutiveFailures)
	assert.Nil(t, records[0].Health.LastFailureTime)

	// The streak starts over: two more failures still do not evict.
	transport.setFailing(true)
	heartbeat.RunCycle(context.Background())
	heartbeat.RunCycle(context.Background())
	_, ok := reg.GetTransport(connectionID)
	assert.True(t, ok)

	// The third consecutive failure crosses the threshold.
	summary := heartbeat.RunCycle(context.Background())
	assert.Equal(t, 1, summary.StaleRemoved)
	_, ok = reg.GetTransport(connectionID)
	assert.False(t, ok)
	assert.True(t, transport.isClosed())
}

func TestHeartbeatEvictsDeadConnectionsKeepsHealthy(t *testing.T) {
	reg := newTestRegistry(t)
	manager := NewManager(reg, zerolog.Nop())
	heartbeat := newTestHeartbeat(reg, manager, 2)

	transports := make([]*fakeTransport, 9)
	ids := make([]string, 9)
	for i := range transports {
		transports[i] = newFakeTransport()
		ids[i] = manager.Connect("user-a", transports[i])
	}

	// Two connections go silently dead.
	transports[2].setFailing(true)
	transports[6].setFailing(true)

	first := heartbeat.RunCycle(context.Background())
	assert.Equal(t, 9, first.Probed)
	assert.Equal(t, 7, first.Successes)
	assert.Equal(t, 2, first.Failures)
	assert.Equal(t, 0, first.StaleRemoved)

	second := heartbeat.RunCycle(context.Background())
	assert.Equal(t, 9, second.Probed)
	assert.Equal(t, 2, second.Failures)
	assert.Equal(t, 2, second.StaleRemoved)

	assert.Equal(t, 7, reg.CountConnections())
	for i, transport := range transports {
		if i == 2 || i == 6 {
			assert.True(t, transport.isClosed())
			_, ok := reg.GetTransport(ids[i])
			assert.False(t, ok)
			continue
		}
		assert.Equal(t, 2, transport.commentCount())
		_, ok := reg.GetTransport(ids[i])
		assert.True(t, ok)
	}
}

func TestHeartbeatRunStopsOnCancel(t *testing.T) {
	reg := newTestRegistry(t)
	manager := NewManager(reg, zerolog.Nop())
	heartbeat := NewHeartbeat(HeartbeatConfig{
		Interval:         5 * time.Millisecond,
		MaxFailures:      3,
		ProbeConcurrency: 2,
	}, reg, manager, zerolog.Nop())

	transport := newFakeTransport()
	manager.Connect("user-a", transport)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		heartbeat.Run(ctx)
	}()

	assert.Eventually(t, func() bool {
		return transport.commentCount() >= 2
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("heartbeat loop did not stop after cancellation")
	}
}
