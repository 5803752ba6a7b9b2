package hooks

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedPublish struct {
	userExternalID string
	event          Event
}

type capturingPublisher struct {
	mu        sync.Mutex
	published []capturedPublish
}

func (c *capturingPublisher) Publish(userExternalID string, event any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, capturedPublish{
		userExternalID: userExternalID,
		event:          event.(Event),
	})
}

func (c *capturingPublisher) last(t *testing.T) capturedPublish {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.published)
	return c.published[len(c.published)-1]
}

func testMetadata(hookType Type) Metadata {
	return Metadata{
		Timestamp:      "2026-08-31T10:00:00Z",
		UserExternalID: "user-a",
		SessionID:      "session-1",
		HostEventID:    "host-evt-1",
		HookType:       hookType,
		TranscriptPath: "/home/jane/.agent/projects/-Users-jane-IdeaProjects-dashboards/session-1.jsonl",
		WorkDir:        "/Users/jane/IdeaProjects/dashboards",
	}
}

func TestProcessStopPublishesEvent(t *testing.T) {
	publisher := &capturingPublisher{}
	service := NewService(publisher, zerolog.Nop())

	service.ProcessStop(StopHook{StopHookActive: false, Metadata: testMetadata(TypeStop)})

	got := publisher.last(t)
	assert.Equal(t, "user-a", got.userExternalID)
	assert.NotEmpty(t, got.event.ID)
	assert.Equal(t, TypeStop, got.event.HookType)
	assert.Equal(t, "Session finished, ready for your next prompt", got.event.Message)
	assert.Equal(t, "2026-08-31T10:00:00Z", got.event.Timestamp)
	assert.Equal(t, "dashboards", got.event.ProjectContext)
	assert.Equal(t, "user-a", got.event.UserExternalID)
}

func TestProcessNotificationKeepsInformativeMessage(t *testing.T) {
	publisher := &capturingPublisher{}
	service := NewService(publisher, zerolog.Nop())

	service.ProcessNotification(NotificationHook{
		Message:  "Waiting for input on step 3",
		Metadata: testMetadata(TypeNotification),
	})

	got := publisher.last(t)
	assert.Equal(t, TypeNotification, got.event.HookType)
	assert.Equal(t, "Waiting for input on step 3", got.event.Message)
}

func TestProcessNotificationRewritesBarePermissionPrompt(t *testing.T) {
	publisher := &capturingPublisher{}
	service := NewService(publisher, zerolog.Nop())

	service.ProcessNotification(NotificationHook{
		Message:  "The agent needs your permission to use",
		Metadata: testMetadata(TypeNotification),
	})

	assert.Equal(t, "A plan is ready for review", publisher.last(t).event.Message)

	// A prompt naming a concrete tool is informative and passes through.
	service.ProcessNotification(NotificationHook{
		Message:  "The agent needs your permission to use Bash",
		Metadata: testMetadata(TypeNotification),
	})
	assert.Equal(t, "The agent needs your permission to use Bash", publisher.last(t).event.Message)
}

func TestParseType(t *testing.T) {
	got, err := ParseType("stop")
	require.NoError(t, err)
	assert.Equal(t, TypeStop, got)

	got, err = ParseType("notification")
	require.NoError(t, err)
	assert.Equal(t, TypeNotification, got)

	_, err = ParseType("pre_tool_use")
	assert.Error(t, err)
}

func TestResolveProjectContext(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{
			name: "idea projects workspace",
			path: "/home/jane/.agent/projects/-Users-jane-IdeaProjects-dashboards/session-1.jsonl",
			want: "dashboards",
		},
		{
			name: "plain mangled workspace path",
			path: "/home/jane/.agent/projects/-home-jane-work-relay/session-2.jsonl",
			want: "home-jane-work-relay",
		},
		{
			name: "no projects segment",
			path: "transcript.jsonl",
			want: "transcript.jsonl",
		},
		{
			name: "empty path",
			path: "",
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveProjectContext(tt.path))
		})
	}
}
