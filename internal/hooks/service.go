package hooks

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	stopMessage      = "Session finished, ready for your next prompt"
	planReadyMessage = "A plan is ready for review"
)

// permissionPromptPattern matches the bare permission prompt the CLI emits
// when a plan is awaiting approval; it carries no useful detail of its own.
var permissionPromptPattern = regexp.MustCompile(`needs your permission to use\s*$`)

// Publisher is the fan-out boundary the hook services hand events to.
type Publisher interface {
	Publish(userExternalID string, event any)
}

// Service transforms inbound hooks into wire events and publishes them.
// Publishing is fire-and-forget: the hook sender never waits on delivery.
type Service struct {
	publisher Publisher
	logger    zerolog.Logger
}

// NewService constructs the hook service.
func NewService(publisher Publisher, logger zerolog.Logger) *Service {
	return &Service{publisher: publisher, logger: logger}
}

// ProcessStop publishes the event for a finished session.
func (s *Service) ProcessStop(hook StopHook) {
	event := s.newEvent(hook.Metadata, stopMessage)
	s.logger.Debug().
		Str("event_id", event.ID).
		Str("user_external_id", event.UserExternalID).
		Str("project_context", event.ProjectContext).
		Msg("Processing stop hook")
	s.publisher.Publish(hook.Metadata.UserExternalID, event)
}

// ProcessNotification publishes the event for an attention request.
func (s *Service) ProcessNotification(hook NotificationHook) {
	event := s.newEvent(hook.Metadata, resolveMessage(hook.Message))
	s.logger.Debug().
		Str("event_id", event.ID).
		Str("user_external_id", event.UserExternalID).
		Str("project_context", event.ProjectContext).
		Msg("Processing notification hook")
	s.publisher.Publish(hook.Metadata.UserExternalID, event)
}

func (s *Service) newEvent(meta Metadata, message string) Event {
	return Event{
		ID:             uuid.NewString(),
		HookType:       meta.HookType,
		Message:        message,
		Timestamp:      meta.Timestamp,
		ProjectContext: ResolveProjectContext(meta.TranscriptPath),
		UserExternalID: meta.UserExternalID,
	}
}

func resolveMessage(message string) string {
	if permissionPromptPattern.MatchString(message) {
		return planReadyMessage
	}
	return message
}

// ResolveProjectContext derives a human-readable project name from the
// transcript path. Transcripts live under a per-project directory whose name
// is the mangled absolute path of the workspace, so the project is the
// segment after the mangled home prefix.
func ResolveProjectContext(transcriptPath string) string {
	context := transcriptPath
	if _, after, found := strings.Cut(context, "/projects/"); found {
		context = after
	}
	if _, after, found := strings.Cut(context, "-"); found {
		context = after
	}
	if idx := strings.LastIndex(context, "-IdeaProjects-"); idx >= 0 {
		context = context[idx+len("-IdeaProjects-"):]
	}
	if before, _, found := strings.Cut(context, "/"); found {
		context = before
	}
	return context
}
