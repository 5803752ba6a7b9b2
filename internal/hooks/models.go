// Package hooks models the hook payloads emitted by the CLI daemon and the
// wire event fanned out to dashboards.
package hooks

import "fmt"

// Type discriminates the supported hook kinds.
type Type string

const (
	TypeStop         Type = "stop"
	TypeNotification Type = "notification"
)

// ParseType maps the CLI's hook_event_name onto a Type.
func ParseType(value string) (Type, error) {
	switch Type(value) {
	case TypeStop, TypeNotification:
		return Type(value), nil
	default:
		return "", fmt.Errorf("hooks: unknown hook type %q", value)
	}
}

// Metadata carries the attribution and context shared by every hook.
type Metadata struct {
	Timestamp      string
	UserExternalID string
	SessionID      string
	HostEventID    string
	HookType       Type
	TranscriptPath string
	WorkDir        string
}

// HostTelemetry describes the machine the hook fired on. Field names mirror
// the CLI daemon's snake_case payload.
type HostTelemetry struct {
	Daemon      *DaemonDetails `json:"daemon_details,omitempty"`
	HostDetails HostDetails    `json:"host_details"`
	TmuxSession *TmuxSession   `json:"tmux_session,omitempty"`
}

// DaemonDetails identifies the forwarding daemon process.
type DaemonDetails struct {
	ID  string `json:"id"`
	PID int    `json:"pid"`
}

// HostDetails identifies the host machine.
type HostDetails struct {
	Hostname  string `json:"hostname"`
	Platform  string `json:"platform"`
	PrivateIP string `json:"private_ip"`
	PublicIP  string `json:"public_ip"`
	Username  string `json:"username"`
}

// TmuxSession identifies the tmux pane the session runs in, when present.
type TmuxSession struct {
	SessionID   string `json:"session_id"`
	SessionName string `json:"session_name"`
	PaneID      string `json:"pane_id"`
}

// StopHook fires when an agent session finishes its turn.
type StopHook struct {
	StopHookActive bool
	Metadata       Metadata
	HostTelemetry  HostTelemetry
}

// NotificationHook fires when the CLI needs the user's attention.
type NotificationHook struct {
	Message       string
	Metadata      Metadata
	HostTelemetry HostTelemetry
}

// Event is the record fanned out to every live dashboard connection of the
// owning user. Field names match what the dashboard consumes.
type Event struct {
	ID             string `json:"id"`
	HookType       Type   `json:"hookType"`
	Message        string `json:"message"`
	Timestamp      string `json:"timestamp"`
	ProjectContext string `json:"projectContext,omitempty"`
	UserExternalID string `json:"userExternalId"`
}
