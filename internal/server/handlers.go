package server

import (
	"encoding/json"
	"net/http"

	"github.com/cordona/hookrelay/internal/hooks"
	"github.com/cordona/hookrelay/internal/monitoring"
	"github.com/cordona/hookrelay/internal/relay"
	"github.com/cordona/hookrelay/internal/sse"
)

func (s *Server) resolveUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userExternalID := r.Header.Get(userHeader)
	if userExternalID == "" {
		http.Error(w, "missing user identity", http.StatusBadRequest)
		return "", false
	}
	return userExternalID, true
}

// handleStream opens an SSE stream and holds the response until the stream
// is closed server-side or the client goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown.Load() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	userExternalID, ok := s.resolveUser(w, r)
	if !ok {
		return
	}

	// Optional hard ceiling; off by default, where capacity pressure is
	// handled by registry eviction instead of rejection.
	if limit := s.cfg.HardConnectionLimit; limit > 0 && s.reg.CountConnections() >= limit {
		s.logger.Warn().
			Int("current_connections", s.reg.CountConnections()).
			Int("hard_limit", limit).
			Msg("Connection rejected at hard ceiling")
		http.Error(w, "server at capacity", http.StatusServiceUnavailable)
		return
	}

	stream, err := sse.NewStream(w, r, s.cfg.WriteTimeout)
	if err != nil {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	connectionID := s.manager.Connect(userExternalID, stream)

	select {
	case <-stream.Done():
		// Removed by disconnect, stale cleanup, or eviction.
	case <-r.Context().Done():
		// Client went away; reap now instead of waiting for the
		// heartbeat to notice.
		s.manager.Disconnect(connectionID, userExternalID)
	}
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	userExternalID, ok := s.resolveUser(w, r)
	if !ok {
		return
	}
	connectionID := r.PathValue("connectionId")

	switch s.manager.Disconnect(connectionID, userExternalID) {
	case relay.DisconnectSuccess:
		w.WriteHeader(http.StatusNoContent)
	case relay.DisconnectNotFound:
		w.WriteHeader(http.StatusNotFound)
	case relay.DisconnectForbidden:
		w.WriteHeader(http.StatusForbidden)
	}
}

// hookPayload is the inner payload the CLI daemon forwards verbatim.
type hookPayload struct {
	SessionID      string `json:"session_id"`
	TranscriptPath string `json:"transcript_path"`
	HookEventName  string `json:"hook_event_name"`
	StopHookActive bool   `json:"stop_hook_active"`
	Message        string `json:"message"`
	Cwd            string `json:"cwd"`
}

// hookRequest is the envelope around one forwarded hook.
type hookRequest struct {
	Timestamp     string              `json:"timestamp"`
	HostEventID   string              `json:"host_event_id"`
	HostTelemetry hooks.HostTelemetry `json:"host_telemetry"`
	Payload       hookPayload         `json:"payload"`
}

func (req *hookRequest) metadata(userExternalID string) (hooks.Metadata, error) {
	hookType, err := hooks.ParseType(req.Payload.HookEventName)
	if err != nil {
		return hooks.Metadata{}, err
	}
	return hooks.Metadata{
		Timestamp:      req.Timestamp,
		UserExternalID: userExternalID,
		SessionID:      req.Payload.SessionID,
		HostEventID:    req.HostEventID,
		HookType:       hookType,
		TranscriptPath: req.Payload.TranscriptPath,
		WorkDir:        req.Payload.Cwd,
	}, nil
}

func (s *Server) decodeHook(w http.ResponseWriter, r *http.Request) (*hookRequest, string, bool) {
	userExternalID, ok := s.resolveUser(w, r)
	if !ok {
		return nil, "", false
	}

	if !s.rateLimiter.Allow(userExternalID) {
		monitoring.RecordHookRateLimited()
		s.logger.Warn().
			Str("user_external_id", userExternalID).
			Msg("Hook request rate limited")
		http.Error(w, "too many hook requests", http.StatusTooManyRequests)
		return nil, "", false
	}

	var req hookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid hook payload", http.StatusBadRequest)
		return nil, "", false
	}
	return &req, userExternalID, true
}

func (s *Server) handleStopHook(w http.ResponseWriter, r *http.Request) {
	req, userExternalID, ok := s.decodeHook(w, r)
	if !ok {
		return
	}
	meta, err := req.metadata(userExternalID)
	if err != nil || meta.HookType != hooks.TypeStop {
		http.Error(w, "invalid hook payload", http.StatusBadRequest)
		return
	}

	hook := hooks.StopHook{
		StopHookActive: req.Payload.StopHookActive,
		Metadata:       meta,
		HostTelemetry:  req.HostTelemetry,
	}
	s.pool.Submit(func() {
		s.hookService.ProcessStop(hook)
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNotificationHook(w http.ResponseWriter, r *http.Request) {
	req, userExternalID, ok := s.decodeHook(w, r)
	if !ok {
		return
	}
	meta, err := req.metadata(userExternalID)
	if err != nil || meta.HookType != hooks.TypeNotification {
		http.Error(w, "invalid hook payload", http.StatusBadRequest)
		return
	}

	hook := hooks.NotificationHook{
		Message:       req.Payload.Message,
		Metadata:      meta,
		HostTelemetry: req.HostTelemetry,
	}
	s.pool.Submit(func() {
		s.hookService.ProcessNotification(hook)
	})
	w.WriteHeader(http.StatusNoContent)
}
