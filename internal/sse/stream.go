// Package sse implements the server-to-client event-stream transport backing
// each registry entry.
package sse

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// ErrStreamingUnsupported is returned when the response writer cannot flush,
// which makes it unusable for a long-lived event stream.
var ErrStreamingUnsupported = errors.New("sse: response writer does not support streaming")

// ErrStreamClosed is returned for writes after the stream has been torn down.
var ErrStreamClosed = errors.New("sse: stream closed")

// Stream is one open server-to-client push channel over text/event-stream.
// It is write-only from the server's perspective and safe for concurrent use:
// the publisher, the heartbeat scheduler, and the lifecycle manager may all
// write to the same stream.
type Stream struct {
	w            http.ResponseWriter
	rc           *http.ResponseController
	ctx          context.Context
	writeTimeout time.Duration

	mu        sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// NewStream prepares the response for event streaming and returns the
// transport handle. The request context marks the client side of the
// connection; once it is done every write fails.
func NewStream(w http.ResponseWriter, r *http.Request, writeTimeout time.Duration) (*Stream, error) {
	if _, ok := w.(http.Flusher); !ok {
		return nil, ErrStreamingUnsupported
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	s := &Stream{
		w:            w,
		rc:           http.NewResponseController(w),
		ctx:          r.Context(),
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}

	w.WriteHeader(http.StatusOK)
	if err := s.rc.Flush(); err != nil {
		return nil, err
	}
	return s, nil
}

// SendEvent writes a named data event: "event: <name>\ndata: <data>\n\n".
func (s *Stream) SendEvent(name string, data []byte) error {
	return s.write(func() error {
		_, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data)
		return err
	})
}

// SendComment writes a comment frame: ": <text>\n\n". Browsers ignore
// comments, which makes them the liveness carrier for heartbeat probes.
func (s *Stream) SendComment(text string) error {
	return s.write(func() error {
		_, err := fmt.Fprintf(s.w, ": %s\n\n", text)
		return err
	})
}

func (s *Stream) write(emit func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return ErrStreamClosed
	default:
	}
	if err := s.ctx.Err(); err != nil {
		return err
	}

	if s.writeTimeout > 0 {
		if err := s.rc.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
	}
	if err := emit(); err != nil {
		return err
	}
	return s.rc.Flush()
}

// Close tears the stream down. Safe to call more than once; the first call
// unblocks the handler goroutine holding the response open.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	return nil
}

// Done is closed once the stream has been torn down server-side.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}
