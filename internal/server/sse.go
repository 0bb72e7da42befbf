package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/opencode-ai/streamd/internal/event"
)

// SSEHeartbeatInterval is the interval for SSE heartbeats.
const SSEHeartbeatInterval = 30 * time.Second

// sseWriter wraps http.ResponseWriter for SSE.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}
	return &sseWriter{w: w, flusher: flusher, rc: http.NewResponseController(w)}, nil
}

// start writes the SSE headers and flushes them so the client sees the
// response before the first event.
func (s *sseWriter) start() {
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.flush()
}

// writeData writes one "data: <json>" frame.
func (s *sseWriter) writeData(data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.flush()
	return nil
}

func (s *sseWriter) writeHeartbeat() error {
	if _, err := fmt.Fprint(s.w, ": heartbeat\n\n"); err != nil {
		return err
	}
	s.flush()
	return nil
}

func (s *sseWriter) flush() {
	// ResponseController unwraps middleware writers; fall back to the
	// Flusher the writer was created with.
	if err := s.rc.Flush(); err != nil {
		s.flusher.Flush()
	}
}

// events handles GET /event: every bus notification as
// {"type": ..., "properties": ...}, with heartbeats while idle.
func (srv *Server) events(w http.ResponseWriter, r *http.Request) {
	if srv.bus == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "event stream unavailable")
		return
	}
	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	sub, err := srv.bus.Subscribe(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
		return
	}

	sse.start()
	if err := sse.writeData(event.Event{Type: "server.connected", Properties: json.RawMessage("{}")}); err != nil {
		return
	}

	ticker := time.NewTicker(srv.config.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			if err := sse.writeData(e); err != nil {
				return
			}
		case <-ticker.C:
			if err := sse.writeHeartbeat(); err != nil {
				return
			}
		}
	}
}
