package testutil

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/opencode-ai/streamd/internal/event"
	"github.com/opencode-ai/streamd/pkg/types"
)

// SSEFrame is one Server-Sent Events frame. Heartbeat frames carry only a
// comment.
type SSEFrame struct {
	Data      string
	Heartbeat bool
}

// SSEStream reads frames from a streaming response in the background.
type SSEStream struct {
	body   io.ReadCloser
	frames chan SSEFrame
	done   chan struct{}
	once   sync.Once

	mu  sync.Mutex
	err error
}

// ErrStreamTimeout is returned when no frame arrives in time.
var ErrStreamTimeout = errors.New("timed out waiting for SSE frame")

func newSSEStream(body io.ReadCloser) *SSEStream {
	s := &SSEStream{body: body, frames: make(chan SSEFrame, 256), done: make(chan struct{})}
	go s.read()
	return s
}

func (s *SSEStream) read() {
	defer close(s.frames)

	scanner := bufio.NewScanner(s.body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var data []string
	heartbeat := false
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(data) > 0 || heartbeat {
				select {
				case s.frames <- SSEFrame{Data: strings.Join(data, "\n"), Heartbeat: len(data) == 0}:
				case <-s.done:
					return
				}
			}
			data, heartbeat = nil, false
		case strings.HasPrefix(line, ":"):
			heartbeat = true
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	s.mu.Lock()
	s.err = scanner.Err()
	s.mu.Unlock()
}

// Next returns the next frame, io.EOF when the stream ended, or
// ErrStreamTimeout.
func (s *SSEStream) Next(timeout time.Duration) (SSEFrame, error) {
	select {
	case f, ok := <-s.frames:
		if !ok {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.err != nil {
				return SSEFrame{}, s.err
			}
			return SSEFrame{}, io.EOF
		}
		return f, nil
	case <-time.After(timeout):
		return SSEFrame{}, ErrStreamTimeout
	}
}

// NextEvent returns the next stream event, skipping heartbeats.
func (s *SSEStream) NextEvent(timeout time.Duration) (types.StreamEvent, error) {
	for {
		f, err := s.Next(timeout)
		if err != nil {
			return types.StreamEvent{}, err
		}
		if f.Heartbeat {
			continue
		}
		var ev types.StreamEvent
		if err := json.Unmarshal([]byte(f.Data), &ev); err != nil {
			return types.StreamEvent{}, err
		}
		return ev, nil
	}
}

// Collect reads stream events up to and including the terminal one.
func (s *SSEStream) Collect(timeout time.Duration) ([]types.StreamEvent, error) {
	var events []types.StreamEvent
	for {
		ev, err := s.NextEvent(timeout)
		if err != nil {
			return events, err
		}
		events = append(events, ev)
		if ev.Type.Terminal() {
			return events, nil
		}
	}
}

// WaitForNotification returns the first bus notification of type typ.
func (s *SSEStream) WaitForNotification(typ event.EventType, timeout time.Duration) (event.Event, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return event.Event{}, ErrStreamTimeout
		}
		f, err := s.Next(remaining)
		if err != nil {
			return event.Event{}, err
		}
		if f.Heartbeat {
			continue
		}
		var e event.Event
		if err := json.Unmarshal([]byte(f.Data), &e); err != nil {
			return event.Event{}, err
		}
		if e.Type == typ {
			return e, nil
		}
	}
}

// WaitForHeartbeat waits for a heartbeat comment.
func (s *SSEStream) WaitForHeartbeat(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrStreamTimeout
		}
		f, err := s.Next(remaining)
		if err != nil {
			return err
		}
		if f.Heartbeat {
			return nil
		}
	}
}

// Close stops reading and closes the response body.
func (s *SSEStream) Close() error {
	s.once.Do(func() { close(s.done) })
	return s.body.Close()
}

// EventTypes lists the types of events in order.
func EventTypes(events []types.StreamEvent) []types.StreamEventType {
	out := make([]types.StreamEventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

// JoinText concatenates the text deltas of events.
func JoinText(events []types.StreamEvent) string {
	var b strings.Builder
	for _, ev := range events {
		if ev.Type == types.EventTextDelta {
			b.WriteString(ev.Text)
		}
	}
	return b.String()
}
