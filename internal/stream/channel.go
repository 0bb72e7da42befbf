// Package stream provides the Event Channel that carries a stream's
// normalized events from the orchestrator to a single consumer.
//
// The producer writes with Send and ends the stream with Finish. The consumer
// drains Events (or Next) until it is closed, and may detach at any time with
// Close. Detaching never blocks or fails the producer: later sends are
// dropped and report false, so the producer can keep going to finalization.
package stream

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/opencode-ai/streamd/pkg/types"
)

// DefaultBuffer is the number of events buffered before Send blocks.
const DefaultBuffer = 64

// Channel is a bounded, ordered event queue with one producer and one consumer.
type Channel struct {
	events   chan types.StreamEvent
	detached chan struct{}

	closeOnce  sync.Once
	finishOnce sync.Once
	finished   atomic.Bool
	dropped    atomic.Int64
}

// NewChannel creates a channel buffering up to buffer events.
// A buffer of zero or less uses DefaultBuffer.
func NewChannel(buffer int) *Channel {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Channel{
		events:   make(chan types.StreamEvent, buffer),
		detached: make(chan struct{}),
	}
}

// Send queues ev for the consumer. When the buffer is full it blocks until
// the consumer takes an event or detaches. It reports whether the event was
// queued; events sent after Close or Finish are dropped.
//
// Send and Finish must be called from the producing goroutine.
func (c *Channel) Send(ev types.StreamEvent) bool {
	if c.finished.Load() {
		c.dropped.Add(1)
		return false
	}
	select {
	case <-c.detached:
		c.dropped.Add(1)
		return false
	default:
	}

	select {
	case c.events <- ev:
		return true
	case <-c.detached:
		c.dropped.Add(1)
		return false
	}
}

// Finish marks the end of the stream and closes Events once the queued
// events have been read. It is safe to call more than once.
func (c *Channel) Finish() {
	c.finishOnce.Do(func() {
		c.finished.Store(true)
		close(c.events)
	})
}

// Close detaches the consumer. Pending and future events are discarded.
func (c *Channel) Close() {
	c.closeOnce.Do(func() { close(c.detached) })
}

// Events returns the events in emission order. The channel is closed after
// the producer calls Finish.
func (c *Channel) Events() <-chan types.StreamEvent {
	return c.events
}

// Detached is closed when the consumer calls Close.
func (c *Channel) Detached() <-chan struct{} {
	return c.detached
}

// Dropped returns the number of events discarded because the consumer had
// detached or the stream had finished.
func (c *Channel) Dropped() int64 {
	return c.dropped.Load()
}

// Next returns the next event. ok is false once the stream has finished and
// every event has been read.
func (c *Channel) Next(ctx context.Context) (ev types.StreamEvent, ok bool, err error) {
	select {
	case ev, ok = <-c.events:
		return ev, ok, nil
	case <-ctx.Done():
		return types.StreamEvent{}, false, ctx.Err()
	}
}

// Collect reads every remaining event until the stream finishes or ctx ends.
func (c *Channel) Collect(ctx context.Context) ([]types.StreamEvent, error) {
	var out []types.StreamEvent
	for {
		ev, ok, err := c.Next(ctx)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, ev)
	}
}
