// Package event provides the in-process notification bus built on watermill.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// EventType represents the type of event.
type EventType string

const (
	SessionCreated EventType = "session.created"
	SessionUpdated EventType = "session.updated"
	SessionDeleted EventType = "session.deleted"
	SessionIdle    EventType = "session.idle"
	MessageCreated EventType = "message.created"
	MessageUpdated EventType = "message.updated"
	TodoUpdated    EventType = "todo.updated"

	QuestionAsked   EventType = "question.asked"
	QuestionReplied EventType = "question.replied"

	VCSBranchUpdated EventType = "vcs.branch.updated"
)

// topic is the single watermill topic all notifications travel on.
const topic = "streamd.events"

const typeMetadataKey = "event_type"

// Event is a notification as delivered to subscribers.
type Event struct {
	Type       EventType       `json:"type"`
	Properties json.RawMessage `json:"properties"`
}

// Decode unmarshals the event properties into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Properties, v)
}

// Bus fans notifications out to subscribers through a watermill GoChannel.
// Delivery is asynchronous and ordering across events is not guaranteed.
type Bus struct {
	mu     sync.RWMutex
	pubsub *gochannel.GoChannel
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: 100,
				Persistent:          false,
			},
			watermill.NopLogger{},
		),
		done: make(chan struct{}),
	}
}

// Publish encodes data and sends it to all current subscribers.
// Publishing on a closed bus is a no-op.
func (b *Bus) Publish(eventType EventType, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", eventType, err)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(typeMetadataKey, string(eventType))
	return b.pubsub.Publish(topic, msg)
}

// Subscribe returns a channel of events of the given types, or of all types
// when none are given. The channel is closed when ctx ends or the bus closes.
func (b *Bus) Subscribe(ctx context.Context, eventTypes ...EventType) (<-chan Event, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("event bus closed")
	}

	messages, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}

	filter := make(map[EventType]bool, len(eventTypes))
	for _, t := range eventTypes {
		filter[t] = true
	}

	out := make(chan Event, 64)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer close(out)
		for msg := range messages {
			msg.Ack()
			ev := Event{
				Type:       EventType(msg.Metadata.Get(typeMetadataKey)),
				Properties: json.RawMessage(msg.Payload),
			}
			if len(filter) > 0 && !filter[ev.Type] {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
			case <-b.done:
			}
		}
	}()

	return out, nil
}

// Close closes the bus and ends all subscriptions.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	b.mu.Unlock()

	err := b.pubsub.Close()
	b.wg.Wait()
	return err
}
