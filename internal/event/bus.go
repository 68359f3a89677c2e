// Package event provides a pub/sub event system backed by watermill.
package event

import (
	"context"
	"encoding/json"
	"slices"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/oklog/ulid/v2"

	"github.com/sergioferragut/data-chat/internal/logging"
)

// EventType represents the type of event.
type EventType string

const (
	SessionCreated     EventType = "session.created"
	SessionState       EventType = "session.state"
	SessionClosed      EventType = "session.closed"
	SandboxProvisioned EventType = "sandbox.provisioned"
	SandboxRemoved     EventType = "sandbox.removed"
	SandboxSweepDone   EventType = "sandbox.sweep.done"
	MessageCompleted   EventType = "message.completed"
	MessageFailed      EventType = "message.failed"
	ConfigReloaded     EventType = "config.reloaded"
)

// Topic is the watermill topic every event is mirrored to.
const Topic = "datachat.events"

// Metadata keys set on mirrored messages.
const (
	MetaType    = "type"
	MetaSession = "sessionID"
)

// Event represents an event to be published.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// Subscriber is a function that receives events.
type Subscriber func(event Event)

type subscription struct {
	id uint64
	fn Subscriber
	// all marks a SubscribeAll registration.
	all bool
	t   EventType
}

// Bus delivers events to in-process subscribers by direct call, keeping the
// typed payload, and mirrors each event as a JSON watermill message on Topic
// for stream consumers such as the SSE endpoint.
type Bus struct {
	pubsub *gochannel.GoChannel

	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
	closed bool
}

var (
	defaultMu  sync.Mutex
	defaultBus = NewBus()
)

// NewBus creates a new event bus instance.
func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 100},
			watermill.NopLogger{},
		),
	}
}

// Default returns the process-wide bus.
func Default() *Bus {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultBus
}

// Reset replaces the process-wide bus. Tests only.
func Reset() {
	defaultMu.Lock()
	old := defaultBus
	defaultBus = NewBus()
	defaultMu.Unlock()
	_ = old.Close()
}

func (b *Bus) add(s subscription) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	b.nextID++
	s.id = b.nextID
	b.subs = append(b.subs, s)

	id := s.id
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.subs = slices.DeleteFunc(b.subs, func(s subscription) bool { return s.id == id })
	}
}

// Subscribe registers fn for one event type and returns its unsubscribe
// function.
func (b *Bus) Subscribe(t EventType, fn Subscriber) func() {
	return b.add(subscription{fn: fn, t: t})
}

// SubscribeAll registers fn for every event type.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	return b.add(subscription{fn: fn, all: true})
}

func (b *Bus) matching(t EventType) ([]Subscriber, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, false
	}
	var fns []Subscriber
	for _, s := range b.subs {
		if s.all || s.t == t {
			fns = append(fns, s.fn)
		}
	}
	return fns, true
}

// Publish calls each subscriber in its own goroutine.
func (b *Bus) Publish(e Event) {
	fns, ok := b.matching(e.Type)
	if !ok {
		return
	}
	for _, fn := range fns {
		go fn(e)
	}
	b.mirror(e)
}

// PublishSync calls every subscriber in the current goroutine before
// returning.
func (b *Bus) PublishSync(e Event) {
	fns, ok := b.matching(e.Type)
	if !ok {
		return
	}
	for _, fn := range fns {
		fn(e)
	}
	b.mirror(e)
}

func (b *Bus) mirror(e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		logging.Warn().Err(err).Str("type", string(e.Type)).Msg("event not mirrored")
		return
	}
	msg := message.NewMessage(ulid.Make().String(), payload)
	msg.Metadata.Set(MetaType, string(e.Type))
	if id := SessionOf(e); id != "" {
		msg.Metadata.Set(MetaSession, id)
	}
	if err := b.pubsub.Publish(Topic, msg); err != nil {
		logging.Debug().Err(err).Str("type", string(e.Type)).Msg("event mirror publish failed")
	}
}

// Stream subscribes to Topic and decodes messages back into events, whose
// Data is then a json.RawMessage. A non-empty sessionID keeps only that
// session's events. The subscription is live when Stream returns. The
// channel closes when ctx ends or the bus is closed.
func (b *Bus) Stream(ctx context.Context, sessionID string) (<-chan Event, error) {
	msgs, err := b.pubsub.Subscribe(ctx, Topic)
	if err != nil {
		return nil, err
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		for msg := range msgs {
			msg.Ack()
			if sessionID != "" && msg.Metadata.Get(MetaSession) != sessionID {
				continue
			}
			var raw struct {
				Type EventType       `json:"type"`
				Data json.RawMessage `json:"data"`
			}
			if err := json.Unmarshal(msg.Payload, &raw); err != nil {
				continue
			}
			select {
			case out <- Event{Type: raw.Type, Data: raw.Data}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close drops every subscriber and closes the watermill channel, which ends
// all streams.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.subs = nil
	b.mu.Unlock()

	return b.pubsub.Close()
}

// SessionOf returns the session an event is about, or "" for process-wide
// events.
func SessionOf(e Event) string {
	switch data := e.Data.(type) {
	case SessionCreatedData:
		return data.SessionID
	case SessionStateData:
		return data.SessionID
	case SessionClosedData:
		return data.SessionID
	case SandboxProvisionedData:
		return data.SessionID
	case MessageCompletedData:
		return data.SessionID
	case MessageFailedData:
		return data.SessionID
	}
	return ""
}
