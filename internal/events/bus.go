// Package events fans trace events out to local subscribers and, when a redis
// client is configured, to every other process listening on the same channel.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kolibri-omega/kolibri-studio/internal/logutil"
)

const DefaultChannel = "kolibri-trace-events"

// Event is one trace event emitted by a streaming session.
type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Session   string      `json:"session,omitempty"`
	Origin    string      `json:"origin,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// Bus multiplexes events to connected subscribers (local + Redis backed).
type Bus struct {
	client redis.UniversalClient
	ch     string
	origin string
	buffer int

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu          sync.RWMutex
	subscribers map[chan Event]func(Event) bool
}

// Options configure the bus.
type Options struct {
	Client  redis.UniversalClient
	Channel string
	// Buffer is the per-subscriber backlog before events are dropped.
	Buffer int
}

// NewBus creates a new event bus. Close stops the redis observer.
func NewBus(opts Options) *Bus {
	channel := opts.Channel
	if channel == "" {
		channel = DefaultChannel
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	bus := &Bus{
		client:      opts.Client,
		ch:          channel,
		origin:      uuid.NewString(),
		buffer:      buffer,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		subscribers: make(map[chan Event]func(Event) bool),
	}
	if bus.client != nil {
		ready := make(chan struct{})
		go bus.observeRedis(ready)
		<-ready
	} else {
		close(bus.done)
	}
	return bus
}

// Publish delivers an event to local subscribers and to Redis. Copies that
// come back from Redis carrying this bus's origin are ignored.
func (b *Bus) Publish(ctx context.Context, evt Event) error {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	evt.Origin = b.origin

	b.broadcast(evt)

	if b.client != nil {
		payload, err := json.Marshal(evt)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		if err := b.client.Publish(ctx, b.ch, payload).Err(); err != nil {
			return fmt.Errorf("redis publish: %w", err)
		}
	}
	return nil
}

// Subscribe registers a subscriber for every event.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Event, func()) {
	return b.subscribe(ctx, nil)
}

// SubscribeSession registers a subscriber for the events of one session.
func (b *Bus) SubscribeSession(ctx context.Context, session string) (<-chan Event, func()) {
	return b.subscribe(ctx, func(evt Event) bool { return evt.Session == session })
}

func (b *Bus) subscribe(ctx context.Context, match func(Event) bool) (<-chan Event, func()) {
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	b.subscribers[ch] = match
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, ch)
			close(ch)
			b.mu.Unlock()
		})
	}
	stop := context.AfterFunc(ctx, cancel)
	return ch, func() {
		stop()
		cancel()
	}
}

// Subscribers reports the number of registered subscribers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close stops the redis observer. Subscribers stay registered until cancelled.
func (b *Bus) Close() {
	b.cancel()
	<-b.done
}

func (b *Bus) broadcast(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch, match := range b.subscribers {
		if match != nil && !match(evt) {
			continue
		}
		select {
		case ch <- evt:
		default:
			logutil.Warn("events: dropping event (subscriber backlog)", map[string]interface{}{
				"id":      evt.ID,
				"session": evt.Session,
			})
		}
	}
}

func (b *Bus) observeRedis(ready chan<- struct{}) {
	defer close(b.done)
	pubsub := b.client.Subscribe(b.ctx, b.ch)
	defer pubsub.Close()
	close(ready)

	for {
		msg, err := pubsub.ReceiveMessage(b.ctx)
		if err != nil {
			if b.ctx.Err() != nil {
				return
			}
			logutil.Error("events: redis subscriber error", err, map[string]interface{}{"channel": b.ch})
			select {
			case <-b.ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
			continue
		}

		var evt Event
		if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
			logutil.Warn("events: invalid payload", map[string]interface{}{"error": err.Error()})
			continue
		}
		if evt.Origin == b.origin {
			continue
		}
		b.broadcast(evt)
	}
}
