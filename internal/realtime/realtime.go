// Package realtime publishes reservation events to per-agent rooms.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	EventReservationCreated   = "reservation.created"
	EventReservationCancelled = "reservation.cancelled"
	EventReservationUpdated   = "reservation.updated"
)

// Envelope is the wire form of one event.
type Envelope struct {
	Room    string          `json:"room"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	SentAt  time.Time       `json:"sent_at"`
}

// Broadcaster publishes an event to every listener of a room.
type Broadcaster interface {
	Publish(ctx context.Context, room, event string, payload any) error
}

// Streamer delivers a room's events to one consumer.
type Streamer interface {
	Stream(ctx context.Context, room string) (<-chan Envelope, error)
}

const streamBuffer = 64

func newEnvelope(room, event string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return Envelope{Room: room, Event: event, Payload: data, SentAt: time.Now()}, nil
}

// Handler reacts to an event.
type Handler func(env Envelope) error

// Bus provides in-process pub/sub keyed by room.
type Bus struct {
	subscribers map[string]map[int]Handler
	nextID      int
	mu          sync.RWMutex
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string]map[int]Handler)}
}

// Subscribe registers handler for room and returns a function that removes it.
func (b *Bus) Subscribe(room string, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers[room] == nil {
		b.subscribers[room] = make(map[int]Handler)
	}
	id := b.nextID
	b.nextID++
	b.subscribers[room][id] = handler

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subscribers[room], id)
		if len(b.subscribers[room]) == 0 {
			delete(b.subscribers, room)
		}
	}
}

// Publish runs the room's handlers synchronously and joins their errors.
func (b *Bus) Publish(_ context.Context, room, event string, payload any) error {
	env, err := newEnvelope(room, event, payload)
	if err != nil {
		return err
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subscribers[room]))
	for _, h := range b.subscribers[room] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := h(env); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stream delivers envelopes of room until ctx is done. Events published while
// the consumer is more than streamBuffer envelopes behind are dropped.
func (b *Bus) Stream(ctx context.Context, room string) (<-chan Envelope, error) {
	out := make(chan Envelope, streamBuffer)
	var (
		mu     sync.Mutex
		closed bool
	)
	unsubscribe := b.Subscribe(room, func(env Envelope) error {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return nil
		}
		select {
		case out <- env:
			return nil
		default:
			return fmt.Errorf("stream %s: consumer too slow, dropped %s", room, env.Event)
		}
	})

	go func() {
		<-ctx.Done()
		unsubscribe()
		mu.Lock()
		closed = true
		close(out)
		mu.Unlock()
	}()
	return out, nil
}

// RedisBroadcaster publishes envelopes on Redis channels, one per room.
type RedisBroadcaster struct {
	redis  *redis.Client
	prefix string
}

func NewRedisBroadcaster(client *redis.Client, prefix string) *RedisBroadcaster {
	if prefix == "" {
		prefix = "agentbook:"
	}
	return &RedisBroadcaster{redis: client, prefix: prefix}
}

// Channel returns the Redis channel of a room.
func (r *RedisBroadcaster) Channel(room string) string {
	return r.prefix + room
}

func (r *RedisBroadcaster) Publish(ctx context.Context, room, event string, payload any) error {
	env, err := newEnvelope(room, event, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := r.redis.Publish(ctx, r.Channel(room), data).Err(); err != nil {
		return fmt.Errorf("publish %s to %s: %w", event, room, err)
	}
	return nil
}

// Stream delivers envelopes of room until ctx is done.
// The returned channel is closed when the subscription ends.
func (r *RedisBroadcaster) Stream(ctx context.Context, room string) (<-chan Envelope, error) {
	sub := r.redis.Subscribe(ctx, r.Channel(room))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", room, err)
	}

	out := make(chan Envelope)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					continue
				}
				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Fanout publishes to several broadcasters and joins their errors.
type Fanout []Broadcaster

func (f Fanout) Publish(ctx context.Context, room, event string, payload any) error {
	var errs []error
	for _, b := range f {
		if err := b.Publish(ctx, room, event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
