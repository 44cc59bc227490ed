// Package realtime implements the per-user publish/subscribe channel used
// for best-effort live delivery. Each user has one logical channel; every
// message on it is a named-event envelope so the single channel can be
// shared by unrelated subsystems (chat, presence, reveals). Subsystems
// bind and unbind their own event names on a shared Subscription and must
// never close the Subscription itself; its lifecycle belongs to whichever
// component subscribed first.
//
// Delivery is at-least-once at best and not guaranteed at all for offline
// users. The recovery query is the authoritative fallback; losing an
// envelope here is expected and compensated for.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Envelope is the wire frame for every message on a user channel.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Handler consumes the raw payload of one named event.
type Handler func(data json.RawMessage)

// Hub publishes envelopes to per-user Redis channels and opens
// subscriptions on them.
type Hub struct {
	rdb    *redis.Client
	prefix string
}

// NewHub returns a Hub addressing channels as "<prefix>:<userID>".
func NewHub(rdb *redis.Client, prefix string) *Hub {
	if prefix == "" {
		prefix = "reveal:user"
	}
	return &Hub{rdb: rdb, prefix: prefix}
}

func (h *Hub) channel(userID uint64) string {
	return fmt.Sprintf("%s:%d", h.prefix, userID)
}

// Publish sends one named event to the user's channel. Payloads that fail
// to marshal are a programming error and reported as such; a nil Redis
// client drops the event (the recovery path picks it up).
func (h *Hub) Publish(ctx context.Context, userID uint64, event string, payload interface{}) error {
	if h.rdb == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	env, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return err
	}
	return h.rdb.Publish(ctx, h.channel(userID), env).Err()
}

// Subscribe opens the shared channel handle for one user and starts the
// dispatch loop. The caller that opens the subscription owns its
// lifecycle; later subsystems only Bind/Unbind their event names on it.
func (h *Hub) Subscribe(ctx context.Context, userID uint64) *Subscription {
	s := &Subscription{handlers: make(map[string]Handler)}
	if h.rdb == nil {
		return s
	}
	s.pubsub = h.rdb.Subscribe(ctx, h.channel(userID))
	go func() {
		for msg := range s.pubsub.Channel() {
			s.dispatch([]byte(msg.Payload))
		}
	}()
	return s
}

// Subscription is one user's shared channel handle. Handlers are keyed by
// event name; binding a name that is already bound replaces the previous
// handler, matching the one-logical-listener-per-subsystem model.
type Subscription struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	pubsub   *redis.PubSub
}

// Bind registers a handler for one event name.
func (s *Subscription) Bind(event string, fn Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[event] = fn
}

// Unbind removes the handler for one event name. Other subsystems' events
// keep flowing; the underlying channel stays subscribed.
func (s *Subscription) Unbind(event string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers, event)
}

// Close tears down the underlying channel subscription. Only the
// component that called Subscribe may do this.
func (s *Subscription) Close() error {
	if s.pubsub == nil {
		return nil
	}
	return s.pubsub.Close()
}

// dispatch routes one raw envelope to the bound handler. Envelopes for
// unbound events are dropped silently; they belong to other subsystems
// sharing the channel. Malformed frames are logged and dropped; the
// recovery query compensates for any loss.
func (s *Subscription) dispatch(raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("realtime: drop malformed envelope: %v", err)
		return
	}
	s.mu.RLock()
	fn, ok := s.handlers[env.Event]
	s.mu.RUnlock()
	if !ok {
		return
	}
	fn(env.Data)
}
