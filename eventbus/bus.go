// Package eventbus defines the event-bus boundary the orchestrator
// publishes through, plus an in-process implementation. The transport and
// persistence behind a production bus live outside this module; consumers
// depend only on the Bus interface.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Envelope is the generic event shape handed to the bus.
type Envelope struct {
	ID            string            `json:"id"`
	Type          string            `json:"type"`
	Timestamp     time.Time         `json:"timestamp"`
	Data          map[string]any    `json:"data"`
	CorrelationID string            `json:"correlationId,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// ErrBlocked is returned when an interceptor vetoes every envelope in a
// publish call. Callers treat it as a warning, not a failure: local state
// changes proceed regardless.
var ErrBlocked = errors.New("event publication blocked by interceptor")

// Bus is the publishing surface consumed by the allocator and the
// resilience publisher.
type Bus interface {
	PublishBatch(ctx context.Context, events []Envelope) error
}

// Handler receives envelopes delivered by the in-process bus.
type Handler func(Envelope)

// Interceptor inspects an envelope before delivery. Returning false
// vetoes it.
type Interceptor func(Envelope) bool

// subscriptionCounter generates unique subscription ids; an atomic counter
// avoids collisions under concurrent Subscribe calls.
var subscriptionCounter int64

// ChannelBus is a channel-backed in-process Bus with per-type handler
// fan-out and interceptor support.
type ChannelBus struct {
	mu           sync.RWMutex
	handlers     map[string]map[string]Handler
	interceptors []Interceptor
	events       chan Envelope
	done         chan struct{}
	stopOnce     sync.Once
	logger       *zap.Logger
}

// NewChannelBus creates a running in-process bus.
func NewChannelBus(logger *zap.Logger) *ChannelBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &ChannelBus{
		handlers: make(map[string]map[string]Handler),
		events:   make(chan Envelope, 256),
		done:     make(chan struct{}),
		logger:   logger.With(zap.String("component", "eventbus")),
	}
	go b.deliverLoop()
	return b
}

// AddInterceptor registers an interceptor applied to every envelope.
func (b *ChannelBus) AddInterceptor(i Interceptor) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.interceptors = append(b.interceptors, i)
}

// PublishBatch enqueues every envelope that passes interception. If all
// envelopes were vetoed it returns ErrBlocked; envelopes that do not fit
// the buffer are dropped with a warning rather than blocking the caller.
func (b *ChannelBus) PublishBatch(ctx context.Context, events []Envelope) error {
	if len(events) == 0 {
		return nil
	}

	b.mu.RLock()
	interceptors := b.interceptors
	b.mu.RUnlock()

	accepted := 0
	for _, ev := range events {
		if vetoed(interceptors, ev) {
			continue
		}
		accepted++
		select {
		case b.events <- ev:
		case <-b.done:
			return errors.New("eventbus stopped")
		case <-ctx.Done():
			return ctx.Err()
		default:
			b.logger.Warn("event buffer full, dropping envelope",
				zap.String("event_id", ev.ID),
				zap.String("event_type", ev.Type),
			)
		}
	}

	if accepted == 0 {
		return ErrBlocked
	}
	return nil
}

// Subscribe registers a handler for one event type and returns the
// subscription id.
func (b *ChannelBus) Subscribe(eventType string, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[string]Handler)
	}
	id := fmt.Sprintf("sub-%d", atomic.AddInt64(&subscriptionCounter, 1))
	b.handlers[eventType][id] = handler
	return id
}

// Unsubscribe removes a subscription by id.
func (b *ChannelBus) Unsubscribe(subscriptionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, subs := range b.handlers {
		delete(subs, subscriptionID)
	}
}

// Stop shuts the bus down. Envelopes still buffered are discarded.
func (b *ChannelBus) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
	})
}

func (b *ChannelBus) deliverLoop() {
	for {
		select {
		case ev := <-b.events:
			b.mu.RLock()
			subs := make([]Handler, 0, len(b.handlers[ev.Type]))
			for _, h := range b.handlers[ev.Type] {
				subs = append(subs, h)
			}
			b.mu.RUnlock()
			for _, h := range subs {
				h(ev)
			}
		case <-b.done:
			return
		}
	}
}

func vetoed(interceptors []Interceptor, ev Envelope) bool {
	for _, i := range interceptors {
		if !i(ev) {
			return true
		}
	}
	return false
}
