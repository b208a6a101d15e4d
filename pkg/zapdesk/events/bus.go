// Package events implements the internal broadcast bus. State changes are
// enqueued onto a buffered queue and a dispatcher goroutine fans them out to
// subscribers, so slow observers never stall session or pipeline code.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Type identifies the kind of event.
type Type string

const (
	// TypeSessionStatus is a session lifecycle status change.
	TypeSessionStatus Type = "session_update"

	// TypeMessage is a logged inbound or outbound conversation message.
	TypeMessage Type = "new_message"

	// TypeBotEnabled is an automatic enable-flag flip from the scheduler.
	TypeBotEnabled Type = "bot_enabled"
)

// Event is the envelope delivered to subscribers.
type Event struct {
	Type Type `json:"type"`
	Data any  `json:"data"`
}

// SessionStatus is the payload of TypeSessionStatus events.
type SessionStatus struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Challenge string `json:"challenge,omitempty"`
}

// MessagePayload is the payload of TypeMessage events.
type MessagePayload struct {
	ConversationID string    `json:"conversation_id"`
	SessionID      string    `json:"session_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
}

// Bus is the process-wide event bus.
type Bus struct {
	queue  chan Event
	logger *slog.Logger

	mu   sync.Mutex
	subs []chan Event

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewBus creates a bus with a buffered queue.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		queue:  make(chan Event, 256),
		logger: logger.With("component", "events"),
		done:   make(chan struct{}),
	}
}

// Start launches the dispatcher goroutine.
func (b *Bus) Start(ctx context.Context) {
	b.ctx, b.cancel = context.WithCancel(ctx)
	go b.dispatch()
}

// Stop shuts the dispatcher down and closes all subscriber channels.
func (b *Bus) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	<-b.done

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}

// Publish enqueues an event. Never blocks: if the queue is full the event is
// dropped and logged (observers have no delivery guarantee).
func (b *Bus) Publish(evt Event) {
	select {
	case b.queue <- evt:
	default:
		b.logger.Warn("event queue full, dropping event", "type", evt.Type)
	}
}

// PublishStatus enqueues a session status event.
func (b *Bus) PublishStatus(s SessionStatus) {
	b.Publish(Event{Type: TypeSessionStatus, Data: s})
}

// PublishMessage enqueues a conversation message event.
func (b *Bus) PublishMessage(m MessagePayload) {
	b.Publish(Event{Type: TypeMessage, Data: m})
}

// Subscribe registers a new observer. Returns the event channel and an
// unsubscribe function. Events are dropped per subscriber when its buffer
// is full.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)

	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, sub := range b.subs {
			if sub == ch {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
}

// dispatch drains the queue to all subscribers.
func (b *Bus) dispatch() {
	defer close(b.done)
	for {
		select {
		case <-b.ctx.Done():
			return
		case evt := <-b.queue:
			b.mu.Lock()
			subs := make([]chan Event, len(b.subs))
			copy(subs, b.subs)
			b.mu.Unlock()

			for _, ch := range subs {
				select {
				case ch <- evt:
				default:
					// Subscriber too slow, skip.
				}
			}
		}
	}
}
