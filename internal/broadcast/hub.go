package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"dmsync/internal/imtypes"
)

// eventBufferSize bounds the hub's inbound queue.
const eventBufferSize = 256

type registration struct {
	sub      *Subscription
	handlers Handlers
	ack      chan struct{}
}

type unregistration struct {
	sub *Subscription
	ack chan struct{}
}

type countQuery struct {
	key    string
	result chan int
}

// Hub maintains the set of active conversation subscriptions and broadcasts
// events to them. All subscriber state is owned by the Run loop.
type Hub struct {
	// conversationKey -> subscription ID -> handlers
	subscribers map[string]map[string]Handlers

	// Register requests from sessions.
	register chan registration

	// Unregister requests from sessions.
	unregister chan unregistration

	// Events to fan out, scoped by their conversation key.
	events chan *imtypes.ChannelEvent

	count chan countQuery

	quit   chan struct{}
	done   chan struct{}
	logger *slog.Logger
}

// NewHub creates a new Hub. Pass nil logger for default. Call Run to start it.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subscribers: make(map[string]map[string]Handlers),
		register:    make(chan registration),
		unregister:  make(chan unregistration),
		events:      make(chan *imtypes.ChannelEvent, eventBufferSize),
		count:       make(chan countQuery),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
		logger:      logger.With("component", "hub"),
	}
}

// Subscribe registers handlers for a conversation key. It returns once the
// registration is live, so no event published afterwards is missed.
func (h *Hub) Subscribe(conversationKey string, handlers Handlers) (*Subscription, error) {
	if conversationKey == "" {
		return nil, fmt.Errorf("hub subscribe: empty conversation key")
	}
	r := registration{sub: newSubscription(conversationKey), handlers: handlers, ack: make(chan struct{})}
	select {
	case h.register <- r:
	case <-h.done:
		return nil, ErrClosed
	}
	<-r.ack
	return r.sub, nil
}

// Unsubscribe removes a subscription. After it returns the handlers are never called again.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	u := unregistration{sub: sub, ack: make(chan struct{})}
	select {
	case h.unregister <- u:
		<-u.ack
	case <-h.done:
	}
}

// PublishTyping enqueues a typing signal. It never blocks the caller.
func (h *Hub) PublishTyping(_ context.Context, conversationKey, userID string, isTyping bool) {
	h.enqueue(&imtypes.ChannelEvent{
		Type: imtypes.TypingEvent,
		Typing: &imtypes.TypingSignal{
			ConversationKey: conversationKey,
			UserID:          userID,
			IsTyping:        isTyping,
			ObservedAt:      time.Now(),
		},
	})
}

// PublishMessage enqueues a stored message for its conversation's subscribers.
func (h *Hub) PublishMessage(_ context.Context, msg *imtypes.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if !h.enqueue(&imtypes.ChannelEvent{Type: imtypes.MessageEvent, Message: msg}) {
		return fmt.Errorf("hub publish message %s: event queue full or hub stopped", msg.ID)
	}
	return nil
}

// Publish enqueues an already decoded event, e.g. one consumed from Kafka.
func (h *Hub) Publish(ev *imtypes.ChannelEvent) bool {
	return h.enqueue(ev)
}

func (h *Hub) enqueue(ev *imtypes.ChannelEvent) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	// Non-blocking so a slow hub never stalls a writer or the Kafka consumer.
	select {
	case h.events <- ev:
		return true
	default:
		h.logger.Warn("event queue full, dropping event",
			"type", ev.Type,
			"conversation_key", ev.ConversationKey())
		return false
	}
}

// Run starts the hub and listens on its channels until Stop is called.
func (h *Hub) Run() {
	h.logger.Info("hub run loop started")
	defer close(h.done)
	for {
		select {
		case r := <-h.register:
			subs, ok := h.subscribers[r.sub.ConversationKey]
			if !ok {
				subs = make(map[string]Handlers)
				h.subscribers[r.sub.ConversationKey] = subs
			}
			subs[r.sub.ID] = r.handlers
			close(r.ack)
			h.logger.Debug("subscriber added",
				"conversation_key", r.sub.ConversationKey,
				"sub_id", r.sub.ID)

		case u := <-h.unregister:
			if subs, ok := h.subscribers[u.sub.ConversationKey]; ok {
				delete(subs, u.sub.ID)
				if len(subs) == 0 {
					delete(h.subscribers, u.sub.ConversationKey)
				}
				h.logger.Debug("subscriber removed",
					"conversation_key", u.sub.ConversationKey,
					"sub_id", u.sub.ID)
			}
			close(u.ack)

		case ev := <-h.events:
			for _, handlers := range h.subscribers[ev.ConversationKey()] {
				Deliver(ev, handlers)
			}

		case q := <-h.count:
			q.result <- len(h.subscribers[q.key])

		case <-h.quit:
			h.subscribers = make(map[string]map[string]Handlers)
			h.logger.Info("hub stopped")
			return
		}
	}
}

// Stop terminates the run loop and drops every subscription. Safe to call once.
func (h *Hub) Stop() {
	close(h.quit)
	<-h.done
}

// SubscriberCount reports how many live subscriptions exist for key. It is served by
// the run loop, so it observes a consistent view.
func (h *Hub) SubscriberCount(conversationKey string) int {
	q := countQuery{key: conversationKey, result: make(chan int, 1)}
	select {
	case h.count <- q:
		return <-q.result
	case <-h.done:
		return 0
	}
}
