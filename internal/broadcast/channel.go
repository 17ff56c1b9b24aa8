// Package broadcast defines the per-conversation publish/subscribe channel that carries
// new-message and typing events, plus its in-process implementation.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"dmsync/internal/imtypes"
)

// ErrClosed is returned when subscribing to or publishing on a stopped channel.
var ErrClosed = errors.New("broadcast channel closed")

// Handlers receive events for one conversation key. They are invoked from the
// channel's delivery goroutine and must not block.
type Handlers struct {
	OnMessage func(*imtypes.Message)
	OnTyping  func(*imtypes.TypingSignal)
}

// Subscription is the handle returned by Subscribe and required by Unsubscribe.
type Subscription struct {
	ID              string
	ConversationKey string
}

func newSubscription(key string) *Subscription {
	return &Subscription{ID: uuid.New().String(), ConversationKey: key}
}

// NewSubscription returns a fresh handle for key. Exposed for Channel implementations
// outside this package.
func NewSubscription(key string) *Subscription {
	return newSubscription(key)
}

// Channel is the broadcast collaborator consumed by the messaging engine.
type Channel interface {
	Subscribe(conversationKey string, h Handlers) (*Subscription, error)
	Unsubscribe(sub *Subscription)
	// PublishTyping is fire-and-forget; failures are logged by the implementation.
	PublishTyping(ctx context.Context, conversationKey, userID string, isTyping bool)
}

// Publisher fans a stored message out to the subscribers of its conversation.
type Publisher interface {
	PublishMessage(ctx context.Context, msg *imtypes.Message) error
}

// Decode parses a serialized ChannelEvent and validates its payload.
func Decode(payload []byte) (*imtypes.ChannelEvent, error) {
	var ev imtypes.ChannelEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", imtypes.ErrMalformedEvent, err)
	}
	switch ev.Type {
	case imtypes.MessageEvent:
		if err := ev.Message.Validate(); err != nil {
			return nil, err
		}
	case imtypes.TypingEvent:
		if err := ev.Typing.Validate(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unknown event type %q", imtypes.ErrMalformedEvent, ev.Type)
	}
	return &ev, nil
}

// Deliver routes a decoded event to the matching handler.
func Deliver(ev *imtypes.ChannelEvent, h Handlers) {
	switch ev.Type {
	case imtypes.MessageEvent:
		if h.OnMessage != nil {
			h.OnMessage(ev.Message)
		}
	case imtypes.TypingEvent:
		if h.OnTyping != nil {
			h.OnTyping(ev.Typing)
		}
	}
}
