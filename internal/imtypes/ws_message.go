package imtypes

import (
	"errors"
	"fmt"
	"time"

	"dmsync/internal/models"
)

// ErrMalformedEvent is returned when an inbound channel payload is missing required fields.
var ErrMalformedEvent = errors.New("malformed channel event")

// EventType identifies the kind of payload carried on a conversation channel.
type EventType string

const (
	MessageEvent EventType = "message"
	TypingEvent  EventType = "typing"
)

// Message is the wire form of a stored message pushed over a conversation channel.
// Fields are validated on receipt because the payload may come from another process.
type Message struct {
	ID              string           `json:"id"`
	ConversationKey string           `json:"conversationKey"`
	SenderID        string           `json:"senderId"`
	ReceiverID      string           `json:"receiverId"`
	Content         string           `json:"content"`
	MediaURL        string           `json:"mediaUrl,omitempty"`
	Reactions       models.Reactions `json:"reactions,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
}

// FromModel converts a stored message to its wire form.
func FromModel(m *models.Message) *Message {
	return &Message{
		ID:              m.ID,
		ConversationKey: m.ConversationKey,
		SenderID:        m.SenderID,
		ReceiverID:      m.ReceiverID,
		Content:         m.Content,
		MediaURL:        m.MediaURL,
		Reactions:       m.Reactions,
		CreatedAt:       m.CreatedAt,
	}
}

// Validate checks the fields a timeline needs to place the message.
func (m *Message) Validate() error {
	switch {
	case m == nil:
		return fmt.Errorf("%w: empty message", ErrMalformedEvent)
	case m.ID == "":
		return fmt.Errorf("%w: missing id", ErrMalformedEvent)
	case m.ConversationKey == "":
		return fmt.Errorf("%w: missing conversation key", ErrMalformedEvent)
	case m.SenderID == "":
		return fmt.Errorf("%w: missing sender", ErrMalformedEvent)
	case m.CreatedAt.IsZero():
		return fmt.Errorf("%w: missing timestamp", ErrMalformedEvent)
	case models.IsLocalID(m.ID):
		return fmt.Errorf("%w: local id %q on channel", ErrMalformedEvent, m.ID)
	}
	return nil
}

// ToModel converts the wire form back into a message. Call Validate first.
func (m *Message) ToModel() *models.Message {
	return &models.Message{
		ID:              m.ID,
		ConversationKey: m.ConversationKey,
		SenderID:        m.SenderID,
		ReceiverID:      m.ReceiverID,
		Content:         m.Content,
		MediaURL:        m.MediaURL,
		Reactions:       m.Reactions,
		CreatedAt:       m.CreatedAt,
	}
}

// TypingSignal is the ephemeral "participant is composing" indicator. Never persisted.
type TypingSignal struct {
	ConversationKey string    `json:"conversationKey"`
	UserID          string    `json:"userId"`
	IsTyping        bool      `json:"isTyping"`
	ObservedAt      time.Time `json:"observedAt"`
}

// Validate checks the fields the presence state machine needs.
func (s *TypingSignal) Validate() error {
	switch {
	case s == nil:
		return fmt.Errorf("%w: empty typing signal", ErrMalformedEvent)
	case s.ConversationKey == "":
		return fmt.Errorf("%w: typing signal without conversation key", ErrMalformedEvent)
	case s.UserID == "":
		return fmt.Errorf("%w: typing signal without user", ErrMalformedEvent)
	}
	return nil
}

// ChannelEvent is the envelope serialized onto external transports (Redis, Kafka).
type ChannelEvent struct {
	Type    EventType     `json:"type"`
	Message *Message      `json:"message,omitempty"`
	Typing  *TypingSignal `json:"typing,omitempty"`
}

// ConversationKey returns the key the event is scoped to, or "" if the payload carries none.
func (e *ChannelEvent) ConversationKey() string {
	switch {
	case e.Type == MessageEvent && e.Message != nil:
		return e.Message.ConversationKey
	case e.Type == TypingEvent && e.Typing != nil:
		return e.Typing.ConversationKey
	}
	return ""
}
