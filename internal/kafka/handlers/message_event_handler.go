// Package kafkahandlers contains the consumer callbacks of the chat server.
package kafkahandlers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"dmsync/internal/broadcast"
	"dmsync/internal/imtypes"
)

// Republisher is the local side a consumed event is handed to.
type Republisher interface {
	Publish(ev *imtypes.ChannelEvent) bool
}

// MessageEventHandler turns message events consumed from Kafka into local broadcast
// deliveries, so every chat server instance sees writes made through any API server.
type MessageEventHandler struct {
	target Republisher
	logger *slog.Logger
}

// NewMessageEventHandler creates a handler that republishes into target.
func NewMessageEventHandler(target Republisher, logger *slog.Logger) *MessageEventHandler {
	return &MessageEventHandler{target: target, logger: logger.With("component", "message_event_handler")}
}

// Handle is the kafka.MessageHandler for the message events topic. Malformed
// payloads are logged and skipped (their offset is committed); a stopped target
// is reported so the offset is not committed.
func (h *MessageEventHandler) Handle(ctx context.Context, msg *kafka.Message) error {
	ev, err := broadcast.Decode(msg.Value)
	if err != nil {
		h.logger.Warn("skipping malformed message event", "key", string(msg.Key), "error", err)
		return nil
	}
	if !h.target.Publish(ev) {
		return errors.New("local broadcast unavailable")
	}
	h.logger.Debug("message event republished", "conversation_key", ev.ConversationKey())
	return nil
}
