package messaging

import (
	"context"

	"dmsync/internal/models"
)

// MessageStore is the backing message store consumed by the engine.
type MessageStore interface {
	// ListMessages returns the conversation's messages ordered ascending by creation time.
	ListMessages(ctx context.Context, conversationKey string) ([]*models.Message, error)
	// CreateMessage persists a message and returns the authoritative copy with id and timestamp assigned.
	CreateMessage(ctx context.Context, in models.NewMessage) (*models.Message, error)
}
