package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"dmsync/internal/broadcast"
	"dmsync/internal/imtypes"
	"dmsync/internal/models"
	"dmsync/internal/storage"
)

var (
	// ErrWrite wraps every failure of the backing store to accept a message.
	ErrWrite = errors.New("message write rejected")
	// ErrInvalidMessage is returned for input that can never be stored.
	ErrInvalidMessage = errors.New("invalid message")
)

// MessageService 是消息存储的业务入口，实现 messaging.MessageStore。
type MessageService interface {
	// ListMessages returns the conversation history, ascending by creation time.
	ListMessages(ctx context.Context, conversationKey string) ([]*models.Message, error)
	// CreateMessage persists a message and fans the stored copy out to the conversation channel.
	CreateMessage(ctx context.Context, in models.NewMessage) (*models.Message, error)
	GetMessageByID(ctx context.Context, id string) (*models.Message, error)
}

// messageService 是 MessageService 的实现。
type messageService struct {
	msgRepo      storage.MessageRepository
	publisher    broadcast.Publisher
	historyLimit int
	logger       *slog.Logger
}

// NewMessageService 创建一个新的 MessageService 实例。publisher 可以为 nil（不广播）。
func NewMessageService(msgRepo storage.MessageRepository, publisher broadcast.Publisher, historyLimit int, logger *slog.Logger) MessageService {
	return &messageService{
		msgRepo:      msgRepo,
		publisher:    publisher,
		historyLimit: historyLimit,
		logger:       logger.With("component", "message_service"),
	}
}

func (s *messageService) ListMessages(ctx context.Context, conversationKey string) ([]*models.Message, error) {
	if _, _, ok := models.ParticipantsOf(conversationKey); !ok {
		return nil, fmt.Errorf("%w: bad conversation key %q", ErrInvalidMessage, conversationKey)
	}
	msgs, err := s.msgRepo.ListByConversationKey(ctx, conversationKey, s.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("获取会话 %s 的消息失败: %w", conversationKey, err)
	}
	return msgs, nil
}

func validateNewMessage(in models.NewMessage) error {
	if in.SenderID == "" || in.ReceiverID == "" {
		return fmt.Errorf("%w: 发送者ID或接收者ID不能为空", ErrInvalidMessage)
	}
	if !models.ValidParticipantID(in.SenderID) || !models.ValidParticipantID(in.ReceiverID) {
		return fmt.Errorf("%w: 用户ID不能包含会话键分隔符", ErrInvalidMessage)
	}
	if in.SenderID == in.ReceiverID {
		return fmt.Errorf("%w: 不能给自己发消息", ErrInvalidMessage)
	}
	if strings.TrimSpace(in.Content) == "" && in.MediaURL == "" {
		return fmt.Errorf("%w: 消息内容为空", ErrInvalidMessage)
	}
	if in.ConversationKey != models.ConversationKey(in.SenderID, in.ReceiverID) {
		return fmt.Errorf("%w: conversation key %q does not match participants", ErrInvalidMessage, in.ConversationKey)
	}
	return nil
}

// CreateMessage stores the message and then publishes it. A publish failure is
// logged only: the write already succeeded and the sender reconciles from the
// returned copy.
func (s *messageService) CreateMessage(ctx context.Context, in models.NewMessage) (*models.Message, error) {
	if err := validateNewMessage(in); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWrite, err)
	}

	msg := &models.Message{
		ConversationKey: in.ConversationKey,
		SenderID:        in.SenderID,
		ReceiverID:      in.ReceiverID,
		Content:         in.Content,
		MediaURL:        in.MediaURL,
	}
	if err := s.msgRepo.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("%w: 存储消息到数据库失败: %w", ErrWrite, err)
	}

	if s.publisher != nil {
		if err := s.publisher.PublishMessage(ctx, imtypes.FromModel(msg)); err != nil {
			s.logger.Warn("publish stored message failed", "message_id", msg.ID, "conversation_key", msg.ConversationKey, "error", err)
		}
	}
	return msg.Clone(), nil
}

// GetMessageByID retrieves a single message by its ID.
func (s *messageService) GetMessageByID(ctx context.Context, id string) (*models.Message, error) {
	return s.msgRepo.GetByID(ctx, id)
}
