package storage

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"dmsync/internal/models"
)

// MessageRepository 定义了消息数据操作的接口。
type MessageRepository interface {
	// Create assigns the id and timestamp when they are unset and stores the message.
	Create(ctx context.Context, message *models.Message) error
	GetByID(ctx context.Context, id string) (*models.Message, error)
	// ListByConversationKey returns the latest limit messages of a conversation in ascending order.
	ListByConversationKey(ctx context.Context, conversationKey string, limit int) ([]*models.Message, error)
	// ListRecentForUser returns the messages userID sent or received, newest first.
	ListRecentForUser(ctx context.Context, userID string, limit int) ([]*models.Message, error)
}

// prepareForCreate fills the store-assigned fields.
func prepareForCreate(message *models.Message) {
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}
}

// gormMessageRepository 使用 GORM 实现 MessageRepository。
type gormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository 创建一个新的基于 GORM 的 MessageRepository。
func NewGormMessageRepository(db *gorm.DB) MessageRepository {
	return &gormMessageRepository{db: db}
}

// Create 在数据库中创建一条新的消息记录。
func (r *gormMessageRepository) Create(ctx context.Context, message *models.Message) error {
	prepareForCreate(message)
	return r.db.WithContext(ctx).Create(message).Error
}

// GetByID 通过ID检索消息。
func (r *gormMessageRepository) GetByID(ctx context.Context, id string) (*models.Message, error) {
	var message models.Message
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&message).Error
	if err != nil {
		return nil, err
	}
	return &message, nil
}

// ListByConversationKey 按时间倒序取最近 limit 条，再翻转为正序返回。
func (r *gormMessageRepository) ListByConversationKey(ctx context.Context, conversationKey string, limit int) ([]*models.Message, error) {
	var messages []*models.Message
	query := r.db.WithContext(ctx).
		Where("conversation_key = ?", conversationKey).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&messages).Error; err != nil {
		return nil, err
	}
	slices.Reverse(messages)
	return messages, nil
}

// ListRecentForUser 返回用户参与的所有消息，最新的在前。
func (r *gormMessageRepository) ListRecentForUser(ctx context.Context, userID string, limit int) ([]*models.Message, error) {
	var messages []*models.Message
	query := r.db.WithContext(ctx).
		Where("sender_id = ? OR receiver_id = ?", userID, userID).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}
