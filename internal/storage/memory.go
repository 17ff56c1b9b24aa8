package storage

import (
	"context"
	"slices"
	"sync"

	"gorm.io/gorm"

	"dmsync/internal/models"
)

// memoryMessageRepository keeps messages in process memory. Used when
// DATABASE.TYPE is "memory" and in tests.
type memoryMessageRepository struct {
	mu       sync.RWMutex
	messages []*models.Message
	byID     map[string]*models.Message
}

// NewMemoryMessageRepository returns an empty in-memory MessageRepository.
func NewMemoryMessageRepository() MessageRepository {
	return &memoryMessageRepository{byID: make(map[string]*models.Message)}
}

func (r *memoryMessageRepository) Create(ctx context.Context, message *models.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	prepareForCreate(message)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[message.ID]; exists {
		return gorm.ErrDuplicatedKey
	}
	stored := message.Clone()
	r.messages = append(r.messages, stored)
	r.byID[stored.ID] = stored
	return nil
}

func (r *memoryMessageRepository) GetByID(ctx context.Context, id string) (*models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byID[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return m.Clone(), nil
}

// sortedByTime returns the matching messages ordered ascending by creation time,
// ties in insertion order.
func (r *memoryMessageRepository) sortedByTime(match func(*models.Message) bool) []*models.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Message
	for _, m := range r.messages {
		if match(m) {
			out = append(out, m.Clone())
		}
	}
	slices.SortStableFunc(out, func(a, b *models.Message) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

func (r *memoryMessageRepository) ListByConversationKey(ctx context.Context, conversationKey string, limit int) ([]*models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := r.sortedByTime(func(m *models.Message) bool { return m.ConversationKey == conversationKey })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (r *memoryMessageRepository) ListRecentForUser(ctx context.Context, userID string, limit int) ([]*models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := r.sortedByTime(func(m *models.Message) bool { return m.SenderID == userID || m.ReceiverID == userID })
	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memoryUserRepository struct {
	mu    sync.RWMutex
	users map[string]*models.User
}

// NewMemoryUserRepository returns an empty in-memory UserRepository.
func NewMemoryUserRepository() UserRepository {
	return &memoryUserRepository{users: make(map[string]*models.User)}
}

func (r *memoryUserRepository) Create(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.users[user.ID]; exists {
		return gorm.ErrDuplicatedKey
	}
	u := *user
	r.users[user.ID] = &u
	return nil
}

func (r *memoryUserRepository) GetByID(_ context.Context, id string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	c := *u
	return &c, nil
}

func (r *memoryUserRepository) GetMultipleBasicInfoByIDs(_ context.Context, userIDs []string) ([]*models.UserBasicInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.UserBasicInfo, 0, len(userIDs))
	for _, id := range userIDs {
		if u, ok := r.users[id]; ok {
			out = append(out, u.BasicInfo())
		}
	}
	return out, nil
}
