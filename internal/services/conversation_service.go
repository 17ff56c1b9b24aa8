package services

import (
	"context"
	"fmt"
	"log/slog"

	"dmsync/internal/messaging"
	"dmsync/internal/models"
	"dmsync/internal/storage"
)

// ConversationService builds the conversation index of a user.
type ConversationService interface {
	// ListConversations returns one summary per partner, most recent activity first.
	ListConversations(ctx context.Context, userID string) ([]messaging.ConversationSummary, error)
}

// conversationService 是 ConversationService 的实现。
type conversationService struct {
	msgRepo     storage.MessageRepository
	userRepo    storage.UserRepository
	recentLimit int
	logger      *slog.Logger
}

// NewConversationService 创建一个新的 ConversationService 实例。
func NewConversationService(msgRepo storage.MessageRepository, userRepo storage.UserRepository, recentLimit int, logger *slog.Logger) ConversationService {
	return &conversationService{
		msgRepo:     msgRepo,
		userRepo:    userRepo,
		recentLimit: recentLimit,
		logger:      logger.With("component", "conversation_service"),
	}
}

func (s *conversationService) ListConversations(ctx context.Context, userID string) ([]messaging.ConversationSummary, error) {
	recent, err := s.msgRepo.ListRecentForUser(ctx, userID, s.recentLimit)
	if err != nil {
		return nil, fmt.Errorf("获取用户 %s 的最近消息失败: %w", userID, err)
	}
	summaries := messaging.Aggregate(recent, userID)
	if len(summaries) == 0 {
		return summaries, nil
	}

	partnerIDs := make([]string, len(summaries))
	for i, sum := range summaries {
		partnerIDs[i] = sum.PartnerID
	}
	profiles, err := s.userRepo.GetMultipleBasicInfoByIDs(ctx, partnerIDs)
	if err != nil {
		// 资料缺失不影响会话列表
		s.logger.Warn("load partner profiles failed", "user_id", userID, "error", err)
		return summaries, nil
	}
	byID := make(map[string]*models.UserBasicInfo, len(profiles))
	for _, p := range profiles {
		byID[p.ID] = p
	}
	for i := range summaries {
		summaries[i].PartnerProfile = byID[summaries[i].PartnerID]
	}
	return summaries, nil
}
