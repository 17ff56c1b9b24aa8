package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"dmsync/internal/models"
	"dmsync/internal/storage"
)

// ErrUserNotFound 表示用户不存在。
var ErrUserNotFound = errors.New("user not found")

// UserService 提供只读的用户资料查询。
type UserService interface {
	GetUserProfile(ctx context.Context, userID string) (*models.User, error)
}

type userService struct {
	userRepo storage.UserRepository
}

// NewUserService 创建一个新的 UserService 实例。
func NewUserService(userRepo storage.UserRepository) UserService {
	return &userService{userRepo: userRepo}
}

func (s *userService) GetUserProfile(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("获取用户 %s 失败: %w", userID, err)
	}
	return user, nil
}
