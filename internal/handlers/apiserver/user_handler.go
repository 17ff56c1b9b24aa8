package apiserver

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"dmsync/internal/middleware"
	"dmsync/internal/services"
)

// UserHandler 封装了用户资料相关的 HTTP 处理器方法。
type UserHandler struct {
	userService services.UserService
	logger      *slog.Logger
}

// NewUserHandler 创建一个新的 UserHandler 实例。
func NewUserHandler(userService services.UserService, logger *slog.Logger) *UserHandler {
	return &UserHandler{userService: userService, logger: logger.With("component", "user_handler")}
}

// GetMyProfileHandler 处理获取当前登录用户信息的请求。
func (h *UserHandler) GetMyProfileHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "用户未认证", http.StatusUnauthorized)
		return
	}
	h.writeProfile(w, r, userID)
}

// GetUserProfileHandler 处理获取指定用户公开信息的请求。
func (h *UserHandler) GetUserProfileHandler(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	if userID == "" {
		writeJSONError(w, "请求路径中缺少 userID", http.StatusBadRequest)
		return
	}
	h.writeProfile(w, r, userID)
}

func (h *UserHandler) writeProfile(w http.ResponseWriter, r *http.Request, userID string) {
	user, err := h.userService.GetUserProfile(r.Context(), userID)
	if err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			writeJSONError(w, "用户不存在", http.StatusNotFound)
			return
		}
		h.logger.Error("get user profile failed", "user_id", userID, "error", err)
		writeJSONError(w, "获取用户信息失败", http.StatusInternalServerError)
		return
	}
	writeJSONResponse(w, http.StatusOK, user.BasicInfo())
}
