package apiserver

import (
	"log/slog"
	"net/http"

	"dmsync/internal/auth"
	"dmsync/internal/middleware"
)

// AuthHandler 处理令牌吊销。签发令牌由外部身份服务负责。
type AuthHandler struct {
	TokenBlacklist auth.TokenBlacklist
	logger         *slog.Logger
}

// NewAuthHandler 创建一个新的 AuthHandler 实例。
func NewAuthHandler(tokenBlacklist auth.TokenBlacklist, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		TokenBlacklist: tokenBlacklist,
		logger:         logger.With("component", "auth_handler"),
	}
}

// LogoutHandler 将当前 Token 加入黑名单，直到它原本的过期时间。
func (h *AuthHandler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetClaimsFromContext(r.Context())
	if !ok {
		writeJSONError(w, "用户未认证或无法解析用户声明", http.StatusUnauthorized)
		return
	}

	if claims.ID == "" { // JTI
		writeJSONError(w, "Token 缺少 JTI，无法执行登出", http.StatusBadRequest)
		return
	}
	if claims.ExpiresAt == nil {
		writeJSONError(w, "Token 缺少过期时间，无法执行登出", http.StatusBadRequest)
		return
	}

	if err := h.TokenBlacklist.Add(r.Context(), claims.ID, claims.ExpiresAt.Time); err != nil {
		h.logger.Error("blacklist token failed", "user_id", claims.UserID, "error", err)
		writeJSONError(w, "登出过程中发生内部错误", http.StatusInternalServerError)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "登出成功"})
}
