package chatserver

import (
	"log/slog"
	"net/http"

	"dmsync/internal/auth"
	"dmsync/internal/broadcast"
	"dmsync/internal/config"
	"dmsync/internal/messaging"
	"dmsync/internal/middleware"
	ws "dmsync/internal/websocket"
)

// WebSocketHandler 负责处理 WebSocket 连接请求。每个连接拥有一个 messaging.Inbox。
type WebSocketHandler struct {
	hub       *ws.Hub
	store     messaging.MessageStore
	channel   broadcast.Channel
	blacklist auth.TokenBlacklist
	cfg       config.Config
	logger    *slog.Logger
}

// NewWebSocketHandler 创建一个新的 WebSocketHandler 实例。blacklist 可以为 nil。
func NewWebSocketHandler(hub *ws.Hub, store messaging.MessageStore, channel broadcast.Channel, blacklist auth.TokenBlacklist, cfg config.Config, logger *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:       hub,
		store:     store,
		channel:   channel,
		blacklist: blacklist,
		cfg:       cfg,
		logger:    logger,
	}
}

// ServeWS authenticates the request (?token= or Bearer header) and upgrades it.
func (h *WebSocketHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := middleware.TokenFromRequest(r)
	if token == "" {
		http.Error(w, "缺少认证令牌", http.StatusUnauthorized)
		return
	}
	claims, err := auth.ValidateToken(r.Context(), token, h.cfg.Auth.JWTSecretKey, h.blacklist)
	if err != nil {
		h.logger.Warn("WebSocket 连接尝试失败：令牌无效", "error", err)
		http.Error(w, "令牌无效", http.StatusUnauthorized)
		return
	}

	inbox := messaging.NewInbox(messaging.Config{
		SelfID:          claims.UserID,
		Store:           h.store,
		Channel:         h.channel,
		AgentID:         h.cfg.Messaging.AgentID,
		AgentSeed:       h.cfg.Messaging.AgentSeed,
		TypingTimeout:   h.cfg.Messaging.TypingTimeout,
		AgentReplyDelay: h.cfg.Messaging.AgentReplyDelay,
		Logger:          h.logger,
	})
	ws.ServeWsPerConnection(h.hub, inbox, claims.UserID, w, r, h.cfg.WebSocket, h.logger)
}
