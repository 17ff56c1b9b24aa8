package apiserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"dmsync/internal/middleware"
	"dmsync/internal/models"
	"dmsync/internal/services"
)

// ConversationHandler 封装了会话相关的 HTTP 处理器方法。
type ConversationHandler struct {
	convoService   services.ConversationService
	messageService services.MessageService
	logger         *slog.Logger
}

// NewConversationHandler 创建一个新的 ConversationHandler 实例。
func NewConversationHandler(convoService services.ConversationService, messageService services.MessageService, logger *slog.Logger) *ConversationHandler {
	return &ConversationHandler{
		convoService:   convoService,
		messageService: messageService,
		logger:         logger.With("component", "conversation_handler"),
	}
}

// RegisterRoutes 把会话路由挂到已经应用认证中间件的子路由上。
func (h *ConversationHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/conversations", h.GetUserConversationsHandler).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{partnerID}/messages", h.GetConversationMessagesHandler).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{partnerID}/messages", h.SendMessageHandler).Methods(http.MethodPost)
}

// GetUserConversationsHandler 获取当前用户的所有会话列表，最近活跃的在前。
func (h *ConversationHandler) GetUserConversationsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "用户未认证", http.StatusUnauthorized)
		return
	}

	summaries, err := h.convoService.ListConversations(r.Context(), userID)
	if err != nil {
		h.logger.Error("list conversations failed", "user_id", userID, "error", err)
		writeJSONError(w, "获取会话列表失败", http.StatusInternalServerError)
		return
	}
	writeJSONResponse(w, http.StatusOK, summaries)
}

// conversationKeyFor 解析路径中的 partnerID 并返回会话键。
func conversationKeyFor(w http.ResponseWriter, r *http.Request) (userID, partnerID, key string, ok bool) {
	userID, ok = middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "用户未认证", http.StatusUnauthorized)
		return "", "", "", false
	}
	partnerID = mux.Vars(r)["partnerID"]
	if !models.ValidParticipantID(partnerID) || partnerID == userID {
		writeJSONError(w, "无效的会话对象", http.StatusBadRequest)
		return "", "", "", false
	}
	return userID, partnerID, models.ConversationKey(userID, partnerID), true
}

// GetConversationMessagesHandler 返回与 partnerID 的会话历史，按时间升序。
func (h *ConversationHandler) GetConversationMessagesHandler(w http.ResponseWriter, r *http.Request) {
	_, _, key, ok := conversationKeyFor(w, r)
	if !ok {
		return
	}

	msgs, err := h.messageService.ListMessages(r.Context(), key)
	if err != nil {
		h.logger.Error("list messages failed", "conversation_key", key, "error", err)
		writeJSONError(w, "获取会话消息失败", http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []*models.Message{}
	}
	writeJSONResponse(w, http.StatusOK, msgs)
}

// SendMessageRequest 是通过 REST 发送消息的请求体。
type SendMessageRequest struct {
	Content  string `json:"content"`
	MediaURL string `json:"mediaUrl,omitempty"`
}

// SendMessageHandler 存储一条消息并返回服务器分配的副本。
func (h *ConversationHandler) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
	userID, partnerID, key, ok := conversationKeyFor(w, r)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "请求体无效", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" && req.MediaURL == "" {
		writeJSONError(w, "消息内容不能为空", http.StatusBadRequest)
		return
	}

	stored, err := h.messageService.CreateMessage(r.Context(), models.NewMessage{
		ConversationKey: key,
		SenderID:        userID,
		ReceiverID:      partnerID,
		Content:         req.Content,
		MediaURL:        req.MediaURL,
	})
	if err != nil {
		if errors.Is(err, services.ErrInvalidMessage) {
			writeJSONError(w, "消息无效", http.StatusBadRequest)
			return
		}
		h.logger.Error("create message failed", "conversation_key", key, "error", err)
		writeJSONError(w, "发送消息失败", http.StatusInternalServerError)
		return
	}
	writeJSONResponse(w, http.StatusCreated, stored)
}
