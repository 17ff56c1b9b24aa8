package imtypes

import "dmsync/internal/models"

// FrameType 是 WebSocket 帧的类型。
type FrameType string

const (
	// 客户端 -> 服务端
	OpenFrame     FrameType = "open"
	SendFrame     FrameType = "send"
	TypingFrame   FrameType = "typing"
	ReactionFrame FrameType = "reaction"
	CloseFrame    FrameType = "close"

	// 服务端 -> 客户端，对方的输入状态也用 TypingFrame
	TimelineFrame FrameType = "timeline"
	ErrorFrame    FrameType = "error"
)

// ClientFrame 是客户端通过 WebSocket 发送的指令。
type ClientFrame struct {
	Type      FrameType `json:"type"`
	PartnerID string    `json:"partnerId,omitempty"`
	Content   string    `json:"content,omitempty"`
	IsTyping  bool      `json:"isTyping,omitempty"`
	Emoji     string    `json:"emoji,omitempty"`
}

// ServerFrame 是服务端推送给客户端的状态更新。
type ServerFrame struct {
	Type            FrameType         `json:"type"`
	ConversationKey string            `json:"conversationKey,omitempty"`
	Messages        []*models.Message `json:"messages,omitempty"`
	IsTyping        *bool             `json:"isTyping,omitempty"`
	Error           string            `json:"error,omitempty"`
}
