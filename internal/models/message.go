package models

import (
	"strings"
	"time"
)

// LocalIDPrefix 标记尚未被存储确认的乐观消息 ID。服务端 ID 是 UUID，永远不会以此前缀开头。
const LocalIDPrefix = "local:"

// IsLocalID reports whether id is a temporary id generated before store acknowledgment.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, LocalIDPrefix)
}

// Message 代表一条私信。一旦被存储接受就不可变。
type Message struct {
	ID              string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ConversationKey string    `gorm:"type:varchar(160);index:idx_messages_conversation_created;not null" json:"conversationKey"`
	SenderID        string    `gorm:"type:varchar(64);index;not null" json:"senderId"`
	ReceiverID      string    `gorm:"type:varchar(64);index;not null" json:"receiverId"`
	Content         string    `gorm:"type:text" json:"content"`
	MediaURL        string    `gorm:"type:varchar(255)" json:"mediaUrl,omitempty"`
	Reactions       Reactions `gorm:"type:jsonb;serializer:json" json:"reactions,omitempty"`
	CreatedAt       time.Time `gorm:"index:idx_messages_conversation_created;not null" json:"createdAt"`
}

// TableName 指定 Message 模型的表名。
func (Message) TableName() string {
	return "messages"
}

// Reactions maps an emoji to the ids of the users who reacted with it.
type Reactions map[string][]string

// Clone returns a deep copy so timeline snapshots never share mutable state with the store.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.Reactions != nil {
		c.Reactions = make(Reactions, len(m.Reactions))
		for emoji, users := range m.Reactions {
			c.Reactions[emoji] = append([]string(nil), users...)
		}
	}
	return &c
}

// PartnerOf returns the participant of the message that is not selfID.
func (m *Message) PartnerOf(selfID string) string {
	if m.SenderID == selfID {
		return m.ReceiverID
	}
	return m.SenderID
}

// NewMessage 是 createMessage 的输入。ID 与时间戳由存储分配。
type NewMessage struct {
	ConversationKey string `json:"conversationKey"`
	SenderID        string `json:"senderId"`
	ReceiverID      string `json:"receiverId"`
	Content         string `json:"content"`
	MediaURL        string `json:"mediaUrl,omitempty"`
}
