package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"dmsync/internal/models"
)

// PendingSend exists between the optimistic insert and the store's answer.
type PendingSend struct {
	LocalID     string
	Content     string
	SubmittedAt time.Time
}

func newPendingSend(content string) PendingSend {
	return PendingSend{
		LocalID:     models.LocalIDPrefix + uuid.NewString(),
		Content:     content,
		SubmittedAt: time.Now(),
	}
}

// Send submits content to the conversation. The message appears in the timeline
// immediately and is swapped for the store's copy when the write succeeds. A
// failed write removes it again and returns an error wrapping ErrSendFailed.
// Concurrent calls are queued, never interleaved.
func (s *Session) Send(ctx context.Context, content string) error {
	text := strings.TrimSpace(content)
	if text == "" {
		return ErrEmptyMessage
	}
	if s.closed() {
		return ErrSessionClosed
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	// 先清除对方看到的"正在输入"，再写消息
	s.channel.PublishTyping(ctx, s.key, s.selfID, false)

	if s.agent != nil {
		return s.sendToAgent(text)
	}
	return s.submit(ctx, newPendingSend(text))
}

// SendReaction sends emoji as a new message of its own through Send. It does
// not attach the emoji to an existing message: Message.Reactions is left
// untouched, since stored messages are never edited.
func (s *Session) SendReaction(ctx context.Context, emoji string) error {
	return s.Send(ctx, emoji)
}

// SetTyping broadcasts the local user's composing state. Best effort.
func (s *Session) SetTyping(ctx context.Context, isTyping bool) error {
	if s.closed() {
		return ErrSessionClosed
	}
	s.channel.PublishTyping(ctx, s.key, s.selfID, isTyping)
	return nil
}

func (s *Session) submit(ctx context.Context, p PendingSend) error {
	placeholder := &models.Message{
		ID:              p.LocalID,
		ConversationKey: s.key,
		SenderID:        s.selfID,
		ReceiverID:      s.partnerID,
		Content:         p.Content,
		CreatedAt:       p.SubmittedAt,
	}
	if err := s.call(func() {
		s.rec.AddLocal(placeholder)
		s.publishTimeline()
	}); err != nil {
		return err
	}

	writeCtx, cancel := s.withSession(ctx)
	defer cancel()
	stored, err := s.store.CreateMessage(writeCtx, models.NewMessage{
		ConversationKey: s.key,
		SenderID:        s.selfID,
		ReceiverID:      s.partnerID,
		Content:         p.Content,
	})
	if err == nil && stored == nil {
		err = errors.New("store returned no message")
	}
	if err != nil {
		_ = s.call(func() {
			s.rec.Rollback(p.LocalID)
			s.publishTimeline()
		})
		s.logger.Warn("send failed, optimistic entry rolled back", "local_id", p.LocalID, "error", err)
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	authoritative := stored.Clone()
	if err := s.call(func() {
		s.rec.Accept(p.LocalID, authoritative)
		s.publishTimeline()
	}); err != nil {
		// 会话已关闭，但消息已经写入
		s.logger.Debug("send acknowledged after close", "message_id", authoritative.ID)
	}
	return nil
}

// sendToAgent skips the store: the message is authoritative as soon as it is
// shown. The agent "types" for replyDelay and then answers.
func (s *Session) sendToAgent(text string) error {
	userMsg := &models.Message{
		ID:              uuid.NewString(),
		ConversationKey: s.key,
		SenderID:        s.selfID,
		ReceiverID:      s.agent.ID(),
		Content:         text,
		CreatedAt:       time.Now(),
	}
	reply := s.agent.Reply(text)

	return s.call(func() {
		s.timeline.Insert(userMsg)
		s.publishTimeline()
		s.presence.Hold(s.replyDelay)

		timerID := uuid.NewString()
		s.agentTimers[timerID] = s.schedule(s.replyDelay, func() {
			if _, pending := s.agentTimers[timerID]; !pending {
				return
			}
			delete(s.agentTimers, timerID)
			s.timeline.Insert(&models.Message{
				ID:              uuid.NewString(),
				ConversationKey: s.key,
				SenderID:        s.agent.ID(),
				ReceiverID:      s.selfID,
				Content:         reply,
				CreatedAt:       time.Now(),
			})
			if len(s.agentTimers) == 0 {
				s.presence.Reset()
			}
			s.publishTimeline()
		})
	})
}
