package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"dmsync/internal/broadcast"
	"dmsync/internal/models"
)

const (
	defaultTypingTimeout   = 3 * time.Second
	defaultAgentReplyDelay = 1500 * time.Millisecond
)

// Config wires an Inbox to its collaborators.
type Config struct {
	SelfID  string
	Store   MessageStore
	Channel broadcast.Channel

	// AgentID is the reserved partner id answered by the scripted agent. Empty disables it.
	AgentID         string
	AgentSeed       uint64
	TypingTimeout   time.Duration
	AgentReplyDelay time.Duration

	// AfterFunc defaults to time.AfterFunc.
	AfterFunc AfterFunc
	Logger    *slog.Logger
}

// Inbox is one user's view of their conversations. It owns at most one open
// Session; opening another conversation closes the current one first.
type Inbox struct {
	cfg    Config
	agent  *Agent
	logger *slog.Logger

	mu      sync.Mutex
	current *Session
}

// NewInbox returns an inbox for cfg.SelfID with defaults filled in.
func NewInbox(cfg Config) *Inbox {
	if cfg.TypingTimeout <= 0 {
		cfg.TypingTimeout = defaultTypingTimeout
	}
	if cfg.AgentReplyDelay <= 0 {
		cfg.AgentReplyDelay = defaultAgentReplyDelay
	}
	if cfg.AfterFunc == nil {
		cfg.AfterFunc = realAfterFunc
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	in := &Inbox{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "inbox", "user_id", cfg.SelfID),
	}
	if cfg.AgentID != "" {
		in.agent = NewAgent(cfg.AgentID, cfg.AgentSeed)
	}
	return in
}

// OpenConversation closes the current session and opens one with partnerID.
// Re-opening the same partner recreates the subscription from scratch.
//
// When the historical fetch fails the returned error wraps ErrFetchUnavailable
// and the session is still returned (subscribed to nothing, empty timeline) so
// the caller can show the failure and call Reload. A Close or another
// OpenConversation during the fetch cancels it; the error is then ErrSessionClosed.
func (in *Inbox) OpenConversation(ctx context.Context, partnerID string) (*Session, error) {
	partnerID = strings.TrimSpace(partnerID)
	if !models.ValidParticipantID(partnerID) || partnerID == in.cfg.SelfID {
		return nil, ErrInvalidPartner
	}
	if !models.ValidParticipantID(in.cfg.SelfID) {
		return nil, fmt.Errorf("%w: self id %q", ErrInvalidPartner, in.cfg.SelfID)
	}

	s := in.replaceCurrent(partnerID)

	// 加载期间不持有锁，Close 或切换会话可以取消进行中的历史拉取
	if err := s.open(ctx); err != nil {
		if errors.Is(err, ErrSessionClosed) {
			in.logger.Debug("conversation closed while opening", "partner_id", partnerID)
		} else {
			in.logger.Warn("open conversation", "partner_id", partnerID, "error", err)
		}
		return s, err
	}
	in.logger.Debug("conversation opened", "partner_id", partnerID, "conversation_key", s.ConversationKey())
	return s, nil
}

// replaceCurrent closes the open session and installs a started, not yet loaded one.
func (in *Inbox) replaceCurrent(partnerID string) *Session {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.current != nil {
		in.current.Close()
		in.current = nil
	}

	cfg := sessionConfig{
		selfID:        in.cfg.SelfID,
		partnerID:     partnerID,
		store:         in.cfg.Store,
		channel:       in.cfg.Channel,
		typingTimeout: in.cfg.TypingTimeout,
		replyDelay:    in.cfg.AgentReplyDelay,
		afterFunc:     in.cfg.AfterFunc,
		logger:        in.cfg.Logger.With("component", "session", "user_id", in.cfg.SelfID),
	}
	if in.agent != nil && partnerID == in.agent.ID() {
		cfg.agent = in.agent
	}

	in.current = startSession(cfg)
	return in.current
}

// Current returns the open session, or nil.
func (in *Inbox) Current() *Session {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.current
}

// Close closes the open session, if any.
func (in *Inbox) Close() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.current != nil {
		in.current.Close()
		in.current = nil
	}
}
