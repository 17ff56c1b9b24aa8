package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"dmsync/internal/broadcast"
	"dmsync/internal/models"
)

// actionQueueSize bounds the closures waiting for the event loop.
const actionQueueSize = 64

// AfterFunc schedules fn after d on its own goroutine and returns a stop function,
// like time.AfterFunc. Tests substitute a manual clock.
type AfterFunc func(d time.Duration, fn func()) (stop func() bool)

func realAfterFunc(d time.Duration, fn func()) func() bool {
	return time.AfterFunc(d, fn).Stop
}

// Session is one open conversation as seen by selfID. All timeline and presence
// state is owned by a single event-loop goroutine; every mutation, including
// channel deliveries and timer expiries, is posted to that loop as a closure.
//
// Timeline() and Typing() deliver coalesced latest-value snapshots and are
// closed when the session closes.
type Session struct {
	selfID    string
	partnerID string
	key       string

	store      MessageStore
	channel    broadcast.Channel
	agent      *Agent
	replyDelay time.Duration
	afterFunc  AfterFunc
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	actions   chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// loop-owned
	timeline    *Timeline
	presence    *Presence
	agentTimers map[string]func() bool

	rec *Reconciler

	// sendMu serializes sends so optimistic entries keep submission order.
	sendMu sync.Mutex

	timelineCh chan []*models.Message
	typingCh   chan bool
}

type sessionConfig struct {
	selfID        string
	partnerID     string
	store         MessageStore
	channel       broadcast.Channel
	agent         *Agent
	typingTimeout time.Duration
	replyDelay    time.Duration
	afterFunc     AfterFunc
	logger        *slog.Logger
}

func newSession(cfg sessionConfig) *Session {
	key := models.ConversationKey(cfg.selfID, cfg.partnerID)
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		selfID:      cfg.selfID,
		partnerID:   cfg.partnerID,
		key:         key,
		store:       cfg.store,
		channel:     cfg.channel,
		agent:       cfg.agent,
		replyDelay:  cfg.replyDelay,
		afterFunc:   cfg.afterFunc,
		logger:      cfg.logger.With("conversation_key", key),
		ctx:         ctx,
		cancel:      cancel,
		actions:     make(chan func(), actionQueueSize),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
		timeline:    NewTimeline(),
		agentTimers: make(map[string]func() bool),
		timelineCh:  make(chan []*models.Message, 1),
		typingCh:    make(chan bool, 1),
	}
	s.presence = NewPresence(cfg.selfID, cfg.typingTimeout, s.schedule, s.onPresenceChange)
	s.rec = newReconciler(key, s.timeline, cfg.channel, s.post, s.logger)
	return s
}

// startSession creates the session and starts its event loop. Nothing is loaded yet.
func startSession(cfg sessionConfig) *Session {
	s := newSession(cfg)
	go s.run()
	return s
}

// open loads the conversation. On ErrFetchUnavailable the session keeps an empty
// timeline and Reload retries. A Close during the load makes it return
// ErrSessionClosed.
func (s *Session) open(ctx context.Context) error {
	if s.agent != nil {
		// 脚本代理会话不走存储也不订阅频道
		return s.call(s.publishTimeline)
	}
	if err := s.load(ctx); err != nil {
		_ = s.call(s.publishTimeline)
		return err
	}
	return nil
}

func (s *Session) run() {
	defer close(s.done)
	defer close(s.typingCh)
	defer close(s.timelineCh)
	for {
		select {
		case fn := <-s.actions:
			fn()
		case <-s.quit:
			return
		}
	}
}

// post queues fn for the event loop. It returns false once the session is closed.
func (s *Session) post(fn func()) bool {
	select {
	case <-s.quit:
		return false
	default:
	}
	select {
	case s.actions <- fn:
		return true
	case <-s.quit:
		return false
	}
}

// call runs fn on the event loop and waits for it.
func (s *Session) call(fn func()) error {
	ran := make(chan struct{})
	if !s.post(func() {
		fn()
		close(ran)
	}) {
		return ErrSessionClosed
	}
	select {
	case <-ran:
		return nil
	case <-s.done:
		return ErrSessionClosed
	}
}

// schedule is the loop-aware Scheduler: fn runs on the event loop.
func (s *Session) schedule(d time.Duration, fn func()) func() bool {
	return s.afterFunc(d, func() { s.post(fn) })
}

// withSession derives a context that is also cancelled when the session closes.
func (s *Session) withSession(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (s *Session) load(ctx context.Context) error {
	if err := s.rec.Subscribe(s.presence.Observe); err != nil {
		if errors.Is(err, ErrSessionClosed) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrFetchUnavailable, err)
	}

	fetchCtx, cancel := s.withSession(ctx)
	defer cancel()
	history, err := s.store.ListMessages(fetchCtx, s.key)
	if err != nil {
		s.rec.Unsubscribe()
		if s.ctx.Err() != nil {
			return ErrSessionClosed
		}
		s.logger.Warn("history fetch failed", "error", err)
		return fmt.Errorf("%w: %w", ErrFetchUnavailable, err)
	}
	if s.ctx.Err() != nil {
		return ErrSessionClosed
	}
	return s.call(func() {
		added := s.rec.Merge(history)
		s.logger.Debug("history loaded", "fetched", len(history), "added", added)
		s.publishTimeline()
	})
}

// Reload re-subscribes and repeats the historical fetch, merging into the current
// timeline. It is the caller-driven retry after ErrFetchUnavailable.
func (s *Session) Reload(ctx context.Context) error {
	if s.closed() {
		return ErrSessionClosed
	}
	if s.agent != nil {
		return nil
	}
	return s.load(ctx)
}

// ConversationKey returns the key of the conversation.
func (s *Session) ConversationKey() string { return s.key }

// PartnerID returns the other participant.
func (s *Session) PartnerID() string { return s.partnerID }

// IsAgent reports whether the partner is the scripted agent.
func (s *Session) IsAgent() bool { return s.agent != nil }

// Timeline delivers the latest timeline snapshot after every change.
func (s *Session) Timeline() <-chan []*models.Message { return s.timelineCh }

// Typing delivers whether the partner is typing after every change.
func (s *Session) Typing() <-chan bool { return s.typingCh }

// Messages returns a snapshot of the timeline, or nil once closed.
func (s *Session) Messages() []*models.Message {
	var out []*models.Message
	if err := s.call(func() { out = s.timeline.Snapshot() }); err != nil {
		return nil
	}
	return out
}

// PeerTyping reports whether the partner is currently typing.
func (s *Session) PeerTyping() bool {
	var typing bool
	_ = s.call(func() { typing = s.presence.State() == PeerTyping })
	return typing
}

func (s *Session) publishTimeline() {
	latest(s.timelineCh, s.timeline.Snapshot())
}

func (s *Session) onPresenceChange(state TypingState) {
	latest(s.typingCh, state == PeerTyping)
}

// latest replaces any unread value in a capacity-1 channel. Only the event loop
// sends, so the drain-then-send never blocks.
func latest[T any](ch chan T, v T) {
	select {
	case <-ch:
	default:
	}
	ch <- v
}

func (s *Session) closed() bool {
	select {
	case <-s.quit:
		return true
	default:
		return false
	}
}

// Close unsubscribes, cancels in-flight loads and writes, discards the typing
// timer and any scheduled agent reply, and stops the event loop. Safe to call
// more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.rec.Close()
		_ = s.call(func() {
			for id, stop := range s.agentTimers {
				stop()
				delete(s.agentTimers, id)
			}
			s.presence.Reset()
		})
		close(s.quit)
		<-s.done
		s.logger.Debug("session closed")
	})
}
