package messaging

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"dmsync/internal/broadcast"
	"dmsync/internal/imtypes"
	"dmsync/internal/models"
)

// Reconciler merges the three message sources of one conversation into its
// Timeline: the historical fetch, local optimistic sends and channel pushes.
//
// Timeline mutations (Merge, OnRemoteMessage, AddLocal, Accept, Rollback) must
// run on the owning Session's event loop. Subscribe and Unsubscribe are called
// off the loop and are guarded by subMu.
type Reconciler struct {
	key      string
	timeline *Timeline
	channel  broadcast.Channel
	post     func(func()) bool
	logger   *slog.Logger

	subMu  sync.Mutex
	sub    *broadcast.Subscription
	alive  *atomic.Bool
	closed bool
}

func newReconciler(key string, tl *Timeline, ch broadcast.Channel, post func(func()) bool, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		key:      key,
		timeline: tl,
		channel:  ch,
		post:     post,
		logger:   logger,
	}
}

// Subscribe attaches the reconciler to the channel for its key. Any existing
// subscription is torn down first so a re-subscribe never delivers twice.
// onTyping runs on the event loop for every well-formed typing signal.
func (r *Reconciler) Subscribe(onTyping func(*imtypes.TypingSignal)) error {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	if r.closed {
		return ErrSessionClosed
	}
	r.releaseLocked()

	// 每次订阅都有自己的存活标志，旧订阅的迟到事件只能看到 false
	alive := new(atomic.Bool)
	alive.Store(true)

	sub, err := r.channel.Subscribe(r.key, broadcast.Handlers{
		OnMessage: func(m *imtypes.Message) {
			if !alive.Load() {
				return
			}
			r.post(func() {
				if alive.Load() {
					r.OnRemoteMessage(m)
				}
			})
		},
		OnTyping: func(sig *imtypes.TypingSignal) {
			if !alive.Load() {
				return
			}
			r.post(func() {
				if alive.Load() && r.acceptTyping(sig) && onTyping != nil {
					onTyping(sig)
				}
			})
		},
	})
	if err != nil {
		alive.Store(false)
		return fmt.Errorf("subscribe to %s: %w", r.key, err)
	}
	r.sub = sub
	r.alive = alive
	r.logger.Debug("subscribed", "conversation_key", r.key, "subscription_id", sub.ID)
	return nil
}

// Unsubscribe releases the current subscription, if any. The liveness flag is
// cleared before the channel is told, so events already in flight become no-ops.
func (r *Reconciler) Unsubscribe() {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	r.releaseLocked()
}

// Close releases the subscription and refuses any later Subscribe.
func (r *Reconciler) Close() {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	r.closed = true
	r.releaseLocked()
}

// Subscribed reports whether a live subscription is held.
func (r *Reconciler) Subscribed() bool {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	return r.sub != nil
}

func (r *Reconciler) releaseLocked() {
	if r.alive != nil {
		r.alive.Store(false)
		r.alive = nil
	}
	if r.sub != nil {
		r.channel.Unsubscribe(r.sub)
		r.logger.Debug("unsubscribed", "conversation_key", r.key, "subscription_id", r.sub.ID)
		r.sub = nil
	}
}

// Merge folds a historical fetch into the timeline. Entries already present
// (pushed while the fetch was in flight) are kept. Returns the number added.
func (r *Reconciler) Merge(history []*models.Message) int {
	added := 0
	for _, m := range history {
		if m == nil || m.ID == "" {
			r.logger.Warn("dropping history entry without id", "conversation_key", r.key)
			continue
		}
		if r.timeline.Insert(m.Clone()) {
			added++
		}
	}
	return added
}

// OnRemoteMessage applies a pushed message. Malformed payloads are logged and
// dropped; an id already in the timeline is a silent duplicate.
func (r *Reconciler) OnRemoteMessage(m *imtypes.Message) bool {
	if err := m.Validate(); err != nil {
		r.logger.Warn("dropping inbound message", "conversation_key", r.key, "error", err)
		return false
	}
	if m.ConversationKey != r.key {
		r.logger.Warn("dropping inbound message", "conversation_key", r.key,
			"error", fmt.Errorf("%w: key %q on channel %q", imtypes.ErrMalformedEvent, m.ConversationKey, r.key))
		return false
	}
	if !r.timeline.Insert(m.ToModel()) {
		r.logger.Debug("duplicate delivery ignored", "conversation_key", r.key, "message_id", m.ID)
		return false
	}
	return true
}

func (r *Reconciler) acceptTyping(sig *imtypes.TypingSignal) bool {
	if err := sig.Validate(); err != nil {
		r.logger.Warn("dropping typing signal", "conversation_key", r.key, "error", err)
		return false
	}
	if sig.ConversationKey != r.key {
		r.logger.Warn("dropping typing signal", "conversation_key", r.key,
			"error", fmt.Errorf("%w: key %q on channel %q", imtypes.ErrMalformedEvent, sig.ConversationKey, r.key))
		return false
	}
	return true
}

// AddLocal shows an optimistic entry.
func (r *Reconciler) AddLocal(placeholder *models.Message) bool {
	return r.timeline.Insert(placeholder)
}

// Accept replaces the optimistic entry tempID with the store's authoritative copy,
// placed by its own timestamp. If the channel already delivered the authoritative
// id, that copy is kept.
func (r *Reconciler) Accept(tempID string, authoritative *models.Message) {
	if !r.timeline.Replace(tempID, authoritative) {
		r.logger.Debug("authoritative copy already delivered", "conversation_key", r.key, "message_id", authoritative.ID)
	}
}

// Rollback removes an optimistic entry the store rejected.
func (r *Reconciler) Rollback(tempID string) {
	r.timeline.Remove(tempID)
}
