package messaging

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"dmsync/internal/broadcast"
	"dmsync/internal/imtypes"
	"dmsync/internal/models"
)

// eventLog records collaborator calls across the fake store and channel in order.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, fmt.Sprintf(format, args...))
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type fakeStore struct {
	log *eventLog

	mu       sync.Mutex
	history  []*models.Message
	listErr  error
	writeErr error
	// onCreate runs inside CreateMessage before it returns.
	onCreate func(stored *models.Message)
	created  []*models.Message
	now      time.Time

	// blockKey makes ListMessages for that key wait for its context; blockWrite
	// does the same for CreateMessage. started receives "list" or "write" on entry.
	blockKey   string
	blockWrite bool
	started    chan string
}

func newFakeStore(log *eventLog) *fakeStore {
	return &fakeStore{log: log, now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

// waitForCancel reports entry and blocks until ctx is done.
func (f *fakeStore) waitForCancel(ctx context.Context, what string) error {
	if f.started != nil {
		f.started <- what
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeStore) ListMessages(ctx context.Context, key string) ([]*models.Message, error) {
	f.log.add("list:%s", key)
	f.mu.Lock()
	if f.blockKey != "" && f.blockKey == key {
		f.mu.Unlock()
		return nil, f.waitForCancel(ctx, "list")
	}
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]*models.Message, 0, len(f.history))
	for _, m := range f.history {
		if m.ConversationKey == key {
			out = append(out, m.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) CreateMessage(ctx context.Context, in models.NewMessage) (*models.Message, error) {
	f.log.add("write:%s", in.Content)
	f.mu.Lock()
	if f.blockWrite {
		f.mu.Unlock()
		return nil, f.waitForCancel(ctx, "write")
	}
	if f.writeErr != nil {
		err := f.writeErr
		f.mu.Unlock()
		return nil, err
	}
	f.now = f.now.Add(time.Second)
	stored := &models.Message{
		ID:              uuid.NewString(),
		ConversationKey: in.ConversationKey,
		SenderID:        in.SenderID,
		ReceiverID:      in.ReceiverID,
		Content:         in.Content,
		CreatedAt:       f.now,
	}
	f.created = append(f.created, stored)
	hook := f.onCreate
	f.mu.Unlock()

	if hook != nil {
		hook(stored.Clone())
	}
	return stored.Clone(), nil
}

type fakeChannel struct {
	log *eventLog

	mu   sync.Mutex
	subs map[string]fakeSub
}

type fakeSub struct {
	sub *broadcast.Subscription
	h   broadcast.Handlers
}

func newFakeChannel(log *eventLog) *fakeChannel {
	return &fakeChannel{log: log, subs: make(map[string]fakeSub)}
}

func (c *fakeChannel) Subscribe(key string, h broadcast.Handlers) (*broadcast.Subscription, error) {
	sub := broadcast.NewSubscription(key)
	c.mu.Lock()
	c.subs[sub.ID] = fakeSub{sub: sub, h: h}
	c.mu.Unlock()
	return sub, nil
}

func (c *fakeChannel) Unsubscribe(sub *broadcast.Subscription) {
	c.mu.Lock()
	delete(c.subs, sub.ID)
	c.mu.Unlock()
}

func (c *fakeChannel) PublishTyping(_ context.Context, key, userID string, isTyping bool) {
	c.log.add("typing:%s:%t", userID, isTyping)
}

func (c *fakeChannel) count(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.subs {
		if s.sub.ConversationKey == key {
			n++
		}
	}
	return n
}

func (c *fakeChannel) handlers(key string) []broadcast.Handlers {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []broadcast.Handlers
	for _, s := range c.subs {
		if s.sub.ConversationKey == key {
			out = append(out, s.h)
		}
	}
	return out
}

func (c *fakeChannel) pushMessage(m *imtypes.Message) {
	for _, h := range c.handlers(m.ConversationKey) {
		h.OnMessage(m)
	}
}

func (c *fakeChannel) pushTyping(key, userID string, isTyping bool) {
	for _, h := range c.handlers(key) {
		h.OnTyping(&imtypes.TypingSignal{ConversationKey: key, UserID: userID, IsTyping: isTyping, ObservedAt: time.Now()})
	}
}

// manualClock fires scheduled functions only when advanced.
type manualClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*manualTimer
}

type manualTimer struct {
	at      time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (c *manualClock) AfterFunc(d time.Duration, fn func()) func() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{at: c.now + d, fn: fn}
	c.timers = append(c.timers, t)
	return func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if t.stopped || t.fired {
			return false
		}
		t.stopped = true
		return true
	}
}

// Advance moves the clock forward and runs every due timer in deadline order.
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []*manualTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && t.at <= c.now {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at < due[j].at })
	for _, t := range due {
		t.fn()
	}
}

func (c *manualClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func wireMessage(id, key, sender, receiver, content string, at time.Time) *imtypes.Message {
	return &imtypes.Message{
		ID:              id,
		ConversationKey: key,
		SenderID:        sender,
		ReceiverID:      receiver,
		Content:         content,
		CreatedAt:       at,
	}
}
