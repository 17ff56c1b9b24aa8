// Package redis holds the Redis-backed collaborators: the cross-instance
// conversation channel and the token blacklist.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"dmsync/internal/broadcast"
	"dmsync/internal/imtypes"
)

// Channel implements broadcast.Channel and broadcast.Publisher on Redis Pub/Sub.
// Each conversation key maps to the Redis channel prefix+key; every Subscribe
// holds its own PubSub connection.
type Channel struct {
	client *redis.Client
	prefix string
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[string]*channelSub
	closed bool
}

type channelSub struct {
	sub    *broadcast.Subscription
	pubsub *redis.PubSub
	done   chan struct{}
}

// NewChannel returns a Channel publishing on client.
func NewChannel(client *redis.Client, prefix string, logger *slog.Logger) *Channel {
	return &Channel{
		client: client,
		prefix: prefix,
		logger: logger.With("component", "redis_channel"),
		subs:   make(map[string]*channelSub),
	}
}

func (c *Channel) topic(conversationKey string) string {
	return c.prefix + conversationKey
}

// Subscribe opens a Pub/Sub subscription for conversationKey. It returns after
// Redis confirmed the subscription, so nothing published afterwards is missed.
func (c *Channel) Subscribe(conversationKey string, h broadcast.Handlers) (*broadcast.Subscription, error) {
	if conversationKey == "" {
		return nil, fmt.Errorf("subscribe: %w: empty conversation key", imtypes.ErrMalformedEvent)
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, broadcast.ErrClosed
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pubsub := c.client.Subscribe(ctx, c.topic(conversationKey))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", conversationKey, err)
	}

	cs := &channelSub{
		sub:    broadcast.NewSubscription(conversationKey),
		pubsub: pubsub,
		done:   make(chan struct{}),
	}
	c.mu.Lock()
	c.subs[cs.sub.ID] = cs
	c.mu.Unlock()

	go c.listen(cs, h)
	return cs.sub, nil
}

func (c *Channel) listen(cs *channelSub, h broadcast.Handlers) {
	defer close(cs.done)
	for msg := range cs.pubsub.Channel() {
		c.dispatch([]byte(msg.Payload), cs.sub.ConversationKey, h)
	}
}

// dispatch decodes one payload and hands it to h. Malformed or misrouted events
// are logged and dropped.
func (c *Channel) dispatch(payload []byte, conversationKey string, h broadcast.Handlers) {
	ev, err := broadcast.Decode(payload)
	if err != nil {
		c.logger.Warn("dropping malformed event", "conversation_key", conversationKey, "error", err)
		return
	}
	if ev.ConversationKey() != conversationKey {
		c.logger.Warn("dropping misrouted event", "conversation_key", conversationKey, "event_key", ev.ConversationKey())
		return
	}
	broadcast.Deliver(ev, h)
}

// Unsubscribe closes the subscription's connection and waits for its listener
// to exit; no handler runs after it returns.
func (c *Channel) Unsubscribe(sub *broadcast.Subscription) {
	if sub == nil {
		return
	}
	c.mu.Lock()
	cs, ok := c.subs[sub.ID]
	delete(c.subs, sub.ID)
	c.mu.Unlock()
	if !ok {
		return
	}
	if err := cs.pubsub.Close(); err != nil {
		c.logger.Debug("close pubsub", "conversation_key", sub.ConversationKey, "error", err)
	}
	<-cs.done
}

func (c *Channel) publish(ctx context.Context, conversationKey string, ev imtypes.ChannelEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Type, err)
	}
	if err := c.client.Publish(ctx, c.topic(conversationKey), payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", conversationKey, err)
	}
	return nil
}

// PublishTyping is best effort; failures are logged.
func (c *Channel) PublishTyping(ctx context.Context, conversationKey, userID string, isTyping bool) {
	sig := &imtypes.TypingSignal{
		ConversationKey: conversationKey,
		UserID:          userID,
		IsTyping:        isTyping,
		ObservedAt:      time.Now(),
	}
	if err := sig.Validate(); err != nil {
		c.logger.Warn("refusing to publish typing signal", "error", err)
		return
	}
	if err := c.publish(ctx, conversationKey, imtypes.ChannelEvent{Type: imtypes.TypingEvent, Typing: sig}); err != nil {
		c.logger.Warn("publish typing failed", "conversation_key", conversationKey, "error", err)
	}
}

// PublishMessage fans a stored message out to every subscriber of its conversation,
// on any instance.
func (c *Channel) PublishMessage(ctx context.Context, msg *imtypes.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	return c.publish(ctx, msg.ConversationKey, imtypes.ChannelEvent{Type: imtypes.MessageEvent, Message: msg})
}

// Publish republishes an already decoded event; used by the Kafka fan-in.
func (c *Channel) Publish(ev *imtypes.ChannelEvent) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.publish(ctx, ev.ConversationKey(), *ev); err != nil {
		c.logger.Warn("republish failed", "conversation_key", ev.ConversationKey(), "error", err)
		return false
	}
	return true
}

// Close drops every open subscription. Subscribe fails afterwards.
func (c *Channel) Close() {
	c.mu.Lock()
	c.closed = true
	subs := make([]*broadcast.Subscription, 0, len(c.subs))
	for _, cs := range c.subs {
		subs = append(subs, cs.sub)
	}
	c.mu.Unlock()

	for _, sub := range subs {
		c.Unsubscribe(sub)
	}
}
