package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmsync/internal/imtypes"
	"dmsync/internal/logging"
)

func newRunningHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(logging.Discard())
	go h.Run()
	t.Cleanup(h.Stop)
	return h
}

func makeMessage(id, key string) *imtypes.Message {
	return &imtypes.Message{
		ID:              id,
		ConversationKey: key,
		SenderID:        "alice",
		ReceiverID:      "bob",
		Content:         "hello from " + id,
		CreatedAt:       time.Now(),
	}
}

func TestHub_SubscriberReceivesMessage(t *testing.T) {
	h := newRunningHub(t)

	got := make(chan *imtypes.Message, 1)
	_, err := h.Subscribe("alice:bob", Handlers{OnMessage: func(m *imtypes.Message) { got <- m }})
	require.NoError(t, err)

	require.NoError(t, h.PublishMessage(context.Background(), makeMessage("m-1", "alice:bob")))

	select {
	case m := <-got:
		assert.Equal(t, "m-1", m.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestHub_TypingRoutedToTypingHandler(t *testing.T) {
	h := newRunningHub(t)

	got := make(chan *imtypes.TypingSignal, 1)
	_, err := h.Subscribe("alice:bob", Handlers{OnTyping: func(s *imtypes.TypingSignal) { got <- s }})
	require.NoError(t, err)

	h.PublishTyping(context.Background(), "alice:bob", "bob", true)

	select {
	case s := <-got:
		assert.Equal(t, "bob", s.UserID)
		assert.True(t, s.IsTyping)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for typing signal")
	}
}

func TestHub_ConversationKeysAreIsolated(t *testing.T) {
	h := newRunningHub(t)

	other := make(chan *imtypes.Message, 1)
	_, err := h.Subscribe("alice:carol", Handlers{OnMessage: func(m *imtypes.Message) { other <- m }})
	require.NoError(t, err)
	mine := make(chan *imtypes.Message, 1)
	_, err = h.Subscribe("alice:bob", Handlers{OnMessage: func(m *imtypes.Message) { mine <- m }})
	require.NoError(t, err)

	require.NoError(t, h.PublishMessage(context.Background(), makeMessage("m-1", "alice:bob")))

	select {
	case <-mine:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
	select {
	case m := <-other:
		t.Fatalf("unexpected delivery to other conversation: %s", m.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_UnsubscribeStopsDelivery(t *testing.T) {
	h := newRunningHub(t)

	got := make(chan *imtypes.Message, 4)
	sub, err := h.Subscribe("alice:bob", Handlers{OnMessage: func(m *imtypes.Message) { got <- m }})
	require.NoError(t, err)
	assert.Equal(t, 1, h.SubscriberCount("alice:bob"))

	h.Unsubscribe(sub)
	assert.Equal(t, 0, h.SubscriberCount("alice:bob"))

	require.NoError(t, h.PublishMessage(context.Background(), makeMessage("m-1", "alice:bob")))
	select {
	case m := <-got:
		t.Fatalf("delivery after unsubscribe: %s", m.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_PublishMessageRejectsMalformed(t *testing.T) {
	h := newRunningHub(t)

	bad := makeMessage("", "alice:bob")
	assert.ErrorIs(t, h.PublishMessage(context.Background(), bad), imtypes.ErrMalformedEvent)
}

func TestHub_SubscribeAfterStop(t *testing.T) {
	h := NewHub(logging.Discard())
	go h.Run()
	h.Stop()

	_, err := h.Subscribe("alice:bob", Handlers{})
	assert.ErrorIs(t, err, ErrClosed)
	assert.Error(t, h.PublishMessage(context.Background(), makeMessage("m-1", "alice:bob")))
}

func TestDecode(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"message","message":{"id":"m1","conversationKey":"a:b","senderId":"a","receiverId":"b","content":"x","createdAt":"2024-05-01T12:00:00Z"}}`))
	require.NoError(t, err)
	assert.Equal(t, "a:b", ev.ConversationKey())

	_, err = Decode([]byte(`{"type":"message","message":{"conversationKey":"a:b"}}`))
	assert.ErrorIs(t, err, imtypes.ErrMalformedEvent)

	_, err = Decode([]byte(`not json`))
	assert.ErrorIs(t, err, imtypes.ErrMalformedEvent)

	_, err = Decode([]byte(`{"type":"presence"}`))
	assert.ErrorIs(t, err, imtypes.ErrMalformedEvent)
}
