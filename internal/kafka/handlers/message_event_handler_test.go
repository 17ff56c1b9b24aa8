package kafkahandlers

import (
	"context"
	"testing"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmsync/internal/imtypes"
	"dmsync/internal/logging"
)

type recordingTarget struct {
	events []*imtypes.ChannelEvent
	ok     bool
}

func (r *recordingTarget) Publish(ev *imtypes.ChannelEvent) bool {
	r.events = append(r.events, ev)
	return r.ok
}

func kafkaMessage(value string) *kafka.Message {
	topic := "dm-message-events"
	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic},
		Key:            []byte("alice:bob"),
		Value:          []byte(value),
	}
}

const validEvent = `{"type":"message","message":{"id":"m1","conversationKey":"alice:bob","senderId":"alice","receiverId":"bob","content":"hi","createdAt":"2024-05-01T12:00:00Z"}}`

func TestMessageEventHandler_Republishes(t *testing.T) {
	target := &recordingTarget{ok: true}
	h := NewMessageEventHandler(target, logging.Discard())

	require.NoError(t, h.Handle(context.Background(), kafkaMessage(validEvent)))
	require.Len(t, target.events, 1)
	assert.Equal(t, "m1", target.events[0].Message.ID)
}

func TestMessageEventHandler_SkipsMalformed(t *testing.T) {
	target := &recordingTarget{ok: true}
	h := NewMessageEventHandler(target, logging.Discard())

	assert.NoError(t, h.Handle(context.Background(), kafkaMessage(`{"type":"message","message":{"id":"m1"}}`)))
	assert.NoError(t, h.Handle(context.Background(), kafkaMessage(`garbage`)))
	assert.Empty(t, target.events)
}

func TestMessageEventHandler_TargetUnavailable(t *testing.T) {
	h := NewMessageEventHandler(&recordingTarget{ok: false}, logging.Discard())
	assert.Error(t, h.Handle(context.Background(), kafkaMessage(validEvent)))
}
