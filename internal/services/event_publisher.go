package services

import (
	"context"
	"encoding/json"
	"fmt"

	"dmsync/internal/broadcast"
	"dmsync/internal/imtypes"
	appKafka "dmsync/internal/kafka"
)

// kafkaEventPublisher writes message events to Kafka instead of a broadcast channel.
// The chat servers consume the topic and republish locally.
type kafkaEventPublisher struct {
	producer appKafka.MessageProducer
	topic    string
}

// NewKafkaEventPublisher returns a broadcast.Publisher backed by producer.
func NewKafkaEventPublisher(producer appKafka.MessageProducer, topic string) broadcast.Publisher {
	return &kafkaEventPublisher{producer: producer, topic: topic}
}

func (p *kafkaEventPublisher) PublishMessage(ctx context.Context, msg *imtypes.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(imtypes.ChannelEvent{Type: imtypes.MessageEvent, Message: msg})
	if err != nil {
		return fmt.Errorf("序列化消息事件失败: %w", err)
	}
	// 以会话键为 Kafka key，同一会话的事件落在同一分区，保持顺序
	if err := p.producer.SendMessage(ctx, p.topic, []byte(msg.ConversationKey), payload); err != nil {
		return fmt.Errorf("发送消息事件到 Kafka 失败: %w", err)
	}
	return nil
}
