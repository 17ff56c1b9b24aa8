package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"dmsync/internal/config"
)

// MessageHandler processes one consumed Kafka message. Returning nil commits its offset.
type MessageHandler func(ctx context.Context, msg *kafka.Message) error

// MessageConsumer defines the interface for a Kafka message consumer.
type MessageConsumer interface {
	Consume(ctx context.Context, topics []string, groupID string, handler MessageHandler) error
	Close()
}

// confluentKafkaConsumer is an implementation of MessageConsumer using confluent-kafka-go.
type confluentKafkaConsumer struct {
	consumer *kafka.Consumer
	cfg      config.KafkaConfig
	groupID  string
	logger   *slog.Logger
}

// NewConfluentKafkaConsumer prepares a consumer; the underlying client is created by Consume
// once the group id is known.
func NewConfluentKafkaConsumer(cfg config.KafkaConfig, logger *slog.Logger) (MessageConsumer, error) {
	return &confluentKafkaConsumer{cfg: cfg, logger: logger.With("component", "kafka_consumer")}, nil
}

func consumerConfigMap(cfg config.KafkaConfig, groupID string) *kafka.ConfigMap {
	configMap := &kafka.ConfigMap{
		"bootstrap.servers": strings.Join(cfg.Brokers, ","),
		"group.id":          groupID,
		// 消息事件只对在线会话有意义，从最新位置开始
		"auto.offset.reset":  "latest",
		"enable.auto.commit": "false",
		"security.protocol":  cfg.Protocol,
	}
	if cfg.ClientID != "" {
		_ = configMap.SetKey("client.id", cfg.ClientID)
	}
	return configMap
}

// Consume starts consuming messages from the specified topics and group.
// It blocks until ctx is cancelled or a fatal error occurs.
func (c *confluentKafkaConsumer) Consume(ctx context.Context, topics []string, groupID string, handler MessageHandler) error {
	if len(topics) == 0 {
		return errors.New("kafka consumer: no topics specified")
	}
	c.groupID = groupID

	consumer, err := kafka.NewConsumer(consumerConfigMap(c.cfg, groupID))
	if err != nil {
		return fmt.Errorf("failed to create Kafka consumer for group %s: %w", groupID, err)
	}
	c.consumer = consumer

	if err := c.consumer.SubscribeTopics(topics, nil); err != nil {
		_ = c.consumer.Close()
		c.consumer = nil
		return fmt.Errorf("failed to subscribe to topics %v for group %s: %w", topics, groupID, err)
	}

	log := c.logger.With("group_id", groupID)
	log.Info("Kafka consumer started", "topics", topics)

	for {
		select {
		case <-ctx.Done():
			log.Info("context canceled, shutting down consumer")
			return nil
		default:
		}

		ev := c.consumer.Poll(1000)
		if ev == nil {
			continue
		}

		switch e := ev.(type) {
		case *kafka.Message:
			if err := handler(ctx, e); err != nil {
				log.Error("error processing Kafka message",
					"topic", topicName(e), "offset", e.TopicPartition.Offset, "error", err)
				continue
			}
			if _, err := c.consumer.CommitMessage(e); err != nil {
				log.Warn("failed to commit offset", "topic", topicName(e), "offset", e.TopicPartition.Offset, "error", err)
			}
		case kafka.Error:
			log.Error("Kafka consumer error", "error", e, "code", e.Code(), "fatal", e.IsFatal())
			if e.IsFatal() {
				return e
			}
		case kafka.AssignedPartitions:
			log.Info("partitions assigned", "partitions", e.Partitions)
			_ = c.consumer.Assign(e.Partitions)
		case kafka.RevokedPartitions:
			log.Info("partitions revoked", "partitions", e.Partitions)
			_ = c.consumer.Unassign()
		}
	}
}

func topicName(m *kafka.Message) string {
	if m.TopicPartition.Topic == nil {
		return ""
	}
	return *m.TopicPartition.Topic
}

// Close closes the Kafka consumer.
func (c *confluentKafkaConsumer) Close() {
	if c.consumer == nil {
		return
	}
	if err := c.consumer.Close(); err != nil {
		c.logger.Error("error closing Kafka consumer", "group_id", c.groupID, "error", err)
	}
	c.consumer = nil
}
