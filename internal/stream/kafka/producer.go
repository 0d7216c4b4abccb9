// Package kafka wires the relay to Kafka: a JSON producer for feedback events
// and redeliveries, and the consumer group the alert worker reads from.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/bissquit/alert-relay/internal/domain"
	"github.com/bissquit/alert-relay/internal/pkg/ctxlog"
)

// ErrEmptyTopic is returned when a message has no destination topic.
var ErrEmptyTopic = errors.New("topic is required")

// Config holds broker connection settings.
type Config struct {
	Brokers    []string `koanf:"brokers"`
	ClientID   string   `koanf:"client_id"`
	Group      string   `koanf:"group"`
	RetryTopic string   `koanf:"retry_topic"`
}

// NewProducerConfig returns the sarama configuration used for all producers.
func NewProducerConfig(clientID string) *sarama.Config {
	config := sarama.NewConfig()
	if clientID != "" {
		config.ClientID = clientID
	}
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	config.Producer.Compression = sarama.CompressionSnappy
	return config
}

// NewSyncProducer connects a producer to the configured brokers.
func NewSyncProducer(cfg Config) (sarama.SyncProducer, error) {
	producer, err := sarama.NewSyncProducer(cfg.Brokers, NewProducerConfig(cfg.ClientID))
	if err != nil {
		return nil, fmt.Errorf("create producer: %w", err)
	}
	return producer, nil
}

// Producer publishes JSON encoded values keyed by a partition key.
type Producer struct {
	producer   sarama.SyncProducer
	retryTopic string
}

// NewProducer wraps a sync producer. retryTopic receives redelivered alerts.
func NewProducer(producer sarama.SyncProducer, retryTopic string) *Producer {
	return &Producer{producer: producer, retryTopic: retryTopic}
}

// Forward publishes event to topic under key.
func (p *Producer) Forward(ctx context.Context, key string, event any, topic string) error {
	if topic == "" {
		return ErrEmptyTopic
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(data),
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		recordProduced(topic, "error")
		return fmt.Errorf("send message to %s: %w", topic, err)
	}
	recordProduced(topic, "success")

	ctxlog.FromContext(ctx).Debug("message produced",
		"topic", topic,
		"partition", partition,
		"offset", offset,
	)
	return nil
}

// Redeliver publishes alert to the retry topic for another processing round.
func (p *Producer) Redeliver(ctx context.Context, key string, alert *domain.Alert) error {
	if p.retryTopic == "" {
		return fmt.Errorf("redeliver: %w", ErrEmptyTopic)
	}
	return p.Forward(ctx, key, alert, p.retryTopic)
}

// Close flushes and closes the underlying producer.
func (p *Producer) Close() error {
	return p.producer.Close()
}
