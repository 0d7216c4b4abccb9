package kafka

import (
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

// ErrEmptyGroup is returned when no consumer group id is configured.
var ErrEmptyGroup = errors.New("consumer group is required")

// NewConsumerConfig returns the sarama configuration for the alert consumer
// group. Offsets are committed for marked messages only.
func NewConsumerConfig(clientID string) *sarama.Config {
	config := sarama.NewConfig()
	if clientID != "" {
		config.ClientID = clientID
	}
	config.Version = sarama.V3_0_0_0
	config.Consumer.Return.Errors = true
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Group.Session.Timeout = 20 * time.Second
	config.Consumer.Group.Heartbeat.Interval = 6 * time.Second
	config.Consumer.MaxProcessingTime = 30 * time.Second
	return config
}

// NewConsumerGroup joins the configured consumer group.
func NewConsumerGroup(cfg Config) (sarama.ConsumerGroup, error) {
	if cfg.Group == "" {
		return nil, ErrEmptyGroup
	}
	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.Group, NewConsumerConfig(cfg.ClientID))
	if err != nil {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}
	return group, nil
}
