// Package ivm provides the in-vehicle message notifier. Alerts are written to
// a Kafka topic keyed by vehicle id for the vehicle gateway to pick up.
package ivm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/bissquit/alert-relay/internal/domain"
	"github.com/bissquit/alert-relay/internal/notifications"
	"github.com/bissquit/alert-relay/internal/pkg/ctxlog"
)

// ProviderName identifies the Kafka provider.
const ProviderName = "kafka"

// ErrDisabled is returned by Publish when the sender is disabled.
var ErrDisabled = errors.New("ivm sender disabled")

// Config holds IVM sender configuration.
type Config struct {
	Enabled bool   `koanf:"enabled"`
	Topic   string `koanf:"topic"`
}

// Message is the vehicle display payload.
type Message struct {
	AlertID   string    `json:"alert_id"`
	EventType string    `json:"event_type"`
	VehicleID string    `json:"vehicle_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Sender implements the IVM channel notifier.
type Sender struct {
	config   Config
	producer sarama.SyncProducer
}

// NewSender creates a new IVM sender.
// Returns error if enabled but required config is missing.
func NewSender(config Config, producer sarama.SyncProducer) (*Sender, error) {
	if config.Enabled {
		if config.Topic == "" {
			return nil, errors.New("ivm sender: topic is required when enabled")
		}
		if producer == nil {
			return nil, errors.New("ivm sender: producer is required when enabled")
		}
	}
	return &Sender{config: config, producer: producer}, nil
}

// Init implements notifications.ChannelNotifier.
func (s *Sender) Init(context.Context) error {
	slog.Info("ivm sender configured",
		"enabled", s.config.Enabled,
		"topic", s.config.Topic,
	)
	return nil
}

// Protocol returns the channel type.
func (s *Sender) Protocol() domain.ChannelType {
	return domain.ChannelTypeIVM
}

// Provider returns the provider name.
func (s *Sender) Provider() string {
	return ProviderName
}

// Publish writes n to the vehicle message topic. The destination is the
// channel's ServiceID when set, otherwise the alert's vehicle.
func (s *Sender) Publish(ctx context.Context, n notifications.Notification) (*domain.ChannelResponse, error) {
	if !s.config.Enabled {
		return nil, notifications.NewNonRetryableError(ErrDisabled)
	}

	vehicleID := n.Channel.ServiceID
	if vehicleID == "" && n.Alert != nil {
		vehicleID = n.Alert.VehicleID
	}
	if vehicleID == "" {
		return notifications.NewResponse(n, ProviderName, domain.ResponseStatusMissingDestination, ""), nil
	}

	msg := Message{VehicleID: vehicleID, Title: n.Subject, Body: n.Body}
	if n.Alert != nil {
		msg.AlertID = n.Alert.ID
		msg.EventType = n.Alert.EventType
		msg.CreatedAt = n.Alert.CreatedAt
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, notifications.NewNonRetryableError(fmt.Errorf("marshal message: %w", err))
	}

	partition, offset, err := s.producer.SendMessage(&sarama.ProducerMessage{
		Topic: s.config.Topic,
		Key:   sarama.StringEncoder(vehicleID),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		return nil, notifications.NewRetryableError(fmt.Errorf("send vehicle message: %w", err))
	}

	ctxlog.FromContext(ctx).Debug("vehicle message sent",
		"vehicle_id", vehicleID,
		"partition", partition,
		"offset", offset,
	)
	return notifications.NewResponse(n, ProviderName, domain.ResponseStatusSuccess, vehicleID), nil
}

// SetupChannel implements notifications.ChannelNotifier. Vehicles need no
// provisioning.
func (s *Sender) SetupChannel(context.Context, domain.NotificationConfig, domain.Channel) (*domain.ChannelResponse, error) {
	return nil, nil
}

// DestroyChannel implements notifications.ChannelNotifier.
func (s *Sender) DestroyChannel(context.Context, string, map[string]any) (*domain.ChannelResponse, error) {
	return nil, nil
}
