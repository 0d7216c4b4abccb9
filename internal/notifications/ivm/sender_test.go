package ivm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bissquit/alert-relay/internal/domain"
	"github.com/bissquit/alert-relay/internal/notifications"
)

func ivmNotification(serviceID string) notifications.Notification {
	return notifications.Notification{
		Alert:    &domain.Alert{ID: "a1", EventType: "LOW_FUEL", VehicleID: "vin-1"},
		Channel:  domain.Channel{Type: domain.ChannelTypeIVM, Enabled: true, ServiceID: serviceID},
		Template: "ivm_alert",
		Subject:  "[Alert] Low Fuel",
		Body:     "Fuel below 10%",
	}
}

func TestNewSender_Validation(t *testing.T) {
	_, err := NewSender(Config{Enabled: true}, nil)
	assert.ErrorContains(t, err, "topic is required")

	_, err = NewSender(Config{Enabled: true, Topic: "vehicle.messages"}, nil)
	assert.ErrorContains(t, err, "producer is required")

	sender, err := NewSender(Config{}, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.ChannelTypeIVM, sender.Protocol())
	assert.Equal(t, ProviderName, sender.Provider())
}

func TestSender_Publish(t *testing.T) {
	tests := []struct {
		name      string
		serviceID string
		wantKey   string
	}{
		{name: "alert vehicle", wantKey: "vin-1"},
		{name: "service id overrides", serviceID: "head-unit-9", wantKey: "head-unit-9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			producer := mocks.NewSyncProducer(t, sarama.NewConfig())
			producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
				if msg.Topic != "vehicle.messages" {
					return fmt.Errorf("unexpected topic %q", msg.Topic)
				}
				key, _ := msg.Key.Encode()
				if string(key) != tt.wantKey {
					return fmt.Errorf("unexpected key %q", key)
				}
				value, _ := msg.Value.Encode()
				var m Message
				if err := json.Unmarshal(value, &m); err != nil {
					return err
				}
				if m.AlertID != "a1" || m.Title != "[Alert] Low Fuel" {
					return fmt.Errorf("unexpected payload %s", value)
				}
				return nil
			})

			sender, err := NewSender(Config{Enabled: true, Topic: "vehicle.messages"}, producer)
			require.NoError(t, err)

			resp, err := sender.Publish(context.Background(), ivmNotification(tt.serviceID))

			require.NoError(t, err)
			assert.Equal(t, domain.ResponseStatusSuccess, resp.Status)
			assert.Equal(t, tt.wantKey, resp.Destination)
			assert.Equal(t, "ivm_alert", resp.Template)
			require.NoError(t, producer.Close())
		})
	}
}

func TestSender_Publish_SendFailureIsRetryable(t *testing.T) {
	producer := mocks.NewSyncProducer(t, sarama.NewConfig())
	producer.ExpectSendMessageAndFail(errors.New("leader not available"))

	sender, _ := NewSender(Config{Enabled: true, Topic: "vehicle.messages"}, producer)
	_, err := sender.Publish(context.Background(), ivmNotification(""))

	var re *notifications.RetryableError
	require.ErrorAs(t, err, &re)
	assert.True(t, re.IsRetryable())
	assert.Contains(t, err.Error(), "leader not available")
	require.NoError(t, producer.Close())
}

func TestSender_Publish_MissingVehicle(t *testing.T) {
	producer := mocks.NewSyncProducer(t, sarama.NewConfig())
	sender, _ := NewSender(Config{Enabled: true, Topic: "vehicle.messages"}, producer)

	n := ivmNotification("")
	n.Alert.VehicleID = ""
	resp, err := sender.Publish(context.Background(), n)

	require.NoError(t, err)
	assert.Equal(t, domain.ResponseStatusMissingDestination, resp.Status)
	require.NoError(t, producer.Close())
}

func TestSender_Publish_Disabled(t *testing.T) {
	sender, _ := NewSender(Config{}, nil)

	_, err := sender.Publish(context.Background(), ivmNotification(""))
	assert.ErrorIs(t, err, ErrDisabled)
}
