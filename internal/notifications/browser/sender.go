// Package browser provides the in-app channel notifier. Alerts are pushed to
// the websocket connections a user holds open.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bissquit/alert-relay/internal/domain"
	"github.com/bissquit/alert-relay/internal/notifications"
)

// ProviderName identifies the websocket provider.
const ProviderName = "websocket"

const defaultHeartbeat = 30 * time.Second

// Config holds browser notifier configuration.
type Config struct {
	Enabled           bool          `koanf:"enabled"`
	AllowedOrigins    []string      `koanf:"allowed_origins"`
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`
}

// Message is the payload written to the browser.
type Message struct {
	AlertID   string    `json:"alert_id"`
	EventType string    `json:"event_type"`
	VehicleID string    `json:"vehicle_id,omitempty"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Sender implements the browser channel notifier.
type Sender struct {
	config Config
	hub    *Hub
}

// NewSender creates a browser sender publishing through hub.
func NewSender(config Config, hub *Hub) (*Sender, error) {
	if hub == nil {
		return nil, errors.New("browser sender: hub is required")
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = defaultHeartbeat
	}
	return &Sender{config: config, hub: hub}, nil
}

// Init implements notifications.ChannelNotifier.
func (s *Sender) Init(context.Context) error {
	slog.Info("browser sender configured",
		"enabled", s.config.Enabled,
		"heartbeat_interval", s.config.HeartbeatInterval,
	)
	return nil
}

// Protocol returns the channel type.
func (s *Sender) Protocol() domain.ChannelType {
	return domain.ChannelTypeBrowser
}

// Provider returns the provider name.
func (s *Sender) Provider() string {
	return ProviderName
}

// HeartbeatInterval returns the ping interval for the hub.
func (s *Sender) HeartbeatInterval() time.Duration {
	return s.config.HeartbeatInterval
}

// Publish writes n to the target user's open connections. The target is the
// channel's ServiceID when set, otherwise the alert owner.
func (s *Sender) Publish(_ context.Context, n notifications.Notification) (*domain.ChannelResponse, error) {
	if !s.config.Enabled {
		return nil, notifications.NewNonRetryableError(errors.New("browser sender disabled"))
	}

	userID := n.Channel.ServiceID
	if userID == "" && n.Alert != nil {
		userID = n.Alert.UserID
	}
	if userID == "" || !s.hub.Online(userID) {
		return notifications.NewResponse(n, ProviderName, domain.ResponseStatusMissingDestination, userID), nil
	}

	msg := Message{Title: n.Subject, Body: n.Body}
	if n.Alert != nil {
		msg.AlertID = n.Alert.ID
		msg.EventType = n.Alert.EventType
		msg.VehicleID = n.Alert.VehicleID
		msg.CreatedAt = n.Alert.CreatedAt
	}

	delivered, err := s.hub.Send(userID, msg)
	if errors.Is(err, ErrUserOffline) {
		return notifications.NewResponse(n, ProviderName, domain.ResponseStatusMissingDestination, userID), nil
	}
	if err != nil {
		return nil, notifications.NewRetryableError(fmt.Errorf("write to browser: %w", err))
	}

	slog.Debug("browser notification delivered", "user_id", userID, "connections", delivered)
	return notifications.NewResponse(n, ProviderName, domain.ResponseStatusSuccess, userID), nil
}

// SetupChannel implements notifications.ChannelNotifier. Connections are
// opened by the browser itself.
func (s *Sender) SetupChannel(context.Context, domain.NotificationConfig, domain.Channel) (*domain.ChannelResponse, error) {
	return nil, nil
}

// DestroyChannel implements notifications.ChannelNotifier.
func (s *Sender) DestroyChannel(context.Context, string, map[string]any) (*domain.ChannelResponse, error) {
	return nil, nil
}
