// Package notifications routes alerts to channel notifiers and tracks their
// delivery outcome.
package notifications

import (
	"context"

	"github.com/bissquit/alert-relay/internal/domain"
)

// Notification is a rendered alert addressed to one configured channel.
type Notification struct {
	Alert    *domain.Alert
	Channel  domain.Channel
	Template string
	Subject  string
	Body     string
}

// ChannelNotifier delivers notifications for one channel type through one
// service provider.
type ChannelNotifier interface {
	// Init prepares the notifier. It is called once before any publish.
	Init(ctx context.Context) error
	// Publish delivers n and describes the outcome. A returned error means
	// the attempt failed and may be retried if the error allows it.
	Publish(ctx context.Context, n Notification) (*domain.ChannelResponse, error)
	// SetupChannel provisions ch for cfg. A nil response means there was
	// nothing to provision. Calling it twice for the same channel is safe.
	SetupChannel(ctx context.Context, cfg domain.NotificationConfig, ch domain.Channel) (*domain.ChannelResponse, error)
	// DestroyChannel releases whatever SetupChannel provisioned under key.
	DestroyChannel(ctx context.Context, key string, eventData map[string]any) (*domain.ChannelResponse, error)
	// Protocol returns the channel type served.
	Protocol() domain.ChannelType
	// Provider returns the service provider name.
	Provider() string
}

// NewResponse builds a response for n with the given status.
func NewResponse(n Notification, provider string, status domain.ResponseStatus, destination string) *domain.ChannelResponse {
	return &domain.ChannelResponse{
		Channel:     n.Channel.Type,
		Provider:    provider,
		Status:      status,
		Destination: destination,
		Template:    n.Template,
	}
}
