package notifications

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/bissquit/alert-relay/internal/domain"
	"github.com/bissquit/alert-relay/internal/pkg/ctxlog"
)

// DispatcherConfig contains dispatcher configuration.
type DispatcherConfig struct {
	Parallelism int `koanf:"parallelism"`
}

// DefaultDispatcherConfig returns default dispatcher configuration.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{Parallelism: 5}
}

// Dispatcher publishes one alert to several channels in parallel.
type Dispatcher struct {
	registry    *Registry
	parallelism int
}

// NewDispatcher creates a new dispatcher.
func NewDispatcher(registry *Registry, config DispatcherConfig) *Dispatcher {
	if config.Parallelism <= 0 {
		config.Parallelism = DefaultDispatcherConfig().Parallelism
	}
	return &Dispatcher{
		registry:    registry,
		parallelism: config.Parallelism,
	}
}

// Dispatch publishes alert to every channel and returns one response per
// channel, in channel order. Channels are independent: no ordering holds
// between them and a failure of one never stops the others.
func (d *Dispatcher) Dispatch(ctx context.Context, alert *domain.Alert, channels []domain.Channel) []domain.ChannelResponse {
	responses := make([]domain.ChannelResponse, len(channels))

	var g errgroup.Group
	g.SetLimit(d.parallelism)

	for i, ch := range channels {
		g.Go(func() error {
			responses[i] = d.registry.Publish(ctx, alert, ch)
			return nil
		})
	}
	_ = g.Wait()

	ctxlog.FromContext(ctx).Debug("alert dispatched",
		"channels", len(channels),
	)

	return responses
}
