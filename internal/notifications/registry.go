package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bissquit/alert-relay/internal/domain"
	"github.com/bissquit/alert-relay/internal/pkg/ctxlog"
	"github.com/bissquit/alert-relay/internal/retry"
)

type providerKey struct {
	channel  domain.ChannelType
	provider string
}

// Registry indexes channel notifiers by channel type and provider name.
//
// Publishing through the registry never fails and never panics: errors and
// panics raised by a notifier are turned into FAILURE responses, so one
// channel cannot abort delivery to its siblings.
type Registry struct {
	byType     map[domain.ChannelType][]ChannelNotifier
	byProvider map[providerKey]ChannelNotifier
	renderer   *Renderer
	template   *retry.Template
	now        func() time.Time
}

// NewRegistry creates a registry. A nil template publishes once per call.
func NewRegistry(renderer *Renderer, template *retry.Template) *Registry {
	if template == nil {
		template = retry.NewTemplate(retry.TemplateConfig{MaxAttempts: 1})
	}
	return &Registry{
		byType:     make(map[domain.ChannelType][]ChannelNotifier),
		byProvider: make(map[providerKey]ChannelNotifier),
		renderer:   renderer,
		template:   template,
		now:        time.Now,
	}
}

// Register adds n. Registration order decides the default provider of a
// channel type.
func (r *Registry) Register(n ChannelNotifier) error {
	key := providerKey{channel: n.Protocol(), provider: n.Provider()}
	if _, ok := r.byProvider[key]; ok {
		return fmt.Errorf("%w: %s/%s", ErrDuplicateNotifier, key.channel, key.provider)
	}
	r.byProvider[key] = n
	r.byType[key.channel] = append(r.byType[key.channel], n)
	return nil
}

// Init initializes every registered notifier.
func (r *Registry) Init(ctx context.Context) error {
	for _, ct := range domain.ChannelTypes {
		for _, n := range r.byType[ct] {
			if err := n.Init(ctx); err != nil {
				return fmt.Errorf("init %s/%s notifier: %w", ct, n.Provider(), err)
			}
			slog.Info("channel notifier initialized", "channel", ct, "provider", n.Provider())
		}
	}
	return nil
}

// Notifiers returns the notifiers for a channel type in registration order.
func (r *Registry) Notifiers(ct domain.ChannelType) []ChannelNotifier {
	return r.byType[ct]
}

// Lookup returns the notifier recorded for ch. An empty provider selects the
// first notifier registered for the channel type.
func (r *Registry) Lookup(ch domain.Channel) (ChannelNotifier, bool) {
	if ch.Provider == "" {
		list := r.byType[ch.Type]
		if len(list) == 0 {
			return nil, false
		}
		return list[0], true
	}
	n, ok := r.byProvider[providerKey{channel: ch.Type, provider: ch.Provider}]
	return n, ok
}

// Publish renders alert for ch and publishes it through the matching
// notifier, retrying per the registry's template. It always returns a response.
func (r *Registry) Publish(ctx context.Context, alert *domain.Alert, ch domain.Channel) domain.ChannelResponse {
	logger := ctxlog.FromContext(ctx)

	n, ok := r.Lookup(ch)
	if !ok {
		return r.failure(ch, ch.Provider, "", NewNonRetryableError(ErrNoNotifier))
	}

	notification, err := r.renderer.Render(alert, ch)
	if err != nil {
		resp := r.failure(ch, n.Provider(), "", NewNonRetryableError(err))
		resp.ErrorCode = ErrorCodeRender
		return resp
	}

	start := time.Now()
	resp, err := retry.Do(ctx, r.template, func() (*domain.ChannelResponse, error) {
		return r.invoke(ctx, n, notification)
	})
	recordNotificationDuration(string(ch.Type), time.Since(start))

	if err != nil {
		logger.Warn("channel publish failed",
			"channel", ch.Type,
			"provider", n.Provider(),
			"error", err,
		)
		out := r.failure(ch, n.Provider(), notification.Template, err)
		recordNotificationSent(string(ch.Type), n.Provider(), string(out.Status))
		return out
	}

	out := *resp
	if out.Channel == "" {
		out.Channel = ch.Type
	}
	if out.Provider == "" {
		out.Provider = n.Provider()
	}
	if out.Template == "" {
		out.Template = notification.Template
	}
	if out.Timestamp.IsZero() {
		out.Timestamp = r.now().UTC()
	}
	recordNotificationSent(string(ch.Type), out.Provider, string(out.Status))
	return out
}

// SetupChannel calls SetupChannel on every notifier of ch's type and returns
// the non-nil responses.
func (r *Registry) SetupChannel(ctx context.Context, cfg domain.NotificationConfig, ch domain.Channel) []domain.ChannelResponse {
	var out []domain.ChannelResponse
	for _, n := range r.byType[ch.Type] {
		resp, err := r.guard(func() (*domain.ChannelResponse, error) {
			return n.SetupChannel(ctx, cfg, ch)
		})
		if err != nil {
			ctxlog.FromContext(ctx).Warn("channel setup failed",
				"channel", ch.Type,
				"provider", n.Provider(),
				"error", err,
			)
			out = append(out, r.failure(ch, n.Provider(), "", err))
			continue
		}
		if resp != nil {
			out = append(out, *resp)
		}
	}
	return out
}

// DestroyChannel calls DestroyChannel on every notifier of ct and returns the
// non-nil responses.
func (r *Registry) DestroyChannel(ctx context.Context, ct domain.ChannelType, key string, eventData map[string]any) []domain.ChannelResponse {
	var out []domain.ChannelResponse
	for _, n := range r.byType[ct] {
		resp, err := r.guard(func() (*domain.ChannelResponse, error) {
			return n.DestroyChannel(ctx, key, eventData)
		})
		if err != nil {
			ctxlog.FromContext(ctx).Warn("channel destroy failed",
				"channel", ct,
				"provider", n.Provider(),
				"error", err,
			)
			out = append(out, r.failure(domain.Channel{Type: ct}, n.Provider(), "", err))
			continue
		}
		if resp != nil {
			out = append(out, *resp)
		}
	}
	return out
}

func (r *Registry) invoke(ctx context.Context, n ChannelNotifier, notification Notification) (*domain.ChannelResponse, error) {
	resp, err := r.guard(func() (*domain.ChannelResponse, error) {
		return n.Publish(ctx, notification)
	})
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, NewNonRetryableError(ErrNilNotifierResponse)
	}
	return resp, nil
}

// guard runs fn and converts a panic into a PanicError.
func (r *Registry) guard(fn func() (*domain.ChannelResponse, error)) (resp *domain.ChannelResponse, err error) {
	defer func() {
		if v := recover(); v != nil {
			resp = nil
			err = &PanicError{Value: v}
		}
	}()
	return fn()
}

func (r *Registry) failure(ch domain.Channel, provider, tmpl string, err error) domain.ChannelResponse {
	code := errorCode(err)
	if errors.Is(err, ErrNoNotifier) {
		code = string(domain.SkipReasonNoProvider)
	}
	return domain.ChannelResponse{
		Channel:      ch.Type,
		Provider:     provider,
		Status:       domain.ResponseStatusFailure,
		Template:     tmpl,
		ErrorCode:    code,
		ErrorMessage: err.Error(),
		Timestamp:    r.now().UTC(),
		Err:          err,
	}
}
