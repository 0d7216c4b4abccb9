package feedback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/bissquit/alert-relay/internal/domain"
	"github.com/bissquit/alert-relay/internal/pkg/ctxlog"
)

const additionalDataTopicField = "feedbackTopic"

// Config holds feedback emission configuration.
type Config struct {
	Enabled             bool   `koanf:"enabled"`
	DefaultTopicEnabled bool   `koanf:"default_topic_enabled"`
	DefaultTopic        string `koanf:"default_topic"`
}

// Publisher forwards an event to a topic under a partition key.
type Publisher interface {
	Forward(ctx context.Context, key string, event any, topic string) error
}

// Emitter turns dispatch outcomes into feedback events.
type Emitter struct {
	config    Config
	publisher Publisher
	now       func() time.Time
	newID     func() string
}

// NewEmitter creates an Emitter.
func NewEmitter(config Config, publisher Publisher) *Emitter {
	return &Emitter{
		config:    config,
		publisher: publisher,
		now:       time.Now,
		newID:     func() string { return ulid.Make().String() },
	}
}

// ResolveTopic returns the topic feedback for alert goes to. Campaign alerts
// carry their override in Data["additionalData"]["feedbackTopic"], all others
// in FeedbackTopic. Without an override the default topic is used if enabled.
// The second result is false when no feedback should be emitted.
func (e *Emitter) ResolveTopic(alert *domain.Alert) (string, bool) {
	var topic string
	if alert.EventType == domain.CampaignEventType {
		if nested := alert.AdditionalData(); nested != nil {
			topic, _ = nested[additionalDataTopicField].(string)
		}
	} else {
		topic = alert.FeedbackTopic
	}

	if topic = strings.TrimSpace(topic); topic != "" {
		return topic, true
	}
	if e.config.DefaultTopicEnabled && e.config.DefaultTopic != "" {
		return e.config.DefaultTopic, true
	}
	return "", false
}

// ResolveKey returns the alert's own feedback key, or defaultKey.
func (e *Emitter) ResolveKey(alert *domain.Alert, defaultKey string) string {
	if alert.FeedbackKey != "" {
		return alert.FeedbackKey
	}
	return defaultKey
}

// EmitChannelFeedback publishes the channel level outcome of a processed alert:
// a single failure event if the alert failed as a whole, otherwise one event
// per channel response and one failure event per skipped channel.
func (e *Emitter) EmitChannelFeedback(ctx context.Context, alert *domain.Alert, defaultKey string) error {
	topic, ok := e.target(ctx, alert)
	if !ok {
		return nil
	}
	key := e.ResolveKey(alert, defaultKey)

	if alert.IsFailed() {
		ev := e.base(KindChannel, alert)
		ev.Status = domain.ResponseStatusFailure
		ev.ErrorCode = alert.ErrorCode
		ev.ErrorMessage = alert.ErrorMessage
		return e.forward(ctx, key, ev, topic)
	}

	var errs []error
	for i := range alert.Responses {
		ev := e.fromResponse(KindChannel, alert, &alert.Responses[i])
		errs = append(errs, e.forward(ctx, key, ev, topic))
	}
	for _, s := range alert.Skipped {
		ev := e.base(KindChannel, alert)
		ev.Channel = s.Channel.Type
		ev.Provider = s.Channel.Provider
		ev.Status = domain.ResponseStatusFailure
		ev.SkipReason = s.Reason
		ev.ErrorCode = string(s.Reason)
		errs = append(errs, e.forward(ctx, key, ev, topic))
	}
	return errors.Join(errs...)
}

// EmitSending publishes the outcome of one channel dispatch.
func (e *Emitter) EmitSending(ctx context.Context, alert *domain.Alert, resp *domain.ChannelResponse, defaultKey string) error {
	if resp == nil {
		return nil
	}
	topic, ok := e.target(ctx, alert)
	if !ok {
		return nil
	}
	ev := e.fromResponse(KindSending, alert, resp)
	return e.forward(ctx, e.ResolveKey(alert, defaultKey), ev, topic)
}

// EmitLifecycle publishes a status change of an alert's overall lifecycle.
func (e *Emitter) EmitLifecycle(ctx context.Context, alert *domain.Alert, status domain.ProcessingStatus, code, message, defaultKey string) error {
	topic, ok := e.target(ctx, alert)
	if !ok {
		return nil
	}
	ev := e.base(KindLifecycle, alert)
	ev.LifecycleStatus = status
	ev.ErrorCode = code
	ev.ErrorMessage = message
	return e.forward(ctx, e.ResolveKey(alert, defaultKey), ev, topic)
}

func (e *Emitter) target(ctx context.Context, alert *domain.Alert) (string, bool) {
	if !e.config.Enabled {
		return "", false
	}
	topic, ok := e.ResolveTopic(alert)
	if !ok {
		ctxlog.FromContext(ctx).Debug("no feedback topic resolved, skipping", "alert_id", alert.ID)
		recordFeedback("none", "skipped")
	}
	return topic, ok
}

func (e *Emitter) base(kind Kind, alert *domain.Alert) Event {
	return Event{
		ID:             e.newID(),
		Kind:           kind,
		AlertID:        alert.ID,
		AlertEventType: alert.EventType,
		VehicleID:      alert.VehicleID,
		UserID:         alert.UserID,
		CampaignID:     alert.CampaignID,
		Timestamp:      e.now().UTC(),
	}
}

func (e *Emitter) fromResponse(kind Kind, alert *domain.Alert, resp *domain.ChannelResponse) Event {
	ev := e.base(kind, alert)
	ev.Channel = resp.Channel
	ev.Provider = resp.Provider
	ev.Status = resp.Status
	ev.Destination = resp.Destination
	ev.Template = resp.Template
	ev.ErrorCode = resp.ErrorCode
	ev.ErrorMessage = resp.ErrorMessage
	if !resp.Timestamp.IsZero() {
		ev.Timestamp = resp.Timestamp
	}
	return ev
}

func (e *Emitter) forward(ctx context.Context, key string, ev Event, topic string) error {
	if err := e.publisher.Forward(ctx, key, ev, topic); err != nil {
		recordFeedback(string(ev.Kind), "error")
		return fmt.Errorf("forward %s feedback: %w", strings.ToLower(string(ev.Kind)), err)
	}
	recordFeedback(string(ev.Kind), "published")
	return nil
}
