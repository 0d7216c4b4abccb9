package feedback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bissquit/alert-relay/internal/domain"
)

type published struct {
	key   string
	event Event
	topic string
}

type mockPublisher struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (m *mockPublisher) Forward(_ context.Context, key string, event any, topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, published{key: key, event: event.(Event), topic: topic})
	return nil
}

func newTestEmitter(cfg Config) (*Emitter, *mockPublisher) {
	pub := &mockPublisher{}
	e := NewEmitter(cfg, pub)
	e.now = func() time.Time { return time.Date(2026, 10, 12, 8, 0, 0, 0, time.UTC) }
	e.newID = func() string { return "01TESTID" }
	return e, pub
}

func enabledConfig() Config {
	return Config{Enabled: true, DefaultTopicEnabled: true, DefaultTopic: "alerts.feedback"}
}

func TestEmitter_ResolveTopic(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		alert    domain.Alert
		expected string
		ok       bool
	}{
		{
			name:     "per-event override",
			config:   enabledConfig(),
			alert:    domain.Alert{FeedbackTopic: "fleet.feedback"},
			expected: "fleet.feedback",
			ok:       true,
		},
		{
			name:     "default topic",
			config:   enabledConfig(),
			alert:    domain.Alert{},
			expected: "alerts.feedback",
			ok:       true,
		},
		{
			name:   "default topic disabled",
			config: Config{Enabled: true, DefaultTopic: "alerts.feedback"},
			alert:  domain.Alert{},
		},
		{
			name:   "campaign override in additional data",
			config: enabledConfig(),
			alert: domain.Alert{
				EventType:     domain.CampaignEventType,
				FeedbackTopic: "ignored",
				Data: map[string]any{
					"additionalData": map[string]any{"feedbackTopic": "campaign.feedback"},
				},
			},
			expected: "campaign.feedback",
			ok:       true,
		},
		{
			name:     "campaign without override falls back to default",
			config:   enabledConfig(),
			alert:    domain.Alert{EventType: domain.CampaignEventType, FeedbackTopic: "ignored"},
			expected: "alerts.feedback",
			ok:       true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newTestEmitter(tt.config)
			topic, ok := e.ResolveTopic(&tt.alert)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, topic)
		})
	}
}

func TestEmitter_ResolveKey(t *testing.T) {
	e, _ := newTestEmitter(enabledConfig())

	assert.Equal(t, "own-key", e.ResolveKey(&domain.Alert{FeedbackKey: "own-key"}, "default"))
	assert.Equal(t, "default", e.ResolveKey(&domain.Alert{}, "default"))
}

func TestEmitter_NoTopicNoPublish(t *testing.T) {
	e, pub := newTestEmitter(Config{Enabled: true})
	alert := &domain.Alert{ID: "a1", Responses: []domain.ChannelResponse{{Channel: domain.ChannelTypeSMS}}}
	ctx := context.Background()

	require.NoError(t, e.EmitChannelFeedback(ctx, alert, "k"))
	require.NoError(t, e.EmitSending(ctx, alert, &alert.Responses[0], "k"))
	require.NoError(t, e.EmitLifecycle(ctx, alert, domain.ProcessingStatusSuccess, "", "", "k"))

	assert.Empty(t, pub.events)
}

func TestEmitter_DisabledNoPublish(t *testing.T) {
	cfg := enabledConfig()
	cfg.Enabled = false
	e, pub := newTestEmitter(cfg)

	alert := &domain.Alert{ID: "a1", FeedbackTopic: "fleet.feedback"}
	require.NoError(t, e.EmitLifecycle(context.Background(), alert, domain.ProcessingStatusSuccess, "", "", "k"))
	assert.Empty(t, pub.events)
}

func TestEmitter_ChannelFeedback_PerResponseAndSkipped(t *testing.T) {
	e, pub := newTestEmitter(enabledConfig())
	alert := &domain.Alert{
		ID:         "a1",
		VehicleID:  "vin-1",
		UserID:     "user-1",
		CampaignID: "camp-1",
		Responses: []domain.ChannelResponse{
			{Channel: domain.ChannelTypeSMS, Provider: "primary", Status: domain.ResponseStatusSuccess, Destination: "+100"},
			{Channel: domain.ChannelTypeEmail, Provider: "smtp", Status: domain.ResponseStatusFailure, ErrorCode: "PUBLISH_FAILED"},
		},
		Skipped: []domain.SkippedChannel{
			{Channel: domain.Channel{Type: domain.ChannelTypePush}, Reason: domain.SkipReasonSuppressed},
		},
	}

	require.NoError(t, e.EmitChannelFeedback(context.Background(), alert, "vin-1"))

	require.Len(t, pub.events, 3)
	for _, p := range pub.events {
		assert.Equal(t, "alerts.feedback", p.topic)
		assert.Equal(t, "vin-1", p.key)
		assert.Equal(t, KindChannel, p.event.Kind)
		assert.Equal(t, "vin-1", p.event.VehicleID)
		assert.Equal(t, "user-1", p.event.UserID)
		assert.Equal(t, "camp-1", p.event.CampaignID)
	}
	assert.Equal(t, domain.ResponseStatusSuccess, pub.events[0].event.Status)
	assert.Equal(t, "+100", pub.events[0].event.Destination)
	assert.Equal(t, "PUBLISH_FAILED", pub.events[1].event.ErrorCode)
	assert.Equal(t, domain.ChannelTypePush, pub.events[2].event.Channel)
	assert.Equal(t, domain.ResponseStatusFailure, pub.events[2].event.Status)
	assert.Equal(t, domain.SkipReasonSuppressed, pub.events[2].event.SkipReason)
}

func TestEmitter_ChannelFeedback_FailedAlert(t *testing.T) {
	e, pub := newTestEmitter(enabledConfig())
	alert := &domain.Alert{
		ID:        "a1",
		Responses: []domain.ChannelResponse{{Channel: domain.ChannelTypeSMS}},
	}
	alert.Fail("MISSING_CONFIG", "no notification config")

	require.NoError(t, e.EmitChannelFeedback(context.Background(), alert, "k"))

	require.Len(t, pub.events, 1)
	ev := pub.events[0].event
	assert.Equal(t, domain.ResponseStatusFailure, ev.Status)
	assert.Equal(t, "MISSING_CONFIG", ev.ErrorCode)
	assert.Equal(t, "no notification config", ev.ErrorMessage)
	assert.Empty(t, ev.Channel)
}

func TestEmitter_Sending(t *testing.T) {
	e, pub := newTestEmitter(enabledConfig())
	alert := &domain.Alert{ID: "a1", FeedbackKey: "fk", CampaignID: "camp-1"}
	ts := time.Date(2026, 10, 12, 9, 30, 0, 0, time.UTC)

	require.NoError(t, e.EmitSending(context.Background(), alert, nil, "k"))
	assert.Empty(t, pub.events, "nil response is not published")

	resp := &domain.ChannelResponse{Channel: domain.ChannelTypeIVM, Status: domain.ResponseStatusSuccess, Timestamp: ts}
	require.NoError(t, e.EmitSending(context.Background(), alert, resp, "k"))

	require.Len(t, pub.events, 1)
	assert.Equal(t, "fk", pub.events[0].key)
	assert.Equal(t, KindSending, pub.events[0].event.Kind)
	assert.Equal(t, "camp-1", pub.events[0].event.CampaignID)
	assert.Equal(t, ts, pub.events[0].event.Timestamp)
}

func TestEmitter_Lifecycle(t *testing.T) {
	e, pub := newTestEmitter(enabledConfig())
	alert := &domain.Alert{ID: "a1", CampaignID: "camp-1"}

	require.NoError(t, e.EmitLifecycle(context.Background(), alert, domain.ProcessingStatusSuccess, "SUPPRESSED", "quiet hours", "k"))

	require.Len(t, pub.events, 1)
	ev := pub.events[0].event
	assert.Equal(t, KindLifecycle, ev.Kind)
	assert.Equal(t, "01TESTID", ev.ID)
	assert.Equal(t, domain.ProcessingStatusSuccess, ev.LifecycleStatus)
	assert.Equal(t, "SUPPRESSED", ev.ErrorCode)
	assert.Equal(t, "quiet hours", ev.ErrorMessage)
}

func TestEmitter_PublisherError(t *testing.T) {
	e, pub := newTestEmitter(enabledConfig())
	pub.err = errors.New("broker unavailable")

	err := e.EmitLifecycle(context.Background(), &domain.Alert{ID: "a1"}, domain.ProcessingStatusSuccess, "", "", "k")
	assert.ErrorIs(t, err, pub.err)
}

func TestNewEmitter_GeneratesULIDs(t *testing.T) {
	e := NewEmitter(enabledConfig(), &mockPublisher{})

	first, second := e.newID(), e.newID()
	assert.Len(t, first, 26)
	assert.NotEqual(t, first, second)
}
