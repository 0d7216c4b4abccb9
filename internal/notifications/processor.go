package notifications

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/bissquit/alert-relay/internal/domain"
	"github.com/bissquit/alert-relay/internal/keystore"
	"github.com/bissquit/alert-relay/internal/pkg/ctxlog"
	"github.com/bissquit/alert-relay/internal/retry"
	"github.com/bissquit/alert-relay/internal/suppression"
)

// Lifecycle codes emitted for campaign alerts.
const (
	LifecycleCodeProcessed  = "PROCESSED"
	LifecycleCodeSuppressed = "SUPPRESSED"
)

// FeedbackEmitter publishes delivery outcomes. Emission failures are logged by
// the caller and never fail processing.
type FeedbackEmitter interface {
	EmitChannelFeedback(ctx context.Context, alert *domain.Alert, defaultKey string) error
	EmitSending(ctx context.Context, alert *domain.Alert, resp *domain.ChannelResponse, defaultKey string) error
	EmitLifecycle(ctx context.Context, alert *domain.Alert, status domain.ProcessingStatus, code, message, defaultKey string) error
}

// Redeliverer schedules an alert for another processing pass.
type Redeliverer interface {
	Redeliver(ctx context.Context, key string, alert *domain.Alert) error
}

// ProcessorConfig contains alert processing configuration.
type ProcessorConfig struct {
	// RedeliveryLimit is how many times an alert is sent back through the
	// retry topic for one kind of failure.
	RedeliveryLimit int `koanf:"redelivery_limit"`
	// ExceptionLimits overrides RedeliveryLimit per exception name.
	ExceptionLimits map[string]int `koanf:"exception_limits"`
	// RedeliveryDelay is multiplied by the retry count to hold back a
	// redelivered alert. A provider suggested wait wins when longer.
	RedeliveryDelay time.Duration `koanf:"redelivery_delay"`
	// MaxRedeliveryDelay caps the hold back.
	MaxRedeliveryDelay time.Duration `koanf:"max_redelivery_delay"`
}

// DefaultProcessorConfig returns default processing configuration.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		RedeliveryLimit:    3,
		RedeliveryDelay:    30 * time.Second,
		MaxRedeliveryDelay: 10 * time.Minute,
	}
}

// Processor runs one alert through suppression, deduplication, dispatch,
// redelivery and feedback.
type Processor struct {
	config      ProcessorConfig
	dispatcher  *Dispatcher
	dedup       keystore.KeyStore
	retries     *retry.CacheClient
	redeliverer Redeliverer
	feedback    FeedbackEmitter
	now         func() time.Time
}

// NewProcessor creates a Processor. dedup, retries, redeliverer and feedback
// may be nil to disable the corresponding step.
func NewProcessor(
	config ProcessorConfig,
	dispatcher *Dispatcher,
	dedup keystore.KeyStore,
	retries *retry.CacheClient,
	redeliverer Redeliverer,
	feedback FeedbackEmitter,
) *Processor {
	return &Processor{
		config:      config,
		dispatcher:  dispatcher,
		dedup:       dedup,
		retries:     retries,
		redeliverer: redeliverer,
		feedback:    feedback,
		now:         time.Now,
	}
}

// Process handles alert. defaultKey is the feedback key used when the alert
// carries none, usually the key of the inbound message. The returned error
// reports a failure to schedule redelivery or a cancelled wait for a held
// back alert; the message must not be acknowledged then. Channel failures are
// reported through the alert's responses and feedback instead.
func (p *Processor) Process(ctx context.Context, alert *domain.Alert, defaultKey string) error {
	ctx = ctxlog.With(ctx, "alert_id", alert.ID, "vehicle_id", alert.VehicleID)
	logger := ctxlog.FromContext(ctx)

	if err := p.waitUntil(ctx, alert.NotBefore); err != nil {
		return fmt.Errorf("wait for redelivery slot: %w", err)
	}

	alert.Status = domain.ProcessingStatusPending

	channels, ok := p.selectChannels(alert)
	if !ok {
		logger.Warn("alert cannot be dispatched",
			"error_code", alert.ErrorCode,
			"error", alert.ErrorMessage,
		)
		p.emitOutcome(ctx, alert, defaultKey)
		return nil
	}

	if suppression.IsSuppressed(alert.Config.Suppression, p.now()) {
		for _, ch := range channels {
			alert.Skipped = append(alert.Skipped, domain.SkippedChannel{Channel: ch, Reason: domain.SkipReasonSuppressed})
			recordSkipped(string(ch.Type), string(domain.SkipReasonSuppressed))
		}
		logger.Info("alert suppressed by quiet hours", "channels", len(channels))
		alert.Status = domain.ProcessingStatusSuccess
		p.emitOutcome(ctx, alert, defaultKey)
		return nil
	}

	channels = p.filterDelivered(ctx, alert, channels)

	var err error
	if len(channels) > 0 {
		responses := p.dispatcher.Dispatch(ctx, alert, channels)
		alert.Responses = append(alert.Responses, responses...)

		for i := range responses {
			p.emitSending(ctx, alert, &responses[i], defaultKey)
		}

		err = p.settle(ctx, alert, channels, responses, defaultKey)
	} else if p.retries != nil {
		if clearErr := p.retries.Clear(ctx, alert.ID); clearErr != nil {
			logger.Warn("failed to clear retry state", "error", clearErr)
		}
	}

	alert.Status = domain.ProcessingStatusSuccess
	p.emitOutcome(ctx, alert, defaultKey)

	logger.Info("alert processed",
		"dispatched", len(channels),
		"skipped", len(alert.Skipped),
	)

	return err
}

func (p *Processor) waitUntil(ctx context.Context, notBefore time.Time) error {
	if notBefore.IsZero() {
		return nil
	}
	wait := notBefore.Sub(p.now())
	if wait <= 0 {
		return nil
	}
	if limit := p.config.MaxRedeliveryDelay; limit > 0 && wait > limit {
		wait = limit
	}

	ctxlog.FromContext(ctx).Debug("holding back redelivered alert", "wait", wait)
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p *Processor) selectChannels(alert *domain.Alert) ([]domain.Channel, bool) {
	if alert.Config == nil {
		alert.Fail(ErrorCodeMissingConfig, "alert carries no notification config")
		return nil, false
	}
	if !alert.Config.IsEnabled() {
		alert.Fail(ErrorCodeDisabled, "notification config is disabled")
		return nil, false
	}

	channels := alert.Config.EnabledChannels()
	if len(alert.Channels) > 0 {
		channels = slices.DeleteFunc(channels, func(ch domain.Channel) bool {
			return !slices.Contains(alert.Channels, ch.Type)
		})
	}
	if len(channels) == 0 {
		alert.Fail(ErrorCodeNoChannels, "no enabled channels to dispatch")
		return nil, false
	}
	return channels, true
}

// filterDelivered drops channels that already succeeded for this alert on an
// earlier pass. Lookup failures keep the channel: a duplicate is preferred
// over a lost notification.
func (p *Processor) filterDelivered(ctx context.Context, alert *domain.Alert, channels []domain.Channel) []domain.Channel {
	if p.dedup == nil {
		return channels
	}

	logger := ctxlog.FromContext(ctx)
	out := channels[:0:0]
	for _, ch := range channels {
		exists, err := p.dedup.KeyExists(ctx, DedupKey(alert.ID, ch))
		if err != nil {
			logger.Warn("dedup lookup failed", "channel", ch.Type, "error", err)
			out = append(out, ch)
			continue
		}
		if exists {
			logger.Debug("channel already delivered", "channel", ch.Type, "provider", ch.Provider)
			recordSkipped(string(ch.Type), "duplicate")
			continue
		}
		out = append(out, ch)
	}
	return out
}

func (p *Processor) settle(ctx context.Context, alert *domain.Alert, channels []domain.Channel, responses []domain.ChannelResponse, defaultKey string) error {
	logger := ctxlog.FromContext(ctx)

	failures := make(map[string]error)
	var failedTypes []domain.ChannelType

	for i, resp := range responses {
		ch := channels[i]
		switch {
		case resp.Succeeded():
			if p.dedup != nil {
				if err := p.dedup.Put(ctx, DedupKey(alert.ID, ch)); err != nil {
					logger.Warn("failed to record delivery", "channel", ch.Type, "error", err)
				}
			}
		case resp.Status == domain.ResponseStatusFailure && resp.Err != nil && isRetryable(resp.Err):
			name := retry.ExceptionName(resp.Err)
			if _, ok := failures[name]; !ok {
				failures[name] = resp.Err
			}
			if !slices.Contains(failedTypes, ch.Type) {
				failedTypes = append(failedTypes, ch.Type)
			}
		}
	}

	if p.retries == nil {
		return nil
	}

	if len(failures) == 0 {
		if err := p.retries.Clear(ctx, alert.ID); err != nil {
			logger.Warn("failed to clear retry state", "error", err)
		}
		return nil
	}

	if p.redeliverer == nil {
		return nil
	}

	names := make([]string, 0, len(failures))
	for name := range failures {
		names = append(names, name)
	}
	slices.Sort(names)

	var (
		tracked []trackedFailure
		delay   time.Duration
	)
	for _, name := range names {
		tf, ok, err := p.trackFailure(ctx, alert.ID, name, failures[name])
		if err != nil {
			logger.Error("failed to update retry state", "exception", name, "error", err)
			continue
		}
		if !ok {
			continue
		}
		tracked = append(tracked, tf)
		delay = max(delay, p.redeliveryDelay(tf.current.RetryCount, failures[name]))
	}

	if len(tracked) == 0 {
		return nil
	}

	next := *alert
	next.Channels = failedTypes
	next.NotBefore = p.now().Add(delay)
	next.Status = ""
	next.ErrorCode = ""
	next.ErrorMessage = ""
	next.Responses = nil
	next.Skipped = nil

	if err := p.redeliverer.Redeliver(ctx, defaultKey, &next); err != nil {
		recordRedelivery("error")
		p.rollback(ctx, alert.ID, tracked)
		return fmt.Errorf("schedule redelivery: %w", err)
	}

	recordRedelivery("scheduled")
	logger.Info("alert scheduled for redelivery", "channels", failedTypes, "delay", delay)
	return nil
}

// trackedFailure is a retry record bump that can be undone.
type trackedFailure struct {
	name     string
	previous retry.Record
	existed  bool
	current  retry.Record
}

// trackFailure bumps the retry record for name and reports whether the
// redelivery budget allows another pass. An exhausted record is left in place
// until it expires, so a replay of the same request stays capped.
func (p *Processor) trackFailure(ctx context.Context, requestID, name string, cause error) (trackedFailure, bool, error) {
	rec, found, err := p.retries.GetRetryRecordForException(ctx, requestID, name)
	if err != nil {
		return trackedFailure{}, false, err
	}

	if found && rec.Exhausted() {
		ctxlog.FromContext(ctx).Warn("redelivery budget exhausted",
			"exception", name,
			"retry_count", rec.RetryCount,
			"last_attempt", rec.LastAttemptTime,
		)
		recordRedelivery("exhausted")
		return trackedFailure{}, false, nil
	}

	current, err := p.retries.RecordFailure(ctx, requestID, cause, p.limitFor(name))
	if err != nil {
		return trackedFailure{}, false, err
	}
	return trackedFailure{name: name, previous: rec, existed: found, current: current}, true, nil
}

// rollback restores retry records bumped for a redelivery that was never
// scheduled.
func (p *Processor) rollback(ctx context.Context, requestID string, tracked []trackedFailure) {
	logger := ctxlog.FromContext(ctx)
	for _, tf := range tracked {
		var err error
		if tf.existed {
			err = p.retries.PutRetryRecord(ctx, requestID, tf.previous)
		} else {
			err = p.retries.DeleteRetryRecord(ctx, requestID, tf.name)
		}
		if err != nil {
			logger.Error("failed to roll back retry state", "exception", tf.name, "error", err)
		}
	}
}

func (p *Processor) redeliveryDelay(retryCount int, cause error) time.Duration {
	delay := p.config.RedeliveryDelay * time.Duration(retryCount)
	delay = max(delay, retryDelay(cause))
	if limit := p.config.MaxRedeliveryDelay; limit > 0 && delay > limit {
		delay = limit
	}
	return delay
}

func (p *Processor) limitFor(exceptionName string) int {
	if limit, ok := p.config.ExceptionLimits[exceptionName]; ok {
		return limit
	}
	return p.config.RedeliveryLimit
}

func (p *Processor) emitSending(ctx context.Context, alert *domain.Alert, resp *domain.ChannelResponse, defaultKey string) {
	if p.feedback == nil {
		return
	}
	if err := p.feedback.EmitSending(ctx, alert, resp, defaultKey); err != nil {
		ctxlog.FromContext(ctx).Warn("failed to emit sending feedback", "channel", resp.Channel, "error", err)
	}
}

func (p *Processor) emitOutcome(ctx context.Context, alert *domain.Alert, defaultKey string) {
	if p.feedback == nil {
		return
	}
	logger := ctxlog.FromContext(ctx)

	if err := p.feedback.EmitChannelFeedback(ctx, alert, defaultKey); err != nil {
		logger.Warn("failed to emit channel feedback", "error", err)
	}

	if alert.CampaignID == "" {
		return
	}

	code, message := lifecycleOutcome(alert)
	if err := p.feedback.EmitLifecycle(ctx, alert, alert.Status, code, message, defaultKey); err != nil {
		logger.Warn("failed to emit lifecycle feedback", "error", err)
	}
}

func lifecycleOutcome(alert *domain.Alert) (code, message string) {
	if alert.IsFailed() {
		return alert.ErrorCode, alert.ErrorMessage
	}
	if len(alert.Responses) == 0 && len(alert.Skipped) > 0 {
		return LifecycleCodeSuppressed, fmt.Sprintf("%d channels withheld", len(alert.Skipped))
	}
	delivered := 0
	for _, r := range alert.Responses {
		if r.Succeeded() {
			delivered++
		}
	}
	return LifecycleCodeProcessed, fmt.Sprintf("delivered to %d of %d channels", delivered, len(alert.Responses))
}

// DedupKey identifies one delivery of an alert to one channel entry.
func DedupKey(alertID string, ch domain.Channel) string {
	dests := slices.Clone(ch.Destinations)
	slices.Sort(dests)
	return strings.Join([]string{
		alertID,
		string(ch.Type),
		ch.Provider,
		strings.Join(slices.Compact(dests), ","),
		ch.ServiceID,
	}, "|")
}
