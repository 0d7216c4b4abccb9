package domain

import "time"

// ResponseStatus is the outcome of a single channel dispatch.
type ResponseStatus string

// Channel response statuses.
const (
	ResponseStatusSuccess            ResponseStatus = "SUCCESS"
	ResponseStatusFailure            ResponseStatus = "FAILURE"
	ResponseStatusMissingDestination ResponseStatus = "MISSING_DESTINATION"
)

// ChannelResponse describes what happened when an alert was handed to one
// channel provider.
type ChannelResponse struct {
	Channel      ChannelType    `json:"channel"`
	Provider     string         `json:"provider,omitempty"`
	Status       ResponseStatus `json:"status"`
	Destination  string         `json:"destination,omitempty"`
	Template     string         `json:"template,omitempty"`
	ErrorCode    string         `json:"error_code,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`

	// Err keeps the original failure for retry classification.
	Err error `json:"-"`
}

// Succeeded reports whether the channel accepted the alert.
func (r *ChannelResponse) Succeeded() bool {
	return r != nil && r.Status == ResponseStatusSuccess
}

// ProcessingStatus is the overall status of an alert.
type ProcessingStatus string

// Alert processing statuses.
const (
	ProcessingStatusPending ProcessingStatus = "PENDING"
	ProcessingStatusSuccess ProcessingStatus = "SUCCESS"
	ProcessingStatusFailure ProcessingStatus = "FAILURE"
)

// SkipReason explains why a channel was not dispatched.
type SkipReason string

// Skip reasons.
const (
	SkipReasonSuppressed SkipReason = "SUPPRESSED"
	SkipReasonNoProvider SkipReason = "NO_PROVIDER"
)

// SkippedChannel is a channel withheld for policy reasons.
type SkippedChannel struct {
	Channel Channel    `json:"channel"`
	Reason  SkipReason `json:"reason"`
}

// CampaignEventType marks alerts produced by campaign tooling. Their feedback
// topic override is carried inside Data["additionalData"].
const CampaignEventType = "CAMPAIGN_NOTIFICATION"

// Alert is a single inbound vehicle event worth notifying a user about.
type Alert struct {
	ID            string              `json:"id"`
	EventType     string              `json:"event_type"`
	VehicleID     string              `json:"vehicle_id"`
	UserID        string              `json:"user_id,omitempty"`
	CampaignID    string              `json:"campaign_id,omitempty"`
	Title         string              `json:"title,omitempty"`
	Message       string              `json:"message,omitempty"`
	Config        *NotificationConfig `json:"config,omitempty"`
	Data          map[string]any      `json:"data,omitempty"`
	FeedbackTopic string              `json:"feedback_topic,omitempty"`
	FeedbackKey   string              `json:"feedback_key,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`

	// Channels restricts dispatch to a subset of the config on redelivery.
	Channels []ChannelType `json:"channels,omitempty"`
	// NotBefore holds a redelivered alert back until the given time.
	NotBefore time.Time `json:"not_before,omitzero"`

	// Processing state, filled while the alert moves through the pipeline.
	Status       ProcessingStatus  `json:"-"`
	ErrorCode    string            `json:"-"`
	ErrorMessage string            `json:"-"`
	Responses    []ChannelResponse `json:"-"`
	Skipped      []SkippedChannel  `json:"-"`
}

// AdditionalData returns the nested "additionalData" object, if any.
func (a *Alert) AdditionalData() map[string]any {
	if a.Data == nil {
		return nil
	}
	nested, _ := a.Data["additionalData"].(map[string]any)
	return nested
}

// Fail marks the alert as failed with a code and message.
func (a *Alert) Fail(code, message string) {
	a.Status = ProcessingStatusFailure
	a.ErrorCode = code
	a.ErrorMessage = message
}

// IsFailed reports whether processing failed.
func (a *Alert) IsFailed() bool {
	return a.Status == ProcessingStatusFailure
}
