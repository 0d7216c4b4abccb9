// Package feedback publishes delivery outcome events for downstream billing
// and analytics consumers.
package feedback

import (
	"time"

	"github.com/bissquit/alert-relay/internal/domain"
)

// Kind distinguishes the feedback event variants.
type Kind string

// Feedback event kinds.
const (
	KindChannel   Kind = "CHANNEL"
	KindSending   Kind = "SENDING"
	KindLifecycle Kind = "LIFECYCLE"
)

// Event is the record published to the feedback topic. Fields unused by a
// kind are omitted from the encoded form.
type Event struct {
	ID             string    `json:"id"`
	Kind           Kind      `json:"kind"`
	AlertID        string    `json:"alert_id"`
	AlertEventType string    `json:"alert_event_type,omitempty"`
	VehicleID      string    `json:"vehicle_id"`
	UserID         string    `json:"user_id,omitempty"`
	CampaignID     string    `json:"campaign_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`

	// Channel and sending outcome.
	Channel     domain.ChannelType    `json:"channel,omitempty"`
	Provider    string                `json:"provider,omitempty"`
	Status      domain.ResponseStatus `json:"status,omitempty"`
	Destination string                `json:"destination,omitempty"`
	Template    string                `json:"template,omitempty"`
	SkipReason  domain.SkipReason     `json:"skip_reason,omitempty"`

	// Lifecycle outcome.
	LifecycleStatus domain.ProcessingStatus `json:"lifecycle_status,omitempty"`

	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}
