package domain

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
)

// CurrentConfigSchemaVersion is stamped on every persisted config.
const CurrentConfigSchemaVersion = 1

// SelfContactID identifies the user's own contact entry.
const SelfContactID = "self"

// NotificationConfig is the per (user, vehicle, contact, group) channel
// configuration. Persisted configs are treated as values: Patch returns a
// new config and leaves the receiver untouched.
type NotificationConfig struct {
	ID            string             `json:"id"`
	UserID        string             `json:"user_id"`
	VehicleID     string             `json:"vehicle_id"`
	ContactID     string             `json:"contact_id"`
	Group         string             `json:"group"`
	Enabled       *bool              `json:"enabled,omitempty"`
	Locale        string             `json:"locale,omitempty"`
	Channels      []Channel          `json:"channels"`
	Suppression   *SuppressionConfig `json:"suppression,omitempty"`
	SchemaVersion int                `json:"schema_version"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// IsEnabled returns true unless the config was explicitly disabled.
func (c NotificationConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// IsSelfContact reports whether the config addresses the user directly.
func (c NotificationConfig) IsSelfContact() bool {
	return c.ContactID == "" || c.ContactID == SelfContactID || c.ContactID == c.UserID
}

// EnabledChannels returns the channels that should receive alerts.
func (c NotificationConfig) EnabledChannels() []Channel {
	if !c.IsEnabled() {
		return nil
	}
	out := make([]Channel, 0, len(c.Channels))
	for _, ch := range c.Channels {
		if ch.Enabled {
			out = append(out, ch)
		}
	}
	return out
}

// Patch merges other onto a copy of c. Only fields provided in other
// overwrite: non-empty strings, non-nil pointers. Channel sets are unioned;
// an incoming channel replaces the existing channel of the same type and
// provider. Identity fields (id, user, vehicle, contact, group) never change.
func (c NotificationConfig) Patch(other NotificationConfig) NotificationConfig {
	merged := c
	merged.Channels = slices.Clone(c.Channels)

	if other.Enabled != nil {
		v := *other.Enabled
		merged.Enabled = &v
	}
	if other.Locale != "" {
		merged.Locale = other.Locale
	}
	if other.Suppression != nil {
		s := *other.Suppression
		merged.Suppression = &s
	}

	for _, incoming := range other.Channels {
		replaced := false
		for i, existing := range merged.Channels {
			if existing.slot() == incoming.slot() {
				merged.Channels[i] = incoming
				replaced = true
				break
			}
		}
		if !replaced {
			merged.Channels = append(merged.Channels, incoming)
		}
	}

	merged.SchemaVersion = CurrentConfigSchemaVersion
	return merged
}

// UnionChannels collects the channels of all configs.
func UnionChannels(configs []NotificationConfig) []Channel {
	var out []Channel
	for _, cfg := range configs {
		out = append(out, cfg.Channels...)
	}
	return out
}

// SuppressionMode selects how a quiet-hours window is interpreted.
type SuppressionMode string

// Suppression modes.
const (
	SuppressionModeAbsolute  SuppressionMode = "ABSOLUTE"
	SuppressionModeRecurring SuppressionMode = "RECURRING"
)

// SuppressionConfig describes a quiet-hours window. Absolute windows use
// StartDate/EndDate; recurring windows repeat on Weekdays. A StartTime after
// EndTime denotes an overnight window.
type SuppressionConfig struct {
	Mode      SuppressionMode `json:"mode"`
	StartDate *Date           `json:"start_date,omitempty"`
	EndDate   *Date           `json:"end_date,omitempty"`
	StartTime TimeOfDay       `json:"start_time"`
	EndTime   TimeOfDay       `json:"end_time"`
	Weekdays  []Weekday       `json:"weekdays,omitempty"`
	Timezone  string          `json:"timezone,omitempty"`
}

// Overnight reports whether the window wraps past midnight.
func (s SuppressionConfig) Overnight() bool {
	return s.StartTime.After(s.EndTime)
}

// Location resolves the configured timezone, falling back to fallback.
func (s SuppressionConfig) Location(fallback *time.Location) *time.Location {
	if s.Timezone == "" {
		return fallback
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return fallback
	}
	return loc
}

// TimeOfDay is a wall clock time without date.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

// ParseTimeOfDay parses "15:04" or "15:04:05".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	layout := "15:04"
	if strings.Count(s, ":") == 2 {
		layout = "15:04:05"
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("parse time of day %q: %w", s, err)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}, nil
}

func (t TimeOfDay) seconds() int {
	return t.Hour*3600 + t.Minute*60 + t.Second
}

// After reports whether t is strictly later in the day than o.
func (t TimeOfDay) After(o TimeOfDay) bool {
	return t.seconds() > o.seconds()
}

// On places the time of day on the given calendar date.
func (t TimeOfDay) On(year int, month time.Month, day int, loc *time.Location) time.Time {
	return time.Date(year, month, day, t.Hour, t.Minute, t.Second, 0, loc)
}

func (t TimeOfDay) String() string {
	if t.Second != 0 {
		return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
	}
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// MarshalJSON encodes as "HH:MM[:SS]".
func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes "HH:MM[:SS]".
func (t *TimeOfDay) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Date is a calendar date without time.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// ParseDate parses "2006-01-02".
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}, nil
}

// At combines the date with a time of day.
func (d Date) At(t TimeOfDay, loc *time.Location) time.Time {
	return t.On(d.Year, d.Month, d.Day, loc)
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// MarshalJSON encodes as "YYYY-MM-DD".
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON decodes "YYYY-MM-DD".
func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Weekday wraps time.Weekday with upper-case name encoding ("MONDAY").
type Weekday time.Weekday

// MarshalJSON encodes the weekday name.
func (w Weekday) MarshalJSON() ([]byte, error) {
	return json.Marshal(strings.ToUpper(time.Weekday(w).String()))
}

// UnmarshalJSON decodes a weekday name, case-insensitive.
func (w *Weekday) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), s) || strings.EqualFold(d.String()[:3], s) {
			*w = Weekday(d)
			return nil
		}
	}
	return fmt.Errorf("unknown weekday %q", s)
}
