package domain

import (
	"fmt"
	"slices"
	"strings"
)

// ChannelType represents a delivery medium.
type ChannelType string

// Channel types.
const (
	ChannelTypeSMS     ChannelType = "SMS"
	ChannelTypeEmail   ChannelType = "EMAIL"
	ChannelTypePush    ChannelType = "PUSH"
	ChannelTypeBrowser ChannelType = "BROWSER"
	ChannelTypeIVM     ChannelType = "IVM"
)

// ChannelTypes lists all supported channel types in a stable order.
var ChannelTypes = []ChannelType{
	ChannelTypeSMS,
	ChannelTypeEmail,
	ChannelTypePush,
	ChannelTypeBrowser,
	ChannelTypeIVM,
}

// IsValid checks if the channel type is known.
func (t ChannelType) IsValid() bool {
	switch t {
	case ChannelTypeSMS, ChannelTypeEmail, ChannelTypePush,
		ChannelTypeBrowser, ChannelTypeIVM:
		return true
	}
	return false
}

// FieldName returns the canonical field name used to name channel templates.
func (t ChannelType) FieldName() string {
	switch t {
	case ChannelTypeSMS:
		return "sms"
	case ChannelTypeEmail:
		return "email"
	case ChannelTypePush:
		return "push"
	case ChannelTypeBrowser:
		return "browser"
	case ChannelTypeIVM:
		return "ivm"
	}
	return strings.ToLower(string(t))
}

// Channel is one configured delivery channel of a notification config.
// Destinations holds phone numbers, email addresses or device tokens
// depending on Type. ServiceID is used by channels addressed by an opaque
// service identifier instead of a destination list.
type Channel struct {
	Type         ChannelType `json:"type"`
	Enabled      bool        `json:"enabled"`
	Provider     string      `json:"provider,omitempty"`
	Destinations []string    `json:"destinations,omitempty"`
	ServiceID    string      `json:"service_id,omitempty"`
}

// Key returns the structural identity of the channel: type, enabled flag,
// destination set and service id. Destination order is irrelevant.
func (c Channel) Key() string {
	dests := slices.Clone(c.Destinations)
	slices.Sort(dests)
	dests = slices.Compact(dests)
	return fmt.Sprintf("%s|%t|%s|%s", c.Type, c.Enabled, strings.Join(dests, ","), c.ServiceID)
}

// Equal reports structural equality.
func (c Channel) Equal(other Channel) bool {
	return c.Key() == other.Key()
}

// HasDestination reports whether the channel carries any address.
func (c Channel) HasDestination() bool {
	return len(c.Destinations) > 0 || c.ServiceID != ""
}

// slot identifies the position a channel occupies inside a config.
// A patch replaces the channel in the same slot.
func (c Channel) slot() string {
	return string(c.Type) + "|" + c.Provider
}

// DiffChannels computes the set difference between two channel collections
// using structural equality. Duplicates are collapsed.
func DiffChannels(existing, updated []Channel) (additions, deletions []Channel) {
	existingSet := make(map[string]struct{}, len(existing))
	for _, ch := range existing {
		existingSet[ch.Key()] = struct{}{}
	}
	updatedSet := make(map[string]struct{}, len(updated))
	for _, ch := range updated {
		updatedSet[ch.Key()] = struct{}{}
	}

	seen := make(map[string]struct{})
	for _, ch := range updated {
		k := ch.Key()
		if _, ok := existingSet[k]; ok {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		additions = append(additions, ch)
	}

	clear(seen)
	for _, ch := range existing {
		k := ch.Key()
		if _, ok := updatedSet[k]; ok {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		deletions = append(deletions, ch)
	}

	return additions, deletions
}
