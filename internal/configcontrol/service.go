// Package configcontrol manages per-user notification configs: it merges
// incoming patches, computes the channel delta and provisions added channels.
package configcontrol

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bissquit/alert-relay/internal/domain"
	"github.com/bissquit/alert-relay/internal/pkg/ctxlog"
)

// ChannelProvisioner sets up a channel on every provider of its type.
type ChannelProvisioner interface {
	SetupChannel(ctx context.Context, cfg domain.NotificationConfig, ch domain.Channel) []domain.ChannelResponse
}

// Service implements config control business logic.
type Service struct {
	repo        Repository
	profiles    ProfileRepository
	provisioner ChannelProvisioner
	now         func() time.Time
	newID       func() string
}

// NewService creates a new config control service.
func NewService(repo Repository, profiles ProfileRepository, provisioner ChannelProvisioner) *Service {
	return &Service{
		repo:        repo,
		profiles:    profiles,
		provisioner: provisioner,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
}

// PatchResult is the outcome of applying a patch.
type PatchResult struct {
	Configs []domain.NotificationConfig `json:"configs"`
	Added   []domain.Channel            `json:"added"`
	Removed []domain.Channel            `json:"removed"`
	Setup   []domain.ChannelResponse    `json:"setup"`
}

// Get returns all configs of (userID, vehicleID, contactID).
func (s *Service) Get(ctx context.Context, userID, vehicleID, contactID string) ([]domain.NotificationConfig, error) {
	configs, err := s.repo.FindByUserVehicleContact(ctx, userID, vehicleID, contactID)
	if err != nil {
		return nil, fmt.Errorf("find configs: %w", err)
	}
	return configs, nil
}

// Apply merges patches into the stored configs of (userID, vehicleID,
// contactID). Patches for unknown groups are inserted. Channels present after
// the patch but not before are set up; channels that disappeared are only
// reported.
func (s *Service) Apply(ctx context.Context, userID, vehicleID, contactID string, patches []domain.NotificationConfig) (*PatchResult, error) {
	if err := validatePatches(patches); err != nil {
		return nil, err
	}

	existing, err := s.repo.FindByUserVehicleContact(ctx, userID, vehicleID, contactID)
	if err != nil {
		return nil, fmt.Errorf("find configs: %w", err)
	}

	byGroup := make(map[string]domain.NotificationConfig, len(existing)+len(patches))
	order := make([]string, 0, len(existing)+len(patches))
	for _, cfg := range existing {
		if _, ok := byGroup[cfg.Group]; !ok {
			order = append(order, cfg.Group)
		}
		byGroup[cfg.Group] = cfg
	}

	filler := &phoneFiller{profiles: s.profiles, userID: userID, contactID: contactID}
	now := s.now()

	for _, patch := range patches {
		current, found := byGroup[patch.Group]
		if !found {
			current = domain.NotificationConfig{
				ID:        s.newID(),
				UserID:    userID,
				VehicleID: vehicleID,
				ContactID: contactID,
				Group:     patch.Group,
				CreatedAt: now,
			}
		}

		merged := current.Patch(patch)
		merged.UpdatedAt = now
		if err := filler.fill(ctx, &merged); err != nil {
			return nil, err
		}

		if found {
			err = s.repo.Update(ctx, &merged)
		} else {
			err = s.repo.Save(ctx, &merged)
			order = append(order, merged.Group)
		}
		if err != nil {
			return nil, fmt.Errorf("persist config %s: %w", merged.Group, err)
		}
		byGroup[merged.Group] = merged
	}

	updated := make([]domain.NotificationConfig, 0, len(order))
	for _, group := range order {
		updated = append(updated, byGroup[group])
	}

	added, removed := domain.DiffChannels(domain.UnionChannels(existing), domain.UnionChannels(updated))
	result := &PatchResult{Configs: updated, Added: added, Removed: removed}

	log := ctxlog.FromContext(ctx)
	for _, ch := range removed {
		log.Info("channel removed from config",
			"user_id", userID,
			"vehicle_id", vehicleID,
			"contact_id", contactID,
			"channel", ch.Type,
			"provider", ch.Provider,
		)
	}

	result.Setup = s.setup(ctx, updated, added)
	return result, nil
}

// setup provisions each added channel once, against the config owning it.
func (s *Service) setup(ctx context.Context, configs []domain.NotificationConfig, added []domain.Channel) []domain.ChannelResponse {
	if s.provisioner == nil || len(added) == 0 {
		return nil
	}

	pending := make(map[string]struct{}, len(added))
	for _, ch := range added {
		pending[ch.Key()] = struct{}{}
	}

	var responses []domain.ChannelResponse
	for _, cfg := range configs {
		for _, ch := range cfg.Channels {
			key := ch.Key()
			if _, ok := pending[key]; !ok {
				continue
			}
			delete(pending, key)
			responses = append(responses, s.provisioner.SetupChannel(ctx, cfg, ch)...)
		}
	}
	return responses
}

// phoneFiller back-fills SMS channels that have no destinations with the
// default contact's phone number. The lookup runs at most once.
type phoneFiller struct {
	profiles  ProfileRepository
	userID    string
	contactID string

	loaded bool
	phone  string
}

func (f *phoneFiller) fill(ctx context.Context, cfg *domain.NotificationConfig) error {
	for i, ch := range cfg.Channels {
		if ch.Type != domain.ChannelTypeSMS || len(ch.Destinations) > 0 {
			continue
		}
		phone, err := f.lookup(ctx, *cfg)
		if err != nil {
			return err
		}
		if phone == "" {
			ctxlog.FromContext(ctx).Warn("no phone number to back-fill sms channel",
				"user_id", cfg.UserID,
				"contact_id", cfg.ContactID,
			)
			return nil
		}
		cfg.Channels[i].Destinations = []string{phone}
	}
	return nil
}

func (f *phoneFiller) lookup(ctx context.Context, cfg domain.NotificationConfig) (string, error) {
	if f.loaded {
		return f.phone, nil
	}
	if f.profiles == nil {
		f.loaded = true
		return "", nil
	}

	if cfg.IsSelfContact() {
		user, err := f.profiles.FindUser(ctx, f.userID)
		switch {
		case errors.Is(err, ErrUserNotFound):
		case err != nil:
			return "", fmt.Errorf("find user profile: %w", err)
		default:
			f.phone = user.Phone
		}
	} else {
		contact, err := f.profiles.FindContact(ctx, f.userID, f.contactID)
		switch {
		case errors.Is(err, ErrContactNotFound):
		case err != nil:
			return "", fmt.Errorf("find contact: %w", err)
		default:
			f.phone = contact.Phone
		}
	}

	f.loaded = true
	return f.phone, nil
}

func validatePatches(patches []domain.NotificationConfig) error {
	if len(patches) == 0 {
		return fmt.Errorf("%w: no groups", ErrInvalidPatch)
	}
	for _, p := range patches {
		if p.Group == "" {
			return fmt.Errorf("%w: group is required", ErrInvalidPatch)
		}
		for _, ch := range p.Channels {
			if !ch.Type.IsValid() {
				return fmt.Errorf("%w: unknown channel type %q", ErrInvalidPatch, ch.Type)
			}
		}
		if p.Suppression != nil {
			if err := validateSuppression(*p.Suppression); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateSuppression(s domain.SuppressionConfig) error {
	switch s.Mode {
	case domain.SuppressionModeAbsolute:
		if s.StartDate == nil || s.EndDate == nil {
			return fmt.Errorf("%w: absolute window needs start and end dates", ErrInvalidSuppression)
		}
	case domain.SuppressionModeRecurring:
		if len(s.Weekdays) == 0 {
			return fmt.Errorf("%w: recurring window needs weekdays", ErrInvalidSuppression)
		}
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidSuppression, s.Mode)
	}
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return fmt.Errorf("%w: unknown timezone %q", ErrInvalidSuppression, s.Timezone)
		}
	}
	return nil
}
