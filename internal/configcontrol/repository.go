package configcontrol

import (
	"context"

	"github.com/bissquit/alert-relay/internal/domain"
)

// Repository persists notification configs.
type Repository interface {
	FindByUserVehicleContact(ctx context.Context, userID, vehicleID, contactID string) ([]domain.NotificationConfig, error)
	Save(ctx context.Context, cfg *domain.NotificationConfig) error
	Update(ctx context.Context, cfg *domain.NotificationConfig) error
}

// ProfileRepository looks up the reachable addresses of users and their
// secondary contacts. Missing records return ErrUserNotFound or
// ErrContactNotFound.
type ProfileRepository interface {
	FindUser(ctx context.Context, userID string) (*domain.UserProfile, error)
	FindContact(ctx context.Context, userID, contactID string) (*domain.Contact, error)
}
