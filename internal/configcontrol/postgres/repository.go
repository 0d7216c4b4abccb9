// Package postgres provides PostgreSQL implementations of the config control
// repositories.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bissquit/alert-relay/internal/configcontrol"
	"github.com/bissquit/alert-relay/internal/domain"
)

// Repository implements configcontrol.Repository and
// configcontrol.ProfileRepository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// FindByUserVehicleContact returns all config groups of the triple ordered by
// creation time.
func (r *Repository) FindByUserVehicleContact(ctx context.Context, userID, vehicleID, contactID string) ([]domain.NotificationConfig, error) {
	query := `
		SELECT id, user_id, vehicle_id, contact_id, config_group, enabled, locale,
		       channels, suppression, schema_version, created_at, updated_at
		FROM notification_configs
		WHERE user_id = $1 AND vehicle_id = $2 AND contact_id = $3
		ORDER BY created_at, config_group
	`
	rows, err := r.db.Query(ctx, query, userID, vehicleID, contactID)
	if err != nil {
		return nil, fmt.Errorf("query configs: %w", err)
	}
	defer rows.Close()

	var configs []domain.NotificationConfig
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate configs: %w", err)
	}
	return configs, nil
}

// Save inserts a new config.
func (r *Repository) Save(ctx context.Context, cfg *domain.NotificationConfig) error {
	channels, suppression, err := encodeConfig(cfg)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO notification_configs (
			id, user_id, vehicle_id, contact_id, config_group, enabled, locale,
			channels, suppression, schema_version, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = r.db.Exec(ctx, query,
		cfg.ID,
		cfg.UserID,
		cfg.VehicleID,
		cfg.ContactID,
		cfg.Group,
		cfg.Enabled,
		cfg.Locale,
		channels,
		suppression,
		cfg.SchemaVersion,
		cfg.CreatedAt,
		cfg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert config: %w", err)
	}
	return nil
}

// Update overwrites the mutable fields of an existing config.
func (r *Repository) Update(ctx context.Context, cfg *domain.NotificationConfig) error {
	channels, suppression, err := encodeConfig(cfg)
	if err != nil {
		return err
	}

	query := `
		UPDATE notification_configs
		SET enabled = $2, locale = $3, channels = $4, suppression = $5,
		    schema_version = $6, updated_at = $7
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query,
		cfg.ID,
		cfg.Enabled,
		cfg.Locale,
		channels,
		suppression,
		cfg.SchemaVersion,
		cfg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update config %s: %w", cfg.ID, pgx.ErrNoRows)
	}
	return nil
}

// FindUser returns the profile of userID.
func (r *Repository) FindUser(ctx context.Context, userID string) (*domain.UserProfile, error) {
	query := `
		SELECT id, phone, email, locale, created_at, updated_at
		FROM user_profiles
		WHERE id = $1
	`
	var u domain.UserProfile
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&u.ID,
		&u.Phone,
		&u.Email,
		&u.Locale,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, configcontrol.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user profile: %w", err)
	}
	return &u, nil
}

// FindContact returns the secondary contact contactID of userID.
func (r *Repository) FindContact(ctx context.Context, userID, contactID string) (*domain.Contact, error) {
	query := `
		SELECT id, user_id, name, phone, email, created_at, updated_at
		FROM secondary_contacts
		WHERE user_id = $1 AND id = $2
	`
	var c domain.Contact
	err := r.db.QueryRow(ctx, query, userID, contactID).Scan(
		&c.ID,
		&c.UserID,
		&c.Name,
		&c.Phone,
		&c.Email,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, configcontrol.ErrContactNotFound
		}
		return nil, fmt.Errorf("get contact: %w", err)
	}
	return &c, nil
}

func scanConfig(row pgx.Row) (domain.NotificationConfig, error) {
	var (
		cfg         domain.NotificationConfig
		channels    []byte
		suppression []byte
	)
	err := row.Scan(
		&cfg.ID,
		&cfg.UserID,
		&cfg.VehicleID,
		&cfg.ContactID,
		&cfg.Group,
		&cfg.Enabled,
		&cfg.Locale,
		&channels,
		&suppression,
		&cfg.SchemaVersion,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
	)
	if err != nil {
		return cfg, fmt.Errorf("scan config: %w", err)
	}

	if len(channels) > 0 {
		if err := json.Unmarshal(channels, &cfg.Channels); err != nil {
			return cfg, fmt.Errorf("decode channels of %s: %w", cfg.ID, err)
		}
	}
	if len(suppression) > 0 {
		var s domain.SuppressionConfig
		if err := json.Unmarshal(suppression, &s); err != nil {
			return cfg, fmt.Errorf("decode suppression of %s: %w", cfg.ID, err)
		}
		cfg.Suppression = &s
	}
	return cfg, nil
}

func encodeConfig(cfg *domain.NotificationConfig) (channels, suppression []byte, err error) {
	list := cfg.Channels
	if list == nil {
		list = []domain.Channel{}
	}
	channels, err = json.Marshal(list)
	if err != nil {
		return nil, nil, fmt.Errorf("encode channels: %w", err)
	}
	if cfg.Suppression != nil {
		suppression, err = json.Marshal(cfg.Suppression)
		if err != nil {
			return nil, nil, fmt.Errorf("encode suppression: %w", err)
		}
	}
	return channels, suppression, nil
}
