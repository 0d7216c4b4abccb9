package domain

import "time"

// UserProfile holds the reachable addresses of a vehicle owner.
type UserProfile struct {
	ID        string
	Phone     string
	Email     string
	Locale    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Contact is a secondary contact registered by a user.
type Contact struct {
	ID        string
	UserID    string
	Name      string
	Phone     string
	Email     string
	CreatedAt time.Time
	UpdatedAt time.Time
}
