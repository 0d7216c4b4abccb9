package configcontrol

import "errors"

// Domain errors.
var (
	ErrInvalidPatch       = errors.New("invalid config patch")
	ErrInvalidSuppression = errors.New("invalid suppression window")
	ErrUserNotFound       = errors.New("user not found")
	ErrContactNotFound    = errors.New("contact not found")
)
