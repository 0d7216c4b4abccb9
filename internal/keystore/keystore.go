// Package keystore provides namespaced key stores used for deduplication,
// token associations, bounce tracking and retry bookkeeping.
package keystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// StoreUser identifies the feature that owns a key range. Each store user is
// backed by its own partition so keys of different features never collide.
type StoreUser string

// Known store users.
const (
	StoreUserAssociation StoreUser = "association"
	StoreUserDedup       StoreUser = "dedup"
	StoreUserBounce      StoreUser = "bounce"
	StoreUserRetry       StoreUser = "retry"
)

// StoreUsers lists every known store user.
var StoreUsers = []StoreUser{
	StoreUserAssociation,
	StoreUserDedup,
	StoreUserBounce,
	StoreUserRetry,
}

// ErrEmptyKey is returned when an operation receives an empty key.
var ErrEmptyKey = errors.New("empty key")

// presenceValue is stored for keys written without a value.
const presenceValue = "1"

// KeyStore is a key/value store scoped to a single store user.
type KeyStore interface {
	// Put marks key as present.
	Put(ctx context.Context, key string) error
	// PutValue stores value under key.
	PutValue(ctx context.Context, key, value string) error
	// KeyExists reports whether key is present.
	KeyExists(ctx context.Context, key string) (bool, error)
	// GetAllKeys returns the keys matching a glob pattern, without the
	// store user prefix. An empty pattern matches every key.
	GetAllKeys(ctx context.Context, pattern string) ([]string, error)
	// Get returns the value stored under key and whether it was found.
	Get(ctx context.Context, key string) (string, bool, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// SetTTL sets the expiration applied to subsequent writes.
	// Zero means keys never expire.
	SetTTL(ttl time.Duration)
	// StoreUser returns the store user owning this key range.
	StoreUser() StoreUser
}

// PutJSON encodes v as JSON and stores it under key.
func PutJSON(ctx context.Context, s KeyStore, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s value: %w", s.StoreUser(), err)
	}
	return s.PutValue(ctx, key, string(data))
}

// GetJSON decodes the JSON value stored under key into v.
// It returns false when the key is absent.
func GetJSON(ctx context.Context, s KeyStore, key string, v any) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("unmarshal %s value: %w", s.StoreUser(), err)
	}
	return true, nil
}
