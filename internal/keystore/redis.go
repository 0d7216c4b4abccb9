package keystore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const scanBatchSize = 500

// RedisStore is a KeyStore backed by Redis. Keys are stored as
// "<store user>:<key>" so a shared database stays partitioned even when the
// store users are not given separate database indexes.
type RedisStore struct {
	client redis.UniversalClient
	user   StoreUser
	ttl    atomic.Int64
}

// NewRedisStore creates a Redis backed store for user.
func NewRedisStore(client redis.UniversalClient, user StoreUser, ttl time.Duration) *RedisStore {
	s := &RedisStore{client: client, user: user}
	s.SetTTL(ttl)
	return s
}

// StoreUser implements KeyStore.
func (s *RedisStore) StoreUser() StoreUser {
	return s.user
}

// SetTTL implements KeyStore.
func (s *RedisStore) SetTTL(ttl time.Duration) {
	s.ttl.Store(int64(ttl))
}

// Put implements KeyStore.
func (s *RedisStore) Put(ctx context.Context, key string) error {
	return s.PutValue(ctx, key, presenceValue)
}

// PutValue implements KeyStore.
func (s *RedisStore) PutValue(ctx context.Context, key, value string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if err := s.client.Set(ctx, s.key(key), value, time.Duration(s.ttl.Load())).Err(); err != nil {
		return fmt.Errorf("set %s key: %w", s.user, err)
	}
	return nil
}

// KeyExists implements KeyStore.
func (s *RedisStore) KeyExists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	n, err := s.client.Exists(ctx, s.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("check %s key: %w", s.user, err)
	}
	return n > 0, nil
}

// Get implements KeyStore.
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, ErrEmptyKey
	}
	val, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s key: %w", s.user, err)
	}
	return val, true, nil
}

// Delete implements KeyStore.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("delete %s key: %w", s.user, err)
	}
	return nil
}

// GetAllKeys implements KeyStore. Keys are collected with SCAN.
func (s *RedisStore) GetAllKeys(ctx context.Context, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = "*"
	}

	prefix := s.prefix()
	keys := make([]string, 0)
	iter := s.client.Scan(ctx, 0, prefix+pattern, scanBatchSize).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan %s keys: %w", s.user, err)
	}
	return keys, nil
}

func (s *RedisStore) prefix() string {
	return string(s.user) + ":"
}

func (s *RedisStore) key(k string) string {
	return s.prefix() + k
}
