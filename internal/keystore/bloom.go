package keystore

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
)

// BloomConfig sizes the in-memory filter.
type BloomConfig struct {
	ExpectedInsertions uint    `koanf:"expected_insertions"`
	FalsePositiveRate  float64 `koanf:"false_positive_rate"`
}

// DefaultBloomConfig returns the default filter sizing.
func DefaultBloomConfig() BloomConfig {
	return BloomConfig{
		ExpectedInsertions: 1_000_000,
		FalsePositiveRate:  0.01,
	}
}

// BloomFilterStore decorates a KeyStore with a Bloom filter that answers
// "definitely absent" lookups without a backing store round trip.
//
// The filter is populated once, in the background, from every key already in
// the backing store. Until that warm-up finishes KeyExists goes straight to the
// backing store. If warm-up fails the store keeps doing so for its lifetime.
type BloomFilterStore struct {
	KeyStore

	mu     sync.RWMutex
	filter *bloom.BloomFilter

	restored atomic.Bool
	done     chan struct{}
}

// NewBloomFilterStore wraps next and starts the warm-up goroutine.
func NewBloomFilterStore(ctx context.Context, next KeyStore, cfg BloomConfig) *BloomFilterStore {
	if cfg.ExpectedInsertions == 0 || cfg.FalsePositiveRate <= 0 || cfg.FalsePositiveRate >= 1 {
		cfg = DefaultBloomConfig()
	}

	s := &BloomFilterStore{
		KeyStore: next,
		filter:   bloom.NewWithEstimates(cfg.ExpectedInsertions, cfg.FalsePositiveRate),
		done:     make(chan struct{}),
	}

	go s.restore(ctx)

	return s
}

// Restored reports whether the filter has been populated from the backing store.
func (s *BloomFilterStore) Restored() bool {
	return s.restored.Load()
}

// Done is closed when warm-up has finished, successfully or not.
func (s *BloomFilterStore) Done() <-chan struct{} {
	return s.done
}

// Put implements KeyStore.
func (s *BloomFilterStore) Put(ctx context.Context, key string) error {
	if err := s.KeyStore.Put(ctx, key); err != nil {
		return err
	}
	s.add(key)
	return nil
}

// PutValue implements KeyStore.
func (s *BloomFilterStore) PutValue(ctx context.Context, key, value string) error {
	if err := s.KeyStore.PutValue(ctx, key, value); err != nil {
		return err
	}
	s.add(key)
	return nil
}

// KeyExists implements KeyStore. A negative filter answer is final; a
// positive one is confirmed against the backing store.
func (s *BloomFilterStore) KeyExists(ctx context.Context, key string) (bool, error) {
	user := string(s.StoreUser())

	if !s.restored.Load() {
		recordBloomLookup(user, lookupBypass)
		return s.KeyStore.KeyExists(ctx, key)
	}

	s.mu.RLock()
	maybe := s.filter.TestString(key)
	s.mu.RUnlock()

	if !maybe {
		recordBloomLookup(user, lookupNegative)
		return false, nil
	}

	exists, err := s.KeyStore.KeyExists(ctx, key)
	if err != nil {
		return false, err
	}
	if exists {
		recordBloomLookup(user, lookupConfirmed)
	} else {
		recordBloomLookup(user, lookupFalsePositive)
	}
	return exists, nil
}

func (s *BloomFilterStore) add(key string) {
	s.mu.Lock()
	s.filter.AddString(key)
	s.mu.Unlock()
}

func (s *BloomFilterStore) restore(ctx context.Context) {
	defer close(s.done)

	user := string(s.StoreUser())
	start := time.Now()

	keys, err := s.KeyStore.GetAllKeys(ctx, "")
	if err != nil {
		slog.Error("bloom filter warm-up failed, lookups will use backing store",
			"store_user", user,
			"error", err,
		)
		recordBloomRestore(user, "error", time.Since(start))
		return
	}

	s.mu.Lock()
	for _, k := range keys {
		s.filter.AddString(k)
	}
	s.mu.Unlock()

	s.restored.Store(true)
	recordBloomRestore(user, "success", time.Since(start))

	slog.Info("bloom filter restored",
		"store_user", user,
		"keys", len(keys),
		"duration", time.Since(start),
	)
}
