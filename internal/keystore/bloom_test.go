package keystore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryStore is an in-memory KeyStore whose GetAllKeys can be held until the
// test releases it.
type memoryStore struct {
	mu      sync.Mutex
	keys    map[string]string
	release chan struct{}
	scanErr error

	existsCalls atomic.Int32
}

func newMemoryStore() *memoryStore {
	return &memoryStore{keys: make(map[string]string)}
}

func (m *memoryStore) Put(ctx context.Context, key string) error {
	return m.PutValue(ctx, key, presenceValue)
}

func (m *memoryStore) PutValue(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = value
	return nil
}

func (m *memoryStore) KeyExists(_ context.Context, key string) (bool, error) {
	m.existsCalls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.keys[key]
	return ok, nil
}

func (m *memoryStore) GetAllKeys(ctx context.Context, _ string) ([]string, error) {
	if m.release != nil {
		select {
		case <-m.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.scanErr != nil {
		return nil, m.scanErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.keys))
	for k := range m.keys {
		keys = append(keys, k)
	}
	return keys, nil
}

func (m *memoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.keys[key]
	return v, ok, nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

func (m *memoryStore) SetTTL(time.Duration) {}

func (m *memoryStore) StoreUser() StoreUser { return StoreUserDedup }

func waitRestored(t *testing.T, s *BloomFilterStore) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("bloom filter warm-up did not finish")
	}
}

func testBloomConfig() BloomConfig {
	return BloomConfig{ExpectedInsertions: 1000, FalsePositiveRate: 0.001}
}

func TestBloomFilterStore_RestoresExistingKeys(t *testing.T) {
	ctx := context.Background()
	backing := newMemoryStore()
	require.NoError(t, backing.Put(ctx, "existing"))

	store := NewBloomFilterStore(ctx, backing, testBloomConfig())
	waitRestored(t, store)
	require.True(t, store.Restored())

	exists, err := store.KeyExists(ctx, "existing")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestBloomFilterStore_NegativeSkipsBackingStore(t *testing.T) {
	ctx := context.Background()
	backing := newMemoryStore()

	store := NewBloomFilterStore(ctx, backing, testBloomConfig())
	waitRestored(t, store)

	exists, err := store.KeyExists(ctx, "never-put")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Zero(t, backing.existsCalls.Load())
}

func TestBloomFilterStore_PositiveIsConfirmed(t *testing.T) {
	ctx := context.Background()
	backing := newMemoryStore()

	store := NewBloomFilterStore(ctx, backing, testBloomConfig())
	waitRestored(t, store)

	require.NoError(t, store.Put(ctx, "k"))
	// removed behind the filter's back: filter still says maybe
	require.NoError(t, backing.Delete(ctx, "k"))

	exists, err := store.KeyExists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, int32(1), backing.existsCalls.Load())
}

func TestBloomFilterStore_NoFalseNegativesAcrossWarmUp(t *testing.T) {
	ctx := context.Background()
	backing := newMemoryStore()
	backing.release = make(chan struct{})

	for i := 0; i < 50; i++ {
		require.NoError(t, backing.Put(ctx, fmt.Sprintf("pre-%d", i)))
	}

	store := NewBloomFilterStore(ctx, backing, testBloomConfig())
	require.False(t, store.Restored())

	for i := 0; i < 50; i++ {
		require.NoError(t, store.Put(ctx, fmt.Sprintf("during-%d", i)))
	}

	check := func() {
		for i := 0; i < 50; i++ {
			for _, k := range []string{fmt.Sprintf("pre-%d", i), fmt.Sprintf("during-%d", i)} {
				exists, err := store.KeyExists(ctx, k)
				require.NoError(t, err)
				assert.True(t, exists, k)
			}
		}
	}

	check()

	close(backing.release)
	waitRestored(t, store)
	require.True(t, store.Restored())

	for i := 0; i < 50; i++ {
		require.NoError(t, store.Put(ctx, fmt.Sprintf("after-%d", i)))
	}

	check()
	for i := 0; i < 50; i++ {
		exists, err := store.KeyExists(ctx, fmt.Sprintf("after-%d", i))
		require.NoError(t, err)
		assert.True(t, exists)
	}
}

func TestBloomFilterStore_BeforeWarmUpMatchesBackingStore(t *testing.T) {
	ctx := context.Background()
	backing := newMemoryStore()
	backing.release = make(chan struct{})
	defer close(backing.release)

	store := NewBloomFilterStore(ctx, backing, testBloomConfig())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				_ = store.Put(ctx, fmt.Sprintf("w%d-%d", n, j))
			}
		}(i)
	}
	wg.Wait()

	// written directly to the backing store, invisible to the filter
	require.NoError(t, backing.Put(ctx, "external"))

	for _, k := range []string{"w0-0", "w7-24", "external", "absent"} {
		want, err := backing.KeyExists(ctx, k)
		require.NoError(t, err)
		got, err := store.KeyExists(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, want, got, k)
	}
	assert.False(t, store.Restored())
}

func TestBloomFilterStore_WarmUpFailureStaysUnrestored(t *testing.T) {
	ctx := context.Background()
	backing := newMemoryStore()
	backing.scanErr = errors.New("connection refused")

	store := NewBloomFilterStore(ctx, backing, testBloomConfig())
	waitRestored(t, store)
	assert.False(t, store.Restored())

	require.NoError(t, backing.Put(ctx, "k"))
	exists, err := store.KeyExists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestBloomFilterStore_InvalidConfigUsesDefaults(t *testing.T) {
	store := NewBloomFilterStore(context.Background(), newMemoryStore(), BloomConfig{})
	waitRestored(t, store)
	assert.Equal(t, StoreUserDedup, store.StoreUser())
}
