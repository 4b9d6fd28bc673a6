package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCache is a map-backed CacheRepository for lease tests. TTLs are
// recorded, not enforced; tests expire keys by deleting them.
type fakeCache struct {
	mu     sync.Mutex
	values map[string][]byte
	ttls   map[string]time.Duration
	err    error
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		values: make(map[string][]byte),
		ttls:   make(map[string]time.Duration),
	}
}

func (f *fakeCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.values[key] = value
	f.ttls[key] = ttl
	return nil
}

func (f *fakeCache) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.values[key], nil
}

func (f *fakeCache) Delete(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	_, ok := f.values[key]
	delete(f.values, key)
	delete(f.ttls, key)
	return ok, nil
}

func (f *fakeCache) SetTTL(_ context.Context, key string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if _, ok := f.values[key]; !ok {
		return false, nil
	}
	f.ttls[key] = ttl
	return true, nil
}

func (f *fakeCache) SetIfNotExists(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if _, ok := f.values[key]; ok {
		return false, nil
	}
	f.values[key] = value
	f.ttls[key] = ttl
	return true, nil
}

func (f *fakeCache) Health(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeCache) expire(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.values, key)
	delete(f.ttls, key)
}

func TestDefaultExecutorLeaseConfig(t *testing.T) {
	cfg := DefaultExecutorLeaseConfig()
	assert.Equal(t, "postpilot:executor:lease", cfg.Key)
	assert.Equal(t, 20*time.Second, cfg.TTL)
}

func TestExecutorLease_NilCacheAlwaysGrants(t *testing.T) {
	lease := NewExecutorLease(ExecutorLeaseOptions{})
	ctx := context.Background()

	held, err := lease.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, held)

	renewed, err := lease.Renew(ctx)
	require.NoError(t, err)
	assert.True(t, renewed)

	assert.NoError(t, lease.Release(ctx))

	holder, err := lease.Holder(ctx)
	require.NoError(t, err)
	assert.Empty(t, holder)
}

func TestExecutorLease_NilLease(t *testing.T) {
	var lease *ExecutorLease

	held, err := lease.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, held)
}

func TestExecutorLease_AcquireIsIdempotentPerProcess(t *testing.T) {
	cache := newFakeCache()
	lease := NewExecutorLease(ExecutorLeaseOptions{Cache: cache})
	ctx := context.Background()

	held, err := lease.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, held)

	// A second acquire from the same process renews instead of failing.
	held, err = lease.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, held)
}

func TestExecutorLease_Contention(t *testing.T) {
	cache := newFakeCache()
	ctx := context.Background()

	first := NewExecutorLease(ExecutorLeaseOptions{Cache: cache})
	second := NewExecutorLease(ExecutorLeaseOptions{Cache: cache})

	held, err := first.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, held)

	held, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, held, "a held lease reports false to other processes, not an error")

	require.NoError(t, first.Release(ctx))

	held, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, held, "a released lease is up for grabs")
}

func TestExecutorLease_DefaultsApplied(t *testing.T) {
	cache := newFakeCache()
	lease := NewExecutorLease(ExecutorLeaseOptions{Cache: cache})

	held, err := lease.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, held)

	cfg := DefaultExecutorLeaseConfig()
	assert.Contains(t, cache.values, cfg.Key)
	assert.Equal(t, cfg.TTL, cache.ttls[cfg.Key])
}

func TestExecutorLease_RenewAfterExpiry(t *testing.T) {
	cache := newFakeCache()
	lease := NewExecutorLease(ExecutorLeaseOptions{Cache: cache})
	ctx := context.Background()

	held, err := lease.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, held)

	cache.expire(DefaultExecutorLeaseConfig().Key)

	renewed, err := lease.Renew(ctx)
	require.NoError(t, err)
	assert.False(t, renewed, "renewing an expired key reports false so the caller re-acquires")

	// The next acquire takes the lease fresh.
	held, err = lease.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, held)
}

func TestExecutorLease_ReleaseOnlyOwnToken(t *testing.T) {
	cache := newFakeCache()
	ctx := context.Background()

	holder := NewExecutorLease(ExecutorLeaseOptions{Cache: cache})
	bystander := NewExecutorLease(ExecutorLeaseOptions{Cache: cache})

	held, err := holder.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, held)

	require.NoError(t, bystander.Release(ctx))

	held, err = bystander.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, held, "releasing someone else's lease is a no-op")
}

func TestExecutorLease_Holder(t *testing.T) {
	cache := newFakeCache()
	ctx := context.Background()

	first := NewExecutorLease(ExecutorLeaseOptions{Cache: cache})
	second := NewExecutorLease(ExecutorLeaseOptions{Cache: cache})

	held, err := first.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, held)

	fromFirst, err := first.Holder(ctx)
	require.NoError(t, err)
	fromSecond, err := second.Holder(ctx)
	require.NoError(t, err)
	assert.Equal(t, fromFirst, fromSecond, "every process sees the same holder token")
	assert.NotEmpty(t, fromFirst)
}

func TestExecutorLease_CacheError(t *testing.T) {
	cache := newFakeCache()
	cache.err = errors.New("connection refused")
	lease := NewExecutorLease(ExecutorLeaseOptions{Cache: cache})

	held, err := lease.Acquire(context.Background())
	assert.Error(t, err)
	assert.False(t, held)
}

func TestExecutorLease_CustomConfig(t *testing.T) {
	cache := newFakeCache()
	lease := NewExecutorLease(ExecutorLeaseOptions{
		Cache:  cache,
		Config: ExecutorLeaseConfig{Key: "custom:lease", TTL: time.Minute},
	})

	held, err := lease.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, held)

	assert.Contains(t, cache.values, "custom:lease")
	assert.Equal(t, time.Minute, cache.ttls["custom:lease"])
}
