package data

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/postpilot/postpilot-go/internal/testutil"
)

func TestRedisCacheRepo_RoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	client := testutil.SetupTestRedis(t)
	defer client.Close()

	repo := NewRedisCacheRepo(client)
	ctx := context.Background()

	t.Run("set and get", func(t *testing.T) {
		err := repo.Set(ctx, "postpilot:test:status", []byte(`{"running":true}`), 5*time.Minute)
		require.NoError(t, err)

		value, err := repo.Get(ctx, "postpilot:test:status")
		require.NoError(t, err)
		assert.Equal(t, []byte(`{"running":true}`), value)

		ttl := client.TTL(ctx, "postpilot:test:status").Val()
		assert.True(t, ttl > 0 && ttl <= 5*time.Minute)
	})

	t.Run("missing key is nil without error", func(t *testing.T) {
		value, err := repo.Get(ctx, "postpilot:test:absent")
		require.NoError(t, err)
		assert.Nil(t, value)
	})

	t.Run("delete reports prior existence", func(t *testing.T) {
		require.NoError(t, repo.Set(ctx, "postpilot:test:gone", []byte("x"), time.Minute))

		deleted, err := repo.Delete(ctx, "postpilot:test:gone")
		require.NoError(t, err)
		assert.True(t, deleted)

		deleted, err = repo.Delete(ctx, "postpilot:test:gone")
		require.NoError(t, err)
		assert.False(t, deleted)
	})
}

func TestRedisCacheRepo_LeaseSemantics(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	client := testutil.SetupTestRedis(t)
	defer client.Close()

	repo := NewRedisCacheRepo(client)
	ctx := context.Background()
	const leaseKey = "postpilot:test:executor:lease"

	t.Run("first claim wins", func(t *testing.T) {
		claimed, err := repo.SetIfNotExists(ctx, leaseKey, []byte("replica-a"), time.Minute)
		require.NoError(t, err)
		assert.True(t, claimed)

		ttl := client.TTL(ctx, leaseKey).Val()
		assert.True(t, ttl > 0 && ttl <= time.Minute, "NX claim must carry its TTL atomically")
	})

	t.Run("second claim loses and leaves the holder intact", func(t *testing.T) {
		claimed, err := repo.SetIfNotExists(ctx, leaseKey, []byte("replica-b"), time.Minute)
		require.NoError(t, err)
		assert.False(t, claimed)

		holder, err := repo.Get(ctx, leaseKey)
		require.NoError(t, err)
		assert.Equal(t, []byte("replica-a"), holder)
	})

	t.Run("holder renews through SetTTL", func(t *testing.T) {
		renewed, err := repo.SetTTL(ctx, leaseKey, 2*time.Minute)
		require.NoError(t, err)
		assert.True(t, renewed)

		ttl := client.TTL(ctx, leaseKey).Val()
		assert.True(t, ttl > time.Minute && ttl <= 2*time.Minute)
	})

	t.Run("released lease can be claimed again", func(t *testing.T) {
		_, err := repo.Delete(ctx, leaseKey)
		require.NoError(t, err)

		renewed, err := repo.SetTTL(ctx, leaseKey, time.Minute)
		require.NoError(t, err)
		assert.False(t, renewed, "renewing a released lease must fail")

		claimed, err := repo.SetIfNotExists(ctx, leaseKey, []byte("replica-b"), time.Minute)
		require.NoError(t, err)
		assert.True(t, claimed)
	})

	t.Run("non-positive TTL gets a floor", func(t *testing.T) {
		claimed, err := repo.SetIfNotExists(ctx, "postpilot:test:floor", []byte("x"), 0)
		require.NoError(t, err)
		assert.True(t, claimed)

		ttl := client.TTL(ctx, "postpilot:test:floor").Val()
		assert.True(t, ttl > 0, "a lease key must never live forever")
	})

	t.Run("health check", func(t *testing.T) {
		assert.NoError(t, repo.Health(ctx))
	})
}

func TestRedisCacheRepo_EmptyKeyRejected(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	client := testutil.SetupTestRedis(t)
	defer client.Close()

	repo := NewRedisCacheRepo(client)
	ctx := context.Background()

	err := repo.Set(ctx, "", []byte("value"), time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key cannot be empty")

	_, err = repo.Get(ctx, "")
	assert.Error(t, err)

	_, err = repo.Delete(ctx, "")
	assert.Error(t, err)

	_, err = repo.SetTTL(ctx, "", time.Minute)
	assert.Error(t, err)

	_, err = repo.SetIfNotExists(ctx, "", []byte("value"), time.Minute)
	assert.Error(t, err)
}
