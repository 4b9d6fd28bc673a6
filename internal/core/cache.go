// Package core provides the ports and scheduling glue for the postpilot scheduler.
package core

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CacheRepository defines the interface for distributed cache operations.
// This follows the hexagonal architecture pattern where the core defines interfaces
// and the data layer provides implementations.
type CacheRepository interface {
	// Set stores a value in the cache with the given key and TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get retrieves a value from the cache by key.
	// Returns nil if the key doesn't exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes a key from the cache.
	// Returns true if the key was deleted, false if it didn't exist.
	Delete(ctx context.Context, key string) (bool, error)

	// SetTTL updates the TTL for an existing key.
	// Returns true if the key exists and TTL was updated.
	SetTTL(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// SetIfNotExists atomically sets a key only if it doesn't already exist.
	// Returns true if the key was set, false if it already existed.
	// This is what makes the executor lease safe across replicas.
	SetIfNotExists(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Health checks the health of the cache connection.
	Health(ctx context.Context) error
}

// ExecutorLeaseConfig holds configuration for the dispatch lease.
type ExecutorLeaseConfig struct {
	Key string        `json:"key"`
	TTL time.Duration `json:"ttl"`
}

// DefaultExecutorLeaseConfig returns an ExecutorLeaseConfig with sensible defaults.
// The TTL covers two check intervals so a healthy executor always renews in time.
func DefaultExecutorLeaseConfig() ExecutorLeaseConfig {
	return ExecutorLeaseConfig{
		Key: "postpilot:executor:lease",
		TTL: 20 * time.Second,
	}
}

// ExecutorLeaseOptions bundles dependencies for NewExecutorLease.
type ExecutorLeaseOptions struct {
	Cache  CacheRepository // Optional: nil disables the lease (single-instance mode)
	Config ExecutorLeaseConfig
}

// ExecutorLease guards dispatch so that at most one executor replica posts
// at a time. Each process holds a random token; acquiring uses an atomic
// set-if-absent, renewing extends the TTL each tick. Losing the lease
// pauses dispatch only, never the loop.
type ExecutorLease struct {
	cache CacheRepository
	key   string
	ttl   time.Duration
	token string
}

// NewExecutorLease creates a new ExecutorLease. A nil cache yields a lease
// that always grants, for deployments without a shared cache.
func NewExecutorLease(opts ExecutorLeaseOptions) *ExecutorLease {
	cfg := opts.Config
	if cfg.Key == "" {
		cfg.Key = DefaultExecutorLeaseConfig().Key
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultExecutorLeaseConfig().TTL
	}

	return &ExecutorLease{
		cache: opts.Cache,
		key:   cfg.Key,
		ttl:   cfg.TTL,
		token: uuid.NewString(),
	}
}

// Acquire attempts to take the lease. When another process holds it, the
// call reports false without error. Re-acquiring a lease this process
// already holds renews it instead.
func (l *ExecutorLease) Acquire(ctx context.Context) (bool, error) {
	if l == nil || l.cache == nil {
		return true, nil
	}

	set, err := l.cache.SetIfNotExists(ctx, l.key, []byte(l.token), l.ttl)
	if err != nil {
		return false, err
	}
	if set {
		return true, nil
	}

	holder, err := l.cache.Get(ctx, l.key)
	if err != nil {
		return false, err
	}
	if string(holder) == l.token {
		return l.Renew(ctx)
	}
	return false, nil
}

// Renew extends the lease TTL. Returns false when the key has expired
// under us, in which case the caller should Acquire again.
func (l *ExecutorLease) Renew(ctx context.Context) (bool, error) {
	if l == nil || l.cache == nil {
		return true, nil
	}
	return l.cache.SetTTL(ctx, l.key, l.ttl)
}

// Release gives the lease up when this process holds it.
func (l *ExecutorLease) Release(ctx context.Context) error {
	if l == nil || l.cache == nil {
		return nil
	}

	holder, err := l.cache.Get(ctx, l.key)
	if err != nil {
		return err
	}
	if string(holder) != l.token {
		return nil
	}
	_, err = l.cache.Delete(ctx, l.key)
	return err
}

// Holder returns the token currently holding the lease, for diagnostics.
func (l *ExecutorLease) Holder(ctx context.Context) (string, error) {
	if l == nil || l.cache == nil {
		return "", nil
	}
	v, err := l.cache.Get(ctx, l.key)
	if err != nil {
		return "", err
	}
	return string(v), nil
}
