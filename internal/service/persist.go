package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/postpilot/postpilot-go/internal/core"
)

// StoreSync couples the JobCache to its durable store. It serializes
// snapshot saves and reloads so they never interleave, and tracks when the
// last save committed — reloading too soon after a save would read back a
// snapshot we just wrote and is suppressed.
type StoreSync struct {
	store  core.JobStore
	cache  *JobCache
	logger *slog.Logger

	mu         sync.Mutex
	lastSaveAt time.Time
	lastLoadAt time.Time
}

// NewStoreSync creates a StoreSync over the given store and cache.
func NewStoreSync(store core.JobStore, cache *JobCache, logger *slog.Logger) (*StoreSync, error) {
	if store == nil {
		return nil, errors.New("JobStore is required")
	}
	if cache == nil {
		return nil, errors.New("JobCache is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreSync{
		store:  store,
		cache:  cache,
		logger: logger.With("component", "store_sync"),
	}, nil
}

// Save writes the full cache snapshot through to storage. The cache is the
// source of truth for the write; callers mutate the cache first so a failed
// save leaves memory ahead of storage, to be retried by the next save.
func (s *StoreSync) Save(ctx context.Context, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.SaveAll(ctx, s.cache.Snapshot()); err != nil {
		return err
	}
	s.lastSaveAt = now
	return nil
}

// ReloadParams controls a Reload attempt.
type ReloadParams struct {
	Now time.Time
	// Forced bypasses both throttles (storage is authoritative;
	// memory-only non-running jobs are dropped). User-initiated reloads
	// must see deletions made behind the scheduler's back immediately.
	Forced bool
	// QuietPeriod suppresses reloads for this long after the last save.
	QuietPeriod time.Duration
	// Interval is the minimum spacing between non-forced reloads.
	Interval time.Duration
}

// Reload loads storage and merges it into the cache when the throttle
// conditions allow. Returns true when a reload actually happened.
func (s *StoreSync) Reload(ctx context.Context, p ReloadParams) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !p.Forced {
		if !s.lastSaveAt.IsZero() && p.Now.Sub(s.lastSaveAt) < p.QuietPeriod {
			return false, nil
		}
		if !s.lastLoadAt.IsZero() && p.Now.Sub(s.lastLoadAt) < p.Interval {
			return false, nil
		}
	}

	loaded, err := s.store.LoadAll(ctx)
	if err != nil {
		return false, err
	}

	s.cache.MergeLoaded(loaded, p.Forced)
	s.lastLoadAt = p.Now

	s.logger.DebugContext(ctx, "reloaded jobs from storage",
		"loaded", len(loaded),
		"cached", s.cache.Len(),
		"forced", p.Forced,
	)
	return true, nil
}

// LastSaveAt returns when the last successful save committed.
func (s *StoreSync) LastSaveAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSaveAt
}

// Healthy probes the underlying store.
func (s *StoreSync) Healthy(ctx context.Context) error {
	return s.store.Healthy(ctx)
}
