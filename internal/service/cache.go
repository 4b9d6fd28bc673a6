package service

import (
	"sync"

	"github.com/postpilot/postpilot-go/internal/domain/model"
)

// JobCache is the single in-memory view of every job the scheduler knows
// about. Exactly one instance exists per scheduler; the manager, executor
// and recovery all share it by identity. All accessors copy, so no caller
// ever holds a pointer into the cache.
type JobCache struct {
	mu   sync.RWMutex
	jobs map[string]*model.Job
}

// NewJobCache creates an empty JobCache.
func NewJobCache() *JobCache {
	return &JobCache{jobs: make(map[string]*model.Job)}
}

// Get returns a copy of the job with the given ID.
func (c *JobCache) Get(id string) (*model.Job, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	job, ok := c.jobs[id]
	if !ok {
		return nil, false
	}
	return job.Clone(), true
}

// Put inserts or replaces a job. The cache stores its own copy.
func (c *JobCache) Put(job *model.Job) {
	if job == nil || job.ID == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobs[job.ID] = job.Clone()
}

// Delete removes a job. Returns true when the job existed.
func (c *JobCache) Delete(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.jobs[id]; !ok {
		return false
	}
	delete(c.jobs, id)
	return true
}

// Len returns the number of cached jobs.
func (c *JobCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.jobs)
}

// Snapshot returns a defensive copy of the cache for iteration and saves.
func (c *JobCache) Snapshot() map[string]*model.Job {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]*model.Job, len(c.jobs))
	for id, job := range c.jobs {
		out[id] = job.Clone()
	}
	return out
}

// Replace swaps the entire cache content for the given jobs.
func (c *JobCache) Replace(jobs map[string]*model.Job) {
	next := make(map[string]*model.Job, len(jobs))
	for id, job := range jobs {
		if job == nil || id == "" {
			continue
		}
		next[id] = job.Clone()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobs = next
}

// MergeLoaded folds a freshly loaded storage snapshot into the cache.
//
// Precedence per entry present on both sides: a completed storage row wins
// (another writer finished it); otherwise an in-memory running or completed
// job is preserved; otherwise storage wins. Memory-only jobs survive when
// running, or — on a non-forced reload — when still scheduled/pending (a
// just-added job whose save hasn't landed). A forced reload drops
// everything else so storage deletions propagate.
func (c *JobCache) MergeLoaded(loaded map[string]*model.Job, forced bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	merged := make(map[string]*model.Job, len(loaded))
	for id, stored := range loaded {
		if stored == nil || id == "" {
			continue
		}
		current, inMemory := c.jobs[id]
		if !inMemory {
			merged[id] = stored.Clone()
			continue
		}
		merged[id] = resolveLoadedJob(current, stored).Clone()
	}

	for id, current := range c.jobs {
		if _, inLoaded := loaded[id]; inLoaded {
			continue
		}
		if current.Status == model.JobStatusRunning {
			merged[id] = current
			continue
		}
		if !forced && current.Status.Ready() {
			merged[id] = current
		}
	}

	c.jobs = merged
}

func resolveLoadedJob(current, stored *model.Job) *model.Job {
	switch {
	case stored.Status == model.JobStatusCompleted:
		return stored
	case current.Status == model.JobStatusRunning:
		return current
	case current.Status == model.JobStatusCompleted:
		return current
	default:
		return stored
	}
}
