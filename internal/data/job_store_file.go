package data

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/postpilot/postpilot-go/internal/domain/model"
	apperrors "github.com/postpilot/postpilot-go/internal/errors"
)

const (
	jobFilePattern = "jobs_*.json"
	jobFileDayFmt  = "2006-01-02"

	jobGroupActive    = "active"
	jobGroupCompleted = "completed"
)

// FileJobStore persists the scheduler's job snapshot as JSON files, one per
// (day, status group). Completed jobs file under their completion date,
// everything else under its scheduled date. Writes are atomic per file:
// temp file, fsync, rename, fsync directory.
type FileJobStore struct {
	dir    string
	logger *slog.Logger

	// serializes writers; per-file renames keep readers consistent
	mu sync.Mutex
}

// NewFileJobStore creates a FileJobStore rooted at dir, creating it if needed.
func NewFileJobStore(dir string, cfg StoreConfig) (*FileJobStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create job dir: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &FileJobStore{
		dir:    dir,
		logger: logger.With("component", "file_job_store"),
	}, nil
}

// LoadAll reads every job file concurrently and merges the results keyed by ID.
func (s *FileJobStore) LoadAll(ctx context.Context) (map[string]*model.Job, error) {
	files, err := filepath.Glob(filepath.Join(s.dir, jobFilePattern))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeStorage, "list job files")
	}

	var (
		mu   sync.Mutex
		jobs = make(map[string]*model.Job)
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, file := range files {
		g.Go(func() error {
			if ctxErr := gctx.Err(); ctxErr != nil {
				return ctxErr
			}
			loaded, loadErr := loadJobFile(file)
			if loadErr != nil {
				return loadErr
			}
			mu.Lock()
			defer mu.Unlock()
			for _, job := range loaded {
				job.ApplyDefaults()
				mergeLoadedJob(jobs, job)
			}
			return nil
		})
	}
	if waitErr := g.Wait(); waitErr != nil {
		return nil, apperrors.Wrap(waitErr, apperrors.ErrCodeStorage, "load job files")
	}

	s.logger.DebugContext(ctx, "loaded jobs from storage", "count", len(jobs), "files", len(files))
	return jobs, nil
}

// SaveAll rewrites every file the snapshot maps to and removes files no
// snapshot job lives in anymore, so each job appears in exactly one file
// and deletions propagate.
func (s *FileJobStore) SaveAll(ctx context.Context, jobs map[string]*model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buckets := make(map[string][]*model.Job)
	for _, job := range jobs {
		name := jobFileName(job)
		buckets[name] = append(buckets[name], job)
	}

	for name, bucket := range buckets {
		sort.Slice(bucket, func(i, j int) bool { return bucket[i].ID < bucket[j].ID })
		data, marshalErr := json.MarshalIndent(bucket, "", "  ")
		if marshalErr != nil {
			return apperrors.Wrap(marshalErr, apperrors.ErrCodeStorage, "encode job file")
		}
		if writeErr := writeFileAtomic(s.dir, name, data); writeErr != nil {
			return apperrors.Wrap(writeErr, apperrors.ErrCodeStorage, "write job file")
		}
	}

	// Jobs migrate between files as they complete. A file this snapshot
	// did not produce holds only removed or migrated entries.
	existing, err := filepath.Glob(filepath.Join(s.dir, jobFilePattern))
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeStorage, "list job files")
	}
	removed := 0
	for _, path := range existing {
		if _, keep := buckets[filepath.Base(path)]; keep {
			continue
		}
		if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
			return apperrors.Wrap(removeErr, apperrors.ErrCodeStorage, "remove stale job file")
		}
		removed++
	}
	if removed > 0 {
		if syncErr := syncDir(s.dir); syncErr != nil {
			return apperrors.Wrap(syncErr, apperrors.ErrCodeStorage, "sync job dir")
		}
	}

	s.logger.DebugContext(ctx, "saved jobs to storage", "count", len(jobs), "files", len(buckets))
	return nil
}

// Healthy reports whether the directory exists and is writable.
func (s *FileJobStore) Healthy(ctx context.Context) error {
	_ = ctx
	info, err := os.Stat(s.dir)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeStorage, "storage is unavailable")
	}
	if !info.IsDir() {
		return apperrors.Storage("storage path is not a directory")
	}
	probe, err := os.CreateTemp(s.dir, ".healthz-*")
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeStorage, "storage is not writable")
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)
	return nil
}

// jobFileName maps a job to its file: completed jobs by completion date,
// the rest by scheduled date.
func jobFileName(job *model.Job) string {
	group := jobGroupActive
	day := job.ScheduledTime.UTC()
	if job.CompletedAt != nil {
		group = jobGroupCompleted
		day = job.CompletedAt.UTC()
	}
	return fmt.Sprintf("jobs_%s_%s.json", day.Format(jobFileDayFmt), group)
}

func loadJobFile(path string) ([]*model.Job, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var jobs []*model.Job
	if err := json.Unmarshal(raw, &jobs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return jobs, nil
}

// mergeLoadedJob resolves the same ID appearing in two files: the completed
// copy wins, otherwise last read wins.
func mergeLoadedJob(jobs map[string]*model.Job, job *model.Job) {
	existing, ok := jobs[job.ID]
	if ok && existing.CompletedAt != nil && job.CompletedAt == nil {
		return
	}
	jobs[job.ID] = job
}

func writeFileAtomic(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpName)
		}
	}()

	if _, writeErr := tmp.Write(data); writeErr != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", writeErr)
	}
	if syncErr := tmp.Sync(); syncErr != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", syncErr)
	}
	if closeErr := tmp.Close(); closeErr != nil {
		return fmt.Errorf("close temp file: %w", closeErr)
	}
	if renameErr := os.Rename(tmpName, filepath.Join(dir, name)); renameErr != nil {
		return fmt.Errorf("rename temp file: %w", renameErr)
	}
	cleanup = false
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open dir: %w", err)
	}
	defer func() {
		_ = d.Close()
	}()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync dir: %w", err)
	}
	return nil
}
