package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/postpilot/postpilot-go/internal/data/pgxutil"
	"github.com/postpilot/postpilot-go/internal/domain/model"
	apperrors "github.com/postpilot/postpilot-go/internal/errors"
)

const jobColumns = `
  id,
  account_id,
  content,
  scheduled_time,
  priority,
  status,
  platform,
  max_retries,
  retry_count,
  created_at,
  started_at,
  completed_at,
  last_error,
  thread_id,
  status_message,
  link_aff
`

const upsertJobSQL = `
  INSERT INTO jobs (
    id, account_id, content, scheduled_time, priority, status, platform,
    max_retries, retry_count, created_at, started_at, completed_at,
    last_error, thread_id, status_message, link_aff
  )
  VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
  ON CONFLICT (id) DO UPDATE SET
    account_id     = EXCLUDED.account_id,
    content        = EXCLUDED.content,
    scheduled_time = EXCLUDED.scheduled_time,
    priority       = EXCLUDED.priority,
    status         = EXCLUDED.status,
    platform       = EXCLUDED.platform,
    max_retries    = EXCLUDED.max_retries,
    retry_count    = EXCLUDED.retry_count,
    created_at     = EXCLUDED.created_at,
    started_at     = EXCLUDED.started_at,
    completed_at   = EXCLUDED.completed_at,
    last_error     = EXCLUDED.last_error,
    thread_id      = EXCLUDED.thread_id,
    status_message = EXCLUDED.status_message,
    link_aff       = EXCLUDED.link_aff`

// StoreConfig holds configuration options shared by job store backends.
type StoreConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// PgJobStore persists the scheduler's job snapshot in PostgreSQL.
// SaveAll writes the entire snapshot in one transaction so readers never
// observe a partially applied state.
type PgJobStore struct {
	DB     *sql.DB
	logger *slog.Logger
}

// NewPgJobStore creates a PgJobStore backed by the given database handle.
func NewPgJobStore(db *sql.DB, cfg StoreConfig) (*PgJobStore, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &PgJobStore{
		DB:     db,
		logger: logger.With("component", "pg_job_store"),
	}, nil
}

// LoadAll reads every persisted job keyed by ID.
func (s *PgJobStore) LoadAll(ctx context.Context) (map[string]*model.Job, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs`)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	defer func() {
		_ = rows.Close()
	}()

	jobs := make(map[string]*model.Job)
	for rows.Next() {
		job, scanErr := scanJobRow(rows)
		if scanErr != nil {
			return nil, apperrors.MapDBError(fmt.Errorf("scan job: %w", scanErr))
		}
		job.ApplyDefaults()
		jobs[job.ID] = job
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, apperrors.MapDBError(rowsErr)
	}

	s.logger.DebugContext(ctx, "loaded jobs from storage", "count", len(jobs))
	return jobs, nil
}

// SaveAll replaces the persisted snapshot with the given jobs in one
// transaction: upsert every entry, then delete rows absent from the map.
// An empty map deletes every row.
func (s *PgJobStore) SaveAll(ctx context.Context, jobs map[string]*model.Job) error {
	ids := make([]string, 0, len(jobs))
	for id := range jobs {
		ids = append(ids, id)
	}

	err := pgxutil.WithPgxTx(ctx, s.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			if upsertErr := upsertJobsInTx(ctx, tx, jobs); upsertErr != nil {
				return upsertErr
			}
			return pruneAbsentJobsInTx(ctx, tx, ids)
		},
	})
	if err != nil {
		return apperrors.MapDBError(err)
	}

	s.logger.DebugContext(ctx, "saved jobs to storage", "count", len(jobs))
	return nil
}

// Healthy reports whether the backend is reachable.
func (s *PgJobStore) Healthy(ctx context.Context) error {
	if err := s.DB.PingContext(ctx); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeStorage, "storage is unavailable")
	}
	return nil
}

func upsertJobsInTx(ctx context.Context, tx pgx.Tx, jobs map[string]*model.Job) error {
	if len(jobs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, job := range jobs {
		batch.Queue(upsertJobSQL, upsertJobArgs(job)...)
	}

	br := tx.SendBatch(ctx, batch)
	for range jobs {
		if _, execErr := br.Exec(); execErr != nil {
			_ = br.Close()
			return fmt.Errorf("upsert job: %w", execErr)
		}
	}
	if closeErr := br.Close(); closeErr != nil {
		return fmt.Errorf("close batch: %w", closeErr)
	}
	return nil
}

func pruneAbsentJobsInTx(ctx context.Context, tx pgx.Tx, keepIDs []string) error {
	if len(keepIDs) == 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM jobs`); err != nil {
			return fmt.Errorf("prune jobs: %w", err)
		}
		return nil
	}
	if _, err := tx.Exec(ctx, `DELETE FROM jobs WHERE id != ALL($1::uuid[])`, keepIDs); err != nil {
		return fmt.Errorf("prune jobs: %w", err)
	}
	return nil
}

func upsertJobArgs(job *model.Job) []any {
	return []any{
		job.ID,
		job.AccountID,
		job.Content,
		job.ScheduledTime.UTC(),
		int(job.Priority),
		string(job.Status),
		string(job.Platform),
		job.MaxRetries,
		job.RetryCount,
		job.CreatedAt.UTC(),
		normalizeTimePtr(job.StartedAt),
		normalizeTimePtr(job.CompletedAt),
		job.LastError,
		job.ThreadID,
		job.StatusMessage,
		job.LinkAff,
	}
}

func normalizeTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

type jobRowScanner interface {
	Scan(dest ...any) error
}

type jobRowData struct {
	startedAt, completedAt                      sql.NullTime
	lastError, threadID, statusMessage, linkAff sql.NullString
}

func (d *jobRowData) scanInto(scanner jobRowScanner, job *model.Job) error {
	return scanner.Scan(
		&job.ID,
		&job.AccountID,
		&job.Content,
		&job.ScheduledTime,
		&job.Priority,
		&job.Status,
		&job.Platform,
		&job.MaxRetries,
		&job.RetryCount,
		&job.CreatedAt,
		&d.startedAt,
		&d.completedAt,
		&d.lastError,
		&d.threadID,
		&d.statusMessage,
		&d.linkAff,
	)
}

func (d *jobRowData) apply(job *model.Job) {
	job.ScheduledTime = job.ScheduledTime.UTC()
	job.CreatedAt = job.CreatedAt.UTC()
	job.StartedAt = cloneNullableTime(d.startedAt)
	job.CompletedAt = cloneNullableTime(d.completedAt)
	job.LastError = cloneNullableString(d.lastError)
	job.ThreadID = cloneNullableString(d.threadID)
	job.StatusMessage = cloneNullableString(d.statusMessage)
	job.LinkAff = cloneNullableString(d.linkAff)
}

func scanJobRow(scanner jobRowScanner) (*model.Job, error) {
	job := &model.Job{}
	var data jobRowData
	if err := data.scanInto(scanner, job); err != nil {
		return nil, err
	}

	data.apply(job)
	return job, nil
}

func cloneNullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func cloneNullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
