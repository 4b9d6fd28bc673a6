package devseed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/postpilot/postpilot-go/internal/core"
	"github.com/postpilot/postpilot-go/internal/domain/model"
	apperrors "github.com/postpilot/postpilot-go/internal/errors"
	"github.com/postpilot/postpilot-go/internal/service"
)

// Services bundles the dependencies needed for development seeding.
type Services struct {
	Manager *service.JobManager
	Sync    *service.StoreSync
}

// NewServices constructs a job manager over the provided store for seeding.
func NewServices(store core.JobStore, logger *slog.Logger) (Services, error) {
	if store == nil {
		return Services{}, errors.New("job store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cache := service.NewJobCache()
	sync, err := service.NewStoreSync(store, cache, logger)
	if err != nil {
		return Services{}, fmt.Errorf("create store sync: %w", err)
	}

	manager, err := service.NewJobManager(service.JobManagerOptions{
		Cache:  cache,
		Sync:   sync,
		Logger: logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("create job manager: %w", err)
	}

	return Services{Manager: manager, Sync: sync}, nil
}

// Run seeds demo posting jobs. Re-running is safe: jobs that already exist
// are skipped via duplicate detection.
func Run(ctx context.Context, svcs Services, logger *slog.Logger) error {
	if svcs.Manager == nil || svcs.Sync == nil {
		return errors.New("seed services are not initialised")
	}
	if logger == nil {
		logger = slog.Default()
	}

	// Merge persisted jobs first so duplicate detection sees them.
	if _, err := svcs.Sync.Reload(ctx, service.ReloadParams{Now: time.Now().UTC(), Forced: true}); err != nil {
		return fmt.Errorf("load existing jobs: %w", err)
	}

	failures := 0
	for _, req := range demoJobs(time.Now().UTC()) {
		created, err := seedJob(ctx, svcs.Manager, req)
		if err != nil {
			logger.ErrorContext(ctx, "failed to seed job", "account_id", req.AccountID, "error", err)
			failures++
			continue
		}
		msg := "job already seeded"
		if created {
			msg = "seeded job"
		}
		logger.InfoContext(ctx, msg, "account_id", req.AccountID, "platform", req.Platform)
	}

	if failures > 0 {
		return fmt.Errorf("%d seed errors; check logs", failures)
	}
	return nil
}

func seedJob(ctx context.Context, manager *service.JobManager, req model.CreateJobRequest) (bool, error) {
	if _, _, err := manager.Add(ctx, &req); err != nil {
		if apperrors.IsDuplicateContent(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// demoJobs builds a batch of staggered jobs across platforms and
// priorities, anchored to the given time.
func demoJobs(now time.Time) []model.CreateJobRequest {
	at := func(d time.Duration) string {
		return now.Add(d).Format(time.RFC3339)
	}
	link := "https://s.shopee.vn/postpilot-demo"

	return []model.CreateJobRequest{
		{
			AccountID:     "demo-threads",
			Content:       "Morning coffee thoughts: ship small, ship often ☕",
			ScheduledTime: at(5 * time.Minute),
			Platform:      "threads",
			Priority:      intPtr(int(model.PriorityHigh)),
		},
		{
			AccountID:     "demo-threads",
			Content:       "Weekly roundup: what we learned building schedulers this week.",
			ScheduledTime: at(30 * time.Minute),
			Platform:      "threads",
		},
		{
			AccountID:     "demo-facebook",
			Content:       "New blog post is live! Link in the comments.",
			ScheduledTime: at(2 * time.Hour),
			Platform:      "facebook",
			Priority:      intPtr(int(model.PriorityUrgent)),
		},
		{
			AccountID:     "demo-facebook",
			Content:       "Flash deal tonight only 🔥 check it out",
			ScheduledTime: at(6 * time.Hour),
			Platform:      "facebook",
			Priority:      intPtr(int(model.PriorityLow)),
			LinkAff:       &link,
		},
		{
			Content:       "Unattributed scheduled note for the default account.",
			ScheduledTime: at(24 * time.Hour),
			Platform:      "threads",
		},
	}
}

func intPtr(v int) *int { return &v }
