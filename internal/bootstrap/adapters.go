package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/postpilot/postpilot-go/internal/core"
	"github.com/postpilot/postpilot-go/internal/service"
)

// ExecutorRuntimeConfig contains configuration for the executor runtime.
type ExecutorRuntimeConfig struct {
	Scheduler *service.SchedulerService
	Posters   core.PosterFactory
	Logger    *slog.Logger
}

// RunExecutor starts the executor loop and blocks until the context is
// cancelled, then stops the scheduler gracefully.
func RunExecutor(ctx context.Context, cfg ExecutorRuntimeConfig) error {
	if cfg.Scheduler == nil {
		return errors.New("executor requires a scheduler service")
	}

	if err := cfg.Scheduler.Start(ctx, cfg.Posters); err != nil {
		return fmt.Errorf("start executor: %w", err)
	}

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownWaitTimeout)
	defer cancel()

	if err := cfg.Scheduler.Stop(stopCtx); err != nil {
		return fmt.Errorf("stop executor: %w", err)
	}
	return nil
}
