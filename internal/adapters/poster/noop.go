package poster

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/postpilot/postpilot-go/internal/core"
	"github.com/postpilot/postpilot-go/internal/domain/model"
	"github.com/postpilot/postpilot-go/internal/util"
)

// NoopPoster accepts every post without calling any platform. It backs
// dry-run mode and local development.
type NoopPoster struct {
	platform model.Platform
	logger   *slog.Logger
}

var _ core.Poster = (*NoopPoster)(nil)

// NewNoopPoster creates a NoopPoster for one platform.
func NewNoopPoster(platform model.Platform, logger *slog.Logger) *NoopPoster {
	if logger == nil {
		logger = slog.Default()
	}
	return &NoopPoster{
		platform: platform,
		logger:   logger.With("component", "noop_poster"),
	}
}

// Post logs the would-be post and reports success with a synthetic id.
func (p *NoopPoster) Post(ctx context.Context, accountID, content string) (model.PostResult, error) {
	threadID := "noop-" + uuid.NewString()[:8]
	p.logger.InfoContext(ctx, "dry-run post accepted",
		"platform", p.platform,
		"account_id", accountID,
		"content_digest", util.ContentDigest(content),
		"thread_id", threadID,
	)
	return model.PostResult{OK: true, ThreadID: &threadID}, nil
}
