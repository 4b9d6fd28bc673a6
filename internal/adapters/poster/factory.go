package poster

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/postpilot/postpilot-go/config"
	"github.com/postpilot/postpilot-go/internal/core"
	"github.com/postpilot/postpilot-go/internal/domain/model"
)

// Factory resolves posters by platform. The platform map is built once at
// construction so misconfiguration fails at startup, not at dispatch.
type Factory struct {
	posters map[model.Platform]core.Poster
}

var _ core.PosterFactory = (*Factory)(nil)

// FactoryOptions configures a Factory.
type FactoryOptions struct {
	// Required: platform settings, already sanitized.
	Config config.PlatformsConfig
	// Optional: logger passed to each poster. Defaults to slog.Default().
	Logger *slog.Logger
	// Optional: evaluator shared by all posters. Defaults to the
	// go-jmespath implementation.
	Evaluator JMESPathEvaluator
	// Optional: overrides the underlying HTTP transport, for tests.
	HTTPClient *http.Client
}

// NewFactory builds the posters for every configured platform. In dry-run
// mode every platform maps to the no-op poster regardless of per-platform
// settings.
func NewFactory(opts FactoryOptions) (*Factory, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	posters := make(map[model.Platform]core.Poster)

	if opts.Config.DryRun {
		posters[model.PlatformThreads] = NewNoopPoster(model.PlatformThreads, logger)
		posters[model.PlatformFacebook] = NewNoopPoster(model.PlatformFacebook, logger)
		logger.Warn("platforms running in dry-run mode, no posts will be published")
		return &Factory{posters: posters}, nil
	}

	if opts.Config.Threads.Enabled {
		threads, err := NewThreadsPoster(ThreadsPosterOptions{
			Config:         opts.Config.Threads,
			Evaluator:      opts.Evaluator,
			Logger:         logger,
			HTTPClient:     opts.HTTPClient,
			RequestTimeout: opts.Config.RequestTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("create threads poster: %w", err)
		}
		posters[model.PlatformThreads] = threads
	}

	if opts.Config.Facebook.Enabled {
		facebook, err := NewFacebookPoster(FacebookPosterOptions{
			Config:         opts.Config.Facebook,
			Evaluator:      opts.Evaluator,
			Logger:         logger,
			HTTPClient:     opts.HTTPClient,
			RequestTimeout: opts.Config.RequestTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("create facebook poster: %w", err)
		}
		posters[model.PlatformFacebook] = facebook
	}

	return &Factory{posters: posters}, nil
}

// MustNewFactory creates a Factory and panics on error. Use at startup
// where a missing poster configuration should stop the process.
func MustNewFactory(opts FactoryOptions) *Factory {
	factory, err := NewFactory(opts)
	if err != nil {
		panic(err) //nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup.
	}
	return factory
}

// PosterFor returns the poster for a platform, or an error when none is
// configured. Jobs for unconfigured platforms fail permanently.
func (f *Factory) PosterFor(platform model.Platform) (core.Poster, error) {
	poster, ok := f.posters[platform]
	if !ok {
		return nil, fmt.Errorf("no poster configured for platform %q", platform)
	}
	return poster, nil
}

// Platforms lists the platforms this factory can post to.
func (f *Factory) Platforms() []model.Platform {
	out := make([]model.Platform, 0, len(f.posters))
	for platform := range f.posters {
		out = append(out, platform)
	}
	return out
}
