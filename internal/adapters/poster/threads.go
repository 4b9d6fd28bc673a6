package poster

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/postpilot/postpilot-go/config"
	"github.com/postpilot/postpilot-go/internal/core"
	"github.com/postpilot/postpilot-go/internal/domain/model"
)

// ThreadsPoster publishes text posts through the Threads Graph API. The
// API is two-step: create a media container, then publish it. Both calls
// run against the configured user id; the per-job account id is carried
// only for logging, since the token binds the poster to one account.
type ThreadsPoster struct {
	api     graphAPI
	baseURL string
	userID  string
}

var _ core.Poster = (*ThreadsPoster)(nil)

// ThreadsPosterOptions configures a ThreadsPoster.
type ThreadsPosterOptions struct {
	// Required: platform settings, already sanitized.
	Config config.ThreadsConfig
	// Optional: evaluator for response extraction. Defaults to the
	// go-jmespath implementation.
	Evaluator JMESPathEvaluator
	// Optional: logger for post diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
	// Optional: overrides the underlying HTTP transport, for tests.
	HTTPClient *http.Client
	// Optional: bounds one API call. Defaults to 30s.
	RequestTimeout time.Duration
}

// NewThreadsPoster creates a ThreadsPoster and validates its extraction
// expressions up front.
func NewThreadsPoster(opts ThreadsPosterOptions) (*ThreadsPoster, error) {
	if opts.Config.AccessToken == "" {
		return nil, errMissing("threads access token")
	}
	if opts.Config.UserID == "" {
		return nil, errMissing("threads user id")
	}
	if opts.Config.BaseURL == "" {
		return nil, errMissing("threads base URL")
	}
	evaluator := opts.Evaluator
	if evaluator == nil {
		evaluator = jmespathLibEvaluator{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	extract := extraction{
		id:     opts.Config.IDExpression,
		errMsg: opts.Config.ErrorExpression,
		shadow: opts.Config.ShadowExpression,
	}
	if err := extract.validate(evaluator); err != nil {
		return nil, fmt.Errorf("threads poster: %w", err)
	}
	return &ThreadsPoster{
		api: graphAPI{
			client:    newOAuthClient(opts.Config.AccessToken, timeout, opts.HTTPClient),
			evaluator: evaluator,
			logger:    logger.With("component", "threads_poster"),
			extract:   extract,
		},
		baseURL: opts.Config.BaseURL,
		userID:  opts.Config.UserID,
	}, nil
}

// Post publishes content as a text-only thread.
func (p *ThreadsPoster) Post(ctx context.Context, accountID, content string) (model.PostResult, error) {
	containerID, failure, err := p.createContainer(ctx, content)
	if err != nil {
		return model.PostResult{}, err
	}
	if failure != nil {
		p.logFailure(ctx, accountID, "create container", failure)
		return failure.result(), nil
	}

	result, failure, err := p.publishContainer(ctx, containerID)
	if err != nil {
		return model.PostResult{}, err
	}
	if failure != nil {
		p.logFailure(ctx, accountID, "publish container", failure)
		return failure.result(), nil
	}
	return result, nil
}

// createContainer runs the first step and returns the media container id.
func (p *ThreadsPoster) createContainer(ctx context.Context, content string) (string, *callFailure, error) {
	form := url.Values{}
	form.Set("media_type", "TEXT")
	form.Set("text", content)

	decoded, failure, err := p.api.postForm(ctx, p.endpoint("threads"), form)
	if err != nil || failure != nil {
		return "", failure, err
	}
	containerID, ok := p.api.extractID(decoded)
	if !ok {
		// The platform accepted the call but returned no container; retry
		// rather than losing the post.
		return "", &callFailure{message: "platform response carried no container id"}, nil
	}
	return containerID, nil, nil
}

// publishContainer runs the second step and builds the final result.
func (p *ThreadsPoster) publishContainer(ctx context.Context, containerID string) (model.PostResult, *callFailure, error) {
	form := url.Values{}
	form.Set("creation_id", containerID)

	decoded, failure, err := p.api.postForm(ctx, p.endpoint("threads_publish"), form)
	if err != nil || failure != nil {
		return model.PostResult{}, failure, err
	}

	result := model.PostResult{OK: true}
	if threadID, ok := p.api.extractID(decoded); ok {
		result.ThreadID = &threadID
	}
	if p.api.shadowFlag(decoded) {
		// Accepted but suppressed: the attempt failed even though the call
		// succeeded, and a later retry may land normally.
		result.ShadowFail = true
	}
	return result, nil, nil
}

func (p *ThreadsPoster) endpoint(path string) string {
	return fmt.Sprintf("%s/%s/%s", p.baseURL, p.userID, path)
}

func (p *ThreadsPoster) logFailure(ctx context.Context, accountID, step string, failure *callFailure) {
	p.api.logger.WarnContext(ctx, "threads post failed",
		"account_id", accountID,
		"step", step,
		"error", failure.message,
		"permanent", failure.permanent,
	)
}

func errMissing(what string) error {
	return fmt.Errorf("%s is required", what)
}
