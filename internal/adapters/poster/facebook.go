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

// FacebookPoster publishes text posts to a Facebook page feed through the
// Graph API. Unlike Threads this is a single call.
type FacebookPoster struct {
	api     graphAPI
	baseURL string
	pageID  string
}

var _ core.Poster = (*FacebookPoster)(nil)

// FacebookPosterOptions configures a FacebookPoster.
type FacebookPosterOptions struct {
	// Required: platform settings, already sanitized.
	Config config.FacebookConfig
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

// NewFacebookPoster creates a FacebookPoster and validates its extraction
// expressions up front.
func NewFacebookPoster(opts FacebookPosterOptions) (*FacebookPoster, error) {
	if opts.Config.AccessToken == "" {
		return nil, errMissing("facebook access token")
	}
	if opts.Config.PageID == "" {
		return nil, errMissing("facebook page id")
	}
	if opts.Config.BaseURL == "" {
		return nil, errMissing("facebook base URL")
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
		return nil, fmt.Errorf("facebook poster: %w", err)
	}
	return &FacebookPoster{
		api: graphAPI{
			client:    newOAuthClient(opts.Config.AccessToken, timeout, opts.HTTPClient),
			evaluator: evaluator,
			logger:    logger.With("component", "facebook_poster"),
			extract:   extract,
		},
		baseURL: opts.Config.BaseURL,
		pageID:  opts.Config.PageID,
	}, nil
}

// Post publishes content as a page feed entry.
func (p *FacebookPoster) Post(ctx context.Context, accountID, content string) (model.PostResult, error) {
	form := url.Values{}
	form.Set("message", content)

	endpoint := fmt.Sprintf("%s/%s/feed", p.baseURL, p.pageID)
	decoded, failure, err := p.api.postForm(ctx, endpoint, form)
	if err != nil {
		return model.PostResult{}, err
	}
	if failure != nil {
		p.api.logger.WarnContext(ctx, "facebook post failed",
			"account_id", accountID,
			"error", failure.message,
			"permanent", failure.permanent,
		)
		return failure.result(), nil
	}

	result := model.PostResult{OK: true}
	if postID, ok := p.api.extractID(decoded); ok {
		result.ThreadID = &postID
	}
	if p.api.shadowFlag(decoded) {
		result.ShadowFail = true
	}
	return result, nil
}
