// Package poster implements the platform posting callbacks: Graph-style
// HTTP adapters for Threads and Facebook plus a no-op adapter for dry runs.
// Transport failures and platform rejections come back as failed
// PostResults; the error return carries only context cancellation.
package poster

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	jmespath "github.com/jmespath-community/go-jmespath"
	"golang.org/x/oauth2"

	"github.com/postpilot/postpilot-go/internal/domain/model"
)

// maxResponseBytes bounds how much of a platform response is read.
const maxResponseBytes = 1 << 20

// JMESPathEvaluator abstracts JMESPath operations for testability.
type JMESPathEvaluator interface {
	Validate(expr string) error
	Evaluate(expr string, data any) (any, error)
}

// jmespathLibEvaluator implements JMESPathEvaluator using go-jmespath.
type jmespathLibEvaluator struct{}

func (j jmespathLibEvaluator) Validate(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return nil
	}
	_, err := jmespath.Compile(expr)
	return err
}

func (j jmespathLibEvaluator) Evaluate(expr string, data any) (any, error) {
	return jmespath.Search(expr, data)
}

// extraction holds the JMESPath expressions that pull fields out of
// platform responses, so API drift is a config change.
type extraction struct {
	id     string
	errMsg string
	shadow string
}

// validate compiles every configured expression.
func (e extraction) validate(evaluator JMESPathEvaluator) error {
	if err := evaluator.Validate(e.id); err != nil {
		return fmt.Errorf("invalid id expression: %w", err)
	}
	if err := evaluator.Validate(e.errMsg); err != nil {
		return fmt.Errorf("invalid error expression: %w", err)
	}
	if err := evaluator.Validate(e.shadow); err != nil {
		return fmt.Errorf("invalid shadow expression: %w", err)
	}
	return nil
}

// callFailure describes one failed platform call in PostResult terms.
// Failures retry by default; permanent marks the ones a retry cannot fix.
type callFailure struct {
	message   string
	permanent bool
}

func (f *callFailure) result() model.PostResult {
	msg := f.message
	return model.PostResult{Error: &msg, Permanent: f.permanent}
}

// graphAPI is the shared HTTP plumbing for Graph-style platform endpoints:
// form-encoded POSTs through an oauth2 bearer client, JSON responses, and
// JMESPath field extraction.
type graphAPI struct {
	client    *http.Client
	evaluator JMESPathEvaluator
	logger    *slog.Logger
	extract   extraction
}

// newOAuthClient builds the bearer-injecting HTTP client for one platform
// token. base overrides the underlying transport, for tests.
func newOAuthClient(token string, timeout time.Duration, base *http.Client) *http.Client {
	ctx := context.Background()
	if base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	}
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	client.Timeout = timeout
	return client
}

// postForm sends one form POST and decodes the JSON response. A non-nil
// error is reserved for context cancellation; every other problem comes
// back as a callFailure classified for retry.
func (g *graphAPI) postForm(ctx context.Context, endpoint string, form url.Values) (map[string]any, *callFailure, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &callFailure{message: fmt.Sprintf("build request: %v", err), permanent: true}, nil
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		// Transport-level failures (DNS, reset, client timeout) are worth
		// retrying.
		return nil, &callFailure{message: err.Error()}, nil
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, &callFailure{message: fmt.Sprintf("read response: %v", err)}, nil
	}

	decoded := map[string]any{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &decoded); err != nil && resp.StatusCode < http.StatusMultipleChoices {
			return nil, &callFailure{message: "unparseable platform response"}, nil
		}
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &callFailure{
			message:   g.failureMessage(decoded, resp.StatusCode),
			permanent: !transientStatus(resp.StatusCode),
		}, nil
	}

	return decoded, nil, nil
}

// failureMessage extracts the platform's error text, falling back to the
// HTTP status when the body carries none.
func (g *graphAPI) failureMessage(decoded map[string]any, statusCode int) string {
	if msg, ok := g.stringField(decoded, g.extract.errMsg); ok {
		return fmt.Sprintf("%s (HTTP %d)", msg, statusCode)
	}
	return fmt.Sprintf("platform returned HTTP %d", statusCode)
}

// extractID pulls the published post identifier out of a response.
func (g *graphAPI) extractID(decoded map[string]any) (string, bool) {
	return g.stringField(decoded, g.extract.id)
}

// shadowFlag reports whether the response marks the post as suppressed.
// Disabled when no shadow expression is configured.
func (g *graphAPI) shadowFlag(decoded map[string]any) bool {
	if strings.TrimSpace(g.extract.shadow) == "" {
		return false
	}
	v, err := g.evaluator.Evaluate(g.extract.shadow, decoded)
	if err != nil {
		return false
	}
	return truthy(v)
}

func (g *graphAPI) stringField(decoded map[string]any, expr string) (string, bool) {
	if strings.TrimSpace(expr) == "" {
		return "", false
	}
	v, err := g.evaluator.Evaluate(expr, decoded)
	if err != nil || v == nil {
		return "", false
	}
	switch tv := v.(type) {
	case string:
		if tv == "" {
			return "", false
		}
		return tv, true
	case json.Number:
		return tv.String(), true
	case float64:
		return fmt.Sprintf("%.0f", tv), true
	default:
		return fmt.Sprintf("%v", tv), true
	}
}

// transientStatus reports whether an HTTP status is worth retrying: rate
// limiting and server-side errors are; other client errors are rejections
// a retry cannot fix.
func transientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// truthy interprets JMESPath results as a boolean flag.
func truthy(v any) bool {
	switch tv := v.(type) {
	case bool:
		return tv
	case string:
		return strings.EqualFold(tv, "true") || tv == "1"
	case float64:
		return tv != 0
	default:
		return false
	}
}
