package provider

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/opencoreharness/agentcore/internal/message"
)

// RateLimited wraps a Provider with a token-bucket limiter so a
// misbehaving session can't exceed the configured requests-per-second
// against a given provider account.
//
// Grounded on haasonsaas-nexus's internal/agent/providers/anthropic.go
// retry-with-backoff wrapper: RateLimited composes the same way the
// retry loop does, around Stream, rather than reaching into any one
// adapter's internals.
type RateLimited struct {
	Provider
	limiter *rate.Limiter
}

// WithRateLimit returns p wrapped in a limiter allowing requestsPerSecond
// sustained requests with a burst of burst. A nil or non-positive
// requestsPerSecond disables limiting and returns p unwrapped.
func WithRateLimit(p Provider, requestsPerSecond float64, burst int) Provider {
	if requestsPerSecond <= 0 {
		return p
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{Provider: p, limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst)}
}

// Stream blocks until the limiter admits the request (or ctx is done)
// before delegating to the wrapped Provider.
func (r *RateLimited) Stream(ctx context.Context, model string, messages []message.Message, tools []ToolSchema, opts StreamOptions) (<-chan message.StreamEvent, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.Provider.Stream(ctx, model, messages, tools, opts)
}
