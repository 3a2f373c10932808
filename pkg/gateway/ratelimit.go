package gateway

import (
	"context"
	"log"

	"golang.org/x/time/rate"
)

// RateLimited wraps a Gateway with a token-bucket limiter so a chatty
// caller cannot flood the backend.
type RateLimited struct {
	inner   Gateway
	limiter *rate.Limiter
}

// NewRateLimited wraps inner with a limiter of rps requests per second
// and the given burst. rps <= 0 returns inner unchanged.
func NewRateLimited(inner Gateway, rps float64, burst int) Gateway {
	if rps <= 0 {
		return inner
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Name implements Gateway.
func (g *RateLimited) Name() string { return g.inner.Name() }

// Generate implements Gateway. It blocks until the limiter admits the
// call or the context expires.
func (g *RateLimited) Generate(ctx context.Context, prompt string, opts ...Option) string {
	if err := g.limiter.Wait(ctx); err != nil {
		log.Printf("[Gateway] rate limiter wait aborted: %v", err)
		return Errorf("request cancelled while waiting for rate limiter: %v", err)
	}
	return g.inner.Generate(ctx, prompt, opts...)
}
