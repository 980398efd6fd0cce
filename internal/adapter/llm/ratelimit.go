package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"pixelchat/internal/domain"
	"pixelchat/internal/infra/config"
)

var _ domain.ImageGenerator = (*RateLimitedGenerator)(nil)

// RateLimitedGenerator paces outbound generation calls with a token bucket so
// retries never burst past the backend's free-tier quota.
type RateLimitedGenerator struct {
	inner   domain.ImageGenerator
	limiter *rate.Limiter
}

// NewRateLimitedGenerator wraps inner. It returns inner unchanged when cfg
// disables limiting.
func NewRateLimitedGenerator(inner domain.ImageGenerator, cfg config.RateLimitConfig) domain.ImageGenerator {
	if cfg.RequestsPerSecond <= 0 {
		return inner
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedGenerator{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
	}
}

// Generate waits for a token, then delegates. A wait that cannot finish
// before ctx ends reports domain.ErrRateLimit.
func (g *RateLimitedGenerator) Generate(ctx context.Context, req domain.GenerationRequest) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: local limiter: %v", domain.ErrRateLimit, err)
	}
	return g.inner.Generate(ctx, req)
}

// Name implements domain.ImageGenerator.
func (g *RateLimitedGenerator) Name() string { return g.inner.Name() }
