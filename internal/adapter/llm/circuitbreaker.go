package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"pixelchat/internal/domain"
	"pixelchat/internal/infra/config"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

var _ domain.ImageGenerator = (*CircuitBreakerGenerator)(nil)

// CircuitBreakerGenerator wraps an ImageGenerator with a circuit breaker.
// Once the backend fails repeatedly, attempts fail fast with
// domain.ErrCircuitOpen until the open timeout elapses.
type CircuitBreakerGenerator struct {
	inner   domain.ImageGenerator
	breaker *gobreaker.CircuitBreaker[string]
	logger  *slog.Logger
}

// NewCircuitBreakerGenerator wraps inner. Zero config values use defaults.
func NewCircuitBreakerGenerator(inner domain.ImageGenerator, cfg config.CircuitBreakerConfig, logger *slog.Logger) *CircuitBreakerGenerator {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "image:" + inner.Name(),
		MaxRequests: 1, // one probe in half-open state
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: backendHealthy,
	})

	return &CircuitBreakerGenerator{inner: inner, breaker: cb, logger: logger}
}

// backendHealthy reports whether err says nothing about backend health.
// Caller-side problems (bad key, empty reply, cancellation) do not trip.
func backendHealthy(err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, domain.ErrAuthInvalid),
		errors.Is(err, domain.ErrMissingAPIKey),
		errors.Is(err, domain.ErrEmptyResult),
		errors.Is(err, context.Canceled):
		return true
	}
	return false
}

// Generate implements domain.ImageGenerator.
func (g *CircuitBreakerGenerator) Generate(ctx context.Context, req domain.GenerationRequest) (string, error) {
	loc, err := g.breaker.Execute(func() (string, error) {
		return g.inner.Generate(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", fmt.Errorf("%w: %s: %v", domain.ErrCircuitOpen, g.inner.Name(), err)
	}
	return loc, err
}

// Name implements domain.ImageGenerator.
func (g *CircuitBreakerGenerator) Name() string { return g.inner.Name() }

// State returns the current breaker state.
func (g *CircuitBreakerGenerator) State() gobreaker.State {
	return g.breaker.State()
}
