package usecase

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"pixelchat/internal/domain"
	"pixelchat/internal/infra/tracer"
)

// MaxGenerationAttempts is the fixed attempt cap per generation request.
const MaxGenerationAttempts = 3

// Default backoff bounds: 1s after the first failure, 2s after the second,
// never more than 5s.
const (
	defaultBackoffBase    = time.Second
	defaultBackoffCeiling = 5 * time.Second
)

// RetryPolicy configures the delay between attempts. The attempt cap is not
// configurable.
type RetryPolicy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultRetryPolicy returns capped exponential backoff with a 5s ceiling.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{BaseDelay: defaultBackoffBase, MaxDelay: defaultBackoffCeiling}
}

// Backoff returns the delay after the failed attempt with zero-based index n.
func (p RetryPolicy) Backoff(n int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = defaultBackoffBase
	}
	ceiling := p.MaxDelay
	if ceiling <= 0 {
		ceiling = defaultBackoffCeiling
	}
	d := base
	for i := 0; i < n; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	if d > ceiling {
		return ceiling
	}
	return d
}

// ProgressFunc is notified before each retry with the 1-based attempt number
// about to run and the attempt cap.
type ProgressFunc func(attempt, maxAttempts int)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// contextSleep is the production Sleeper.
func contextSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GenerationMetrics receives generation and analysis observations.
type GenerationMetrics interface {
	ObserveAttempt(mode domain.GenerationMode)
	ObserveOutcome(mode domain.GenerationMode, outcome domain.GenerationOutcome)
	ObserveAnalysis(ok bool)
}

type noopMetrics struct{}

func (noopMetrics) ObserveAttempt(domain.GenerationMode)                            {}
func (noopMetrics) ObserveOutcome(domain.GenerationMode, domain.GenerationOutcome) {}
func (noopMetrics) ObserveAnalysis(bool)                                            {}

// RetryingGenerationClient executes a built request with at most
// MaxGenerationAttempts sequential attempts and funnels every result into a
// GenerationOutcome. It never returns an error.
type RetryingGenerationClient struct {
	generator  domain.ImageGenerator
	classifier *ErrorClassifier
	policy     RetryPolicy
	sleep      Sleeper
	metrics    GenerationMetrics
	logger     *slog.Logger
}

// RetryOption configures a RetryingGenerationClient.
type RetryOption func(*RetryingGenerationClient)

// WithRetryPolicy overrides the backoff policy.
func WithRetryPolicy(p RetryPolicy) RetryOption {
	return func(c *RetryingGenerationClient) { c.policy = p }
}

// WithSleeper overrides how backoff delays are awaited.
func WithSleeper(s Sleeper) RetryOption {
	return func(c *RetryingGenerationClient) { c.sleep = s }
}

// WithGenerationMetrics attaches a metrics sink.
func WithGenerationMetrics(m GenerationMetrics) RetryOption {
	return func(c *RetryingGenerationClient) {
		if m != nil {
			c.metrics = m
		}
	}
}

// NewRetryingGenerationClient wraps a single-attempt generator.
func NewRetryingGenerationClient(gen domain.ImageGenerator, logger *slog.Logger, opts ...RetryOption) *RetryingGenerationClient {
	if logger == nil {
		logger = slog.Default()
	}
	c := &RetryingGenerationClient{
		generator:  gen,
		classifier: NewErrorClassifier(),
		policy:     DefaultRetryPolicy(),
		sleep:      contextSleep,
		metrics:    noopMetrics{},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Execute runs the request. onRetry may be nil.
func (c *RetryingGenerationClient) Execute(ctx context.Context, req domain.GenerationRequest, onRetry ProgressFunc) domain.GenerationOutcome {
	outcome := c.withRetries(ctx, MaxGenerationAttempts, onRetry, func(ctx context.Context, attempt int) (string, error) {
		return c.attempt(ctx, req, attempt)
	})
	c.metrics.ObserveOutcome(req.Mode, outcome)
	if outcome.Succeeded {
		c.logger.Info("image generation succeeded",
			"mode", req.Mode, "model", req.Model, "attempts", outcome.AttemptsUsed)
	} else {
		c.logger.Warn("image generation failed",
			"mode", req.Mode, "model", req.Model, "class", outcome.Class, "error", outcome.ErrorMessage)
	}
	return outcome
}

// withRetries is the single retry routine: it runs fn up to maxAttempts times,
// notifying onRetry before every attempt after the first and sleeping the
// policy's backoff between attempts. A cancelled sleep does not shorten the
// sequence; the following attempts observe the cancelled context and fail.
func (c *RetryingGenerationClient) withRetries(ctx context.Context, maxAttempts int, onRetry ProgressFunc, fn func(ctx context.Context, attempt int) (string, error)) domain.GenerationOutcome {
	var lastErr error
	for n := 0; n < maxAttempts; n++ {
		if n > 0 {
			if onRetry != nil {
				onRetry(n+1, maxAttempts)
			}
			if err := c.sleep(ctx, c.policy.Backoff(n-1)); err != nil {
				c.logger.Debug("retry backoff interrupted", "error", err)
			}
		}

		locator, err := fn(ctx, n)
		if err == nil {
			return domain.GenerationOutcome{
				Succeeded:     true,
				ResultLocator: locator,
				AttemptsUsed:  n + 1,
			}
		}
		lastErr = err
		c.logger.Debug("generation attempt failed", "attempt", n+1, "error", err)
	}

	classified := c.classifier.Classify(lastErr)
	return domain.GenerationOutcome{
		Succeeded:    false,
		ErrorMessage: classified.Describe(),
		Class:        classified.Class,
		AttemptsUsed: maxAttempts,
	}
}

func (c *RetryingGenerationClient) attempt(ctx context.Context, req domain.GenerationRequest, n int) (string, error) {
	ctx, span := tracer.StartSpan(ctx, "image.generate",
		trace.WithAttributes(
			tracer.StringAttr("image.mode", string(req.Mode)),
			tracer.StringAttr("image.model", req.Model),
			tracer.IntAttr("image.attempt", n+1),
		),
	)
	defer span.End()

	c.metrics.ObserveAttempt(req.Mode)

	locator, err := c.generator.Generate(ctx, req)
	if err == nil && strings.TrimSpace(locator) == "" {
		err = domain.ErrEmptyResult
	}
	if err != nil {
		tracer.RecordError(span, err)
		return "", err
	}
	tracer.SetOK(span)
	return locator, nil
}
