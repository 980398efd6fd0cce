package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/robfig/cron/v3"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// listing every problem found. A missing API key is not an error here; the
// chat surfaces it as guidance instead.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateText(cfg, ve)
	validateImage(cfg, ve)
	validateChat(cfg, ve)
	validateBlobs(cfg, ve)
	validateResilience(cfg, ve)
	validateGateway(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

var validImageBackends = map[string]bool{
	"openrouter": true,
	"bedrock":    true,
}

func validateText(cfg *Config, ve *ValidationError) {
	if cfg.Text.BaseURL == "" {
		ve.Add("text.base_url must not be empty")
	}
	if cfg.Text.Model == "" {
		ve.Add("text.model must not be empty")
	}
}

func validateImage(cfg *Config, ve *ValidationError) {
	p := cfg.Image.Provider
	if !validImageBackends[p.Type] {
		ve.Add("image.provider.type %q is invalid (want: openrouter, bedrock)", p.Type)
	}
	if p.Model == "" {
		ve.Add("image.provider.model must not be empty")
	}
	if p.Type == "openrouter" && p.BaseURL == "" {
		ve.Add("image.provider.base_url must not be empty")
	}
	if p.Type == "bedrock" && p.Region == "" {
		ve.Add("image.provider.region is required for the bedrock backend")
	}
	if cfg.Image.BackoffBase <= 0 {
		ve.Add("image.backoff_base must be > 0")
	}
	if cfg.Image.BackoffCeiling < cfg.Image.BackoffBase {
		ve.Add("image.backoff_ceiling must be >= image.backoff_base")
	}
}

func validateChat(cfg *Config, ve *ValidationError) {
	if cfg.Chat.SystemPrompt == "" {
		ve.Add("chat.system_prompt must not be empty")
	}
	if cfg.Chat.MaxTokens <= 0 {
		ve.Add("chat.max_tokens must be > 0")
	}
	if cfg.Chat.Temperature < 0 || cfg.Chat.Temperature > 2 {
		ve.Add("chat.temperature must be between 0 and 2")
	}
	if cfg.Chat.ChunkDelay < 0 {
		ve.Add("chat.chunk_delay must be >= 0")
	}
}

func validateBlobs(cfg *Config, ve *ValidationError) {
	if cfg.Blobs.MaxBytes <= 0 {
		ve.Add("blobs.max_bytes must be > 0")
	}
	if cfg.Blobs.TTL <= 0 {
		ve.Add("blobs.ttl must be > 0")
	}
	if cfg.Blobs.SweepSchedule == "" {
		ve.Add("blobs.sweep_schedule must not be empty")
		return
	}
	if _, err := cron.ParseStandard(cfg.Blobs.SweepSchedule); err != nil {
		ve.Add("blobs.sweep_schedule %q is invalid: %v", cfg.Blobs.SweepSchedule, err)
	}
}

func validateResilience(cfg *Config, ve *ValidationError) {
	cb := cfg.Resilience.CircuitBreaker
	if cb.Enabled {
		if cb.MaxFailures == 0 {
			ve.Add("resilience.circuit_breaker.max_failures must be > 0 when enabled")
		}
		if cb.Timeout <= 0 {
			ve.Add("resilience.circuit_breaker.timeout must be > 0 when enabled")
		}
	}
	validateRateLimit("resilience.rate_limit", cfg.Resilience.RateLimit, ve)
}

func validateRateLimit(prefix string, rl RateLimitConfig, ve *ValidationError) {
	if rl.RequestsPerSecond < 0 {
		ve.Add("%s.requests_per_second must be >= 0", prefix)
	}
	if rl.RequestsPerSecond > 0 && rl.Burst <= 0 {
		ve.Add("%s.burst must be > 0 when requests_per_second is set", prefix)
	}
}

func validateGateway(cfg *Config, ve *ValidationError) {
	if !cfg.Gateway.Enabled {
		return
	}
	if cfg.Gateway.Addr == "" {
		ve.Add("gateway.addr is required when gateway is enabled")
	} else if _, _, err := net.SplitHostPort(cfg.Gateway.Addr); err != nil {
		ve.Add("gateway.addr %q is not a valid host:port", cfg.Gateway.Addr)
	}

	switch cfg.Gateway.Auth.Type {
	case "":
	case "static":
		if len(cfg.Gateway.Auth.Tokens) == 0 {
			ve.Add("gateway.auth.tokens must not be empty for static auth")
		}
		for i, tok := range cfg.Gateway.Auth.Tokens {
			if tok.Token == "" {
				ve.Add("gateway.auth.tokens[%d].token must not be empty", i)
			}
		}
	default:
		ve.Add("gateway.auth.type %q is invalid (want: static or empty)", cfg.Gateway.Auth.Type)
	}
	validateRateLimit("gateway.limit", cfg.Gateway.Limit, ve)
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	if f := cfg.Logger.Format; f != "text" && f != "json" {
		ve.Add("logger.format %q is invalid (want: text, json)", f)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	case "file":
		if cfg.Tracer.Endpoint == "" {
			ve.Add("tracer.endpoint is required for the file exporter")
		}
	default:
		ve.Add("tracer.exporter %q is invalid (want: noop, stdout, file)", cfg.Tracer.Exporter)
	}
}
