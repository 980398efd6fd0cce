package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"pixelchat/internal/adapter/blobstore"
	"pixelchat/internal/adapter/gateway"
	"pixelchat/internal/adapter/llm"
	"pixelchat/internal/domain"
	"pixelchat/internal/infra/config"
	"pixelchat/internal/infra/metrics"
	"pixelchat/internal/usecase"
)

// services holds the long-lived components shared by the TUI and the gateway.
type services struct {
	Session *usecase.ChatSession
	Blobs   *blobstore.Store
	Sweeper *blobstore.Sweeper
	Metrics *metrics.Recorder
	log     *slog.Logger
}

// Close stops the sweeper and releases the blob store.
func (r *services) Close() {
	if r.Sweeper != nil {
		r.Sweeper.Stop()
	}
	if r.Blobs != nil {
		if err := r.Blobs.Close(); err != nil {
			r.log.Error("blob store close error", "error", err)
		}
	}
}

// imageBackend is what the session needs from an image provider. Analysis
// is optional: bedrock only generates.
type imageBackend struct {
	generator domain.ImageGenerator
	analyzer  domain.ImageAnalyzer
}

func buildServices(ctx context.Context, cfg *config.Config, log *slog.Logger) (*services, error) {
	rt := &services{log: log}

	// 1. Blob store and its expiry sweep
	store, err := blobstore.New(cfg.Blobs, log)
	if err != nil {
		return nil, fmt.Errorf("blob store: %w", err)
	}
	rt.Blobs = store

	sweeper, err := blobstore.NewSweeper(store, cfg.Blobs.SweepSchedule, log)
	if err != nil {
		rt.Close()
		return nil, err
	}
	sweeper.Start(ctx)
	rt.Sweeper = sweeper

	// 2. Metrics
	rec := metrics.NewRecorder()
	rec.TrackBlobBytes(store.Size)
	rt.Metrics = rec

	// 3. Image backend, wrapped in the circuit breaker and the local limiter
	backend, err := createImageBackend(ctx, cfg, log)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("image backend: %w", err)
	}
	generator := backend.generator
	if cfg.Resilience.CircuitBreaker.Enabled {
		generator = llm.NewCircuitBreakerGenerator(generator, cfg.Resilience.CircuitBreaker, log)
		log.Info("image circuit breaker enabled",
			"max_failures", cfg.Resilience.CircuitBreaker.MaxFailures,
			"timeout", cfg.Resilience.CircuitBreaker.Timeout,
		)
	}
	generator = llm.NewRateLimitedGenerator(generator, cfg.Resilience.RateLimit)

	// 4. Text chat
	var text *usecase.TextReplier
	if cfg.Text.APIKey != "" {
		budget := usecase.NewTokenBudget(cfg.Chat.MaxTokens, usecase.NewTiktokenCounter(log))
		text = usecase.NewTextReplier(llm.NewOpenAITextClient(cfg.Text, log), budget, usecase.TextReplierConfig{
			Model:        cfg.Text.Model,
			SystemPrompt: cfg.Chat.SystemPrompt,
			MaxTokens:    cfg.Chat.MaxTokens,
			Temperature:  cfg.Chat.Temperature,
			ChunkDelay:   cfg.Chat.ChunkDelay,
		}, log)
	} else {
		log.Warn("text chat disabled: no text provider API key")
	}

	// 5. Session
	var fetchOpts []llm.FetcherOption
	if !cfg.Image.AllowPrivateFetch {
		fetchOpts = append(fetchOpts, llm.WithPublicOnly())
	}
	rt.Session = usecase.NewChatSession(usecase.ChatSessionConfig{
		ImageModel:       cfg.Image.Provider.Model,
		APIKeyConfigured: imageKeyConfigured(cfg),
	}, usecase.ChatSessionDeps{
		Generator: generator,
		Analyzer:  backend.analyzer,
		Fetcher:   llm.NewFetcher(cfg.Image.Provider, store, fetchOpts...),
		Blobs:     store,
		Text:      text,
		Metrics:   rec,
		RetryOptions: []usecase.RetryOption{
			usecase.WithRetryPolicy(usecase.RetryPolicy{
				BaseDelay: cfg.Image.BackoffBase,
				MaxDelay:  cfg.Image.BackoffCeiling,
			}),
		},
		Logger: log,
	})
	return rt, nil
}

// createImageBackend selects the provider named by image.provider.type.
func createImageBackend(ctx context.Context, cfg *config.Config, log *slog.Logger) (imageBackend, error) {
	switch cfg.Image.Provider.Type {
	case "bedrock":
		gen, err := createBedrockGenerator(ctx, cfg.Image.Provider, log)
		if err != nil {
			return imageBackend{}, err
		}
		return imageBackend{generator: gen}, nil
	case "", "openrouter":
		client := llm.NewOpenRouterImageClient(cfg.Image.Provider, cfg.Image.AnalysisModel, log)
		return imageBackend{generator: client, analyzer: client}, nil
	default:
		return imageBackend{}, fmt.Errorf("unknown image backend %q", cfg.Image.Provider.Type)
	}
}

// imageKeyConfigured reports whether requests can be authenticated. Bedrock
// uses the AWS credential chain instead of a key.
func imageKeyConfigured(cfg *config.Config) bool {
	return cfg.Image.Provider.Type == "bedrock" || cfg.Image.Provider.APIKey != ""
}

// buildGateway creates the websocket gateway with the chat RPC methods, the
// status API and, when enabled, the metrics endpoint.
func buildGateway(cfg *config.Config, rt *services, log *slog.Logger) (*gateway.Server, error) {
	if len(cfg.Gateway.Auth.Tokens) == 0 {
		return nil, errors.New("no gateway tokens configured (set gateway.auth.tokens or PIXELCHAT_GATEWAY_TOKENS)")
	}
	srv, err := gateway.NewServer(cfg.Gateway, gateway.NewStaticTokenAuth(cfg.Gateway.Auth.Tokens), log)
	if err != nil {
		return nil, err
	}
	gateway.RegisterChatHandlers(srv, rt.Session, log)
	srv.RegisterHTTPRoute("/api/v1/status", gateway.StatusHandler(srv, rt.Session, version))
	if cfg.Metrics.Enabled {
		srv.RegisterHTTPRoute(cfg.Metrics.Path, rt.Metrics.Handler())
	}
	return srv, nil
}
