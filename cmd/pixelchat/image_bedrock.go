//go:build bedrock

package main

import (
	"context"
	"log/slog"

	"pixelchat/internal/adapter/llm"
	"pixelchat/internal/domain"
	"pixelchat/internal/infra/config"
)

func createBedrockGenerator(ctx context.Context, pc config.ProviderConfig, log *slog.Logger) (domain.ImageGenerator, error) {
	return llm.NewBedrockImageGenerator(ctx, pc, log)
}
