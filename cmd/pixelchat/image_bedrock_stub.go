//go:build !bedrock

package main

import (
	"context"
	"fmt"
	"log/slog"

	"pixelchat/internal/domain"
	"pixelchat/internal/infra/config"
)

func createBedrockGenerator(_ context.Context, _ config.ProviderConfig, _ *slog.Logger) (domain.ImageGenerator, error) {
	return nil, fmt.Errorf("bedrock image backend requires build with -tags bedrock")
}
