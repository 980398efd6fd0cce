package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"pixelchat/internal/adapter/llm"
	"pixelchat/internal/domain"
	"pixelchat/internal/infra/config"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

// keyValidator is the part of the OpenRouter client the key check uses.
type keyValidator interface {
	ValidateKey(ctx context.Context) error
}

// newKeyValidator is replaced in tests.
var newKeyValidator = func(pc config.ProviderConfig) keyValidator {
	return llm.NewOpenRouterImageClient(pc, "", slog.New(slog.DiscardHandler))
}

// runDoctor executes all health checks and reports results.
func runDoctor(flags cliFlags) error {
	cfgPath := configPath(flags)

	// Some checks work without a loadable config.
	cfg, cfgErr := loadConfig(flags)
	if cfgErr != nil {
		cfg = nil
	}

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "Image API key", Fn: checkImageAPIKey},
		{Name: "Image key validity", Fn: checkImageKeyValid},
		{Name: "Text chat", Fn: checkTextProvider},
		{Name: "Blob store", Fn: checkBlobStore},
		{Name: "Gateway", Fn: checkGateway},
	}

	fmt.Println("pixelchat doctor")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println()

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name

		fmt.Printf("  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Printf("      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Println()
	fmt.Println(strings.Repeat("-", 50))
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

// checkConfigFile reports whether the config file exists and loads. A missing
// file is only a warning since the defaults plus env vars are enough.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     "Check config.yaml syntax and the PIXELCHAT_* variables",
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config file at %s, using defaults", cfgPath),
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

func checkImageAPIKey(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}
	}
	if cfg.Image.Provider.Type == "bedrock" {
		return CheckResult{Status: StatusPass, Message: "bedrock uses the AWS credential chain"}
	}
	if cfg.Image.Provider.APIKey == "" {
		return CheckResult{
			Status:  StatusFail,
			Message: "no image provider API key",
			Fix:     "Set PIXELCHAT_IMAGE_API_KEY or pass --key",
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("key configured for %s", cfg.Image.Provider.Name)}
}

// checkImageKeyValid asks the provider whether the key is accepted.
func checkImageKeyValid(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}
	}
	if cfg.Image.Provider.Type == "bedrock" {
		return CheckResult{Status: StatusWarn, Message: "skipped for bedrock"}
	}
	if cfg.Image.Provider.APIKey == "" {
		return CheckResult{Status: StatusWarn, Message: "skipped, no API key"}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Now()
	err := newKeyValidator(cfg.Image.Provider).ValidateKey(ctx)
	latency := time.Since(start)
	switch {
	case err == nil:
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("key accepted (latency: %dms)", latency.Milliseconds()),
		}
	case errors.Is(err, domain.ErrAuthInvalid):
		return CheckResult{
			Status:  StatusFail,
			Message: "the provider rejected the API key",
			Fix:     "Create a new key in your OpenRouter dashboard",
		}
	default:
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot reach %s: %v", cfg.Image.Provider.BaseURL, err),
			Fix:     "Check your internet connection and image.provider.base_url",
		}
	}
}

func checkTextProvider(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}
	}
	if cfg.Text.APIKey == "" {
		return CheckResult{
			Status:  StatusWarn,
			Message: "no text API key, /ask is disabled",
			Fix:     "Set PIXELCHAT_TEXT_API_KEY, or share the image key by using the same base_url",
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("model %s", cfg.Text.Model)}
}

func checkBlobStore(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}
	}
	if _, err := cron.ParseStandard(cfg.Blobs.SweepSchedule); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("invalid sweep schedule %q", cfg.Blobs.SweepSchedule),
			Fix:     `Use a cron expression or "@every 1h"`,
		}
	}
	return CheckResult{
		Status: StatusPass,
		Message: fmt.Sprintf("cap %d bytes, ttl %s, sweep %s",
			cfg.Blobs.MaxBytes, cfg.Blobs.TTL, cfg.Blobs.SweepSchedule),
	}
}

// checkGateway verifies tokens exist and the listen address is free.
func checkGateway(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}
	}
	if !cfg.Gateway.Enabled {
		return CheckResult{Status: StatusPass, Message: "disabled"}
	}
	if len(cfg.Gateway.Auth.Tokens) == 0 {
		return CheckResult{
			Status:  StatusFail,
			Message: "gateway enabled without tokens",
			Fix:     "Set PIXELCHAT_GATEWAY_TOKENS",
		}
	}
	ln, err := net.Listen("tcp", cfg.Gateway.Addr)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot listen on %s: %v", cfg.Gateway.Addr, err),
			Fix:     "Pick another address with --addr",
		}
	}
	ln.Close()
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%s available", cfg.Gateway.Addr)}
}
