package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"pixelchat/internal/domain"
	"pixelchat/internal/infra/tracer"
)

// maxResponseBody caps provider responses. Generated images may be returned
// inline as base64, so this is larger than a text-only limit.
const maxResponseBody = 32 * 1024 * 1024

// doJSONRequest performs a JSON POST request and returns the response body.
// Non-200 responses become domain errors via mapHTTPError.
func doJSONRequest(ctx context.Context, client *http.Client, url string, body []byte, headers map[string]string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, transportError(err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, transportError(fmt.Errorf("read response: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, mapHTTPError(httpResp.StatusCode, respBody)
	}
	return respBody, nil
}

// doStreamRequest performs a JSON POST request for SSE streaming.
// It returns the open *http.Response (caller must close Body).
func doStreamRequest(ctx context.Context, client *http.Client, url string, body []byte, headers map[string]string) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, transportError(err)
	}

	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, mapHTTPError(httpResp.StatusCode, respBody)
	}
	return httpResp, nil
}

// bearerHeaders returns the Authorization header for key.
func bearerHeaders(key string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + key}
}

// logCompleted logs the standard debug message after a successful call.
func logCompleted(logger *slog.Logger, provider, op, model string, usage domain.Usage) {
	logger.Debug("provider call completed",
		"provider", provider,
		"op", op,
		"model", model,
		"tokens", usage.TotalTokens,
	)
}

// setUsageAttrs adds token usage attributes to a trace span.
func setUsageAttrs(span trace.Span, usage domain.Usage) {
	span.SetAttributes(
		tracer.IntAttr("llm.prompt_tokens", usage.PromptTokens),
		tracer.IntAttr("llm.completion_tokens", usage.CompletionTokens),
	)
}

// mapHTTPError maps an HTTP status code and response body to a domain error
// so the failure classifier and circuit breaker see the right sentinel.
// The "API error <code>:" prefix is kept for string-based classification.
func mapHTTPError(statusCode int, body []byte) error {
	detail := fmt.Sprintf("API error %d: %s", statusCode, errorMessage(body))

	switch {
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimit, detail)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrAuthInvalid, detail)
	case statusCode == http.StatusRequestTimeout || statusCode == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %s", domain.ErrTimeout, detail)
	case statusCode >= 500:
		return fmt.Errorf("%w: %s", domain.ErrServerUnavailable, detail)
	default:
		return errors.New(detail)
	}
}

// errorMessage extracts {"error":{"message":...}} from an OpenAI-style error
// body, falling back to the raw text.
func errorMessage(body []byte) string {
	var env struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &env) == nil && env.Error.Message != "" {
		return env.Error.Message
	}
	return strings.TrimSpace(string(body))
}

// transportError tags network timeouts with domain.ErrTimeout.
func transportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: http request: %v", domain.ErrTimeout, err)
	}
	return fmt.Errorf("http request: %w", err)
}
