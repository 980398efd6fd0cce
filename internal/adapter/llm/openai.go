package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"pixelchat/internal/domain"
	"pixelchat/internal/infra/config"
	"pixelchat/internal/infra/tracer"
)

var (
	_ domain.TextCompleter          = (*OpenAITextClient)(nil)
	_ domain.StreamingTextCompleter = (*OpenAITextClient)(nil)
)

// OpenAITextClient implements domain.StreamingTextCompleter for any
// OpenAI-compatible chat completions API, OpenRouter included.
type OpenAITextClient struct {
	name    string
	model   string
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewOpenAITextClient creates a text client with configured timeouts.
func NewOpenAITextClient(cfg config.ProviderConfig, logger *slog.Logger) *OpenAITextClient {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	client := NewHTTPClient(cfg)
	if isOpenRouter(baseURL) {
		client.Transport = newOpenRouterTransport(client.Transport, cfg)
	}

	return &OpenAITextClient{
		name:    cfg.Name,
		model:   cfg.Model,
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		client:  client,
		logger:  logger,
	}
}

// Complete implements domain.TextCompleter.
func (c *OpenAITextClient) Complete(ctx context.Context, req domain.TextRequest) (*domain.TextResponse, error) {
	if req.Model == "" {
		req.Model = c.model
	}
	ctx, span := tracer.StartSpan(ctx, "llm.chat",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", c.name),
			tracer.StringAttr("llm.model", req.Model),
		),
	)
	defer span.End()

	if c.apiKey == "" {
		tracer.RecordError(span, domain.ErrMissingAPIKey)
		return nil, domain.ErrMissingAPIKey
	}

	req.Stream = false
	body, err := json.Marshal(toOpenAIRequest(req))
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := doJSONRequest(ctx, c.client, c.baseURL+"/chat/completions", body, bearerHeaders(c.apiKey))
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	var oaiResp openaiResponse
	if err := json.Unmarshal(respBody, &oaiResp); err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(oaiResp.Choices) == 0 {
		err := fmt.Errorf("no response generated")
		tracer.RecordError(span, err)
		return nil, err
	}

	result := &domain.TextResponse{
		ID:      oaiResp.ID,
		Model:   oaiResp.Model,
		Content: oaiResp.Choices[0].Message.Content.Text(),
		Usage:   oaiResp.Usage.toDomain(),
	}
	setUsageAttrs(span, result.Usage)
	tracer.SetOK(span)
	logCompleted(c.logger, c.name, "complete", result.Model, result.Usage)
	return result, nil
}

// CompleteStream implements domain.StreamingTextCompleter.
func (c *OpenAITextClient) CompleteStream(ctx context.Context, req domain.TextRequest) (<-chan domain.StreamDelta, error) {
	if req.Model == "" {
		req.Model = c.model
	}
	if c.apiKey == "" {
		return nil, domain.ErrMissingAPIKey
	}
	req.Stream = true

	body, err := json.Marshal(toOpenAIRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpResp, err := doStreamRequest(ctx, c.client, c.baseURL+"/chat/completions", body, bearerHeaders(c.apiKey))
	if err != nil {
		return nil, err
	}

	return parseSSEStream(ctx, httpResp.Body, func(data []byte) (*domain.StreamDelta, error) {
		var chunk openaiStreamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			return nil, err
		}

		delta := &domain.StreamDelta{}
		if len(chunk.Choices) > 0 {
			ch := chunk.Choices[0]
			delta.Content = ch.Delta.Content
			if ch.FinishReason != nil && *ch.FinishReason != "" {
				delta.Done = true
			}
		}
		if chunk.Usage != nil {
			u := chunk.Usage.toDomain()
			delta.Usage = &u
		}
		return delta, nil
	}), nil
}

// Name implements domain.TextCompleter.
func (c *OpenAITextClient) Name() string { return c.name }

// --- OpenAI API wire types ---

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	Modalities  []string        `json:"modalities,omitempty"`
}

type openaiMessage struct {
	Role    string        `json:"role"`
	Content openaiContent `json:"content"`
	Images  []openaiPart  `json:"images,omitempty"`
}

// openaiContent is either a plain string or a list of typed parts.
type openaiContent struct {
	text  string
	parts []openaiPart
}

type openaiPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openaiImageURL `json:"image_url,omitempty"`
}

type openaiImageURL struct {
	URL string `json:"url"`
}

func textContent(s string) openaiContent         { return openaiContent{text: s} }
func partsContent(p ...openaiPart) openaiContent { return openaiContent{parts: p} }

func (c openaiContent) MarshalJSON() ([]byte, error) {
	if c.parts != nil {
		return json.Marshal(c.parts)
	}
	return json.Marshal(c.text)
}

func (c *openaiContent) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '[' {
		return json.Unmarshal(data, &c.parts)
	}
	if string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, &c.text)
}

// Text returns the string content, or the concatenated text parts.
func (c openaiContent) Text() string {
	if c.parts == nil {
		return c.text
	}
	var sb strings.Builder
	for _, p := range c.parts {
		if p.Type == "text" {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

type openaiResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openaiChoice `json:"choices"`
	Usage   openaiUsage    `json:"usage"`
}

type openaiChoice struct {
	Index        int           `json:"index"`
	Message      openaiMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (u openaiUsage) toDomain() domain.Usage {
	return domain.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

func toOpenAIRequest(req domain.TextRequest) openaiRequest {
	msgs := make([]openaiMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openaiMessage{Role: m.Role, Content: textContent(m.Content)})
	}

	oaiReq := openaiRequest{
		Model:    req.Model,
		Messages: msgs,
		Stream:   req.Stream,
	}
	if req.MaxTokens > 0 {
		oaiReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		t := req.Temperature
		oaiReq.Temperature = &t
	}
	return oaiReq
}

// --- OpenAI streaming wire types ---

type openaiStreamChunk struct {
	ID      string               `json:"id"`
	Choices []openaiStreamChoice `json:"choices"`
	Usage   *openaiUsage         `json:"usage,omitempty"`
}

type openaiStreamChoice struct {
	Delta        openaiStreamDelta `json:"delta"`
	FinishReason *string           `json:"finish_reason"`
}

type openaiStreamDelta struct {
	Content string `json:"content,omitempty"`
}
