package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"pixelchat/internal/domain"
	"pixelchat/internal/infra/config"
	"pixelchat/internal/infra/tracer"
)

var (
	_ domain.ImageGenerator = (*OpenRouterImageClient)(nil)
	_ domain.ImageAnalyzer  = (*OpenRouterImageClient)(nil)
)

const (
	openRouterBaseURL = "https://openrouter.ai/api/v1"

	imageMaxTokens   = 1000
	imageTemperature = 0.7

	defaultAnalysisPrompt = "What is in this image?"
)

// imageSystemPrompt is sent ahead of every generation request.
const imageSystemPrompt = `You are an expert AI image editor and generator. When editing images:
- Always preserve the identity and appearance of people in the image
- Maintain facial features, pose, and body proportions exactly
- Only modify what is specifically requested
- Keep the same lighting, composition, and style
- Ensure high quality and realistic results`

// textImageURL finds an image link in a plain-text reply.
var textImageURL = regexp.MustCompile(`(?i)https?://\S+\.(jpg|jpeg|png|gif|webp)`)

// openrouterTransport injects the OpenRouter attribution headers
// (HTTP-Referer and X-Title) into every request.
type openrouterTransport struct {
	base     http.RoundTripper
	referer  string
	siteName string
}

func newOpenRouterTransport(base http.RoundTripper, cfg config.ProviderConfig) *openrouterTransport {
	t := &openrouterTransport{base: base, referer: cfg.SiteURL, siteName: cfg.SiteName}
	if t.siteName == "" {
		t.siteName = "pixelchat"
	}
	return t
}

func (t *openrouterTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	if t.referer != "" {
		clone.Header.Set("HTTP-Referer", t.referer)
	}
	clone.Header.Set("X-Title", t.siteName)
	return t.base.RoundTrip(clone)
}

func isOpenRouter(baseURL string) bool {
	return strings.Contains(baseURL, "openrouter.ai")
}

// OpenRouterImageClient generates, edits and analyzes images through
// OpenRouter's chat completions endpoint with image output modalities.
type OpenRouterImageClient struct {
	name          string
	model         string
	analysisModel string
	apiKey        string
	baseURL       string
	client        *http.Client
	logger        *slog.Logger
}

// NewOpenRouterImageClient creates an image client. analysisModel may be
// empty, in which case analysis uses the generation model.
func NewOpenRouterImageClient(cfg config.ProviderConfig, analysisModel string, logger *slog.Logger) *OpenRouterImageClient {
	client := NewHTTPClient(cfg)
	client.Transport = newOpenRouterTransport(client.Transport, cfg)

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = openRouterBaseURL
	}
	if analysisModel == "" {
		analysisModel = cfg.Model
	}
	name := cfg.Name
	if name == "" {
		name = "openrouter"
	}

	return &OpenRouterImageClient{
		name:          name,
		model:         cfg.Model,
		analysisModel: analysisModel,
		apiKey:        cfg.APIKey,
		baseURL:       baseURL,
		client:        client,
		logger:        logger,
	}
}

// Name implements domain.ImageGenerator.
func (c *OpenRouterImageClient) Name() string { return c.name }

// Generate implements domain.ImageGenerator. It performs exactly one call.
func (c *OpenRouterImageClient) Generate(ctx context.Context, req domain.GenerationRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	ctx, span := tracer.StartSpan(ctx, "llm.image",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", c.name),
			tracer.StringAttr("llm.model", model),
			tracer.StringAttr("image.mode", string(req.Mode)),
		),
	)
	defer span.End()

	if c.apiKey == "" {
		tracer.RecordError(span, domain.ErrMissingAPIKey)
		return "", domain.ErrMissingAPIKey
	}

	prompt := req.EnrichedPrompt
	if prompt == "" {
		prompt = req.Prompt
	}
	parts := []openaiPart{{Type: "text", Text: prompt}}
	if req.Image != nil {
		url, err := imagePartURL(*req.Image)
		if err != nil {
			tracer.RecordError(span, err)
			return "", err
		}
		parts = append(parts, openaiPart{Type: "image_url", ImageURL: &openaiImageURL{URL: url}})
	}

	resp, err := c.complete(ctx, openaiRequest{
		Model: model,
		Messages: []openaiMessage{
			{Role: domain.RoleSystem, Content: partsContent(openaiPart{Type: "text", Text: imageSystemPrompt})},
			{Role: domain.RoleUser, Content: partsContent(parts...)},
		},
		Modalities: []string{"image", "text"},
	})
	if err != nil {
		tracer.RecordError(span, err)
		return "", err
	}

	locator, text := extractImage(resp)
	if locator == "" {
		err := fmt.Errorf("%w: %s", domain.ErrEmptyResult, truncate(text, 200))
		tracer.RecordError(span, err)
		return "", err
	}

	setUsageAttrs(span, resp.Usage.toDomain())
	tracer.SetOK(span)
	logCompleted(c.logger, c.name, "generate", model, resp.Usage.toDomain())
	return locator, nil
}

// Analyze implements domain.ImageAnalyzer with a single text-only call.
func (c *OpenRouterImageClient) Analyze(ctx context.Context, image domain.ImageFile, question string) (string, error) {
	if c.apiKey == "" {
		return "", domain.ErrMissingAPIKey
	}
	if strings.TrimSpace(question) == "" {
		question = defaultAnalysisPrompt
	}
	url, err := imagePartURL(image)
	if err != nil {
		return "", err
	}

	resp, err := c.complete(ctx, openaiRequest{
		Model: c.analysisModel,
		Messages: []openaiMessage{{
			Role: domain.RoleUser,
			Content: partsContent(
				openaiPart{Type: "text", Text: question},
				openaiPart{Type: "image_url", ImageURL: &openaiImageURL{URL: url}},
			),
		}},
		Modalities: []string{"text"},
	})
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content.Text())
	if text == "" {
		return "", fmt.Errorf("no response generated")
	}
	logCompleted(c.logger, c.name, "analyze", c.analysisModel, resp.Usage.toDomain())
	return text, nil
}

// ValidateKey checks the configured key against the models endpoint.
func (c *OpenRouterImageClient) ValidateKey(ctx context.Context) error {
	if c.apiKey == "" {
		return domain.ErrMissingAPIKey
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return mapHTTPError(resp.StatusCode, nil)
	}
	return nil
}

func (c *OpenRouterImageClient) complete(ctx context.Context, oaiReq openaiRequest) (*openaiResponse, error) {
	t := imageTemperature
	oaiReq.MaxTokens = imageMaxTokens
	oaiReq.Temperature = &t

	body, err := json.Marshal(oaiReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	respBody, err := doJSONRequest(ctx, c.client, c.baseURL+"/chat/completions", body, bearerHeaders(c.apiKey))
	if err != nil {
		return nil, err
	}

	var resp openaiResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response generated")
	}
	return &resp, nil
}

// extractImage pulls the result locator out of a completion. It prefers the
// images array, then an image link in text content, then image_url parts.
// The text content is returned for diagnostics.
func extractImage(resp *openaiResponse) (locator, text string) {
	msg := resp.Choices[0].Message
	text = msg.Content.Text()

	for _, img := range msg.Images {
		if img.ImageURL != nil && img.ImageURL.URL != "" {
			return img.ImageURL.URL, text
		}
	}
	if msg.Content.parts == nil {
		if m := textImageURL.FindString(msg.Content.text); m != "" {
			return m, text
		}
		return "", text
	}
	for _, p := range msg.Content.parts {
		if p.Type == "image_url" && p.ImageURL != nil && p.ImageURL.URL != "" {
			return p.ImageURL.URL, text
		}
	}
	return "", text
}

// imagePartURL chooses how an input image travels: inline bytes as a data
// URL, otherwise a remote or data locator passed through unchanged.
func imagePartURL(img domain.ImageFile) (string, error) {
	if len(img.Data) > 0 {
		return img.DataURL(), nil
	}
	loc := img.Locator
	if strings.HasPrefix(loc, "https://") || strings.HasPrefix(loc, "http://") || strings.HasPrefix(loc, "data:") {
		return loc, nil
	}
	return "", fmt.Errorf("image %q has no transferable data", img.Name)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
