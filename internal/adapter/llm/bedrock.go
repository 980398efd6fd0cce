//go:build bedrock

package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"
	"go.opentelemetry.io/otel/trace"

	"pixelchat/internal/domain"
	"pixelchat/internal/infra/config"
	"pixelchat/internal/infra/tracer"
)

var _ domain.ImageGenerator = (*BedrockImageGenerator)(nil)

const (
	defaultBedrockImageModel = "amazon.nova-canvas-v1:0"
	bedrockMaxPromptChars    = 1024
	bedrockImageSize         = 1024
)

// bedrockInvokeAPI abstracts the Bedrock runtime method for testability.
type bedrockInvokeAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockImageGenerator implements domain.ImageGenerator with an Amazon
// image model on Bedrock. Results come back inline and are returned as
// data URLs.
type BedrockImageGenerator struct {
	name   string
	model  string
	client bedrockInvokeAPI
	logger *slog.Logger
}

// NewBedrockImageGenerator creates a generator using the default AWS credential chain.
func NewBedrockImageGenerator(ctx context.Context, cfg config.ProviderConfig, logger *slog.Logger) (*BedrockImageGenerator, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newBedrockImageGeneratorWithClient(cfg.Name, cfg.Model, bedrockruntime.NewFromConfig(awsCfg), logger), nil
}

func newBedrockImageGeneratorWithClient(name, model string, client bedrockInvokeAPI, logger *slog.Logger) *BedrockImageGenerator {
	if name == "" {
		name = "bedrock"
	}
	if model == "" {
		model = defaultBedrockImageModel
	}
	return &BedrockImageGenerator{name: name, model: model, client: client, logger: logger}
}

// Name implements domain.ImageGenerator.
func (g *BedrockImageGenerator) Name() string { return g.name }

// Generate implements domain.ImageGenerator with one InvokeModel call.
func (g *BedrockImageGenerator) Generate(ctx context.Context, req domain.GenerationRequest) (string, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.image",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", g.name),
			tracer.StringAttr("llm.model", g.model),
			tracer.StringAttr("image.mode", string(req.Mode)),
		),
	)
	defer span.End()

	body, err := json.Marshal(toBedrockImageRequest(req))
	if err != nil {
		tracer.RecordError(span, err)
		return "", fmt.Errorf("marshal request: %w", err)
	}

	out, err := g.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(g.model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		mapped := mapBedrockError(err)
		tracer.RecordError(span, mapped)
		return "", mapped
	}

	var resp bedrockImageResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		tracer.RecordError(span, err)
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if resp.Error != "" {
		err := fmt.Errorf("bedrock: %s", resp.Error)
		tracer.RecordError(span, err)
		return "", err
	}
	if len(resp.Images) == 0 || resp.Images[0] == "" {
		tracer.RecordError(span, domain.ErrEmptyResult)
		return "", domain.ErrEmptyResult
	}

	tracer.SetOK(span)
	g.logger.Debug("provider call completed", "provider", g.name, "op", "generate", "model", g.model)
	return "data:image/png;base64," + resp.Images[0], nil
}

// --- Bedrock image wire types ---

type bedrockImageRequest struct {
	TaskType              string                 `json:"taskType"`
	TextToImageParams     *bedrockTextParams     `json:"textToImageParams,omitempty"`
	ImageVariationParams  *bedrockVariation      `json:"imageVariationParams,omitempty"`
	ImageGenerationConfig bedrockGenerationShape `json:"imageGenerationConfig"`
}

type bedrockTextParams struct {
	Text string `json:"text"`
}

type bedrockVariation struct {
	Text   string   `json:"text"`
	Images []string `json:"images"`
}

type bedrockGenerationShape struct {
	NumberOfImages int `json:"numberOfImages"`
	Width          int `json:"width"`
	Height         int `json:"height"`
}

type bedrockImageResponse struct {
	Images []string `json:"images"`
	Error  string   `json:"error,omitempty"`
}

func toBedrockImageRequest(req domain.GenerationRequest) bedrockImageRequest {
	prompt := req.EnrichedPrompt
	if prompt == "" {
		prompt = req.Prompt
	}
	if len(prompt) > bedrockMaxPromptChars {
		prompt = prompt[:bedrockMaxPromptChars]
	}

	out := bedrockImageRequest{
		ImageGenerationConfig: bedrockGenerationShape{
			NumberOfImages: 1,
			Width:          bedrockImageSize,
			Height:         bedrockImageSize,
		},
	}
	if req.Image != nil && len(req.Image.Data) > 0 {
		out.TaskType = "IMAGE_VARIATION"
		out.ImageVariationParams = &bedrockVariation{
			Text:   prompt,
			Images: []string{base64.StdEncoding.EncodeToString(req.Image.Data)},
		}
		return out
	}
	out.TaskType = "TEXT_IMAGE"
	out.TextToImageParams = &bedrockTextParams{Text: prompt}
	return out
}

// --- Error mapping ---

func mapBedrockError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException", "ServiceQuotaExceededException":
			return fmt.Errorf("%w: %s", domain.ErrRateLimit, msg)
		case "AccessDeniedException", "UnrecognizedClientException", "ExpiredTokenException":
			return fmt.Errorf("%w: %s", domain.ErrAuthInvalid, msg)
		case "ModelTimeoutException":
			return fmt.Errorf("%w: %s", domain.ErrTimeout, msg)
		case "ModelNotReadyException", "ServiceUnavailableException", "InternalServerException":
			return fmt.Errorf("%w: %s", domain.ErrServerUnavailable, msg)
		}
	}
	return domain.WrapOp("bedrock", err)
}
